package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"taskmate/internal/crypto"
	"taskmate/internal/utils"
)

// TODO(genkey-rotate): re-seal an existing token file under the new key instead of refusing.

func main() {
	keyFile := flag.String("out", filepath.Join(utils.GetConfigDir(), "token.key"), "Where to write the hex token key")
	flag.Parse()

	if _, err := os.Stat(*keyFile); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Refusing to overwrite.\n", *keyFile)
		os.Exit(1)
	}
	if err := utils.EnsureDir(filepath.Dir(*keyFile)); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", filepath.Dir(*keyFile), err)
		os.Exit(1)
	}
	key, err := crypto.NewKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating random key: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*keyFile, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *keyFile, err)
		os.Exit(1)
	}
	fmt.Printf("Token key written to %s\n", *keyFile)
	fmt.Println("Set \"sealToken\": true in config.json (or TASKMATE_SEAL_TOKEN=true) to use it.")
}
