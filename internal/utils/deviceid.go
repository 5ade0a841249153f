package utils

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

var ErrNoFingerprint = errors.New("no device fingerprint available")

// DeviceFingerprint returns a stable identifier for this machine. It is key
// material for sealing the stored token, not an authentication factor.
func DeviceFingerprint() (string, error) {
	var id string
	switch runtime.GOOS {
	case "darwin":
		id = macOSUUID()
	case "linux":
		id = linuxMachineID()
	case "windows":
		id = windowsUUID()
	}
	if id != "" {
		return id, nil
	}
	// Containers and CI machines often hide hardware ids.
	if host, err := os.Hostname(); err == nil && host != "" {
		return "host:" + host, nil
	}
	return "", ErrNoFingerprint
}

func macOSUUID() string {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		if parts := strings.Split(line, "\""); len(parts) >= 4 {
			return parts[3]
		}
	}
	return ""
}

func linuxMachineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id", "/sys/class/dmi/id/product_uuid"} {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(b)); id != "" {
			return id
		}
	}
	return ""
}

func windowsUUID() string {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return ""
	}
	for _, line := range bytes.Split(out, []byte("\n")) {
		s := strings.TrimSpace(string(line))
		if s != "" && !strings.EqualFold(s, "UUID") {
			return s
		}
	}
	return ""
}
