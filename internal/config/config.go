package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"taskmate/internal/utils"
)

const (
	DefaultServerURL      = "http://localhost:8080"
	DefaultRequestTimeout = 15 * time.Second
	fileName              = "config.json"
)

// Config is the client configuration. Zero fields are filled from defaults,
// then environment variables override whatever the file said.
type Config struct {
	ServerURL      string   `json:"serverUrl"`
	PushURL        string   `json:"pushUrl"`
	TokenPath      string   `json:"tokenPath"`
	SealToken      bool     `json:"sealToken"`
	KeyFile        string   `json:"keyFile"`
	CACertDir      string   `json:"caCertDir"`
	RequestTimeout Duration `json:"requestTimeout"`
	Reconnect      bool     `json:"reconnect"`
	LogLevel       string   `json:"logLevel"`
	LogFile        string   `json:"logFile"`
	MetricsAddr    string   `json:"metricsAddr"`
}

// Duration reads either a Go duration string ("15s") or milliseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		d.Duration = time.Duration(x) * time.Millisecond
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// DefaultPath is ~/.taskmate/config.json.
func DefaultPath() string {
	return filepath.Join(utils.GetConfigDir(), fileName)
}

// Load reads the JSON file at path (a missing file is fine), applies defaults
// and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			// Fields that default to true must be read back explicitly.
			var raw map[string]any
			_ = json.Unmarshal(data, &raw)
			if _, ok := raw["reconnect"]; !ok {
				cfg.Reconnect = true
			}
		case os.IsNotExist(err):
			cfg.Reconnect = true
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	} else {
		cfg.Reconnect = true
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerURL = getEnv("TASKMATE_SERVER", c.ServerURL)
	c.PushURL = getEnv("TASKMATE_PUSH_URL", c.PushURL)
	c.TokenPath = getEnv("TASKMATE_TOKEN_PATH", c.TokenPath)
	c.KeyFile = getEnv("TASKMATE_KEY_FILE", c.KeyFile)
	c.CACertDir = getEnv("TASKMATE_CA_DIR", c.CACertDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("TASKMATE_LOG_FILE", c.LogFile)
	c.MetricsAddr = getEnv("TASKMATE_METRICS_ADDR", c.MetricsAddr)
	if v := os.Getenv("TASKMATE_SEAL_TOKEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SealToken = b
		}
	}
	if v := os.Getenv("TASKMATE_RECONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Reconnect = b
		}
	}
	if v := os.Getenv("TASKMATE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RequestTimeout.Duration = d
		}
	}
}

func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	if c.PushURL == "" {
		c.PushURL = PushURLFor(c.ServerURL)
	}
	if c.TokenPath == "" {
		name := "token.json"
		if c.SealToken {
			name = "token.json.enc"
		}
		c.TokenPath = filepath.Join(utils.GetConfigDir(), name)
	}
	if c.SealToken && c.KeyFile == "" {
		c.KeyFile = filepath.Join(utils.GetConfigDir(), "token.key")
	}
	if c.RequestTimeout.Duration <= 0 {
		c.RequestTimeout.Duration = DefaultRequestTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// SetServerURL points the client at another backend and re-derives the push
// URL unless one was set explicitly.
func (c *Config) SetServerURL(raw string) {
	derived := PushURLFor(c.ServerURL)
	c.ServerURL = strings.TrimRight(raw, "/")
	if c.PushURL == "" || c.PushURL == derived {
		c.PushURL = PushURLFor(c.ServerURL)
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url %q", c.ServerURL)
	}
	p, err := url.Parse(c.PushURL)
	if err != nil || (p.Scheme != "ws" && p.Scheme != "wss") || p.Host == "" {
		return fmt.Errorf("invalid push url %q", c.PushURL)
	}
	return nil
}

// PushURLFor maps http(s)://host to ws(s)://host/ws.
func PushURLFor(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
