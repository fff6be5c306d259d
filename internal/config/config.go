package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIURL         string
	WSURL          string
	DBFile         string
	PreviewsPath   string
	SearchDebounce time.Duration
	RequestTimeout time.Duration
	ReconnectDelay time.Duration
	EchoWindow     time.Duration
}

// LoadEnvFile loads variables from a dotenv file without overriding the
// ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func Load() (*Config, error) {
	cfg := &Config{
		APIURL:       strings.TrimSuffix(getEnv("COURSECHAT_API_URL", "http://localhost:4000"), "/"),
		WSURL:        os.Getenv("COURSECHAT_WS_URL"),
		DBFile:       getEnv("COURSECHAT_DB", "coursechat.db"),
		PreviewsPath: getEnv("COURSECHAT_PREVIEWS", "previews"),
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"SEARCH_DEBOUNCE", "300ms", &cfg.SearchDebounce},
		{"REQUEST_TIMEOUT", "15s", &cfg.RequestTimeout},
		{"RECONNECT_DELAY", "2s", &cfg.ReconnectDelay},
		{"ECHO_WINDOW", "2m", &cfg.EchoWindow},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if cfg.WSURL == "" {
		ws, err := SocketURL(cfg.APIURL)
		if err != nil {
			return nil, err
		}
		cfg.WSURL = ws
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("COURSECHAT_API_URL must be an http(s) url, got %q", c.APIURL)
	}

	if c.DBFile == "" {
		return fmt.Errorf("COURSECHAT_DB is required")
	}

	if c.SearchDebounce < 0 {
		return fmt.Errorf("SEARCH_DEBOUNCE must not be negative")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be greater than 0")
	}

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be greater than 0")
	}

	if c.EchoWindow <= 0 {
		return fmt.Errorf("ECHO_WINDOW must be greater than 0")
	}

	return nil
}

// SocketURL derives the socket endpoint from the API root.
func SocketURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/socket"
	return u.String(), nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
