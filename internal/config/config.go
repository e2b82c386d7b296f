// Package config handles configuration loading and saving.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration.
type Config struct {
	Listen          string        `yaml:"listen" kong:"help='HTTP listen address',default=':8090'"`
	CallbackBaseURL string        `yaml:"callback_base_url" kong:"help='Public base URL hubs can reach this deployment on',default='http://localhost:8090'"`
	DBPath          string        `yaml:"db_path" kong:"help='Path to the sqlite database'"`
	LeaseSeconds    int           `yaml:"lease_seconds" kong:"help='Lease duration requested from hubs',default='432000'"`
	RenewalWindow   time.Duration `yaml:"renewal_window" kong:"help='Renew leases expiring within this window',default='12h'"`
	SweepDelay      time.Duration `yaml:"sweep_delay" kong:"help='Pause between hub requests during a sweep',default='1s'"`
	HubTimeout      time.Duration `yaml:"hub_timeout" kong:"help='Timeout for outbound hub requests',default='10s'"`
	FeedTimeout     time.Duration `yaml:"feed_timeout" kong:"help='Timeout for direct feed fetches',default='30s'"`
	VerifyTimeout   time.Duration `yaml:"verify_timeout" kong:"help='How long a pending subscription may wait for verification',default='24h'"`
	LogLevel        string        `yaml:"log_level" kong:"help='Log level (debug, info, warn, error)',default='info'"`

	// Internal
	configPath string `yaml:"-" kong:"-"`
}

// CallbackURL is the externally reachable callback endpoint sent to
// hubs.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.CallbackBaseURL, "/") + "/websub/callback"
}

// LoadConfig loads the configuration from the specified path or default
// location.
func LoadConfig(customPath ...string) (*Config, error) {
	var configPath string
	if len(customPath) > 0 && customPath[0] != "" {
		configPath = customPath[0]
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(home, ".config", "websubd", "config.yaml")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	var cfg Config
	cfg.configPath = configPath

	var options []kong.Option

	// Only add configuration loader if file exists
	if _, err := os.Stat(configPath); err == nil {
		options = append(options, kong.Configuration(yamlKongLoader, configPath))
	}

	parser, err := kong.New(&cfg, options...)
	if err != nil {
		return nil, err
	}

	_, err = parser.Parse([]string{})
	if err != nil {
		return nil, err
	}

	// Save defaults if new file
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	// Set default database path if empty
	if cfg.DBPath == "" {
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			home, err := os.UserHomeDir()
			if err == nil {
				dataHome = filepath.Join(home, ".local", "share")
			}
		}
		cfg.DBPath = filepath.Join(dataHome, "websubd", "websub.db")
	}

	return &cfg, nil
}

// Validate checks values a running daemon cannot do without.
func (c *Config) Validate() error {
	var errs []string
	if c.CallbackBaseURL == "" {
		errs = append(errs, "callback_base_url is required")
	}
	if c.LeaseSeconds <= 0 {
		errs = append(errs, "lease_seconds must be positive")
	}
	if c.RenewalWindow <= 0 {
		errs = append(errs, "renewal_window must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, ", "))
	}
	return nil
}

func yamlKongLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]interface{}{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil {
		if err == io.EOF {
			return nil, nil // Return nil resolver (no op)
		}
		return nil, err
	}

	var f kong.ResolverFunc = func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (interface{}, error) {
		// Try various naming conventions
		names := []string{flag.Name, strings.ReplaceAll(flag.Name, "-", "_")}
		for _, name := range names {
			if v, ok := values[name]; ok {
				return v, nil
			}
		}
		return nil, nil
	}
	return f, nil
}

// Save writes the current configuration to the config file.
func (c *Config) Save() error {
	f, err := os.Create(c.configPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return yaml.NewEncoder(f).Encode(c)
}
