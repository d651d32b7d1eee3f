// Package config provides configuration loading for the access server.
//
// Values are resolved in order, later sources winning:
//   - Default()
//   - the YAML file named by -config, if given
//   - command-line flags that were set explicitly
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config is the server configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `yaml:"port"`

	// Store selects the persistence backend: memory or sqlite.
	Store string `yaml:"store"`

	// DBPath is the SQLite database path. ":memory:" keeps it in process.
	DBPath string `yaml:"db_path"`

	// SeedPath is a YAML/JSON catalog of modules and users. Empty selects
	// the built-in development catalog.
	SeedPath string `yaml:"seed_path"`

	// SessionTTL is how long a login token stays valid.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// ProtocolSequence selects protocol numbering: global or daily.
	ProtocolSequence string `yaml:"protocol_sequence"`

	CORS CORSConfig `yaml:"cors"`

	// DemoScenarios exposes /api/scenarios for loading demo data.
	DemoScenarios bool `yaml:"demo_scenarios"`
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:             8080,
		Store:            StoreSQLite,
		DBPath:           "access.db",
		SessionTTL:       15 * time.Minute,
		ProtocolSequence: "global",
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
	}
}

// LoadFile loads configuration from a YAML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration from command-line args (without the program
// name).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	port := fs.Int("port", 0, "HTTP server port")
	store := fs.String("store", "", "Store backend: memory or sqlite")
	dbPath := fs.String("db", "", "SQLite database path")
	seedPath := fs.String("seed", "", "Seed file with modules and users")
	sessionTTL := fs.Duration("session-ttl", 0, "Login session lifetime")
	sequence := fs.String("protocol-sequence", "", "Protocol numbering: global or daily")
	origins := fs.String("cors-origins", "", "Comma-separated allowed CORS origins")
	demo := fs.Bool("demo-scenarios", false, "Expose demo scenario loaders")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, err
		}
	}

	// Only flags given on the command line override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "store":
			cfg.Store = *store
		case "db":
			cfg.DBPath = *dbPath
		case "seed":
			cfg.SeedPath = *seedPath
		case "session-ttl":
			cfg.SessionTTL = *sessionTTL
		case "protocol-sequence":
			cfg.ProtocolSequence = *sequence
		case "cors-origins":
			cfg.CORS.AllowedOrigins = splitList(*origins)
		case "demo-scenarios":
			cfg.DemoScenarios = *demo
		}
	})

	return cfg, cfg.Validate()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db_path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Store))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("session_ttl must be positive, got %s", c.SessionTTL))
	}
	switch strings.ToLower(c.ProtocolSequence) {
	case "", "global", "daily":
	default:
		errs = append(errs, fmt.Errorf("protocol_sequence must be global or daily, got %q", c.ProtocolSequence))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
