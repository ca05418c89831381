// Package config resolves beerd's settings from three layers, lowest
// priority first: an optional YAML file, environment variables, then CLI
// flags. Grounded on the teacher's internal/config/server.go (YAML-backed
// struct with a validate() pass that fills defaults), generalized to this
// three-layer precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is beerd's fully-resolved configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	OneShip bool `yaml:"one_ship"`
	Debug   bool `yaml:"debug"`
	Silent  bool `yaml:"silent"`
	Secure  bool `yaml:"secure"`
	KeyHex  string `yaml:"key"`

	TurnTimeout      time.Duration `yaml:"turn_timeout"`
	PlaceTimeout     time.Duration `yaml:"place_timeout"`
	ReconnectTimeout time.Duration `yaml:"reconnect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	BoardSize int `yaml:"board_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	StatsInterval        time.Duration `yaml:"stats_interval"`
	HousekeepingInterval time.Duration `yaml:"housekeeping_interval"`

	FramesPerSec float64 `yaml:"frames_per_sec"`
	MatchLogDir  string  `yaml:"match_log_dir"`
}

func defaults() Config {
	return Config{
		Host:                 "0.0.0.0",
		Port:                 2323,
		TurnTimeout:          60 * time.Second,
		PlaceTimeout:         60 * time.Second,
		ReconnectTimeout:     60 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		BoardSize:            10,
		LogLevel:             "info",
		LogFormat:            "json",
		StatsInterval:        15 * time.Second,
		HousekeepingInterval: 10 * time.Second,
		FramesPerSec:         20,
	}
}

// Load resolves Config from, in increasing priority: built-in defaults, an
// optional YAML file at configPath (skipped entirely if configPath is
// empty), the environment variables named in spec.md §6.5 (HOST, PORT,
// TEST_PORT, TURN_TIMEOUT, BOARD_SIZE, KEY, DEBUG), and finally args parsed
// as CLI flags. flags win over env, which wins over the file, which wins
// over the built-in defaults.
func Load(configPath string, args []string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := applyFlags(&cfg, args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays the environment variables spec.md §6.5 names. TEST_PORT
// takes priority over PORT when both are set, letting test harnesses pin a
// fixed port without touching the operator-facing PORT variable.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v, ok := os.LookupEnv("TEST_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v, ok := os.LookupEnv("TURN_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TurnTimeout = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			cfg.TurnTimeout = time.Duration(secs) * time.Second
		}
	}
	if v, ok := os.LookupEnv("BOARD_SIZE"); ok {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.BoardSize = size
		}
	}
	if v, ok := os.LookupEnv("KEY"); ok {
		cfg.KeyHex = v
		cfg.Secure = true
	}
	if v, ok := os.LookupEnv("DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// applyFlags overlays CLI flags. --secure uses pflag's NoOptDefVal so it can
// be given bare (generate a key) or with an attached value (--secure=<hex>,
// use the supplied key) — a capability stdlib flag has no way to express.
func applyFlags(cfg *Config, args []string) error {
	fs := pflag.NewFlagSet("beerd", pflag.ContinueOnError)

	host := fs.String("host", cfg.Host, "address to listen on")
	port := fs.Int("port", cfg.Port, "port to listen on")
	oneShip := fs.Bool("one-ship", cfg.OneShip, "single-ship rules variant")
	debug := fs.Bool("debug", cfg.Debug, "enable debug logging")
	silent := fs.BoolP("silent", "q", cfg.Silent, "suppress all but fatal log output")
	secure := fs.String("secure", "", "enable encryption; optional inline hex AES key")
	fs.Lookup("secure").NoOptDefVal = " " // allows bare --secure with no value
	framesPerSec := fs.Float64("frames-per-sec", cfg.FramesPerSec, "inbound frame rate limit per connection; 0 falls back to the lobby default of 20")
	matchLogDir := fs.String("match-log-dir", cfg.MatchLogDir, "directory for per-match gzip transcripts; empty disables them")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg.Host = *host
	cfg.Port = *port
	cfg.OneShip = *oneShip
	cfg.Debug = *debug
	cfg.Silent = *silent
	cfg.FramesPerSec = *framesPerSec
	cfg.MatchLogDir = *matchLogDir
	if fs.Changed("secure") {
		cfg.Secure = true
		if v := *secure; v != " " {
			cfg.KeyHex = v
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.BoardSize <= 0 {
		return fmt.Errorf("board_size must be positive, got %d", c.BoardSize)
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("turn_timeout must be positive")
	}
	if c.PlaceTimeout <= 0 {
		return fmt.Errorf("place_timeout must be positive")
	}
	if c.ReconnectTimeout <= 0 {
		return fmt.Errorf("reconnect_timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive")
	}
	if c.FramesPerSec < 0 {
		return fmt.Errorf("frames_per_sec must not be negative")
	}
	return nil
}
