// Package config loads knolbase settings from a YAML file, KNOLBASE_
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "KNOLBASE_"

type Config struct {
	DB     string `koanf:"db" validate:"required"`
	Log    Log    `koanf:"log"`
	Undo   Undo   `koanf:"undo"`
	Git    Git    `koanf:"git"`
	Import Import `koanf:"import"`
}

type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type Undo struct {
	// Limit is how many actions can be undone.
	Limit int `koanf:"limit" validate:"min=1,max=1000"`
}

type Git struct {
	// Dir is where repository sources are cloned.
	Dir string `koanf:"dir" validate:"required"`
}

type Import struct {
	Deck  string `koanf:"deck" validate:"required"`
	Model string `koanf:"model" validate:"required"`
}

// RegisterFlags adds the configuration flags, with their defaults, to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("db", "knolbase.db", "Path to the SQLite collection")
	fs.String("log.level", "info", "Log level: debug, info, warn or error")
	fs.String("log.format", "text", "Log format: text or json")
	fs.Int("undo.limit", 20, "Number of actions that can be undone")
	fs.String("git.dir", "repos", "Directory repository sources are cloned into")
	fs.String("import.deck", "Default", "Deck imported notes go to")
	fs.String("import.model", "Basic", "Note type imported notes use")
}

// Load merges the configuration file named by the config flag, the
// environment and the flags of fs, which must already be parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envKey maps KNOLBASE_LOG_LEVEL to log.level.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
}

// Logger builds the slog logger the settings describe.
func (l Log) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
