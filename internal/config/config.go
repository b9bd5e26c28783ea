package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"recordgrid/internal/domain"
	"recordgrid/internal/logger"
)

// EnvPrefix marks environment overrides. A double underscore separates
// key levels: RECORDGRID_GRID__PAGE_SIZE sets grid.page_size.
const EnvPrefix = "RECORDGRID_"

type Config struct {
	Grid        GridConfig         `koanf:"grid"`
	Session     SessionConfig      `koanf:"session"`
	Cache       CacheConfig        `koanf:"cache"`
	Storage     StorageConfig      `koanf:"storage"`
	Secrets     SecretsConfig      `koanf:"secrets"`
	Log         LogConfig          `koanf:"log"`
	Approval    ApprovalConfig     `koanf:"approval"`
	Connections []ConnectionConfig `koanf:"connections" validate:"dive"`
}

type GridConfig struct {
	PageSize              int      `koanf:"page_size" validate:"min=1,max=500"`
	MaxFetch              int      `koanf:"max_fetch" validate:"min=1,gtefield=PageSize"`
	SchemaMismatchPhrases []string `koanf:"schema_mismatch_phrases"`
}

type SessionConfig struct {
	IdleTimeout time.Duration `koanf:"idle_timeout" validate:"gte=0"`
	JanitorSpec string        `koanf:"janitor_spec" validate:"required"`
}

type CacheConfig struct {
	SizeMB     int `koanf:"size_mb" validate:"min=1,max=1024"`
	TTLSeconds int `koanf:"ttl_seconds" validate:"gte=0"`
}

type StorageConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type SecretsConfig struct {
	Backend string `koanf:"backend" validate:"oneof=keychain env"`
}

// ApprovalConfig gates record writes behind a human decision recorded
// with the approve command.
type ApprovalConfig struct {
	Required bool          `koanf:"required"`
	Timeout  time.Duration `koanf:"timeout" validate:"gte=0"`
}

type LogConfig struct {
	Level      string `koanf:"level" validate:"omitempty,oneof=debug info warn warning error"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	Compress   bool   `koanf:"compress"`
}

// ConnectionConfig seeds a connection profile at startup. Passwords are
// never read from the file; they come from the secret store.
type ConnectionConfig struct {
	ID       string            `koanf:"id" validate:"required"`
	Name     string            `koanf:"name"`
	Driver   string            `koanf:"driver" validate:"required,oneof=mysql postgres mongodb sqlite"`
	Host     string            `koanf:"host" validate:"required"`
	Port     int               `koanf:"port" validate:"gte=0,lte=65535"`
	Database string            `koanf:"database"`
	Username string            `koanf:"username"`
	SSLMode  string            `koanf:"ssl_mode"`
	Extra    map[string]string `koanf:"extra"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"grid.page_size":       20,
		"grid.max_fetch":       2000,
		"session.idle_timeout": "30m",
		"session.janitor_spec": "@every 1m",
		"cache.size_mb":        16,
		"cache.ttl_seconds":    300,
		"storage.path":         "recordgrid.db",
		"secrets.backend":      "keychain",
		"log.level":            "info",
		"log.max_size_mb":      10,
		"log.max_backups":      3,
		"log.compress":         false,
		"approval.required":    false,
		"approval.timeout":     "2m",
	}
}

// Load builds the configuration from defaults, the TOML file at path (if
// path is non-empty) and RECORDGRID_ environment overrides, then validates it.
func Load(path string) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var out Config
	if err := k.Unmarshal("", &out); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks struct constraints and connection id uniqueness.
func Validate(c *Config) error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := map[string]bool{}
	for _, cc := range c.Connections {
		if seen[cc.ID] {
			return fmt.Errorf("invalid config: duplicate connection id %q", cc.ID)
		}
		seen[cc.ID] = true
	}
	return nil
}

// LoggerConfig converts the log section for logger.InitLogger.
func (l LogConfig) LoggerConfig() logger.LoggerConfig {
	return logger.LoggerConfig{
		LogLevel:     l.Level,
		LogFile:      l.File,
		LogFileSize:  l.MaxSizeMB,
		LogFileCount: l.MaxBackups,
		LogCompress:  l.Compress,
	}
}

// Profile converts a seeded connection into a domain profile.
func (cc ConnectionConfig) Profile() *domain.DatabaseConnection {
	name := cc.Name
	if name == "" {
		name = cc.ID
	}
	extra := "{}"
	if len(cc.Extra) > 0 {
		if data, err := json.Marshal(cc.Extra); err == nil {
			extra = string(data)
		}
	}
	return &domain.DatabaseConnection{
		ID:        cc.ID,
		Name:      name,
		Driver:    domain.DatabaseDriver(cc.Driver),
		Host:      cc.Host,
		Port:      cc.Port,
		Database:  cc.Database,
		Username:  cc.Username,
		SSLMode:   cc.SSLMode,
		ExtraJSON: extra,
	}
}
