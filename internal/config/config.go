package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Error reports a missing or invalid configuration option. It is fatal:
// the layer refuses to construct with a bad config.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

type StreamingConfig struct {
	Master string `koanf:"master"`
}

type LockConfig struct {
	Master string `koanf:"master"`
}

type InputConfig struct {
	Topic          string `koanf:"topic"`
	Driver         string `koanf:"driver"`
	KeyClass       string `koanf:"key-class"`
	MessageClass   string `koanf:"message-class"`
	KeyDecoder     string `koanf:"key-decoder"`
	MessageDecoder string `koanf:"message-decoder"`
}

type StorageConfig struct {
	KeyWritableClass     string `koanf:"key-writable-class"`
	MessageWritableClass string `koanf:"message-writable-class"`
	DataDir              string `koanf:"data-dir"`
	ModelDir             string `koanf:"model-dir"`
	Partitions           int    `koanf:"partitions"`
}

type UIConfig struct {
	Port int `koanf:"port"`
}

type EngineConfig struct {
	ControlPort int `koanf:"control-port"`
}

type Config struct {
	Streaming StreamingConfig `koanf:"streaming"`
	Lock      LockConfig      `koanf:"lock"`
	Input     InputConfig     `koanf:"input"`
	Storage   StorageConfig   `koanf:"storage"`

	UpdateClass           string `koanf:"update-class"`
	GenerationIntervalSec int    `koanf:"generation-interval-sec"`
	BlockIntervalSec      int    `koanf:"block-interval-sec"`

	UI     UIConfig     `koanf:"ui"`
	Engine EngineConfig `koanf:"engine"`
}

func (c *Config) GenerationInterval() time.Duration {
	return time.Duration(c.GenerationIntervalSec) * time.Second
}

func (c *Config) BlockInterval() time.Duration {
	return time.Duration(c.BlockIntervalSec) * time.Second
}

/*──────────────────────────── loader ────────────────────────────*/

// Load merges YAML (if present) with env-vars
// (prefix `STRATA_BATCH__`, delimiter `__`) and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	_ = k.Load(env.Provider("STRATA_BATCH__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Input.Driver == "" {
		c.Input.Driver = "sarama"
	}
	if c.Engine.ControlPort == 0 && c.UI.Port > 0 {
		c.Engine.ControlPort = c.UI.Port + 1
	}
}

// Validate checks every recognized option. All failures are *Error.
func (c *Config) Validate() error {
	required := []struct{ key, val string }{
		{"streaming.master", c.Streaming.Master},
		{"lock.master", c.Lock.Master},
		{"input.topic", c.Input.Topic},
		{"input.driver", c.Input.Driver},
		{"input.key-class", c.Input.KeyClass},
		{"input.message-class", c.Input.MessageClass},
		{"input.key-decoder", c.Input.KeyDecoder},
		{"input.message-decoder", c.Input.MessageDecoder},
		{"storage.key-writable-class", c.Storage.KeyWritableClass},
		{"storage.message-writable-class", c.Storage.MessageWritableClass},
		{"storage.data-dir", c.Storage.DataDir},
		{"storage.model-dir", c.Storage.ModelDir},
		{"update-class", c.UpdateClass},
	}
	for _, r := range required {
		if r.val == "" {
			return &Error{Key: r.key, Reason: "missing"}
		}
	}
	if c.Storage.Partitions <= 0 {
		return &Error{Key: "storage.partitions", Reason: "must be > 0"}
	}
	if c.GenerationIntervalSec <= 0 {
		return &Error{Key: "generation-interval-sec", Reason: "must be > 0"}
	}
	if c.BlockIntervalSec <= 0 {
		return &Error{Key: "block-interval-sec", Reason: "must be > 0"}
	}
	if c.BlockIntervalSec > c.GenerationIntervalSec {
		return &Error{Key: "block-interval-sec", Reason: "must not exceed generation-interval-sec"}
	}
	if c.UI.Port <= 0 {
		return &Error{Key: "ui.port", Reason: "must be > 0"}
	}
	if c.Engine.ControlPort < 0 {
		return &Error{Key: "engine.control-port", Reason: "must be >= 0"}
	}
	return nil
}
