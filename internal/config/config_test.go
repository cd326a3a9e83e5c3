package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `streaming:
  master: local[4]
lock:
  master: localhost:9092
input:
  topic: strataInput
  key-class: string
  message-class: string
  key-decoder: string
  message-decoder: string
storage:
  key-writable-class: text
  message-writable-class: text
  data-dir: /tmp/strata/data
  model-dir: /tmp/strata/model
  partitions: 4
update-class: noop
generation-interval-sec: 300
block-interval-sec: 10
ui:
  port: 4040
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ValidWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input.Driver != "sarama" {
		t.Fatalf("want default driver sarama, got %q", cfg.Input.Driver)
	}
	if cfg.Engine.ControlPort != 4041 {
		t.Fatalf("want default control-port ui.port+1, got %d", cfg.Engine.ControlPort)
	}
	if got := cfg.GenerationInterval(); got != 300*time.Second {
		t.Fatalf("generation interval: %v", got)
	}
	if got := cfg.BlockInterval(); got != 10*time.Second {
		t.Fatalf("block interval: %v", got)
	}
}

func TestLoad_MissingOption(t *testing.T) {
	body := strings.Replace(validYAML, "update-class: noop", "update-class: \"\"", 1)
	_, err := Load(writeConfig(t, body))
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("want *config.Error, got %v", err)
	}
	if cerr.Key != "update-class" {
		t.Fatalf("want update-class error, got %q", cerr.Key)
	}
}

func TestLoad_BlockIntervalExceedsGeneration(t *testing.T) {
	body := strings.Replace(validYAML, "block-interval-sec: 10", "block-interval-sec: 301", 1)
	_, err := Load(writeConfig(t, body))
	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("want *config.Error, got %v", err)
	}
	if cerr.Key != "block-interval-sec" {
		t.Fatalf("want block-interval-sec error, got %q", cerr.Key)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STRATA_BATCH__INPUT__TOPIC", "fromEnv")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Input.Topic != "fromEnv" {
		t.Fatalf("env override not applied, got %q", cfg.Input.Topic)
	}
}

func TestValidate_NonPositiveKnobs(t *testing.T) {
	cases := []struct {
		key     string
		breakIt func(*Config)
	}{
		{"storage.partitions", func(c *Config) { c.Storage.Partitions = 0 }},
		{"generation-interval-sec", func(c *Config) { c.GenerationIntervalSec = 0 }},
		{"block-interval-sec", func(c *Config) { c.BlockIntervalSec = -1 }},
		{"ui.port", func(c *Config) { c.UI.Port = 0 }},
	}
	for _, tc := range cases {
		cfg, err := Load(writeConfig(t, validYAML))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		tc.breakIt(cfg)
		err = cfg.Validate()
		var cerr *Error
		if !errors.As(err, &cerr) || cerr.Key != tc.key {
			t.Fatalf("%s: want *config.Error for key, got %v", tc.key, err)
		}
	}
}
