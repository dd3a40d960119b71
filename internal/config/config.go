// Package config loads the replicator's YAML configuration, per
// SPEC_FULL.md §9: datamart DSN, ER engine base URL, entity-list/
// data-source scoping (supplemented from original_source/'s --entity-list
// and --data-source flags), alert enablement, and the résumé codec's size
// cap L. Grounded on the teacher pack's hyperengineering-engram
// internal/config (defaults → YAML file → env var precedence, gopkg.in/
// yaml.v3 struct tags), trimmed to this replicator's flatter shape.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure read by cmd/replicator.
type Config struct {
	Datamart DatamartConfig `yaml:"datamart"`
	EREngine EREngineConfig `yaml:"er_engine"`
	Codec    CodecConfig    `yaml:"codec"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Scope    ScopeConfig    `yaml:"scope"`
	Log      LogConfig      `yaml:"log"`
}

// DatamartConfig carries the datamart connection string.
type DatamartConfig struct {
	DSN string `yaml:"dsn"`
}

// EREngineConfig carries the ER engine's base URL.
type EREngineConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CodecConfig carries the résumé codec's size cap L (spec.md §4.3).
type CodecConfig struct {
	MaxHashBytes int `yaml:"max_hash_bytes"`
}

// AlertsConfig gates the Alert Processor (spec.md §4.1 step 5).
type AlertsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ScopeConfig carries the driver-only --entity-list/--data-source
// scoping supplemented from original_source/ (SPEC_FULL.md §11); the
// Orchestrator and Net-Change Engine have no knowledge of this.
type ScopeConfig struct {
	// EntityList is "all" or a CSV of entity ids.
	EntityList string `yaml:"entity_list"`
	// DataSource restricts a run to a single data source; empty means all.
	DataSource string `yaml:"data_source"`
}

// LogConfig carries logging format/verbosity, independent of the
// --debug flag (which only raises the level).
type LogConfig struct {
	Pretty bool `yaml:"pretty"`
}

// Default returns a Config with every field at its default value.
func Default() Config {
	return Config{
		Codec: CodecConfig{MaxHashBytes: 250},
		Scope: ScopeConfig{EntityList: "all"},
	}
}

// Load reads and parses a YAML config file at path, applying defaults for
// anything the file doesn't set, then environment-variable overrides.
// A missing datamart DSN or ER engine base URL is a config error, fatal
// at startup, per spec.md §7's "config" error kind.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPLICATOR_DATAMART_DSN"); v != "" {
		cfg.Datamart.DSN = v
	}
	if v := os.Getenv("REPLICATOR_ER_BASE_URL"); v != "" {
		cfg.EREngine.BaseURL = v
	}
	if v := os.Getenv("REPLICATOR_ALERTS_ENABLED"); v != "" {
		cfg.Alerts.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("REPLICATOR_CODEC_MAX_HASH_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Codec.MaxHashBytes = n
		}
	}
}

func (c Config) validate() error {
	if c.Datamart.DSN == "" {
		return fmt.Errorf("config: datamart.dsn is required")
	}
	if c.EREngine.BaseURL == "" {
		return fmt.Errorf("config: er_engine.base_url is required")
	}
	return nil
}

// EntityIDs parses Scope.EntityList into a scope filter. all=true with a
// nil slice means "all entities, unfiltered"; a malformed CSV entry
// returns a non-nil err with all=false.
func (s ScopeConfig) EntityIDs() (ids []int64, all bool, err error) {
	if s.EntityList == "" || strings.EqualFold(s.EntityList, "all") {
		return nil, true, nil
	}
	for _, tok := range strings.Split(s.EntityList, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, perr := strconv.ParseInt(tok, 10, 64)
		if perr != nil {
			return nil, false, fmt.Errorf("config: invalid entity id %q in entity_list: %w", tok, perr)
		}
		ids = append(ids, id)
	}
	return ids, false, nil
}
