// Package config loads the supervisor's configuration as a single
// enumerated struct with explicit defaults, parsed once at startup,
// rather than probing an untyped user-data mapping with has_key checks
// scattered across the codebase.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role selects which manager kind a node runs.
type Role string

const (
	RoleMaster Role = "master"
	RoleWorker Role = "worker"
)

// ErrMissingRole is the fatal configuration error: a missing or
// unrecognized role is surfaced by the bootstrap before the core is
// constructed, never into the core itself.
var ErrMissingRole = errors.New("config: role must be \"master\" or \"worker\"")

// Config is the effective policy an Instance's Maintain ladder reads.
type Config struct {
	Role Role `yaml:"role"`

	InstanceStateChangeWait time.Duration `yaml:"instance_state_change_wait"`
	InstanceRebootTimeout   time.Duration `yaml:"instance_reboot_timeout"`
	InstanceRebootAttempts  int           `yaml:"instance_reboot_attempts"`
	InstanceTerminateAttempts int         `yaml:"instance_terminate_attempts"`
	InstanceCommTimeout     time.Duration `yaml:"instance_comm_timeout"`
}

// Default returns the authoritative policy values used whenever a
// deployment does not override them.
func Default() Config {
	return Config{
		InstanceStateChangeWait:   400 * time.Second,
		InstanceRebootTimeout:     300 * time.Second,
		InstanceRebootAttempts:    4,
		InstanceTerminateAttempts: 4,
		InstanceCommTimeout:       300 * time.Second,
	}
}

// Load builds a Config starting from Default(), applying a YAML file (if
// path is non-empty), then applying FLEETWATCH_* environment overrides.
// Unknown YAML keys are ignored; missing keys keep their default.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Check(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Check validates the fields required before the core runs. A missing
// role is the only fatal condition; other fields always have usable
// defaults so they cannot be "missing".
func (c Config) Check() error {
	switch c.Role {
	case RoleMaster, RoleWorker:
		return nil
	default:
		return ErrMissingRole
	}
}

// applyEnv overrides cfg field-by-field from FLEETWATCH_<KEY> environment
// variables, layered on top of any user-data/instance-metadata values a
// deployment has already merged into the YAML file.
func applyEnv(cfg *Config) error {
	durationFields := map[string]*time.Duration{
		"FLEETWATCH_INSTANCE_STATE_CHANGE_WAIT": &cfg.InstanceStateChangeWait,
		"FLEETWATCH_INSTANCE_REBOOT_TIMEOUT":    &cfg.InstanceRebootTimeout,
		"FLEETWATCH_INSTANCE_COMM_TIMEOUT":      &cfg.InstanceCommTimeout,
	}
	for key, field := range durationFields {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s must be an integer number of seconds: %w", key, err)
		}
		*field = time.Duration(seconds) * time.Second
	}

	intFields := map[string]*int{
		"FLEETWATCH_INSTANCE_REBOOT_ATTEMPTS":    &cfg.InstanceRebootAttempts,
		"FLEETWATCH_INSTANCE_TERMINATE_ATTEMPTS": &cfg.InstanceTerminateAttempts,
	}
	for key, field := range intFields {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s must be an integer: %w", key, err)
		}
		*field = n
	}

	if v, ok := os.LookupEnv("FLEETWATCH_ROLE"); ok {
		cfg.Role = Role(strings.TrimSpace(v))
	}

	return nil
}
