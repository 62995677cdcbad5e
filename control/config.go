// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Peer configuration with YAML loading. Load starts from defaults and lets
// the file override individual fields, so a config file only needs the
// values it changes.

package control

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Loop selects the event loop implementation driving a peer.
const (
	LoopGo   = "go"   // goroutine-per-watch adapter on the runtime scheduler
	LoopPoll = "poll" // single-threaded poll(2) reactor
)

// Spawn selects where matched handlers execute.
const (
	SpawnInline = "inline" // on the dispatching goroutine
	SpawnGo     = "go"     // one goroutine per message
	SpawnPool   = "pool"   // fixed worker pool
)

// Duration is a time.Duration that reads YAML strings like "250ms" or "25s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds every tunable of one bus peer.
type Config struct {
	Loop               string   `yaml:"loop"`                 // event loop driving the peer: "go" or "poll"
	Spawn              string   `yaml:"spawn"`                // handler execution: "inline", "go", "pool"; empty derives from the loop
	Workers            int      `yaml:"workers"`              // worker count when spawn is "pool"
	CallTimeout        Duration `yaml:"call_timeout"`         // reply deadline for calls without an explicit timeout
	MaxWait            Duration `yaml:"max_wait"`             // poll reactor idle bound
	Tick               Duration `yaml:"tick"`                 // goroutine loop poll slice
	MaxFrame           int      `yaml:"max_frame"`            // encoded message size cap in bytes
	UnknownMethodReply bool     `yaml:"unknown_method_reply"` // reply to unmatched method calls
}

// DefaultConfig returns a baseline configuration for a peer.
func DefaultConfig() *Config {
	return &Config{
		Loop:               LoopGo,                           // scheduler-backed loop by default
		Spawn:              "",                               // derived from the loop
		Workers:            4,                                // four pool workers
		CallTimeout:        Duration(25 * time.Second),       // 25-second reply deadline
		MaxWait:            Duration(4 * time.Second),        // 4-second idle poll bound
		Tick:               Duration(100 * time.Millisecond), // 100 ms watch poll slice
		MaxFrame:           1 << 20,                          // 1 MiB frame cap
		UnknownMethodReply: true,                             // unmatched calls get an error reply
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch c.Loop {
	case LoopGo, LoopPoll:
	default:
		return fmt.Errorf("unknown loop %q", c.Loop)
	}
	switch c.Spawn {
	case "", SpawnInline, SpawnGo, SpawnPool:
	default:
		return fmt.Errorf("unknown spawn strategy %q", c.Spawn)
	}
	if c.Spawn == SpawnPool && c.Workers <= 0 {
		return fmt.Errorf("spawn %q needs a positive worker count, got %d", SpawnPool, c.Workers)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout)
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("max_wait must be positive, got %s", c.MaxWait)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", c.Tick)
	}
	if c.MaxFrame <= 0 {
		return fmt.Errorf("max_frame must be positive, got %d", c.MaxFrame)
	}
	return nil
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
