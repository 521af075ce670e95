package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dyluth/gambit/pkg/world"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is omitted.
const (
	DefaultArbiterTimeoutMs    = 2000
	DefaultCapabilityTimeoutMs = 500
	DefaultPushTimeoutMs       = 1000
	DefaultMaxStaleTurns       = 1
	DefaultFallbackConfidence  = 0.5
	DefaultAbilityBoost        = 0.1
	DefaultAddr                = ":8080"
)

// GambitConfig represents the top-level gambit.yml configuration
type GambitConfig struct {
	Version      string              `yaml:"version"`
	Namespace    string              `yaml:"namespace,omitempty"` // Overridden by GAMBIT_NAMESPACE
	Arbiter      *ArbiterConfig      `yaml:"arbiter,omitempty"`
	Capabilities *CapabilitiesConfig `yaml:"capabilities,omitempty"`
	Broadcast    *BroadcastConfig    `yaml:"broadcast,omitempty"`
	Rules        *RulesConfig        `yaml:"rules,omitempty"`
	Server       *ServerConfig       `yaml:"server,omitempty"`
}

// ArbiterConfig selects and tunes the arbitration engine
type ArbiterConfig struct {
	Kind          string          `yaml:"kind"`               // rules, remote or referee
	Endpoint      string          `yaml:"endpoint,omitempty"` // Required for remote
	TimeoutMs     int             `yaml:"timeout_ms,omitempty"`
	MaxStaleTurns *int            `yaml:"max_stale_turns,omitempty"` // Re-judge when the turn moved further than this while judging
	Fallback      *FallbackConfig `yaml:"fallback,omitempty"`
}

// FallbackConfig is the verdict used when the arbiter cannot answer in time
type FallbackConfig struct {
	Outcome    world.Outcome `yaml:"outcome"`
	Confidence *float64      `yaml:"confidence,omitempty"`
}

// CapabilitiesConfig selects the capability provider
type CapabilitiesConfig struct {
	Kind      string                 `yaml:"kind"` // static or remote
	Endpoint  string                 `yaml:"endpoint,omitempty"`
	TimeoutMs int                    `yaml:"timeout_ms,omitempty"`
	Actors    map[string]ActorConfig `yaml:"actors,omitempty"` // Used by static
}

// ActorConfig is a static capability descriptor
type ActorConfig struct {
	Abilities  []string           `yaml:"abilities,omitempty"`
	Modifiers  map[string]float64 `yaml:"modifiers,omitempty"`
	Restricted []world.ActionType `yaml:"restricted,omitempty"`
}

// BroadcastConfig tunes fan-out delivery
type BroadcastConfig struct {
	PushTimeoutMs int  `yaml:"push_timeout_ms,omitempty"`
	Redis         bool `yaml:"redis"` // Also publish every update to the session's Redis channel
}

// RulesConfig tunes the rule-based arbiter
type RulesConfig struct {
	AbilityBoost   *float64       `yaml:"ability_boost,omitempty"`
	SpellDurations map[string]int `yaml:"spell_durations,omitempty"`
	SpellAbility   string         `yaml:"spell_ability,omitempty"` // Ability required for a full cast_spell (default "magic")
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Validate performs strict validation on the configuration and applies defaults
func (c *GambitConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Arbiter == nil {
		c.Arbiter = &ArbiterConfig{Kind: "rules"}
	}
	if err := c.Arbiter.Validate(); err != nil {
		return err
	}

	if c.Capabilities == nil {
		c.Capabilities = &CapabilitiesConfig{Kind: "static"}
	}
	if err := c.Capabilities.Validate(); err != nil {
		return err
	}

	if c.Broadcast == nil {
		c.Broadcast = &BroadcastConfig{}
	}
	if c.Broadcast.PushTimeoutMs == 0 {
		c.Broadcast.PushTimeoutMs = DefaultPushTimeoutMs
	}
	if c.Broadcast.PushTimeoutMs < 0 {
		return fmt.Errorf("broadcast.push_timeout_ms must be > 0, got %d", c.Broadcast.PushTimeoutMs)
	}

	if c.Rules == nil {
		c.Rules = &RulesConfig{}
	}
	if err := c.Rules.Validate(); err != nil {
		return err
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}

	return nil
}

// Validate checks the arbiter section and fills defaults
func (a *ArbiterConfig) Validate() error {
	switch a.Kind {
	case "", "rules":
		a.Kind = "rules"
	case "remote":
		if a.Endpoint == "" {
			return fmt.Errorf("arbiter: endpoint is required for kind 'remote'")
		}
	case "referee":
	default:
		return fmt.Errorf("arbiter: invalid kind: %s (must be 'rules', 'remote', or 'referee')", a.Kind)
	}

	if a.TimeoutMs == 0 {
		a.TimeoutMs = DefaultArbiterTimeoutMs
	}
	if a.TimeoutMs < 0 {
		return fmt.Errorf("arbiter.timeout_ms must be > 0, got %d", a.TimeoutMs)
	}

	if a.MaxStaleTurns == nil {
		stale := DefaultMaxStaleTurns
		a.MaxStaleTurns = &stale
	}
	if *a.MaxStaleTurns < 0 {
		return fmt.Errorf("arbiter.max_stale_turns must be >= 0, got %d", *a.MaxStaleTurns)
	}

	if a.Fallback == nil {
		a.Fallback = &FallbackConfig{}
	}
	if a.Fallback.Outcome == "" {
		a.Fallback.Outcome = world.OutcomeSuccess
	}
	if err := a.Fallback.Outcome.Validate(); err != nil {
		return fmt.Errorf("arbiter.fallback: %w", err)
	}
	if a.Fallback.Confidence == nil {
		confidence := DefaultFallbackConfidence
		a.Fallback.Confidence = &confidence
	}
	if *a.Fallback.Confidence < 0 || *a.Fallback.Confidence > 1 {
		return fmt.Errorf("arbiter.fallback.confidence must be within [0,1], got %v", *a.Fallback.Confidence)
	}

	return nil
}

// Timeout returns the arbiter timeout as a duration
func (a *ArbiterConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// Validate checks the capabilities section and fills defaults
func (c *CapabilitiesConfig) Validate() error {
	switch c.Kind {
	case "", "static":
		c.Kind = "static"
	case "remote":
		if c.Endpoint == "" {
			return fmt.Errorf("capabilities: endpoint is required for kind 'remote'")
		}
	default:
		return fmt.Errorf("capabilities: invalid kind: %s (must be 'static' or 'remote')", c.Kind)
	}

	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultCapabilityTimeoutMs
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("capabilities.timeout_ms must be > 0, got %d", c.TimeoutMs)
	}

	for actorID, actor := range c.Actors {
		for _, t := range actor.Restricted {
			if !t.IsKnown() {
				return fmt.Errorf("capabilities: actor '%s': unknown restricted action type: %s", actorID, t)
			}
		}
	}

	return nil
}

// Timeout returns the capability lookup timeout as a duration
func (c *CapabilitiesConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Descriptors converts the static actor table into capability descriptors
func (c *CapabilitiesConfig) Descriptors() map[string]world.CapabilityDescriptor {
	out := make(map[string]world.CapabilityDescriptor, len(c.Actors))
	for id, actor := range c.Actors {
		out[id] = world.CapabilityDescriptor{
			ActorID:    id,
			Abilities:  actor.Abilities,
			Modifiers:  actor.Modifiers,
			Restricted: actor.Restricted,
		}
	}
	return out
}

// PushTimeout returns the broadcast push timeout as a duration
func (b *BroadcastConfig) PushTimeout() time.Duration {
	return time.Duration(b.PushTimeoutMs) * time.Millisecond
}

// Validate checks the rules section and fills defaults
func (r *RulesConfig) Validate() error {
	if r.AbilityBoost == nil {
		boost := DefaultAbilityBoost
		r.AbilityBoost = &boost
	}
	if *r.AbilityBoost < 0 || *r.AbilityBoost > 1 {
		return fmt.Errorf("rules.ability_boost must be within [0,1], got %v", *r.AbilityBoost)
	}
	for spell, turns := range r.SpellDurations {
		if turns < 1 {
			return fmt.Errorf("rules.spell_durations: spell '%s' must last at least 1 turn, got %d", spell, turns)
		}
	}
	if r.SpellAbility == "" {
		r.SpellAbility = "magic"
	}
	return nil
}

// Default returns a validated configuration with every default applied.
// Used when no gambit.yml is supplied.
func Default() *GambitConfig {
	c := &GambitConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Load reads and validates gambit.yml from the specified path
func Load(path string) (*GambitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config GambitConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
