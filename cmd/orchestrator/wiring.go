package main

import (
	"fmt"
	"net/http"

	"github.com/dyluth/gambit/internal/arbiter"
	"github.com/dyluth/gambit/internal/broadcast"
	"github.com/dyluth/gambit/internal/capability"
	"github.com/dyluth/gambit/internal/config"
	"github.com/dyluth/gambit/internal/session"
	"github.com/dyluth/gambit/internal/store"
)

// buildProvider selects the capability provider named in the config.
func buildProvider(cfg *config.CapabilitiesConfig) capability.Provider {
	if cfg.Kind == "remote" {
		return capability.NewRemote(cfg.Endpoint, &http.Client{Timeout: cfg.Timeout()})
	}
	return capability.NewStatic(cfg.Descriptors())
}

// buildArbiter selects the arbitration engine and wraps it in its guard.
func buildArbiter(cfg *config.GambitConfig, client *store.Client) (*arbiter.Guard, error) {
	var engine arbiter.Arbiter
	switch cfg.Arbiter.Kind {
	case "rules":
		engine = arbiter.NewRules(arbiter.RulesOptions{
			AbilityBoost:   *cfg.Rules.AbilityBoost,
			SpellAbility:   cfg.Rules.SpellAbility,
			SpellDurations: cfg.Rules.SpellDurations,
		})
	case "remote":
		engine = arbiter.NewRemote(cfg.Arbiter.Endpoint, &http.Client{Timeout: cfg.Arbiter.Timeout()})
	case "referee":
		engine = arbiter.NewReferee(client.Redis(), client.Namespace())
	default:
		return nil, fmt.Errorf("unknown arbiter kind: %s", cfg.Arbiter.Kind)
	}

	fallback := arbiter.Fallback{
		Outcome:    cfg.Arbiter.Fallback.Outcome,
		Confidence: *cfg.Arbiter.Fallback.Confidence,
	}
	return arbiter.NewGuard(engine, cfg.Arbiter.Timeout(), fallback), nil
}

// buildManager assembles the session manager from a validated config.
func buildManager(cfg *config.GambitConfig, client *store.Client) (*session.Manager, error) {
	guard, err := buildArbiter(cfg, client)
	if err != nil {
		return nil, err
	}

	bc := broadcast.New(client.Namespace(), cfg.Broadcast.PushTimeout())
	if cfg.Broadcast.Redis {
		bc.Attach("redis", broadcast.NewRedis(client))
	}

	return session.NewManager(client, session.Options{
		Namespace:         client.Namespace(),
		Capabilities:      buildProvider(cfg.Capabilities),
		CapabilityTimeout: cfg.Capabilities.Timeout(),
		Arbiter:           guard,
		MaxStaleTurns:     *cfg.Arbiter.MaxStaleTurns,
		Broadcaster:       bc,
	}), nil
}
