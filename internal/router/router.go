// Package router resolves a client-facing model alias to a concrete
// upstream target: which provider, which provider-side model ID, and
// which wire format that provider speaks. An alias can name more than one
// target (for fallback/load distribution); the router picks among them
// with a rendezvous hash so the same request key keeps landing on the
// same target across process restarts, skipping any target currently in
// cooldown after a failure.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrUnknownAlias means the client requested a model name with no entry
// in the alias table.
var ErrUnknownAlias = errors.New("unknown model alias")

// ErrAllTargetsCoolingDown means every target registered for an alias is
// currently in cooldown; the caller should surface an upstream error.
var ErrAllTargetsCoolingDown = errors.New("all targets cooling down")

// Target is one resolved upstream: a provider, its model ID, the wire
// format it speaks, and the connection details needed to reach it.
type Target struct {
	Provider        string
	ProviderModelID string
	EgressAPIType   string // "chat" | "messages" | "gemini" | "responses"
	BaseURL         string
	APIKey          string
}

// id is the target's stable identity for rendezvous hashing and cooldown
// bookkeeping — provider+model is unique within an alias's target list.
func (t Target) id() string {
	return t.Provider + "/" + t.ProviderModelID
}

// TargetConfig is one alias's configured candidate, as loaded from
// configuration.
type TargetConfig struct {
	Provider        string `koanf:"provider"`
	ProviderModelID string `koanf:"model"`
	EgressAPIType   string `koanf:"api_type"`
	BaseURL         string `koanf:"base_url"`
	APIKey          string `koanf:"api_key"`
}

// CooldownStore tracks which targets are temporarily excluded after an
// upstream failure (e.g. a 429). Implementations must be safe for
// concurrent use.
type CooldownStore interface {
	IsCoolingDown(ctx context.Context, key string) (bool, error)
	MarkCooldown(ctx context.Context, key string, ttl time.Duration) error
}

// Router resolves aliases to targets.
type Router struct {
	aliases     map[string][]TargetConfig
	cooldown    CooldownStore
	cooldownTTL time.Duration
}

// New builds a Router from a loaded alias table.
func New(aliases map[string][]TargetConfig, cooldown CooldownStore, cooldownTTL time.Duration) *Router {
	return &Router{aliases: aliases, cooldown: cooldown, cooldownTTL: cooldownTTL}
}

// Resolve picks a target for alias. rendezvousKey (typically a session or
// request ID) determines which target wins the hash when more than one
// is configured and none are cooling down — the same key always prefers
// the same target, so repeated calls from one client stick to one
// upstream.
func (r *Router) Resolve(ctx context.Context, alias, rendezvousKey string) (Target, error) {
	candidates, ok := r.aliases[alias]
	if !ok {
		return Target{}, fmt.Errorf("resolve %q: %w", alias, ErrUnknownAlias)
	}

	ranked := rendezvousRank(rendezvousKey, candidates)
	for _, tc := range ranked {
		t := toTarget(tc)
		down, err := r.cooldown.IsCoolingDown(ctx, cooldownKey(alias, t))
		if err != nil {
			return Target{}, fmt.Errorf("check cooldown for %s: %w", t.id(), err)
		}
		if !down {
			return t, nil
		}
	}

	return Target{}, fmt.Errorf("resolve %q: %w", alias, ErrAllTargetsCoolingDown)
}

// MarkFailure puts a target into cooldown for this alias, so the next
// Resolve call skips it until the TTL expires.
func (r *Router) MarkFailure(ctx context.Context, alias string, t Target) error {
	if err := r.cooldown.MarkCooldown(ctx, cooldownKey(alias, t), r.cooldownTTL); err != nil {
		return fmt.Errorf("mark cooldown for %s: %w", t.id(), err)
	}
	return nil
}

func cooldownKey(alias string, t Target) string {
	return "llmrouter:cooldown:" + alias + ":" + t.id()
}

func toTarget(tc TargetConfig) Target {
	return Target{
		Provider:        tc.Provider,
		ProviderModelID: tc.ProviderModelID,
		EgressAPIType:   tc.EgressAPIType,
		BaseURL:         tc.BaseURL,
		APIKey:          tc.APIKey,
	}
}

// rendezvousRank orders candidates by highest-random-weight hash of
// (rendezvousKey, candidate identity), descending. The top of the
// ordering is the preferred target; callers fall through the rest in
// order when earlier ones are cooling down. Using xxhash keeps the
// ranking stable across process restarts — no shared state needed.
func rendezvousRank(key string, candidates []TargetConfig) []TargetConfig {
	type weighted struct {
		tc     TargetConfig
		weight uint64
	}

	ws := make([]weighted, len(candidates))
	for i, tc := range candidates {
		id := tc.Provider + "/" + tc.ProviderModelID
		ws[i] = weighted{tc: tc, weight: xxhash.Sum64String(key + "|" + id)}
	}

	sort.Slice(ws, func(i, j int) bool { return ws[i].weight > ws[j].weight })

	out := make([]TargetConfig, len(ws))
	for i, w := range ws {
		out[i] = w.tc
	}
	return out
}
