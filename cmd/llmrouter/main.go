// Package main is the entry point for the llmrouter gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/llmrouter/gateway/internal/config"
	"github.com/llmrouter/gateway/internal/oauthadapter"
	"github.com/llmrouter/gateway/internal/router"
	"github.com/llmrouter/gateway/internal/server"
	"github.com/llmrouter/gateway/internal/transform"
	"github.com/llmrouter/gateway/internal/transform/chat"
	"github.com/llmrouter/gateway/internal/transform/gemini"
	"github.com/llmrouter/gateway/internal/transform/messages"
	"github.com/llmrouter/gateway/internal/transform/responses"
	"github.com/llmrouter/gateway/internal/upstream"
	"github.com/llmrouter/gateway/internal/usage"
)

const defaultCooldown = 30 * time.Second

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cooldownTTL := cfg.Cooldown
	if cooldownTTL <= 0 {
		cooldownTTL = defaultCooldown
	}

	resolver := router.New(cfg.TargetsByAlias(), newCooldownStore(cfg.Redis.Addr), cooldownTTL)

	transformers := map[string]transform.Transformer{
		"chat":      chat.Transformer{},
		"messages":  messages.Transformer{},
		"gemini":    gemini.Transformer{},
		"responses": responses.Transformer{},
	}

	usageSink := usage.NewPrometheusSink(prometheus.DefaultRegisterer)

	oauthSession := newOAuthSession(cfg)

	srv := server.New(cfg, resolver, transformers, upstream.New(http.DefaultClient), usageSink, oauthSession, log.Default())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("llmrouter listening on :%d", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// newCooldownStore connects to Redis when the config names an address;
// without one, aliases resolve without any cooldown tracking — fine for a
// single-target alias, but a multi-target alias never skips a failing one.
func newCooldownStore(addr string) router.CooldownStore {
	if addr == "" {
		log.Printf("no redis.addr configured; cooldowns are disabled")
		return noopCooldownStore{}
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return router.NewRedisCooldownStore(client)
}

// noopCooldownStore never reports a target as cooling down — a safe
// fallback for deployments that never configured Redis.
type noopCooldownStore struct{}

func (noopCooldownStore) IsCoolingDown(context.Context, string) (bool, error) {
	return false, nil
}

func (noopCooldownStore) MarkCooldown(context.Context, string, time.Duration) error {
	return nil
}

// newOAuthSession builds the Claude Code OAuth adapter when the config
// names a token file; returns nil otherwise, which is fine unless an
// alias's target actually routes through the "$oauth" sentinel.
func newOAuthSession(cfg *config.Config) *oauthadapter.ClaudeCodeSession {
	if cfg.OAuth.TokenFile == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.OAuth.TokenFile)
	if err != nil {
		log.Printf("reading oauth token file %q: %v", cfg.OAuth.TokenFile, err)
		return nil
	}
	token := strings.TrimSpace(string(data))
	session, err := oauthadapter.NewClaudeCodeSession(token, cfg.OAuth.Model)
	if err != nil {
		log.Printf("building oauth session: %v", err)
		return nil
	}
	return session
}
