// Package oauthadapter bridges the gateway's IR to providers reached via
// an OAuth session (rather than a bare API key) — today, Anthropic's
// Claude Code OAuth path. Sessions go through the provider's own SDK
// instead of a raw HTTP POST, and tool names get namespaced so they never
// collide with the reserved tool names of the external agent framework
// that OAuth session belongs to.
package oauthadapter

import "strings"

// proxyPrefix namespaces a tool name so Claude Code's own built-in tools
// (also unprefixed) never collide with ones the gateway forwards on a
// client's behalf.
const proxyPrefix = "proxy_"

// ProxyClaudeCodeToolName namespaces name for the OAuth session, unless
// it is already namespaced — applying it twice is a no-op, which matters
// because a tool call can round-trip through the adapter more than once
// within one multi-turn conversation.
func ProxyClaudeCodeToolName(name string) string {
	if strings.HasPrefix(name, proxyPrefix) {
		return name
	}
	return proxyPrefix + name
}

// UnproxyClaudeCodeToolName strips the namespace prefix added by
// ProxyClaudeCodeToolName. Names that were never proxied pass through
// unchanged.
func UnproxyClaudeCodeToolName(name string) string {
	return strings.TrimPrefix(name, proxyPrefix)
}
