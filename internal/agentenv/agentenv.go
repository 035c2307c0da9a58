// Package agentenv prepares the environment passed to agent-binary
// subprocesses. The direct-API key is always stripped because it overrides
// subscription authentication inside the agent binary; the subscription
// token is injected from the environment or the fallback token file.
package agentenv

import (
	"os"
	"strings"
)

const (
	// SubscriptionTokenVar authenticates the agent binary under a
	// subscription plan.
	SubscriptionTokenVar = "CLAUDE_CODE_OAUTH_TOKEN"
	// ConflictingAPIKeyVar is the direct-API billing key the agent binary
	// prefers over the subscription token when both are set.
	ConflictingAPIKeyVar = "ANTHROPIC_API_KEY"
)

// Build returns the child environment: the current process environment with
// the conflicting API key removed and the subscription token present when
// obtainable. tokenFile is consulted when the variable is unset; a missing
// file is not an error (the agent binary may still authenticate through its
// own session state).
func Build(tokenFile string) []string {
	env := make([]string, 0, len(os.Environ()))
	hasToken := false
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, ConflictingAPIKeyVar+"=") {
			continue
		}
		if strings.HasPrefix(kv, SubscriptionTokenVar+"=") {
			hasToken = true
		}
		env = append(env, kv)
	}

	if !hasToken && tokenFile != "" {
		if data, err := os.ReadFile(tokenFile); err == nil {
			token := strings.TrimSpace(string(data))
			if token != "" {
				env = append(env, SubscriptionTokenVar+"="+token)
			}
		}
	}

	return env
}

// With appends extra KEY=VALUE entries to an environment.
func With(env []string, extra ...string) []string {
	return append(env, extra...)
}
