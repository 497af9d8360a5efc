package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RunSpec carries everything an agent needs to execute one run.
type RunSpec struct {
	RunID          string
	TaskPrompt     string
	AgentConfig    map[string]any
	MCPServers     []map[string]any
	EnvVars        map[string]string
	Credentials    map[string]string
	WorkDir        string
	TimeoutSeconds int
}

// AgentRunner executes one run's agent process. Output lines are delivered
// through emit in arrival order and the return value is the process exit
// code. The error is non-nil only for setup failures that prevented the
// agent from being executed at all.
type AgentRunner interface {
	Run(ctx context.Context, spec RunSpec, emit func(stream, line string)) (int, error)
}

type runnerFactory func(serverURL, apiKey string) AgentRunner

var agentRegistry = map[string]runnerFactory{
	"goose": newGooseRunner,
}

// RunnerFor returns a runner for the given agent type.
func RunnerFor(agentType, serverURL, apiKey string) (AgentRunner, error) {
	factory, ok := agentRegistry[agentType]
	if !ok {
		names := make([]string, 0, len(agentRegistry))
		for name := range agentRegistry {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown agent type %q (available: %s)", agentType, strings.Join(names, ", "))
	}
	return factory(serverURL, apiKey), nil
}

func configString(cfg map[string]any, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func configInt(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
