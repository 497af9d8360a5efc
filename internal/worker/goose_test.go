package worker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func envValue(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

func assertEnv(t *testing.T, env []string, key, want string) {
	t.Helper()
	got, ok := envValue(env, key)
	if !ok {
		t.Errorf("%s not set", key)
		return
	}
	if got != want {
		t.Errorf("%s = %q, want %q", key, got, want)
	}
}

func TestGooseArgsDefaults(t *testing.T) {
	spec := RunSpec{RunID: "run-1", TaskPrompt: "summarize the logs"}
	args := gooseArgs(spec, defaultGooseProvider, defaultGooseModel)

	if len(args) < 2 || args[0] != "run" || args[1] != "--no-session" {
		t.Fatalf("args = %v", args)
	}
	if argValue(args, "-t") != "summarize the logs" {
		t.Errorf("-t = %q", argValue(args, "-t"))
	}
	if argValue(args, "--max-turns") != "30" {
		t.Errorf("--max-turns = %q", argValue(args, "--max-turns"))
	}
	if argValue(args, "--provider") != "anthropic" {
		t.Errorf("--provider = %q", argValue(args, "--provider"))
	}
	if argValue(args, "--model") != "claude-sonnet-4-5" {
		t.Errorf("--model = %q", argValue(args, "--model"))
	}
	if !strings.Contains(argValue(args, "--system"), "FLIGHT_CONTROL_UPLOAD_URL") {
		t.Error("--system prompt does not explain artifact uploads")
	}
}

func TestGooseArgsMaxTurnsFromConfig(t *testing.T) {
	// The config arrives as decoded JSON, so numbers may be float64.
	for _, cfg := range []map[string]any{{"max_turns": 50}, {"max_turns": float64(50)}} {
		args := gooseArgs(RunSpec{RunID: "run-1", TaskPrompt: "x", AgentConfig: cfg}, "p", "m")
		if argValue(args, "--max-turns") != "50" {
			t.Errorf("config %v: --max-turns = %q", cfg, argValue(args, "--max-turns"))
		}
	}
}

func TestGooseArgsNoRunIDOmitsPlatformPrompt(t *testing.T) {
	args := gooseArgs(RunSpec{TaskPrompt: "ping"}, "p", "m")
	if v := argValue(args, "--system"); v != "" {
		t.Errorf("--system = %q, want none without a run to upload to", v)
	}
}

func TestGooseEnvLayersRunValues(t *testing.T) {
	spec := RunSpec{
		RunID:       "run-1",
		WorkDir:     "/tmp/wd",
		EnvVars:     map[string]string{"REGION": "eu"},
		Credentials: map[string]string{"API_TOKEN": "s3cr3t"},
	}
	env := gooseEnv(spec, "http://cp:8080", "fc_key", "anthropic", "claude-sonnet-4-5", "")
	added := env[len(os.Environ()):]

	assertEnv(t, added, "REGION", "eu")
	assertEnv(t, added, "API_TOKEN", "s3cr3t")
	assertEnv(t, added, "FLIGHT_CONTROL_UPLOAD_URL", "http://cp:8080/api/v1/workers/runs/run-1/artifacts")
	assertEnv(t, added, "FLIGHT_CONTROL_API_KEY", "fc_key")
	assertEnv(t, added, "GOOSE_PROVIDER", "anthropic")
	assertEnv(t, added, "GOOSE_MODEL", "claude-sonnet-4-5")

	if _, ok := envValue(added, "GOOSE_PROFILE"); ok {
		t.Error("GOOSE_PROFILE set without a profile file")
	}
}

func TestGooseEnvActivatesProfile(t *testing.T) {
	spec := RunSpec{RunID: "run-1", WorkDir: "/tmp/wd"}
	profilePath := filepath.Join("/tmp/wd", ".config", "goose", "profiles.json")

	env := gooseEnv(spec, "http://cp", "k", "p", "m", profilePath)
	added := env[len(os.Environ()):]

	assertEnv(t, added, "GOOSE_PROFILE", "orchestrator")
	assertEnv(t, added, "GOOSE_CONFIG_DIR", filepath.Join("/tmp/wd", ".config", "goose"))
}

func TestWriteGooseProfileNoServers(t *testing.T) {
	path, err := writeGooseProfile(nil, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
}

func TestWriteGooseProfileWritesExtensions(t *testing.T) {
	dir := t.TempDir()
	servers := []map[string]any{
		{"name": "jira", "command": "mcp-jira", "args": []any{"--readonly"}, "env": map[string]any{"JIRA_URL": "https://jira.internal"}},
		{"name": "fetch", "command": "mcp-fetch"},
	}

	path, err := writeGooseProfile(servers, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := filepath.Join(dir, ".config", "goose", "profiles.json"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	var profile map[string]struct {
		Extensions map[string]map[string]any `json:"extensions"`
	}
	if err := json.Unmarshal(data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}

	ext := profile["orchestrator"].Extensions
	if len(ext) != 2 {
		t.Fatalf("extensions = %v", ext)
	}
	jira := ext["jira"]
	if jira["type"] != "stdio" || jira["command"] != "mcp-jira" {
		t.Errorf("jira = %v", jira)
	}
	if env, ok := jira["env"].(map[string]any); !ok || env["JIRA_URL"] != "https://jira.internal" {
		t.Errorf("jira env = %v", jira["env"])
	}
	if args, ok := ext["fetch"]["args"].([]any); !ok || len(args) != 0 {
		t.Errorf("fetch args = %v, want empty list not null", ext["fetch"]["args"])
	}
}

func TestRunnerForGoose(t *testing.T) {
	r, err := RunnerFor("goose", "http://cp", "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := r.(*GooseRunner); !ok {
		t.Errorf("runner = %T", r)
	}
}

func TestRunnerForUnknownType(t *testing.T) {
	_, err := RunnerFor("claude", "http://cp", "key")
	if err == nil {
		t.Fatal("want error for unknown agent type")
	}
	if !strings.Contains(err.Error(), `"claude"`) || !strings.Contains(err.Error(), "goose") {
		t.Errorf("error = %v, want the unknown type and the available list", err)
	}
}
