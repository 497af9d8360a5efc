package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultGooseProvider = "anthropic"
	defaultGooseModel    = "claude-sonnet-4-5"
	defaultGooseMaxTurns = 30
)

// goosePlatformPrompt tells the agent how to hand results back to the
// control plane.
const goosePlatformPrompt = `You are running inside Flight Control, a distributed agent orchestration platform.

## Artifact uploads

You can upload files as artifacts that will be stored and accessible via the dashboard.
To upload an artifact, use curl:

curl -s -X POST \
  -H "Authorization: Bearer $FLIGHT_CONTROL_API_KEY" \
  -F "file=@<path-to-file>" \
  "$FLIGHT_CONTROL_UPLOAD_URL"

Upload any important output files, reports, generated assets, or results that should be
preserved beyond this run.`

// GooseRunner executes runs through the Goose CLI.
type GooseRunner struct {
	serverURL string
	apiKey    string
}

func newGooseRunner(serverURL, apiKey string) AgentRunner {
	return &GooseRunner{serverURL: serverURL, apiKey: apiKey}
}

func (g *GooseRunner) Run(ctx context.Context, spec RunSpec, emit func(stream, line string)) (int, error) {
	profilePath, err := writeGooseProfile(spec.MCPServers, spec.WorkDir)
	if err != nil {
		return 0, fmt.Errorf("write goose profile: %w", err)
	}

	provider := configString(spec.AgentConfig, "provider", defaultGooseProvider)
	model := configString(spec.AgentConfig, "model", defaultGooseModel)

	env := gooseEnv(spec, g.serverURL, g.apiKey, provider, model, profilePath)
	args := gooseArgs(spec, provider, model)

	runCtx := ctx
	if spec.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "goose", args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			emit("stderr", "Error: 'goose' command not found. Is Goose installed?")
			return 127, nil
		}
		return 0, fmt.Errorf("start goose: %w", err)
	}

	type outputLine struct {
		stream string
		text   string
	}
	lines := make(chan outputLine, 64)

	var wg sync.WaitGroup
	wg.Add(2)
	pump := func(r io.Reader, stream string) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			text := strings.TrimRight(scanner.Text(), " \t\r")
			if text == "" {
				continue
			}
			lines <- outputLine{stream: stream, text: text}
		}
	}
	go pump(stdout, "stdout")
	go pump(stderr, "stderr")
	go func() {
		wg.Wait()
		close(lines)
	}()

	for line := range lines {
		emit(line.stream, line.text)
	}

	err = cmd.Wait()
	switch {
	case err == nil:
		return 0, nil
	case runCtx.Err() != nil:
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			emit("stderr", "Process timed out and was killed")
		} else {
			emit("stderr", "Run cancelled, agent process killed")
		}
		return -1, nil
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("wait goose: %w", err)
	}
}

// gooseEnv layers the run's env vars and decrypted credentials over the
// process environment, then adds Goose and upload plumbing.
func gooseEnv(spec RunSpec, serverURL, apiKey, provider, model, profilePath string) []string {
	env := os.Environ()
	for k, v := range spec.EnvVars {
		env = append(env, k+"="+v)
	}
	for k, v := range spec.Credentials {
		env = append(env, k+"="+v)
	}

	if spec.RunID != "" {
		uploadURL := fmt.Sprintf("%s/api/v1/workers/runs/%s/artifacts", serverURL, spec.RunID)
		env = append(env,
			"FLIGHT_CONTROL_UPLOAD_URL="+uploadURL,
			"FLIGHT_CONTROL_API_KEY="+apiKey,
		)
	}

	env = append(env, "GOOSE_PROVIDER="+provider, "GOOSE_MODEL="+model)

	if profilePath != "" {
		env = append(env,
			"GOOSE_PROFILE=orchestrator",
			"GOOSE_CONFIG_DIR="+filepath.Join(spec.WorkDir, ".config", "goose"),
		)
	}
	return env
}

func gooseArgs(spec RunSpec, provider, model string) []string {
	args := []string{"run", "--no-session", "-t", spec.TaskPrompt}
	if spec.RunID != "" {
		args = append(args, "--system", goosePlatformPrompt)
	}
	args = append(args, "--max-turns", strconv.Itoa(configInt(spec.AgentConfig, "max_turns", defaultGooseMaxTurns)))
	args = append(args, "--provider", provider, "--model", model)
	return args
}

// writeGooseProfile writes the run's MCP servers as a Goose profile under
// {workDir}/.config/goose/profiles.json. Returns "" when no servers are
// configured.
func writeGooseProfile(mcpServers []map[string]any, workDir string) (string, error) {
	if len(mcpServers) == 0 {
		return "", nil
	}

	extensions := make(map[string]any, len(mcpServers))
	for _, server := range mcpServers {
		ext := map[string]any{
			"type":    configString(server, "type", "stdio"),
			"command": configString(server, "command", ""),
			"args":    server["args"],
		}
		if ext["args"] == nil {
			ext["args"] = []any{}
		}
		if env, ok := server["env"]; ok && env != nil {
			ext["env"] = env
		}
		extensions[configString(server, "name", "mcp-server")] = ext
	}

	profileDir := filepath.Join(workDir, ".config", "goose")
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", err
	}
	profilePath := filepath.Join(profileDir, "profiles.json")

	data, err := json.MarshalIndent(map[string]any{
		"orchestrator": map[string]any{"extensions": extensions},
	}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(profilePath, data, 0o644); err != nil {
		return "", err
	}
	return profilePath, nil
}
