// seed prepares a local dev database: schema, the default workspace and
// admin user, a fresh admin API key, and a handful of demo job definitions.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/infrastructure/postgres"
	"github.com/flightcontrol-io/flightcontrol/internal/usecase"
)

type jobSpec struct {
	name       string
	prompt     string
	labels     map[string]string
	maxRetries int
	timeout    int
}

var jobs = []jobSpec{
	// Runs on any worker
	{"hello-world", "Print a short greeting and the current date.", nil, 0, 300},
	{"disk-report", "Summarize disk usage of the working directory in a table.", nil, 1, 600},

	// Routed: only workers carrying these labels pick them up
	{"gpu-benchmark", "Run nvidia-smi and report the GPU model and memory.", map[string]string{"gpu": "true"}, 2, 900},
	{"eu-data-pull", "Fetch the EU dataset index and list the newest entries.", map[string]string{"region": "eu"}, 3, 1800},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("ORCH_DATABASE_URL")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		log.Fatal("ORCH_DATABASE_URL is not set")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	workspaceRepo := postgres.NewWorkspaceRepository(pool)
	if err := workspaceRepo.EnsureDefaults(ctx); err != nil {
		log.Fatalf("seed defaults: %v", err)
	}

	keys := usecase.NewWorkspaceUsecase(workspaceRepo, postgres.NewAPIKeyRepository(pool))
	key, raw, err := keys.CreateAPIKey(ctx, "admin", usecase.CreateAPIKeyInput{
		Name: "seed-admin",
		Role: domain.KeyRoleAdmin,
	})
	if err != nil {
		log.Fatalf("create api key: %v", err)
	}

	jobRepo := postgres.NewJobRepository(pool)

	var created int
	var jobIDs []string
	for _, spec := range jobs {
		job, err := jobRepo.Create(ctx, &domain.JobDefinition{
			WorkspaceID:         domain.DefaultWorkspaceID,
			Name:                spec.name,
			TaskPrompt:          spec.prompt,
			AgentType:           domain.DefaultAgentType,
			Labels:              spec.labels,
			TimeoutSeconds:      spec.timeout,
			MaxRetries:          spec.maxRetries,
			RetryBackoffSeconds: domain.DefaultRetryBackoffSeconds,
		})
		if err != nil {
			log.Fatalf("insert job %s: %v", spec.name, err)
		}
		jobIDs = append(jobIDs, job.ID)
		created++
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Workspace:    %s\n", domain.DefaultWorkspaceID)
	fmt.Printf("  API key:      %s  (name %q, shown only once)\n", raw, key.Name)
	fmt.Printf("  Jobs created: %d\n", created)
	fmt.Println()

	fmt.Println("  Job IDs:")
	for i, id := range jobIDs {
		fmt.Printf("    %-14s %s\n", jobs[i].name, id)
	}

	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  export FC_KEY=" + raw)
	fmt.Println()
	fmt.Println("  Step 1: queue a run from a job definition:")
	fmt.Println()
	fmt.Println("    curl -s -X POST http://localhost:8080/api/v1/jobs/JOB_ID/run \\")
	fmt.Println("      -H \"Authorization: Bearer $FC_KEY\"")
	fmt.Println()
	fmt.Println("  Step 2: start a worker so the run gets picked up:")
	fmt.Println()
	fmt.Println("    ORCH_SERVER_URL=http://localhost:8080 ORCH_API_KEY=$FC_KEY go run ./cmd/worker")
	fmt.Println()
	fmt.Println("  Step 3: follow the run:")
	fmt.Println()
	fmt.Println("    curl -s http://localhost:8080/api/v1/runs -H \"Authorization: Bearer $FC_KEY\"")
	fmt.Println("    curl -N http://localhost:8080/api/v1/runs/RUN_ID/logs/stream -H \"Authorization: Bearer $FC_KEY\"")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    hello-world, disk-report  ->  picked up by any worker")
	fmt.Println("    gpu-benchmark             ->  waits for a worker started with ORCH_LABELS=gpu=true")
	fmt.Println("    eu-data-pull              ->  waits for a worker started with ORCH_LABELS=region=eu")
}
