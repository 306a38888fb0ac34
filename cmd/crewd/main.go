package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/crewops/crewd/internal/config"
	"github.com/crewops/crewd/internal/cost"
	"github.com/crewops/crewd/internal/daemon"
	"github.com/crewops/crewd/internal/events"
	"github.com/crewops/crewd/internal/graph"
	"github.com/crewops/crewd/internal/model"
	"github.com/crewops/crewd/internal/orchestrator"
	"github.com/crewops/crewd/internal/safety"
	"github.com/crewops/crewd/internal/store"
	"github.com/crewops/crewd/internal/yaml"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "run":
		runOnce(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("crewd %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: crewd <command> [options]

commands:
  daemon                 run the spool daemon (.crewd/ dir required)
  run <crew.yaml>        execute one crew in-process and print the result
      [--input k=v]...   input data entries for the job
  validate <crew.yaml>   check a crew definition, including its task graph
  version                print version
`)
}

func runDaemon(_ []string) {
	crewdDir := findCrewdDir()
	if crewdDir == "" {
		fmt.Fprintln(os.Stderr, "error: .crewd/ directory not found in this directory or any parent")
		os.Exit(1)
	}

	cfg, err := config.Load(crewdDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(crewdDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

// runOnce executes a crew with an in-memory store and prints the
// terminal job record as YAML. Exit status 1 when the job failed.
func runOnce(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: crewd run <crew.yaml> [--input k=v]...")
		os.Exit(1)
	}
	crewFile := args[0]

	input := map[string]any{}
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] != "--input" {
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", rest[i])
			os.Exit(1)
		}
		i++
		if i >= len(rest) {
			fmt.Fprintln(os.Stderr, "--input requires a k=v argument")
			os.Exit(1)
		}
		key, value, ok := strings.Cut(rest[i], "=")
		if !ok {
			fmt.Fprintf(os.Stderr, "bad --input %q, expected k=v\n", rest[i])
			os.Exit(1)
		}
		input[key] = value
	}

	crew, err := loadCrew(crewFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg := model.DefaultConfig()
	if crewdDir := findCrewdDir(); crewdDir != "" {
		if loaded, err := config.Load(crewdDir); err == nil {
			cfg = loaded
		}
	}

	jobs := store.NewMemoryStore()
	var sink events.Sink = events.NopSink{}
	enforcer := safety.NewEnforcer(nil, sink, nil, cfg.Safety.AlertThreshold)
	tracker := cost.NewTracker(nil, cost.ThresholdsFromConfig(cfg.Cost), sink, nil, jobs)
	orch := orchestrator.New(orchestrator.Options{
		Jobs:     jobs,
		Safety:   enforcer,
		Costs:    tracker,
		Executor: &orchestrator.SimulatedExecutor{Delay: time.Duration(cfg.Executor.SimulatedDelayMs) * time.Millisecond},
		Audit:    sink,
	})

	jobID, err := model.GenerateID(model.IDTypeJob)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate job id: %v\n", err)
		os.Exit(1)
	}
	job := model.NewJob(jobID, crew.Crew.Name, input)
	if err := jobs.Create(context.Background(), job); err != nil {
		fmt.Fprintf(os.Stderr, "create job: %v\n", err)
		os.Exit(1)
	}
	execErr := orch.Execute(context.Background(), job, crew)

	out, err := yamlv3.Marshal(job)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal result: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(out))

	if execErr != nil {
		os.Exit(1)
	}
}

func runValidate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: crewd validate <crew.yaml>")
		os.Exit(1)
	}

	crew, err := loadCrew(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	order, err := graph.Order(crew.TaskIDs(), crew.Workflow.Dependencies)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}
	if unknown := graph.UnknownDependencies(crew.TaskIDs(), crew.Workflow.Dependencies); len(unknown) > 0 {
		fmt.Printf("warning: dependencies on undefined tasks: %s\n", strings.Join(unknown, ", "))
	}

	fmt.Printf("%s: ok (%d tasks, execution order: %s)\n", args[0], len(order), strings.Join(order, " -> "))
}

func loadCrew(path string) (*model.CrewDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read crew file: %w", err)
	}
	if err := yaml.ValidateSchemaHeaderFromBytes(content, "crew_definition"); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var crew model.CrewDefinition
	if err := yamlv3.Unmarshal(content, &crew); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	crew.ApplyDefaults()
	if err := crew.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &crew, nil
}

func findCrewdDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".crewd")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
