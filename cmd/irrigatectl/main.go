// irrigatectl - Command-line tool for irrigation plan management
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/joho/godotenv"

	"github.com/paddyworks/irrigate/internal/config"
	"github.com/paddyworks/irrigate/internal/logger"
	"github.com/paddyworks/irrigate/pkg/builder"
	"github.com/paddyworks/irrigate/pkg/models"
	"github.com/paddyworks/irrigate/pkg/regenerator"
	"github.com/paddyworks/irrigate/pkg/scheduler"
	"github.com/paddyworks/irrigate/pkg/visualization"
	"github.com/paddyworks/irrigate/pkg/waterlevel"
)

const (
	version = "1.0.0"
	usage   = `irrigatectl - Irrigation plan management tool

USAGE:
    irrigatectl <command> [options]

COMMANDS:
    plan build            Build an irrigation plan from a farm config
    plan show <plan.json> Render or query a built plan
    exec start            Load a plan and run the batch scheduler
    waterlevel update     Force a water-level resolution cycle
    waterlevel summary    Show water-level coverage and quality
    version               Show version information
    help                  Show this help message

PLAN BUILD OPTIONS:
    -farm <file>          Farm configuration document (default: $IRRIGATE_FARM_CONFIG_PATH)
    -output <file>        Save plan JSON to file instead of stdout
    -scenarios            Build a multi-scenario comparison instead of one plan
    -threshold <n>        Minimum eligible field count per scenario (default: 1)

PLAN SHOW OPTIONS:
    -farm <file>          Farm configuration document (required for -format mermaid)
    -format <format>      Output format: json, mermaid (default: json)
    -direction <dir>      Diagram direction: TB, LR, RL, BT, elk (default: LR)
    -query <filter>       jq filter applied to the plan JSON (e.g. '.totals.total_eta_h')
    -output <file>        Save to file instead of stdout

EXEC START OPTIONS:
    -farm <file>          Farm configuration document
    -plan <file>          Plan JSON produced by plan build
    -pre-buffer <min>     Pre-execution buffer minutes (default: 5)
    -tick <duration>      Tick interval (default: 30s)

WATERLEVEL OPTIONS:
    -farm <file>          Farm configuration document
    -cache <file>         Water-level cache path (default: $IRRIGATE_WATERLEVEL_CACHE_PATH)
    -fields <ids>         Comma-separated field ids to summarize (default: all)

EXAMPLES:
    # Build a plan and save it
    irrigatectl plan build -farm farm.json -output plan.json

    # Compare pump scenarios
    irrigatectl plan build -farm farm.json -scenarios

    # Render the plan over the farm topology as a Mermaid diagram
    irrigatectl plan show plan.json -farm farm.json -format mermaid -output plan.mmd

    # Query the plan with a jq filter
    irrigatectl plan show plan.json -query '.batches[].stats.eta_hours'

    # Run the scheduler until the plan completes (Ctrl-C to cancel)
    irrigatectl exec start -farm farm.json -plan plan.json

    # Refresh readings and inspect coverage
    irrigatectl waterlevel update -farm farm.json
    irrigatectl waterlevel summary -farm farm.json

ENVIRONMENT VARIABLES:
    IRRIGATE_FARM_CONFIG_PATH       Farm config path (overridden by -farm)
    IRRIGATE_WATERLEVEL_CACHE_PATH  Water-level cache path (overridden by -cache)
    IRRIGATE_LOG_LEVEL              Log level: debug, info, warn, error
    IRRIGATE_LOG_FORMAT             Log format: json, text
`
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	godotenv.Load()

	command := os.Args[1]

	switch command {
	case "plan":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: plan command requires a subcommand (build, show)")
			fmt.Fprint(os.Stderr, usage)
			os.Exit(1)
		}
		subcommand := os.Args[2]
		switch subcommand {
		case "build":
			handlePlanBuild(os.Args[3:])
		case "show":
			handlePlanShow(os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown plan subcommand: %s\n", subcommand)
			os.Exit(1)
		}

	case "exec":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: exec command requires a subcommand (start)")
			fmt.Fprint(os.Stderr, usage)
			os.Exit(1)
		}
		subcommand := os.Args[2]
		switch subcommand {
		case "start":
			handleExecStart(os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown exec subcommand: %s\n", subcommand)
			os.Exit(1)
		}

	case "waterlevel":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Error: waterlevel command requires a subcommand (update, summary)")
			fmt.Fprint(os.Stderr, usage)
			os.Exit(1)
		}
		subcommand := os.Args[2]
		switch subcommand {
		case "update":
			handleWaterlevelUpdate(os.Args[3:])
		case "summary":
			handleWaterlevelSummary(os.Args[3:])
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown waterlevel subcommand: %s\n", subcommand)
			os.Exit(1)
		}

	case "version":
		fmt.Printf("irrigatectl v%s\n", version)

	case "help", "-h", "--help":
		fmt.Print(usage)

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", command)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func handlePlanBuild(args []string) {
	fs := flag.NewFlagSet("plan build", flag.ExitOnError)
	farmPath := fs.String("farm", getEnv("IRRIGATE_FARM_CONFIG_PATH", "farm.json"), "Farm configuration document")
	output := fs.String("output", "", "Save plan JSON to file instead of stdout")
	scenarios := fs.Bool("scenarios", false, "Build a multi-scenario comparison")
	threshold := fs.Int("threshold", 1, "Minimum eligible field count per scenario")

	if err := fs.Parse(args); err != nil {
		fatalf("Error parsing flags: %v", err)
	}

	cfg, err := models.LoadFarmConfig(*farmPath)
	if err != nil {
		fatalf("Error loading farm config: %v", err)
	}

	opts := builder.Options{AllowedZoneExpr: cfg.AllowedZoneExpr}

	var artifact any
	if *scenarios {
		comparison, err := builder.BuildScenarios(cfg, builder.ScenarioOptions{TriggerThreshold: *threshold, Build: opts})
		if err != nil {
			fatalf("Error building scenarios: %v", err)
		}
		artifact = comparison
	} else {
		plan, err := builder.Build(cfg, opts)
		if err != nil {
			fatalf("Error building plan: %v", err)
		}
		artifact = plan
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		fatalf("Error encoding plan: %v", err)
	}
	writeOutput(*output, data)
}

func handlePlanShow(args []string) {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		fatalf("Error: plan show requires a plan JSON file")
	}
	planPath := args[0]

	fs := flag.NewFlagSet("plan show", flag.ExitOnError)
	farmPath := fs.String("farm", getEnv("IRRIGATE_FARM_CONFIG_PATH", ""), "Farm configuration document")
	format := fs.String("format", "json", "Output format: json, mermaid")
	direction := fs.String("direction", "LR", "Diagram direction: TB, LR, RL, BT, elk")
	query := fs.String("query", "", "jq filter applied to the plan JSON")
	output := fs.String("output", "", "Save to file instead of stdout")

	if err := fs.Parse(args[1:]); err != nil {
		fatalf("Error parsing flags: %v", err)
	}

	planData, err := os.ReadFile(planPath)
	if err != nil {
		fatalf("Error reading plan: %v", err)
	}

	if *query != "" {
		runPlanQuery(planData, *query, *output)
		return
	}

	*format = strings.ToLower(*format)
	switch *format {
	case "json":
		writeOutput(*output, planData)

	case "mermaid":
		if *farmPath == "" {
			fatalf("Error: -format mermaid requires -farm")
		}
		cfg, err := models.LoadFarmConfig(*farmPath)
		if err != nil {
			fatalf("Error loading farm config: %v", err)
		}
		var plan models.Plan
		if err := json.Unmarshal(planData, &plan); err != nil {
			fatalf("Error decoding plan: %v", err)
		}

		opts := visualization.DefaultRenderOptions()
		opts.Direction = *direction
		diagram, err := visualization.NewMermaidRenderer().Render(cfg, &plan, opts)
		if err != nil {
			fatalf("Error rendering diagram: %v", err)
		}
		writeOutput(*output, []byte(diagram))

	default:
		fatalf("Error: invalid format '%s' (must be json or mermaid)", *format)
	}
}

// runPlanQuery applies a gojq filter to the plan document and prints each
// result on its own line.
func runPlanQuery(planData []byte, filter, output string) {
	parsed, err := gojq.Parse(filter)
	if err != nil {
		fatalf("Error parsing jq filter: %v", err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		fatalf("Error compiling jq filter: %v", err)
	}

	var input any
	if err := json.Unmarshal(planData, &input); err != nil {
		fatalf("Error decoding plan: %v", err)
	}

	var sb strings.Builder
	iter := code.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			fatalf("Error running jq filter: %v", err)
		}
		line, err := json.Marshal(v)
		if err != nil {
			fatalf("Error encoding jq result: %v", err)
		}
		sb.Write(line)
		sb.WriteString("\n")
	}
	writeOutput(output, []byte(sb.String()))
}

func handleExecStart(args []string) {
	fs := flag.NewFlagSet("exec start", flag.ExitOnError)
	farmPath := fs.String("farm", getEnv("IRRIGATE_FARM_CONFIG_PATH", "farm.json"), "Farm configuration document")
	planPath := fs.String("plan", "plan.json", "Plan JSON produced by plan build")
	preBuffer := fs.Float64("pre-buffer", 5, "Pre-execution buffer minutes")
	tick := fs.Duration("tick", 30*time.Second, "Tick interval")

	if err := fs.Parse(args); err != nil {
		fatalf("Error parsing flags: %v", err)
	}

	appCfg, err := config.Load()
	if err != nil {
		fatalf("Error loading configuration: %v", err)
	}
	log := logger.New(appCfg.Logging)
	logger.SetDefault(log)

	farmCfg, err := models.LoadFarmConfig(*farmPath)
	if err != nil {
		fatalf("Error loading farm config: %v", err)
	}

	planData, err := os.ReadFile(*planPath)
	if err != nil {
		fatalf("Error reading plan: %v", err)
	}
	var plan models.Plan
	if err := json.Unmarshal(planData, &plan); err != nil {
		fatalf("Error decoding plan: %v", err)
	}

	store := waterlevel.NewStore()
	if err := store.Load(appCfg.WaterLevel.CachePath); err != nil {
		log.Warn("water-level cache unreadable, starting empty", "error", err)
	}
	source := waterlevel.NewSource(store, nil, waterlevel.SourceConfig{
		ThrottleInterval: appCfg.WaterLevel.SensorAPIThrottle,
		MaxCacheAgeHours: appCfg.WaterLevel.MaxCacheAgeHours,
		FetchTimeout:     appCfg.WaterLevel.SensorAPITimeout,
	})

	// The host-supplied device-control boundary; this CLI logs each
	// command instead of driving hardware.
	dispatcher := scheduler.NewDispatcher(func(ctx context.Context, cmd scheduler.DeviceCommand) error {
		log.Info("device command",
			"device_type", cmd.DeviceType, "device_id", cmd.DeviceID,
			"action", cmd.Action, "phase", cmd.Phase, "reason", cmd.Reason)
		return nil
	}, scheduler.DefaultRetryPolicy())

	sched := scheduler.New(farmCfg, store, source, dispatcher, scheduler.Config{
		TickInterval:     *tick,
		PreBufferMinutes: *preBuffer,
		RegenConfig: regenerator.Config{
			MaxDurationAdjustRatio: appCfg.Scheduler.MaxDurationAdjustRatio,
			MinDurationH:           appCfg.Scheduler.MinIrrigationDurationMin / 60,
			MaxDurationH:           appCfg.Scheduler.MaxIrrigationDurationMin / 60,
			CompletionToleranceMM:  appCfg.Scheduler.CompletionToleranceMM,
			MaxTimeAdjustHours:     appCfg.Scheduler.MaxTimeAdjustHours,
			MaxWaterAdjustM3:       appCfg.Scheduler.MaxWaterAdjustM3,
		},
		MonitorConfig: scheduler.MonitorConfig{
			PollInterval: appCfg.Scheduler.MonitorPollInterval,
			ToleranceMM:  appCfg.Scheduler.CompletionToleranceMM,
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executionID, err := sched.StartExecution(ctx, &plan)
	if err != nil {
		fatalf("Error starting execution: %v", err)
	}
	fmt.Printf("execution %s started with %d batches\n", executionID, len(plan.Batches))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	statusTick := time.NewTicker(*tick)
	defer statusTick.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("stopping execution")
			if err := sched.StopExecution(); err != nil {
				log.Warn("stop failed", "error", err)
			}
			persistStore(store, appCfg.WaterLevel.CachePath, log)
			return

		case <-statusTick.C:
			snap, err := sched.GetStatus()
			if err != nil {
				continue
			}
			fmt.Printf("status=%s current_batch=%d/%d regenerations=%d\n",
				snap.GlobalStatus, snap.CurrentBatch, snap.TotalBatches, snap.TotalRegenerations)
			if snap.GlobalStatus == models.GlobalDone || snap.GlobalStatus == models.GlobalError {
				persistStore(store, appCfg.WaterLevel.CachePath, log)
				if snap.GlobalStatus == models.GlobalError {
					os.Exit(1)
				}
				return
			}
		}
	}
}

func handleWaterlevelUpdate(args []string) {
	fs := flag.NewFlagSet("waterlevel update", flag.ExitOnError)
	farmPath := fs.String("farm", getEnv("IRRIGATE_FARM_CONFIG_PATH", "farm.json"), "Farm configuration document")
	cachePath := fs.String("cache", getEnv("IRRIGATE_WATERLEVEL_CACHE_PATH", "waterlevel_cache.json"), "Water-level cache path")

	if err := fs.Parse(args); err != nil {
		fatalf("Error parsing flags: %v", err)
	}

	farmCfg, err := models.LoadFarmConfig(*farmPath)
	if err != nil {
		fatalf("Error loading farm config: %v", err)
	}

	store := waterlevel.NewStore()
	if err := store.Load(*cachePath); err != nil {
		fatalf("Error loading water-level cache: %v", err)
	}
	source := waterlevel.NewSource(store, nil, waterlevel.DefaultSourceConfig())

	result, err := source.Resolve(context.Background(), farmCfg)
	if err != nil {
		fatalf("Error resolving water levels: %v", err)
	}

	fmt.Printf("resolved %d fields: api=%d cache=%d config=%d unresolved=%d\n",
		len(result.Readings), len(result.FromAPI), len(result.FromCache), len(result.FromConfig), len(result.Unresolved))
	if result.APIError != nil {
		fmt.Printf("sensor api: %v\n", result.APIError)
	}

	if err := store.Persist(*cachePath); err != nil {
		fatalf("Error persisting water-level cache: %v", err)
	}
}

func handleWaterlevelSummary(args []string) {
	fs := flag.NewFlagSet("waterlevel summary", flag.ExitOnError)
	farmPath := fs.String("farm", getEnv("IRRIGATE_FARM_CONFIG_PATH", ""), "Farm configuration document")
	cachePath := fs.String("cache", getEnv("IRRIGATE_WATERLEVEL_CACHE_PATH", "waterlevel_cache.json"), "Water-level cache path")
	fields := fs.String("fields", "", "Comma-separated field ids to summarize")

	if err := fs.Parse(args); err != nil {
		fatalf("Error parsing flags: %v", err)
	}

	store := waterlevel.NewStore()
	if err := store.Load(*cachePath); err != nil {
		fatalf("Error loading water-level cache: %v", err)
	}

	var fieldIDs []string
	if *fields != "" {
		fieldIDs = strings.Split(*fields, ",")
	} else if *farmPath != "" {
		farmCfg, err := models.LoadFarmConfig(*farmPath)
		if err != nil {
			fatalf("Error loading farm config: %v", err)
		}
		for _, f := range farmCfg.Fields {
			fieldIDs = append(fieldIDs, f.ID)
		}
	}

	summary := store.Summary(fieldIDs, waterlevel.FieldIDSGF, nil)
	fmt.Printf("fields: %d requested, %d with data, %d without (coverage %.0f%%)\n",
		summary.FieldsRequested, summary.FieldsWithData, summary.FieldsWithoutData, summary.CoverageRate*100)
	for quality, count := range summary.QualityDistribution {
		fmt.Printf("  quality %-10s %d\n", quality, count)
	}
	for source, count := range summary.SourceDistribution {
		fmt.Printf("  source  %-10s %d\n", source, count)
	}
	for _, d := range summary.Fields {
		fmt.Printf("  %s value=%.1fmm age=%.1fh quality=%s source=%s samples=%d\n",
			d.FieldID, d.ValueMM, d.AgeHours, d.Quality, d.Source, d.SampleCount)
	}
}

func persistStore(store *waterlevel.Store, path string, log *logger.Logger) {
	if err := store.Persist(path); err != nil {
		log.Warn("water-level cache persist failed", "error", err)
	}
}

func writeOutput(path string, data []byte) {
	if path == "" {
		os.Stdout.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Println()
		}
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fatalf("Error writing %s: %v", path, err)
	}
	fmt.Printf("wrote %s\n", path)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
