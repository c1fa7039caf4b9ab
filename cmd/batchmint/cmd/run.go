package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"batchmint/pkg/driver"
	"batchmint/pkg/ledger"
	"batchmint/pkg/logging"
	"batchmint/pkg/metrics"
	"batchmint/pkg/models"
	"batchmint/pkg/parse"
	"batchmint/pkg/results"
	"batchmint/pkg/scheduler"
	"batchmint/pkg/shutdown"
	"batchmint/pkg/tracing"
)

var (
	runInput          string
	runAction         string
	runResume         bool
	runIncludeSkipped bool
	runAttempts       int
	runPace           time.Duration
	runPaceJitter     float64
	runCallTimeout    time.Duration
	runShards         int
	runMaxActive      int
	runDryRun         bool
	runDriverURL      string
	runNoSolver       bool
	runMetricsPort    int
	runTraceEndpoint  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a metadata file against the marketplace",
	Long: `Process every record in the input file, in order, skipping records the
ledger already marks completed. The run survives interruption: stop it with
Ctrl-C and start it again with --resume to pick up exactly where it left off.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runInput, "input", "", "metadata file (.json, .yaml or .csv) (required)")
	runCmd.Flags().StringVar(&runAction, "action", "upload-and-list", "default action: upload, list, upload-and-list, delete")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "reuse an existing ledger instead of refusing to start")
	runCmd.Flags().BoolVar(&runIncludeSkipped, "include-skipped", false, "reprocess records previously marked skipped")
	runCmd.Flags().IntVar(&runAttempts, "attempts", 3, "attempts per sub-step before a transient failure becomes final")
	runCmd.Flags().DurationVar(&runPace, "pace", 5*time.Second, "minimum delay between records")
	runCmd.Flags().Float64Var(&runPaceJitter, "pace-jitter", 0.2, "extra random delay as a fraction of --pace")
	runCmd.Flags().DurationVar(&runCallTimeout, "call-timeout", 90*time.Second, "timeout per driver call")
	runCmd.Flags().IntVar(&runShards, "shards", 1, "number of parallel shards")
	runCmd.Flags().IntVar(&runMaxActive, "max-active-shards", 0, "cap on concurrently active shards (0 = all)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "simulate the driver instead of talking to a sidecar")
	runCmd.Flags().StringVar(&runDriverURL, "driver-url", "", "driver sidecar URL; comma-separate one URL per shard")
	runCmd.Flags().BoolVar(&runNoSolver, "no-solver", false, "fail challenge-blocked records instead of invoking the solver")
	runCmd.Flags().IntVar(&runMetricsPort, "metrics-port", 0, "serve Prometheus metrics on this port during the run")
	runCmd.Flags().StringVar(&runTraceEndpoint, "trace-endpoint", "", "OTLP HTTP endpoint for tracing (disabled when empty)")
	runCmd.MarkFlagRequired("input")
}

func runRun(cmd *cobra.Command, args []string) error {
	outDir, err := GetOutputDir()
	if err != nil {
		return err
	}

	log, err := logging.NewRunLogger(outDir, "run", logging.ParseLevel(logLevel), logJSON)
	if err != nil {
		return err
	}
	defer log.Close()

	action, err := models.ParseAction(runAction)
	if err != nil {
		return err
	}

	set, err := parse.Load(runInput)
	if err != nil {
		return err
	}
	log.Info("Metadata loaded", map[string]interface{}{
		"input": runInput, "records": set.Len(),
	})

	if err := checkLedgerState(outDir); err != nil {
		return err
	}

	mgr := shutdown.New(30*time.Second, log)
	mgr.WatchSignals()
	defer mgr.Shutdown()
	ctx := mgr.Context()

	collector := metrics.NewCollector()
	if runMetricsPort > 0 {
		srv, err := collector.Serve(runMetricsPort)
		if err != nil {
			return err
		}
		mgr.Register(func(ctx context.Context) error { return srv.Shutdown(ctx) })
		log.Info("Metrics listener started", map[string]interface{}{"port": runMetricsPort})
	}

	tracer, err := tracing.Init(tracing.Config{
		ServiceName:  "batchmint",
		Version:      Version,
		OTLPEndpoint: runTraceEndpoint,
		Enabled:      runTraceEndpoint != "",
	})
	if err != nil {
		return err
	}
	mgr.Register(tracer.Shutdown)

	runID := time.Now().Format("20060102-150405")
	cfg := scheduler.Config{
		RunID:  runID,
		Action: action,
		Retry: &models.RetryPolicy{
			MaxAttempts:    runAttempts,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     1 * time.Minute,
			Multiplier:     2.0,
		},
		Pace:           runPace,
		PaceJitter:     runPaceJitter,
		CallTimeout:    runCallTimeout,
		IncludeSkipped: runIncludeSkipped,
		Logger:         log,
		Metrics:        collector,
		Tracer:         tracer,
	}

	opts := scheduler.ShardOptions{
		Shards:    runShards,
		MaxActive: runMaxActive,
		LedgerDir: outDir,
		Config:    cfg,
		NewDriver: driverFactory(),
	}
	if runShards > 1 {
		// per-shard log files; a single shard logs through the run logger
		opts.NewLogger = func(idx int) (*logging.Logger, error) {
			return logging.NewRunLogger(outDir, fmt.Sprintf("shard-%d", idx), logging.ParseLevel(logLevel), logJSON)
		}
	}
	summaries, entries, runErr := scheduler.RunShards(ctx, set, opts)

	// Whatever happened above, the operator gets continuation files that
	// reflect exactly the records processed so far.
	writer := results.NewWriter(outDir, strings.ToLower(filepath.Ext(runInput)), log)
	failedPath, pendingPath, werr := writer.WriteDerived(set, entries, runID)
	if werr != nil {
		log.Error("Failed to write derived sets", map[string]interface{}{"error": werr.Error()})
	}

	printRunSummary(summaries, failedPath, pendingPath)

	if runErr != nil {
		var fatal *scheduler.FatalError
		if errors.As(runErr, &fatal) {
			return fmt.Errorf("run aborted: %w", runErr)
		}
		return runErr
	}
	return nil
}

// checkLedgerState refuses to overwrite progress from an earlier run unless
// the operator explicitly resumes
func checkLedgerState(outDir string) error {
	if runResume {
		return nil
	}
	for i := 0; i < runShards; i++ {
		path := ledger.ShardPath(outDir, i, runShards)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("ledger %s already exists; pass --resume to continue that run or remove it to start over", path)
		}
	}
	return nil
}

// driverFactory builds one isolated driver session per shard
func driverFactory() func(int) (driver.Driver, driver.Solver, error) {
	return func(idx int) (driver.Driver, driver.Solver, error) {
		if runDryRun {
			d := driver.NewDryRun(100 * time.Millisecond)
			return d, d, nil
		}

		url := runDriverURL
		if url == "" {
			url = viper.GetString("driver_url")
		}
		if url == "" {
			return nil, nil, fmt.Errorf("--driver-url is required unless --dry-run is set")
		}

		// one sidecar per shard, addressed by position in the URL list
		urls := strings.Split(url, ",")
		if len(urls) > 1 && idx >= len(urls) {
			return nil, nil, fmt.Errorf("shard %d has no driver URL (%d given)", idx, len(urls))
		}
		shardURL := strings.TrimSpace(urls[0])
		if len(urls) > 1 {
			shardURL = strings.TrimSpace(urls[idx])
		} else if runShards > 1 {
			return nil, nil, fmt.Errorf("a parallel run needs one driver URL per shard (%d shards, 1 URL)", runShards)
		}

		remote := driver.NewRemote(driver.RemoteConfig{
			BaseURL: shardURL,
			APIKey:  viper.GetString("driver_api_key"),
			Timeout: runCallTimeout + 30*time.Second,
		})
		if runNoSolver {
			return remote, nil, nil
		}
		return remote, remote, nil
	}
}

func printRunSummary(summaries []*scheduler.Summary, failedPath, pendingPath string) {
	total := &scheduler.Summary{}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Shard", "Done", "Failed", "Skipped", "Prior Done", "Cancelled")

	for _, sum := range summaries {
		if sum == nil {
			continue
		}
		total.Merge(sum)
		table.Append(
			fmt.Sprintf("%d", sum.Shard),
			fmt.Sprintf("%d", sum.Done),
			fmt.Sprintf("%d", sum.Failed),
			fmt.Sprintf("%d", sum.Skipped),
			fmt.Sprintf("%d", sum.PriorDone),
			fmt.Sprintf("%v", sum.Cancelled),
		)
	}
	table.Render()

	fmt.Printf("\nTotal: %d done, %d failed, %d skipped (%d already done in earlier runs)\n",
		total.Done, total.Failed, total.Skipped, total.PriorDone)
	if failedPath != "" {
		fmt.Printf("Failed set:  %s\n", failedPath)
	}
	if pendingPath != "" {
		fmt.Printf("Pending set: %s\n", pendingPath)
	}
}
