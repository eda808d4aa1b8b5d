package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/splitgate/splitgate/internal/api"
	"github.com/splitgate/splitgate/internal/assign"
	"github.com/splitgate/splitgate/internal/config"
	"github.com/splitgate/splitgate/internal/exposure"
	"github.com/splitgate/splitgate/internal/registry"
	"github.com/splitgate/splitgate/internal/stats"
	"github.com/splitgate/splitgate/internal/store"
	"github.com/splitgate/splitgate/internal/targeting"
	"github.com/splitgate/splitgate/internal/web"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "splitgate",
		Short: "Deterministic A/B experiment assignment daemon",
		Long:  "Splitgate assigns visitors to experiment variants deterministically,\npins assignments in cookies and SQLite, and tracks exposure events.",
	}

	var configFile string
	var port int
	var devMode bool

	// ─── start ───
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the assignment daemon and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: splitgate.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port (default: 7340)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	// ─── experiment ───
	experimentCmd := &cobra.Command{
		Use:   "experiment",
		Short: "Experiment inspection commands",
	}

	experimentListCmd := &cobra.Command{
		Use:   "list",
		Short: "Show experiments loaded by the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentList(port)
		},
	}

	experimentValidateCmd := &cobra.Command{
		Use:   "validate [payload.json]",
		Short: "Validate an experiment payload file before publishing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperimentValidate(args[0])
		},
	}

	experimentCmd.AddCommand(experimentListCmd, experimentValidateCmd)

	// ─── plan ───
	var baseline, effect, power, alpha float64
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the per-variant sample size for an experiment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(baseline, effect, power, alpha)
		},
	}
	planCmd.Flags().Float64Var(&baseline, "baseline", 0, "Baseline conversion rate, e.g. 0.1 for 10% (required)")
	planCmd.Flags().Float64Var(&effect, "effect", 0, "Minimum detectable relative effect, e.g. 0.2 for +20% (required)")
	planCmd.Flags().Float64Var(&power, "power", 0.8, "Statistical power")
	planCmd.Flags().Float64Var(&alpha, "alpha", 0.05, "Two-sided significance level")
	_ = planCmd.MarkFlagRequired("baseline")
	_ = planCmd.MarkFlagRequired("effect")

	// ─── refresh ───
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force the running daemon to refetch experiment definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/experiments/refresh", p), "application/json", nil)
			if err != nil {
				return fmt.Errorf("failed to connect to splitgate: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			_ = decodeJSON(resp, &result)
			if resp.StatusCode == 200 {
				fmt.Printf("✓ Refreshed (%v experiments loaded)\n", result["experiments"])
			} else {
				fmt.Printf("✗ Refresh failed (HTTP %d)\n", resp.StatusCode)
			}
			return nil
		},
	}

	// ─── assignments ───
	assignmentsCmd := &cobra.Command{
		Use:   "assignments [user-id]",
		Short: "Show a visitor's pinned assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssignments(port, args[0])
		},
	}

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show running status and event counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(port)
		},
	}

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Splitgate %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	for _, c := range []*cobra.Command{experimentCmd, refreshCmd, assignmentsCmd, statusCmd} {
		c.PersistentFlags().IntVarP(&port, "port", "p", 0, "Daemon port (default: 7340)")
	}

	rootCmd.AddCommand(startCmd, experimentCmd, planCmd, refreshCmd, assignmentsCmd, statusCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(configFile string, portOverride int, devMode bool) error {
	// Load config
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg := cfgLoader.Get()

	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	// Setup logger
	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	// Initialize assignment + event storage
	var st store.Store
	switch cfg.Storage.Driver {
	case "memory":
		st = store.NewMemoryStore()
	case "sqlite", "":
		sqlStore, err := store.NewSQLiteStore(cfg.Storage.Path, cfg.Storage.Retention)
		if err != nil {
			return fmt.Errorf("failed to open storage: %w", err)
		}
		st = sqlStore
	default:
		return fmt.Errorf("unknown storage driver %q (use sqlite or memory)", cfg.Storage.Driver)
	}
	if err := st.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = st.Close() }()

	// Initialize experiment registry
	if cfg.Experiments.SourceURL == "" {
		logger.Warn("experiments.source_url is not set; no experiments will load until it is configured")
	}
	source := registry.NewHTTPSource(cfg.Experiments.SourceURL, cfg.Experiments.FetchTimeout)
	cache := registry.NewCache(source, cfg.Experiments.CacheTTL, logger)

	// Initialize targeting + assignment pipeline
	celEval, err := targeting.NewCELEvaluator(logger)
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	evaluator := targeting.NewEvaluator(celEval, logger)
	assigner := assign.NewAssigner(assign.SHA256Hasher{}, logger)
	coordinator := assign.NewCoordinator(cache, evaluator, assigner, logger)

	// Initialize analytics sinks
	fanout := exposure.NewFanout(logger, exposure.NewStoreSink(st))
	if cfg.Analytics.Log {
		fanout.Add(exposure.NewLogSink(logger))
	}
	if cfg.Analytics.Webhook.URL != "" {
		fanout.Add(exposure.NewWebhookSink(cfg.Analytics.Webhook.URL, cfg.Analytics.Webhook.Secret))
	}

	// Initialize management API server; its websocket hub streams events live.
	apiServer := api.NewServer(cfg.Server, cache, st, fanout, logger)
	fanout.Add(apiServer.Hub())

	// Initialize the assignment middleware
	bridge := web.NewBridge(cache, coordinator, st, cfg.Cookies.Secure, logger)
	bridge.SetTTL(cfg.Cookies.TTL)

	tracker := exposure.NewTracker(fanout, logger)

	// Build combined HTTP server: /api/* + /ws → management, everything
	// else → the demo page behind the assignment middleware.
	masterMux := http.NewServeMux()
	masterMux.Handle("/api/", apiServer.Handler())
	masterMux.Handle("/ws", apiServer.Handler())
	masterMux.Handle("/", bridge.Middleware(demoHandler(tracker)))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           masterMux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	fmt.Println()
	fmt.Printf("  Splitgate %s\n", version)
	fmt.Printf("  → HTTP:    http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("  → API:     http://localhost:%d/api\n", cfg.Server.Port)
	fmt.Printf("  → Events:  ws://localhost:%d/ws\n", cfg.Server.Port)
	fmt.Printf("  → Storage: %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  → Source:  %s\n", cfg.Experiments.SourceURL)
	fmt.Println()

	// Warm the cache so the first request doesn't pay the fetch.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), cfg.Experiments.FetchTimeout)
	experiments := cache.Fetch(warmCtx, true)
	warmCancel()
	logger.Info("experiment cache warmed", "experiments", len(experiments))

	// Hot-reload config file: a change forces a definition refetch so a
	// new source URL or TTL takes effect without restart.
	if configFile != "" {
		if err := cfgLoader.Watch(func(newCfg *config.Config) {
			logger.Info("config reloaded, forcing experiment refresh")
			ctx, cancel := context.WithTimeout(context.Background(), newCfg.Experiments.FetchTimeout)
			defer cancel()
			cache.Fetch(ctx, true)
		}, logger); err != nil {
			logger.Error("failed to watch config for hot-reload", "error", err)
		}
		defer func() { _ = cfgLoader.Close() }()
	}

	// Prune expired assignments and aged-out events hourly.
	pruneDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := st.PruneExpired(); err != nil {
					logger.Error("prune failed", "error", err)
				} else if n > 0 {
					logger.Info("pruned expired rows", "rows", n)
				}
			case <-pruneDone:
				return
			}
		}
	}()
	defer close(pruneDone)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = apiServer.Shutdown(shutCtx)
		_ = httpServer.Shutdown(shutCtx)
	}()

	logger.Info("starting HTTP server", "port", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

// demoHandler renders the visitor's assignments as JSON and reports the
// exposures. It exists so the whole pipeline is exercisable end to end
// with nothing but curl.
func demoHandler(tracker *exposure.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := web.UserID(r.Context())
		assignments := web.Assignments(r.Context())

		tracker.ResetContext(userID + "|" + r.URL.Path)
		variants := make(map[string]string, len(assignments))
		for expID, a := range assignments {
			variants[expID] = a.VariantID
			tracker.TrackOnce(expID, a.VariantID, exposure.Meta{UserID: userID, Path: r.URL.Path})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"user_id":  userID,
			"path":     r.URL.Path,
			"variants": variants,
		})
	})
}

// ─── Experiment Commands ───

func runExperimentList(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/experiments", p))
	if err != nil {
		return fmt.Errorf("failed to connect to splitgate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	experiments, ok := result["experiments"].([]interface{})
	if !ok || len(experiments) == 0 {
		fmt.Println("No experiments loaded.")
		return nil
	}

	fmt.Printf("%-25s %-10s %-10s %s\n", "ID", "STATUS", "VARIANTS", "NAME")
	fmt.Println(strings.Repeat("─", 70))
	for _, e := range experiments {
		m := e.(map[string]interface{})
		variants, _ := m["variants"].([]interface{})
		fmt.Printf("%-25v %-10v %-10d %v\n", m["id"], m["status"], len(variants), str(m["name"]))
	}
	return nil
}

func runExperimentValidate(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	valid, problems, err := registry.ValidatePayload(payload)
	if err != nil {
		fmt.Printf("✗ %s\n", err)
		return err
	}

	for _, p := range problems {
		fmt.Printf("  ✗ %s\n", p)
	}
	fmt.Printf("✓ %d valid experiment(s)", len(valid))
	if len(problems) > 0 {
		fmt.Printf(", %d rejected", len(problems))
	}
	fmt.Println()
	if len(problems) > 0 {
		return fmt.Errorf("%d experiment(s) failed validation", len(problems))
	}
	return nil
}

// ─── Plan ───

func runPlan(baseline, effect, power, alpha float64) error {
	n, err := stats.RequiredSampleSize(baseline, effect, power, alpha)
	if err != nil {
		return err
	}

	fmt.Println("Sample Size Plan")
	fmt.Println("────────────────")
	fmt.Printf("  Baseline rate:     %.1f%%\n", baseline*100)
	fmt.Printf("  Relative effect:   %+.1f%%\n", effect*100)
	fmt.Printf("  Target rate:       %.2f%%\n", baseline*(1+effect)*100)
	fmt.Printf("  Power:             %.0f%%\n", power*100)
	fmt.Printf("  Significance:      %.0f%%\n", alpha*100)
	fmt.Println()
	fmt.Printf("  Required visitors: %d per variant\n", n)
	return nil
}

// ─── Shared Helpers ───

func runAssignments(port int, userID string) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/assignments/%s", p, userID))
	if err != nil {
		return fmt.Errorf("failed to connect to splitgate: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	assignments, ok := result["assignments"].([]interface{})
	if !ok || len(assignments) == 0 {
		fmt.Printf("No assignments pinned for user %s.\n", userID)
		return nil
	}

	fmt.Printf("%-25s %-15s %s\n", "EXPERIMENT", "VARIANT", "ASSIGNED")
	fmt.Println(strings.Repeat("─", 60))
	for _, a := range assignments {
		m := a.(map[string]interface{})
		fmt.Printf("%-25v %-15v %v\n", m["experiment_id"], m["variant_id"], m["assigned_at"])
	}
	return nil
}

func runStatus(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/stats", p))
	if err != nil {
		fmt.Printf("Splitgate is not running on port %d\n", p)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var stats map[string]interface{}
	if err := decodeJSON(resp, &stats); err != nil {
		return err
	}

	fmt.Println("Splitgate Status")
	fmt.Println("────────────────")
	for _, k := range []string{"experiments", "assignments", "exposures", "conversions"} {
		fmt.Printf("  %-14s %v\n", k+":", stats[k])
	}
	return nil
}

func findConfigFile() string {
	candidates := []string{
		"splitgate.yaml",
		"splitgate.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "splitgate", "config.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func resolvePort(port int) int {
	if port == 0 {
		return 7340
	}
	return port
}

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
