package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ngoclaw/agentwatch/internal/config"
	"github.com/ngoclaw/agentwatch/internal/loop"
	"github.com/ngoclaw/agentwatch/internal/logging"
	"github.com/ngoclaw/agentwatch/internal/notify/telegram"
	"github.com/ngoclaw/agentwatch/internal/reviewer"
	"github.com/ngoclaw/agentwatch/internal/runstate"
	"github.com/ngoclaw/agentwatch/internal/runstate/export"
	"github.com/ngoclaw/agentwatch/internal/statusapi"
	"github.com/ngoclaw/agentwatch/internal/statuspush"
	"github.com/ngoclaw/agentwatch/internal/tui"
	"github.com/ngoclaw/agentwatch/internal/uievents"
	"github.com/ngoclaw/agentwatch/internal/worker/sse"
	"github.com/ngoclaw/agentwatch/pkg/safego"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	appName    = "agentwatch"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName + " [task]",
		Short: "agentwatch — supervises an autonomous coding worker for loops and stalls",
		Long:  "agentwatch drives a worker subprocess through a task, reviewing its progress at each checkpoint and aborting if it stalls or loops.",
		Args:  cobra.ArbitraryArgs,
		RunE:  runSupervise,
	}

	rootCmd.Flags().StringP("worker-url", "u", "", "base URL of the worker's HTTP + SSE API (overrides config)")
	rootCmd.Flags().IntP("max-iterations", "n", 0, "iteration cap (overrides config)")
	rootCmd.Flags().StringP("export", "e", "", "path to write an Arrow IPC export of the iteration record")
	rootCmd.Flags().Bool("tui", false, "render a live terminal dashboard instead of plain log output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "check environment prerequisites",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSupervise(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if workerURL, _ := cmd.Flags().GetString("worker-url"); workerURL != "" {
		cfg.Worker.BaseURL = workerURL
	}
	if maxIter, _ := cmd.Flags().GetInt("max-iterations"); maxIter > 0 {
		cfg.Loop.MaxIterations = maxIter
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer logger.Sync()

	task := ""
	if len(args) > 0 {
		for i, a := range args {
			if i > 0 {
				task += " "
			}
			task += a
		}
	}
	if task == "" {
		return fmt.Errorf("a task description is required")
	}

	transport := sse.New(sse.Config{
		BaseURL:        cfg.Worker.BaseURL,
		ConnectTimeout: cfg.Worker.ConnectTimeout,
		IdleTimeout:    cfg.Worker.IdleTimeout,
	}, nil, logger)

	fallback := runstate.ActionContinue
	if cfg.Reviewer.FallbackAction == "abort" {
		fallback = runstate.ActionAbort
	}
	rv := reviewer.New(reviewer.Config{
		BaseURL:        cfg.Reviewer.BaseURL,
		Model:          cfg.Reviewer.Model,
		MaxAttempts:    cfg.Reviewer.MaxAttempts,
		RetryBaseWait:  cfg.Reviewer.RetryBaseWait,
		RequestTimeout: cfg.Reviewer.RequestTimeout,
		FallbackAction: fallback,
	}, nil, logger)

	uiBus := uievents.New(256, logger)

	engine := loop.New(loop.Config{
		Task:                  task,
		MaxIterations:         cfg.Loop.MaxIterations,
		InactivityTimeout:     cfg.Loop.InactivityTimeout,
		SampleCapacity:        cfg.Loop.SampleCapacity,
		PreviousSummaryWindow: cfg.Loop.PreviousSummaryWindow,
	}, transport, rv, uiBus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	safego.Go(logger, "signal-watcher", func() {
		sig := <-quit
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	})

	tuiEnabled, _ := cmd.Flags().GetBool("tui")

	var statusServer *statusapi.Server
	var pushHub *statuspush.Hub
	if cfg.StatusAPI.Enabled && !tuiEnabled {
		pushHub = statuspush.NewHub(logger)
		safego.Go(logger, "statuspush-hub", func() { pushHub.Run(ctx) })
		viewerEvents := uiBus.Subscribe()
		safego.Go(logger, "statuspush-forward", func() { pushHub.Forward(viewerEvents) })

		statusServer = statusapi.New(statusapi.Config{Host: cfg.StatusAPI.Host, Port: cfg.StatusAPI.Port}, engine, engine.LoopState, time.Now(), logger, pushHub.ServeWS)
		statusServer.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			statusServer.Stop(shutdownCtx)
		}()
	} else if cfg.StatusAPI.Enabled {
		logger.Warn("status API disabled: --tui and status_api.enabled both claim the single uievents subscriber")
	}

	var tuiProgram *tea.Program
	if tuiEnabled {
		tuiProgram = tea.NewProgram(tui.New(task, uiBus.Subscribe()))
		safego.Go(logger, "tui-program", func() {
			if _, err := tuiProgram.Run(); err != nil {
				logger.Warn("tui: exited with error", zap.Error(err))
			}
			cancel()
		})
	}

	var notifier *telegram.Notifier
	if cfg.Telegram.Enabled {
		notifier, err = telegram.New(telegram.Config{BotToken: cfg.Telegram.BotToken, ChatIDs: cfg.Telegram.ChatIDs}, logger)
		if err != nil {
			logger.Warn("telegram notifier disabled: failed to authorize", zap.Error(err))
			notifier = nil
		}
	}

	watchFallbackAction(rv, logger)

	logger.Info("starting supervised run", zap.String("task", task))
	outcome := engine.Run(ctx)
	logger.Info("run finished", zap.String("outcome", outcome.String()))
	uiBus.Close()

	if tuiProgram != nil {
		// Give the dashboard a moment to render the terminal event before
		// tearing down; the user quits with q/ctrl+c on their own schedule
		// otherwise.
		time.AfterFunc(2*time.Second, func() { tuiProgram.Quit() })
	}

	if notifier != nil {
		notifier.NotifyOutcome(task, outcome)
	}

	if exportPath, _ := cmd.Flags().GetString("export"); exportPath != "" {
		f, err := os.Create(exportPath)
		if err != nil {
			logger.Warn("export: failed to create output file", zap.Error(err))
		} else {
			if err := export.WriteIterations(f, engine.RunState()); err != nil {
				logger.Warn("export: failed to write iterations", zap.Error(err))
			}
			f.Close()
		}
	}

	if !tuiEnabled {
		fmt.Println(engine.RunState().FormatActivityLog())
	}

	if outcome.Kind == loop.OutcomeFatalError {
		return fmt.Errorf("run ended fatally: %s", outcome.Reason)
	}
	return nil
}

// watchFallbackAction arms a fsnotify-driven watch on a project-local
// config.yaml, if any, and pushes reviewer.fallback_action changes into the
// already-running reviewer without restarting the supervised run. A missing
// local config file is not an error; the run simply keeps its starting
// fallback action.
func watchFallbackAction(rv *reviewer.Reviewer, logger *zap.Logger) {
	applyFallback := func(raw string) {
		switch raw {
		case "abort":
			rv.SetFallbackAction(runstate.ActionAbort)
		case "continue", "":
			rv.SetFallbackAction(runstate.ActionContinue)
		default:
			logger.Warn("config watcher: ignoring unrecognized reviewer.fallback_action", zap.String("value", raw))
		}
	}

	_, err := config.NewWatcher(logger, func(reloaded *config.Config) {
		logger.Info("config watcher: reviewer.fallback_action reloaded", zap.String("value", reloaded.Reviewer.FallbackAction))
		applyFallback(reloaded.Reviewer.FallbackAction)
	})
	if err != nil {
		logger.Debug("config watcher: not armed", zap.Error(err))
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("agentwatch doctor v%s\n\n", appVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config file", checkConfig},
		{"worker reachability", checkWorker},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("all checks passed")
	} else {
		fmt.Println("one or more checks failed")
	}
	return nil
}

func checkConfig() (string, bool) {
	path := os.Getenv("HOME") + "/.agentwatch/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "not found; defaults will be used", true
}

func checkWorker() (string, bool) {
	cfg, err := config.Load()
	if err != nil || cfg.Worker.BaseURL == "" {
		return "worker.base_url not configured", false
	}
	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(cfg.Worker.BaseURL + "/healthz")
	if err != nil {
		return fmt.Sprintf("unreachable: %v", err), false
	}
	defer resp.Body.Close()
	return cfg.Worker.BaseURL, resp.StatusCode < 500
}
