package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/taskmind/taskmind/internal/api"
	"github.com/taskmind/taskmind/internal/capture"
	"github.com/taskmind/taskmind/internal/config"
	"github.com/taskmind/taskmind/internal/conversation"
	"github.com/taskmind/taskmind/internal/events"
	"github.com/taskmind/taskmind/internal/inference"
	"github.com/taskmind/taskmind/internal/matcher"
	"github.com/taskmind/taskmind/internal/scheduler"
	"github.com/taskmind/taskmind/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the taskmind daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running taskmind daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show taskmind system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "taskmind.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newProvider(cfg config.Config) (inference.Provider, error) {
	switch cfg.Inference.Provider {
	case "ollama":
		return inference.NewOllamaProvider(cfg.Inference.OllamaBaseURL), nil
	case "openai":
		return inference.NewOpenAIProvider(cfg.Inference.OpenAIAPIKey, cfg.Inference.OpenAIBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Inference.Provider)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "taskmind version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)

	token, err := config.APIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse a second instance. The health endpoint is the authority, the
	// PID file only improves the message.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing storage", "error", err)
		}
	}()

	bus := events.NewBus(log)

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	gateway := inference.NewGateway(provider, cfg.Inference.Model, log)

	onPull := func(p inference.PullProgress) {
		bus.Publish(events.TypeModelDownloadProgress, p)
	}
	bus.Publish(events.TypeModelDownloadStarted, nil)
	if err := gateway.EnsureReady(ctx, onPull); err != nil {
		return fmt.Errorf("preparing model: %w", err)
	}
	bus.Publish(events.TypeModelDownloadFinished, nil)
	log.Info("model ready", "provider", cfg.Inference.Provider, "model", cfg.Inference.Model)

	source, err := capture.NewCommandSource(cfg.CaptureArgv(), time.Duration(cfg.Capture.TimeoutSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("configuring capture helper: %w", err)
	}

	match := matcher.New(gateway, store, log, matcher.Thresholds{
		Accept:   cfg.Matcher.AcceptThreshold,
		Complete: cfg.Matcher.CompleteThreshold,
	})
	match.OnTaskCompleted = func(task storage.Task) {
		bus.Publish(events.TypeTaskCompleted, events.TaskCompletedPayload{
			TaskID: task.ID,
			Name:   task.Name,
		})
	}

	sched := scheduler.New(source, store, match, log, time.Duration(cfg.Capture.CycleTimeoutSeconds)*time.Second)
	sched.OnCycle = func(st scheduler.Stats) {
		bus.Publish(events.TypeSchedulerCycle, st)
	}
	if err := sched.Start(time.Duration(cfg.Capture.IntervalSeconds) * time.Second); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	conv := conversation.NewManager(store, gateway, log)

	handler := api.NewHandler(api.Deps{
		Store:     store,
		Conv:      conv,
		Gateway:   gateway,
		Scheduler: sched,
		Bus:       bus,
		Token:     token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Scheduler: sched})
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	sseSrv := server.NewSSEServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("MCP server listening", "addr", mcpAddr)
		if err := sseSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sseSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("mcp shutdown", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("taskmind is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop taskmind (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to taskmind (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", cfg.Inference.Provider)
	printStatus("Model", "%s", cfg.Inference.Model)

	if running {
		if c, err := newAPIClient(); err == nil {
			var model struct {
				Status inference.Status `json:"status"`
			}
			if resp, err := c.get("/model/status"); err == nil && decodeJSON(resp, &model) == nil {
				switch {
				case model.Status.Initialized:
					printStatus("Model state", "ready")
				case model.Status.Loading:
					printStatus("Model state", "loading")
				default:
					printStatus("Model state", "not initialized")
				}
			}

			var stats scheduler.Stats
			if resp, err := c.get("/scheduler/status"); err == nil && decodeJSON(resp, &stats) == nil {
				if stats.Running {
					printStatus("Scheduler", "running every %s (%d cycles, %d failures)",
						stats.Interval, stats.Ticks, stats.Failures)
				} else {
					printStatus("Scheduler", "stopped")
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
