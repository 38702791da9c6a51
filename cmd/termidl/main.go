package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/google/uuid"
	"github.com/italolelis/termidl/internal/config"
	"github.com/italolelis/termidl/internal/downloader"
	"github.com/italolelis/termidl/internal/downloader/aria2"
	"github.com/italolelis/termidl/internal/downloader/ytdlp"
	"github.com/italolelis/termidl/internal/http/rest"
	"github.com/italolelis/termidl/internal/logctx"
	"github.com/italolelis/termidl/internal/notifier"
	"github.com/italolelis/termidl/internal/storage"
	"github.com/italolelis/termidl/internal/storage/sqlite"
	"github.com/italolelis/termidl/internal/supervisor"
	"github.com/italolelis/termidl/internal/task"
	"github.com/italolelis/termidl/internal/telemetry"
	"github.com/italolelis/termidl/internal/tui"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName = "termidl"

	eventBuffer = 256

	// Extra time given to backends after the cancel timeout when the program exits.
	shutdownGrace = 5 * time.Second
)

var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "termidl crashed: %v\n\n%s\n", r, debug.Stack())
			os.Exit(2)
		}
	}()

	var args Args
	arg.MustParse(&args)

	if _, err := args.backend(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	configPath := args.Config
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	cfg, err := config.Load(config.ExpandHome(configPath))

	var fileErr *config.FileError

	switch {
	case errors.As(err, &fileErr):
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", fileErr)
	case err != nil:
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logOut, closeLog := openLog(cfg.LogFile)
	defer closeLog()

	logger := logctx.New(logOut, cfg.SlogLevel())
	slog.SetDefault(logger)

	if fileErr != nil {
		logger.Warn("failed to load config file, using defaults", "path", fileErr.Path, "err", fileErr.Err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("termidl starting...", "version", version, "log_level", cfg.LogLevel, "config", cfg.Path())

	if err := run(logctx.WithLogger(ctx, logger), cfg, args); err != nil {
		logger.Error("fatal error", "err", err)
		fmt.Fprintf(os.Stderr, "termidl: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args Args) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Supervisor
	sup := supervisor.New(
		newFactory(cfg),
		supervisor.WithCancelTimeout(cfg.CancelTimeout.Std()),
		supervisor.WithTelemetry(tel),
	)

	// =========================================================================
	// Start Subscribers

	// Subscribers outlive the dashboard so they see the cancellations issued on exit.
	var subscribers errgroup.Group

	var unsubscribes []func()

	subscribe := func(fn func(<-chan task.Event)) {
		events, unsubscribe := sup.Subscribe(eventBuffer)
		unsubscribes = append(unsubscribes, unsubscribe)

		subscribers.Go(func() error {
			fn(events)

			return nil
		})
	}

	subscribe(func(events <-chan task.Event) {
		logEvents(ctx, events)
	})

	var history storage.HistoryRepository

	if cfg.HistoryDB != "" {
		database, err := sqlite.InitDB(cfg.HistoryDB)
		if err != nil {
			logger.Error("history disabled", "path", cfg.HistoryDB, "err", err)
		} else {
			defer database.Close()

			history = sqlite.NewInstrumentedHistoryRepository(database, tel)
			sessionID := uuid.New().String()

			logger.Info("recording history", "path", cfg.HistoryDB, "session_id", sessionID)

			subscribe(func(events <-chan task.Event) {
				storage.RecordHistory(context.WithoutCancel(ctx), sessionID, events, history)
			})
		}
	}

	if cfg.DiscordWebhookURL != "" {
		notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

		subscribe(func(events <-chan task.Event) {
			notifier.NotifyFinished(context.WithoutCancel(ctx), events, notif, tel)
		})
	}

	defer func() {
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}

		_ = subscribers.Wait()
	}()

	// =========================================================================
	// Start Downloads From The Command Line
	if err := addInitial(ctx, sup, cfg, args); err != nil {
		return err
	}

	// =========================================================================
	// Start API Service and Dashboard
	appCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(appCtx)

	if cfg.APIAddress != "" {
		server := setupServer(gctx, sup, history, tel, cfg)

		g.Go(func() error {
			logger.Info("Initializing API support", "host", cfg.APIAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}

			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout.Std())
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		})
	}

	g.Go(func() error {
		// Quitting the dashboard ends the program.
		defer cancel()

		return tui.Run(gctx, tui.New(gctx, sup, tui.Options{
			RefreshInterval: cfg.RefreshInterval.Std(),
			DownloadPath:    cfg.DownloadPath,
			Theme:           cfg.Theme,
			MaxConcurrent:   cfg.MaxConcurrentDownloads,
			RememberPath: func(path string) error {
				return cfg.Set("download_path", path)
			},
		}))
	})

	runErr := g.Wait()

	// =========================================================================
	// Shutdown
	logger.Info("start shutdown")

	sup.Shutdown()

	waitCtx, waitCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout(cfg))
	defer waitCancel()

	if err := sup.Wait(waitCtx); err != nil {
		logger.Warn("downloads did not stop in time", "err", err)
	}

	return runErr
}

// addInitial starts the downloads given as positional arguments.
func addInitial(ctx context.Context, sup *supervisor.Supervisor, cfg *config.Config, args Args) error {
	if len(args.URLs) == 0 {
		return nil
	}

	backend, err := args.backend()
	if err != nil {
		return err
	}

	dest := cfg.DownloadPath
	if args.Dest != "" {
		dest = config.ExpandHome(args.Dest)
	}

	for _, url := range args.URLs {
		if _, err := sup.AddTask(ctx, url, dest, backend); err != nil {
			return fmt.Errorf("failed to add %s: %w", url, err)
		}
	}

	return nil
}

// newFactory builds one downloader per task for the requested backend.
func newFactory(cfg *config.Config) downloader.Factory {
	aria2Path, ytdlpPath := cfg.Aria2Path, cfg.YtdlpPath

	return downloader.FactoryFunc(func(backend task.Backend, dest string, r downloader.Reporter) (downloader.Downloader, error) {
		switch backend {
		case task.BackendAria2:
			return aria2.New(dest, r, aria2.WithExecutable(aria2Path)), nil
		case task.BackendYtdlp:
			return ytdlp.New(dest, r, ytdlp.WithExecutable(ytdlpPath)), nil
		}

		return nil, fmt.Errorf("invalid backend: %s", backend)
	})
}

// setupServer prepares the handlers to create the status api server.
func setupServer(
	ctx context.Context,
	sup *supervisor.Supervisor,
	history storage.HistoryReadRepository,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	return &http.Server{
		Addr:         cfg.APIAddress,
		ReadTimeout:  cfg.Web.ReadTimeout.Std(),
		WriteTimeout: cfg.Web.WriteTimeout.Std(),
		IdleTimeout:  cfg.Web.IdleTimeout.Std(),
		Handler:      rest.NewRouter(sup, cfg.DownloadPath, history, tel),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func logEvents(ctx context.Context, events <-chan task.Event) {
	logger := logctx.LoggerFromContext(ctx).With("component", "events")

	for ev := range events {
		switch {
		case ev.Kind == task.EventAdded:
			logger.Info("task added", "task_id", ev.Task.ID, "backend", ev.Task.Backend, "url", ev.Task.URL)
		case ev.Kind == task.EventStatus && ev.Task.Status.IsTerminal():
			logger.Info("task finished",
				"task_id", ev.Task.ID,
				"status", ev.Task.Status,
				"name", ev.Task.DisplayName,
				"message", ev.Task.Message,
			)
		case ev.Kind == task.EventStatus:
			logger.Debug("task status changed", "task_id", ev.Task.ID, "status", ev.Task.Status)
		}
	}
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	return cfg.CancelTimeout.Std() + shutdownGrace
}

// openLog opens the log file for appending. The dashboard owns the terminal, so
// when the file cannot be used logs are dropped.
func openLog(path string) (io.Writer, func()) {
	if path == "" {
		return io.Discard, func() {}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create log directory: %v\n", err)

		return io.Discard, func() {}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open log file: %v\n", err)

		return io.Discard, func() {}
	}

	var closed bool

	return f, func() {
		if !closed {
			closed = true
			f.Close()
		}
	}
}
