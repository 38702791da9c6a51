package aria2

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/termidl/internal/cleanup"
	"github.com/italolelis/termidl/internal/downloader"
	"github.com/italolelis/termidl/internal/logctx"
	"github.com/italolelis/termidl/internal/task"
)

const (
	// Name identifies this backend in logs and errors.
	Name = "aria2"

	// DefaultExecutable is looked up in PATH when no override is configured.
	DefaultExecutable = "aria2c"

	waitDelay     = 5 * time.Second
	maxLineLength = 1024 * 1024
)

// Downloader runs aria2c as a child process and turns its console summary into
// progress updates.
//
// Pause and Resume are not supported: a plain aria2c process can only be paused
// through its RPC interface, which is not enabled here.
type Downloader struct {
	executable string
	dir        string
	reporter   downloader.Reporter
	resolver   FilenameResolver

	mu        sync.Mutex
	proc      *os.Process
	cancelled bool
	logger    *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithExecutable overrides the aria2c binary.
func WithExecutable(path string) Option {
	return func(d *Downloader) {
		if path != "" {
			d.executable = path
		}
	}
}

// WithResolver overrides how output file names are resolved.
func WithResolver(r FilenameResolver) Option {
	return func(d *Downloader) {
		if r != nil {
			d.resolver = r
		}
	}
}

// New creates a Downloader that writes into dir.
func New(dir string, reporter downloader.Reporter, opts ...Option) *Downloader {
	d := &Downloader{
		executable: DefaultExecutable,
		dir:        dir,
		reporter:   reporter,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.resolver == nil {
		d.resolver = NewProbe(nil)
	}

	return d
}

// Args builds the aria2c argument list for one download. Auto renaming is off so
// aria2c never writes under a name other than filename.
func Args(dir, filename, url string) []string {
	return []string{
		"--dir", dir,
		"--seed-time=0",
		"--summary-interval=1",
		"--auto-file-renaming=false",
		"--out", filename,
		url,
	}
}

// Start downloads url. When filename is empty it is resolved with the FilenameResolver.
func (d *Downloader) Start(ctx context.Context, url, filename string) {
	logger := logctx.LoggerFromContext(ctx).With("backend", Name, "url", url)

	d.mu.Lock()
	d.logger = logger
	d.mu.Unlock()

	d.reporter.Report(task.Update{Status: task.StatusDownloading, Message: downloader.MessageStarting})

	if filename == "" {
		filename = d.resolver.Resolve(ctx, url)
	}

	d.reporter.Report(task.Update{Status: task.StatusDownloading, Name: filename})

	cmd := exec.CommandContext(ctx, d.executable, Args(d.dir, filename, url)...)
	cmd.Cancel = func() error {
		return terminate(cmd.Process)
	}
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.fail(logger, &downloader.LaunchError{Backend: Name, Err: err})

		return
	}

	partial, err := cleanup.Track(d.dir, filename, cleanup.ControlFileSuffix)
	if err != nil {
		logger.Warn("partial files will not be cleaned up on cancel", "file", filename, "err", err)
	} else if partial.Existed() {
		logger.Info("output file already exists and will be kept on cancel", "file", filename)
	}

	d.mu.Lock()
	if d.cancelled {
		d.mu.Unlock()
		logger.Info("download cancelled before launch")
		d.finishCancelled(ctx, nil)

		return
	}

	if err := cmd.Start(); err != nil {
		d.mu.Unlock()
		d.fail(logger, &downloader.LaunchError{Backend: Name, Err: err})

		return
	}

	d.proc = cmd.Process
	d.mu.Unlock()

	logger.Info("aria2c started", "pid", cmd.Process.Pid, "file", filename)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	scanner.Split(scanLines)

	for scanner.Scan() {
		p, ok := ParseProgressLine(scanner.Text())
		if !ok {
			continue
		}

		d.reporter.Report(task.Update{
			Status:  task.StatusDownloading,
			Percent: p.Percent,
			Message: downloader.ProgressMessage(p.Speed, p.ETA),
		})
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("failed to read aria2c output", "err", err)
	}

	waitErr := cmd.Wait()

	if d.isCancelled() || ctx.Err() != nil {
		logger.Info("aria2c stopped after cancel", "wait_err", waitErr)
		d.finishCancelled(ctx, partial)

		return
	}

	if waitErr != nil {
		exitErr := &downloader.ExitError{
			Backend:     Name,
			Diagnostics: strings.TrimSpace(stderr.String()),
			Err:         waitErr,
		}

		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			exitErr.ExitCode = ee.ExitCode()
		}

		d.fail(logger, exitErr)

		return
	}

	logger.Info("aria2c finished", "file", filename)

	d.reporter.Report(task.Update{Status: task.StatusCompleted, Percent: 100, Message: downloader.MessageCompleted})
}

// Cancel terminates the child process if one is running. It does not wait for it.
func (d *Downloader) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancelled {
		return
	}

	d.cancelled = true

	if d.proc == nil {
		return
	}

	if err := terminate(d.proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		d.logger.Warn("failed to terminate aria2c", "pid", d.proc.Pid, "err", err)
	}
}

// Pause is not supported by the aria2c console backend.
func (d *Downloader) Pause() error {
	return downloader.ErrPauseUnsupported
}

// Resume is not supported by the aria2c console backend.
func (d *Downloader) Resume() error {
	return downloader.ErrPauseUnsupported
}

func (d *Downloader) isCancelled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cancelled
}

// finishCancelled removes what this run wrote, if anything, and reports the cancel.
func (d *Downloader) finishCancelled(ctx context.Context, partial *cleanup.Partial) {
	if partial != nil {
		if err := partial.Remove(ctx); err != nil {
			logctx.LoggerFromContext(ctx).Warn("failed to clean up cancelled download", "err", err)
		}
	}

	d.reporter.Report(task.Update{Status: task.StatusCancelled, Percent: 0, Message: downloader.MessageCancelled})
}

func (d *Downloader) fail(logger *slog.Logger, err error) {
	logger.Error("aria2c download failed", "err", err)

	d.reporter.Report(task.Update{Status: task.StatusError, Percent: 0, Message: downloader.ErrorMessage(err)})
}
