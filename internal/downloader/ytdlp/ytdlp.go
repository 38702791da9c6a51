package ytdlp

import (
	"context"
	"errors"
	"sync"

	"github.com/italolelis/termidl/internal/downloader"
	"github.com/italolelis/termidl/internal/logctx"
	"github.com/italolelis/termidl/internal/task"
)

// Name identifies this backend in logs and errors.
const Name = "ytdlp"

var errCancelled = errors.New("download cancelled")

// Downloader runs a yt-dlp library call for media URLs.
//
// Cancellation is cooperative: Cancel raises a token that the progress hook checks
// on every invocation and the run context is cancelled so the library call returns.
// Pause and Resume are not supported by the library.
type Downloader struct {
	reporter downloader.Reporter
	runner   Runner
	opts     Options

	mu        sync.Mutex
	cancelled bool
	stop      context.CancelFunc
	runErr    error
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithRunner replaces the library runner.
func WithRunner(r Runner) Option {
	return func(d *Downloader) {
		if r != nil {
			d.runner = r
		}
	}
}

// WithExecutable overrides the yt-dlp binary the library drives.
func WithExecutable(path string) Option {
	return func(d *Downloader) {
		if path != "" {
			d.opts.Executable = path
		}
	}
}

// New creates a Downloader writing into dir.
func New(dir string, reporter downloader.Reporter, opts ...Option) *Downloader {
	d := &Downloader{
		reporter: reporter,
		runner:   LibraryRunner{},
		opts:     DefaultOptions(dir),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Options returns the library options this Downloader runs with.
func (d *Downloader) Options() Options {
	return d.opts
}

// Start runs the library call and blocks until it returns.
func (d *Downloader) Start(ctx context.Context, url, _ string) {
	logger := logctx.LoggerFromContext(ctx).With("backend", Name, "url", url)

	d.reporter.Report(task.Update{Status: task.StatusDownloading, Message: downloader.MessageStarting})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	d.mu.Lock()
	if d.cancelled {
		d.mu.Unlock()
		logger.Info("download cancelled before launch")
		d.reporter.Report(task.Update{Status: task.StatusCancelled, Message: downloader.MessageCancelled})

		return
	}
	d.stop = stop
	d.mu.Unlock()

	err := d.runner.Run(runCtx, url, d.opts, func(p ProgressInfo) {
		if d.checkCancelled(stop) {
			return
		}

		u, ok := Translate(p)
		if !ok {
			if u.Name != "" {
				d.reporter.Report(u)
			}

			return
		}

		d.reporter.Report(u)
	})

	d.mu.Lock()
	cancelled := d.cancelled || errors.Is(d.runErr, errCancelled)
	d.mu.Unlock()

	switch {
	case cancelled:
		logger.Info("yt-dlp stopped after cancel", "err", err)
		d.reporter.Report(task.Update{Status: task.StatusCancelled, Message: downloader.MessageCancelled})
	case err != nil:
		logger.Error("yt-dlp download failed", "err", err)
		d.reporter.Report(task.Update{Status: task.StatusError, Message: downloader.ErrorMessage(err)})
	default:
		logger.Info("yt-dlp finished")
		d.reporter.Report(task.Update{Status: task.StatusCompleted, Percent: 100, Message: downloader.MessageCompleted})
	}
}

// checkCancelled aborts the run when the cancel token is raised.
func (d *Downloader) checkCancelled(stop context.CancelFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.cancelled {
		return false
	}

	d.runErr = errCancelled
	stop()

	return true
}

// Cancel raises the cancel token and returns immediately.
func (d *Downloader) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelled = true

	if d.stop != nil {
		d.stop()
	}
}

// Pause is not supported: the library call has no pause primitive.
func (d *Downloader) Pause() error {
	return downloader.ErrPauseUnsupported
}

// Resume is not supported: the library call has no pause primitive.
func (d *Downloader) Resume() error {
	return downloader.ErrPauseUnsupported
}
