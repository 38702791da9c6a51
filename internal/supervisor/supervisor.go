package supervisor

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/termidl/internal/downloader"
	"github.com/italolelis/termidl/internal/logctx"
	"github.com/italolelis/termidl/internal/task"
	"github.com/italolelis/termidl/internal/telemetry"
)

const (
	// MessageCancelling is shown between a cancel request and the backend's confirmation.
	MessageCancelling = "Cancelling..."

	// MessageCancelUnconfirmed is set when the cancel timeout expires first.
	MessageCancelUnconfirmed = "Cancelled (backend did not confirm)"

	messageNoFinalStatus = "Error: backend stopped without reporting a final status"
)

// Spawner starts a backend run. The default runs it on a new goroutine.
type Spawner interface {
	Spawn(fn func())
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(fn func())

// Spawn calls f(fn).
func (f SpawnerFunc) Spawn(fn func()) {
	f(fn)
}

// GoSpawner runs every backend on its own goroutine.
var GoSpawner = SpawnerFunc(func(fn func()) { go fn() })

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithSpawner replaces the default goroutine spawner.
func WithSpawner(sp Spawner) Option {
	return func(s *Supervisor) {
		if sp != nil {
			s.spawner = sp
		}
	}
}

// WithCancelTimeout forces a task that is still cancelling after d into the
// cancelled state. Zero waits for the backend indefinitely.
func WithCancelTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.cancelTimeout = d
	}
}

// WithTelemetry records download metrics for every backend run.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Supervisor) {
		s.telemetry = t
	}
}

type entry struct {
	task        task.Task
	dl          downloader.Downloader
	logger      *slog.Logger
	cancelTimer *time.Timer
}

// Supervisor owns every download task of a session.
//
// It is the single writer of task state: backends report through the Reporter
// they were built with, and the supervisor applies those updates to its registry
// under a lock. Readers get copies.
type Supervisor struct {
	factory       downloader.Factory
	spawner       Spawner
	telemetry     *telemetry.Telemetry
	cancelTimeout time.Duration
	now           func() time.Time

	mu     sync.RWMutex
	nextID int64
	tasks  map[int64]*entry

	subsMu  sync.Mutex
	subs    map[int]*subscription
	nextSub int

	wg sync.WaitGroup
}

// New creates a Supervisor that builds backends with factory.
func New(factory downloader.Factory, opts ...Option) *Supervisor {
	s := &Supervisor{
		factory: factory,
		spawner: GoSpawner,
		now:     time.Now,
		tasks:   make(map[int64]*entry),
		subs:    make(map[int]*subscription),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CancelTimeout returns the configured cancel confirmation timeout.
func (s *Supervisor) CancelTimeout() time.Duration {
	return s.cancelTimeout
}

// AddTask registers a new download and starts its backend asynchronously.
// It returns as soon as the task is registered.
func (s *Supervisor) AddTask(ctx context.Context, url, destinationPath string, backend task.Backend) (int64, error) {
	url = strings.TrimSpace(url)
	destinationPath = strings.TrimSpace(destinationPath)

	switch {
	case url == "":
		return 0, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	case destinationPath == "":
		return 0, fmt.Errorf("%w: destination path is required", ErrInvalidRequest)
	case backend != task.BackendAria2 && backend != task.BackendYtdlp:
		return 0, fmt.Errorf("%w: unknown backend %q", ErrInvalidRequest, backend)
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	logger := logctx.LoggerFromContext(ctx).With("task_id", id, "backend", backend.String())

	reporter := downloader.ReporterFunc(func(u task.Update) {
		s.apply(id, u)
	})

	dl, factoryErr := s.factory.New(backend, destinationPath, reporter)

	now := s.now()
	e := &entry{
		task: task.Task{
			ID:              id,
			URL:             url,
			Backend:         backend,
			DestinationPath: destinationPath,
			DisplayName:     task.UnknownName,
			Status:          task.StatusStarting,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		dl:     dl,
		logger: logger,
	}

	if factoryErr != nil {
		e.task.Status = task.StatusError
		e.task.Message = downloader.ErrorMessage(&downloader.LaunchError{Backend: backend.String(), Err: factoryErr})
		e.task.FinishedAt = now
	}

	s.mu.Lock()
	s.tasks[id] = e
	added := e.task
	s.mu.Unlock()

	s.publish(task.Event{Kind: task.EventAdded, Task: added})

	if factoryErr != nil {
		logger.Error("failed to create downloader", "err", factoryErr)
		s.telemetry.RecordDownload(backend.String(), task.StatusError.String(), 0)

		return id, nil
	}

	logger.Info("task added", "url", url, "destination", destinationPath)

	// The run outlives the caller's context (an HTTP request or a key press).
	runCtx := logctx.WithLogger(context.WithoutCancel(ctx), logger)

	s.wg.Add(1)
	s.spawner.Spawn(func() {
		defer s.wg.Done()

		s.run(runCtx, id, backend, url, dl)
	})

	return id, nil
}

func (s *Supervisor) run(ctx context.Context, id int64, backend task.Backend, url string, dl downloader.Downloader) {
	logger := logctx.LoggerFromContext(ctx)

	status := s.telemetry.InstrumentDownload(ctx, backend.String(), func(ctx context.Context) (status string) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("downloader panicked", "panic", r)
				s.telemetry.RecordSystemError("supervisor", "panic")
				s.apply(id, task.Update{Status: task.StatusError, Message: fmt.Sprintf("Error: %v", r)})
			}

			status = s.finalize(id).String()
		}()

		dl.Start(ctx, url, "")

		return ""
	})

	logger.Info("download finished", "status", status)
}

// finalize makes sure a task whose backend returned is terminal and reports its status.
func (s *Supervisor) finalize(id int64) task.Status {
	s.mu.RLock()
	e, ok := s.tasks[id]
	status := task.StatusError
	if ok {
		status = e.task.Status
	}
	s.mu.RUnlock()

	if !ok || status.IsTerminal() {
		return status
	}

	if status == task.StatusCancelling {
		s.apply(id, task.Update{Status: task.StatusCancelled, Message: downloader.MessageCancelled})

		return task.StatusCancelled
	}

	s.apply(id, task.Update{Status: task.StatusError, Message: messageNoFinalStatus})

	return task.StatusError
}

// apply is the only path through which backend updates reach the registry.
func (s *Supervisor) apply(id int64, u task.Update) {
	s.mu.Lock()

	e, ok := s.tasks[id]
	if !ok || e.task.Status.IsTerminal() {
		s.mu.Unlock()

		return
	}

	t := &e.task
	prev := t.Status

	if prev == task.StatusCancelling && !u.Status.IsTerminal() {
		s.mu.Unlock()

		return
	}

	if u.Name != "" {
		t.DisplayName = u.Name
	}

	kind := task.EventProgress

	if u.Status != "" {
		if u.Status != prev {
			kind = task.EventStatus
			t.Status = u.Status
		}

		switch u.Status {
		case task.StatusDownloading:
			if p := clamp(u.Percent); p > t.Progress {
				t.Progress = p
			}
		case task.StatusCancelled:
			t.Progress = 0
		default:
			t.Progress = clamp(u.Percent)
		}

		if u.Message != "" {
			t.Message = u.Message
		}
	}

	now := s.now()
	t.UpdatedAt = now

	if t.Status.IsTerminal() {
		t.FinishedAt = now

		if e.cancelTimer != nil {
			e.cancelTimer.Stop()
			e.cancelTimer = nil
		}

		if prev == task.StatusCancelling {
			s.telemetry.RecordCancel(t.Backend.String(), true)
		}

		e.logger.Info("task finished", "status", t.Status, "message", t.Message)
	}

	snapshot := *t
	s.mu.Unlock()

	s.publish(task.Event{Kind: kind, Task: snapshot})
}

// CancelTask asks the task's backend to stop. It never blocks on the backend:
// the task shows as cancelling until the backend confirms.
func (s *Supervisor) CancelTask(id int64) error {
	s.mu.Lock()

	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()

		return &UnknownTaskError{ID: id}
	}

	if e.task.Status.IsTerminal() || e.task.Status == task.StatusCancelling {
		s.mu.Unlock()

		return nil
	}

	e.task.Status = task.StatusCancelling
	e.task.Message = MessageCancelling
	e.task.UpdatedAt = s.now()

	if s.cancelTimeout > 0 {
		e.cancelTimer = time.AfterFunc(s.cancelTimeout, func() {
			s.expireCancel(id)
		})
	}

	dl := e.dl
	snapshot := e.task
	e.logger.Info("cancel requested")
	s.mu.Unlock()

	s.publish(task.Event{Kind: task.EventStatus, Task: snapshot})

	dl.Cancel()

	return nil
}

func (s *Supervisor) expireCancel(id int64) {
	s.mu.Lock()

	e, ok := s.tasks[id]
	if !ok || e.task.Status != task.StatusCancelling {
		s.mu.Unlock()

		return
	}

	now := s.now()
	e.task.Status = task.StatusCancelled
	e.task.Progress = 0
	e.task.Message = MessageCancelUnconfirmed
	e.task.UpdatedAt = now
	e.task.FinishedAt = now
	e.cancelTimer = nil

	snapshot := e.task
	e.logger.Warn("backend did not confirm cancel in time", "timeout", s.cancelTimeout)
	s.mu.Unlock()

	s.telemetry.RecordCancel(snapshot.Backend.String(), false)
	s.publish(task.Event{Kind: task.EventStatus, Task: snapshot})
}

// PauseTask forwards a pause request to the task's backend.
func (s *Supervisor) PauseTask(id int64) error {
	dl, err := s.downloader(id)
	if err != nil {
		return err
	}

	return dl.Pause()
}

// ResumeTask forwards a resume request to the task's backend.
func (s *Supervisor) ResumeTask(id int64) error {
	dl, err := s.downloader(id)
	if err != nil {
		return err
	}

	return dl.Resume()
}

func (s *Supervisor) downloader(id int64) (downloader.Downloader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tasks[id]
	if !ok {
		return nil, &UnknownTaskError{ID: id}
	}

	if e.dl == nil {
		return nil, fmt.Errorf("task %d has no running backend", id)
	}

	return e.dl, nil
}

// Snapshot returns a copy of every task ordered by id.
func (s *Supervisor) Snapshot() []task.Task {
	s.mu.RLock()

	out := make([]task.Task, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.task)
	}

	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b task.Task) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return out
}

// Task returns a copy of a single task.
func (s *Supervisor) Task(id int64) (task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false
	}

	return e.task, true
}

// Subscribe returns a channel receiving every applied change and a function that
// ends the subscription. Added and status events are never dropped. Progress
// events are dropped while the subscriber is more than buffer events behind.
// After unsubscribing, the channel is closed once the queued events have been
// received.
func (s *Supervisor) Subscribe(buffer int) (<-chan task.Event, func()) {
	if buffer < 1 {
		buffer = 1
	}

	sub := newSubscription(buffer)

	s.subsMu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = sub
	s.subsMu.Unlock()

	go sub.run()

	var once sync.Once

	return sub.out, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, key)
			s.subsMu.Unlock()

			sub.close()
		})
	}
}

func (s *Supervisor) publish(ev task.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, sub := range s.subs {
		sub.push(ev)
	}
}

// Shutdown cancels every task that has not finished yet.
func (s *Supervisor) Shutdown() {
	for _, t := range s.Snapshot() {
		if t.Status.IsTerminal() {
			continue
		}

		if err := s.CancelTask(t.ID); err != nil {
			slog.Default().Warn("failed to cancel task on shutdown", "task_id", t.ID, "err", err)
		}
	}
}

// Wait blocks until every backend run has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for downloads: %w", ctx.Err())
	}
}

func clamp(p float64) float64 {
	switch {
	case p < 0 || math.IsNaN(p):
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
