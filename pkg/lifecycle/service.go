package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/firstech/identity-core/pkg/errors"
)

const tracerName = "github.com/firstech/identity-core/pkg/lifecycle"

// StateChangeHandler observes transitions. Handlers run synchronously under
// the service's state lock and must not call lifecycle methods on the same
// service. A panicking handler is recovered and logged.
type StateChangeHandler func(old, new State)

// Hook runs during Start or Stop. A failing hook moves the service to
// [StateFailed].
type Hook func(ctx context.Context) error

// Checker is a dependency that can report its health. The postgres, redis
// and minio clients satisfy it.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a function to [Checker].
type CheckerFunc func(ctx context.Context) error

// Health calls f.
func (f CheckerFunc) Health(ctx context.Context) error { return f(ctx) }

type dependency struct {
	name    string
	checker Checker
}

// Info is a point-in-time snapshot of a service.
type Info struct {
	Name         string        `json:"name"`
	Version      string        `json:"version"`
	State        State         `json:"state"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	Uptime       time.Duration `json:"uptime_ns,omitempty"`
	Dependencies []string      `json:"dependencies"`
}

// Service tracks the lifecycle of a process and the dependencies it holds.
// It is safe for concurrent use.
type Service struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer trace.Tracer
	logger *slog.Logger

	deps          []dependency
	onStart       []Hook
	onStop        []Hook
	stateHandlers []StateChangeHandler
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Version returns the service version.
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of s. Uptime is set only while running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		Name:    s.name,
		Version: s.version,
		State:   s.state,
	}
	for _, d := range s.deps {
		info.Dependencies = append(info.Dependencies, d.name)
	}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil when s is running and every dependency is healthy.
// Otherwise it returns UNAVAIL_001 for a service that is not running, or
// UNAVAIL_002 with one detail per failing dependency.
func (s *Service) Health(ctx context.Context) error {
	if state := s.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: service is not running, current state is %q", state)
	}

	report := s.Check(ctx)
	var failed *sserr.Error
	for _, d := range s.deps {
		if msg := report[d.name]; msg != "ok" {
			if failed == nil {
				failed = sserr.New(sserr.CodeUnavailableDependency, "lifecycle: dependencies unhealthy")
			}
			failed = failed.WithDetail(d.name, msg)
		}
	}
	if failed != nil {
		return failed
	}
	return nil
}

// Check probes every dependency concurrently and returns "ok" or the error
// message per dependency name.
func (s *Service) Check(ctx context.Context) map[string]string {
	report := make(map[string]string, len(s.deps))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, d := range s.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "ok"
			if err := d.checker.Health(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			report[d.name] = status
			mu.Unlock()
		}()
	}
	wg.Wait()
	return report
}

// SetState moves s to new. It returns CONF_001 for a transition the state
// machine does not allow.
func (s *Service) SetState(new State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, new) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}
	s.state = new

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service", s.name,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}
	return nil
}

// Start runs the start hooks in order, then checks every dependency once.
// Any failure moves s to [StateFailed].
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return fail(span, sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution"))
	}
	if err := s.SetState(StateStarting); err != nil {
		return fail(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service", s.name,
		"version", s.version,
	)

	for _, hook := range s.onStart {
		if err := hook(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"service", s.name,
				"error", err,
			)
			_ = s.SetState(StateFailed)
			return fail(span, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start hook failed"))
		}
	}
	for _, d := range s.deps {
		if err := d.checker.Health(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: dependency unhealthy at start",
				"service", s.name,
				"dependency", d.name,
				"error", err,
			)
			_ = s.SetState(StateFailed)
			return fail(span, sserr.Wrapf(err, sserr.CodeUnavailableDependency,
				"lifecycle: dependency %q unhealthy", d.name))
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return fail(span, err)
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop runs every stop hook in reverse registration order, even when one
// fails. Stopping a service in a terminal state is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer span.End()

	if s.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := s.SetState(StateStopping); err != nil {
		return fail(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	var errs []error
	for i := len(s.onStop) - 1; i >= 0; i-- {
		if err := s.onStop[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				"service", s.name,
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		_ = s.SetState(StateFailed)
		return fail(span, sserr.Wrap(errors.Join(errs...), sserr.CodeInternal, "lifecycle: stop hook failed"))
	}

	if err := s.SetState(StateStopped); err != nil {
		return fail(span, err)
	}
	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.version", s.version),
		),
	)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Builder constructs a [Service].
//
//	svc, err := lifecycle.NewBuilder("identity-gateway", "1.0.0").
//	    WithDependency("postgres", pg).
//	    WithOnStart(store.Migrate).
//	    WithOnStop(func(context.Context) error { pg.Close(); return nil }).
//	    Build()
type Builder struct {
	name          string
	version       string
	logger        *slog.Logger
	deps          []dependency
	onStart       []Hook
	onStop        []Hook
	stateHandlers []StateChangeHandler
}

// NewBuilder starts building a service.
func NewBuilder(name, version string) *Builder {
	return &Builder{name: name, version: version}
}

// WithLogger sets the logger. The default is slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithDependency registers a named dependency checked at start and by
// [Service.Health].
func (b *Builder) WithDependency(name string, c Checker) *Builder {
	b.deps = append(b.deps, dependency{name: name, checker: c})
	return b
}

// WithOnStart appends a start hook.
func (b *Builder) WithOnStart(hook Hook) *Builder {
	b.onStart = append(b.onStart, hook)
	return b
}

// WithOnStop appends a stop hook. Stop hooks run in reverse order.
func (b *Builder) WithOnStop(hook Hook) *Builder {
	b.onStop = append(b.onStop, hook)
	return b
}

// OnStateChange registers a transition observer.
func (b *Builder) OnStateChange(handler StateChangeHandler) *Builder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the builder. Name and version are required, dependency
// names must be unique and hooks and checkers non-nil.
func (b *Builder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "lifecycle: service name is required")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "lifecycle: service version is required")
	}
	seen := make(map[string]bool, len(b.deps))
	for _, d := range b.deps {
		if d.name == "" || d.checker == nil {
			return nil, sserr.New(sserr.CodeValidation, "lifecycle: dependency needs a name and a checker")
		}
		if seen[d.name] {
			return nil, sserr.Newf(sserr.CodeValidation, "lifecycle: duplicate dependency %q", d.name)
		}
		seen[d.name] = true
	}
	for _, hooks := range [][]Hook{b.onStart, b.onStop} {
		for _, h := range hooks {
			if h == nil {
				return nil, sserr.New(sserr.CodeValidation, "lifecycle: hook must not be nil")
			}
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		deps:          append([]dependency(nil), b.deps...),
		onStart:       append([]Hook(nil), b.onStart...),
		onStop:        append([]Hook(nil), b.onStop...),
		stateHandlers: append([]StateChangeHandler(nil), b.stateHandlers...),
	}, nil
}
