// Package dispatch turns a user message into one assistant reply against an
// unreliable, configurable completion backend.
//
// A dispatch appends the user turn, sends the recent transcript to the
// backend with jittered retries, adapts the HTTP method on 405, normalizes
// the reply and degrades to a local answer when every attempt fails. Exactly
// one assistant turn is appended per accepted message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/chatbot/internal/conversation"
	"github.com/flemzord/chatbot/internal/fallback"
	"github.com/flemzord/chatbot/internal/normalize"
)

const tracerName = "github.com/flemzord/chatbot/internal/dispatch"

// Status messages shown to the user.
const (
	StatusRateLimited      = "Rate limited. Retrying..."
	StatusMethodNotAllowed = "Method not allowed. Try changing API method."
	StatusOffline          = "Using offline mode"
	StatusConnected        = "Connected to AI service"
	StatusProbeFailed      = "Using offline mode - API connection failed"
	StatusProbeUnreachable = "Using offline mode - API unreachable"
)

// Apology is the reply when every attempt failed and local answers are
// disabled.
const Apology = "Sorry, I'm having trouble connecting to the AI service. Please try again later."

// Greeting is announced after the transcript is reset.
const Greeting = "I've cleared our conversation history. How else can I help you with your coding questions?"

// DefaultTranscriptTurns is the replay size used by presentation layers.
const DefaultTranscriptTurns = 10

// Outcome tells how a reply was produced.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"  // the backend answered
	OutcomeFallback Outcome = "fallback" // attempts exhausted, local answer
	OutcomeApology  Outcome = "apology"  // attempts exhausted, no local answer allowed
	OutcomeLocal    Outcome = "local"    // offline mode, no attempt made
)

// Result describes a completed dispatch.
type Result struct {
	ID        string
	Reply     string
	Outcome   Outcome
	Attempts  int
	Method    Method
	Matcher   string
	Elapsed   time.Duration
	LastError error
}

// Option configures an Engine.
type Option func(*Engine)

// WithPresenter sets the presentation layer.
func WithPresenter(p Presenter) Option {
	return func(e *Engine) { e.presenter = p }
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithHTTPClient overrides the HTTP client used for attempts and probes.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithNormalizer overrides the response normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(e *Engine) { e.normalizer = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// WithMaxFailures sets how many consecutive failures mark the backend offline.
func WithMaxFailures(n int) Option {
	return func(e *Engine) { e.health = newHealthTracker(n) }
}

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithJitter replaces the random backoff component. fn receives the upper
// bound and returns a duration in [0, bound).
func WithJitter(fn func(bound time.Duration) time.Duration) Option {
	return func(e *Engine) { e.jitter = fn }
}

// Engine runs dispatches one at a time against a shared transcript.
type Engine struct {
	store      *conversation.Store
	normalizer *normalize.Normalizer
	presenter  Presenter
	client     *http.Client
	logger     *slog.Logger
	metrics    Metrics
	tracer     trace.Tracer
	health     *healthTracker

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(bound time.Duration) time.Duration

	cfgMu sync.Mutex
	cfg   Config

	processing atomic.Bool
}

// New creates an engine over store. cfg is normalized and validated.
func New(store *conversation.Store, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("dispatch: nil conversation store")
	}
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:  store,
		cfg:    cfg,
		sleep:  sleepContext,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.presenter == nil {
		e.presenter = NopPresenter{}
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.normalizer == nil {
		e.normalizer = normalize.New()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.tracer == nil {
		e.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	if e.health == nil {
		e.health = newHealthTracker(DefaultMaxFailures)
	}
	e.health.onStateChange = func(from, to HealthState) {
		e.logger.Info("dispatch: backend health changed", "from", from.String(), "to", to.String())
	}

	store.SetMaxTurns(context.Background(), cfg.MaxHistory)
	return e, nil
}

// Configuration returns a copy of the live configuration.
func (e *Engine) Configuration() Config {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	return e.cfg.Normalized()
}

// ApplyConfiguration replaces the live configuration. The change applies
// from the next dispatch; a dispatch in flight keeps its snapshot.
func (e *Engine) ApplyConfiguration(cfg Config) error {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	e.store.SetMaxTurns(context.Background(), cfg.MaxHistory)
	e.metrics.HistorySize(e.store.Len())
	e.logger.Info("dispatch: configuration applied",
		"endpoint", cfg.Endpoint,
		"method", string(cfg.Method),
		"model", cfg.Model,
		"max_retries", cfg.MaxRetries,
		"allow_fallback", cfg.AllowFallback,
	)
	return nil
}

// Processing reports whether a dispatch is in flight.
func (e *Engine) Processing() bool {
	return e.processing.Load()
}

// Health returns the backend health snapshot.
func (e *Engine) Health() Health {
	return e.health.Snapshot()
}

// Transcript returns the n most recent turns, or all of them when n <= 0.
func (e *Engine) Transcript(n int) []conversation.Turn {
	if n <= 0 {
		return e.store.All()
	}
	return e.store.Recent(n)
}

// Dispatch sends message and returns the reply that was appended to the
// transcript. Only ErrEmptyMessage and ErrBusy are returned; both mean the
// message was dropped and the transcript is untouched.
//
// Once accepted, a dispatch runs to completion: cancelling ctx does not
// abort attempts or backoff. ctx still carries values such as the trace
// parent.
func (e *Engine) Dispatch(ctx context.Context, message string) (Result, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		e.metrics.DispatchDropped("empty")
		return Result{}, ErrEmptyMessage
	}
	if !e.processing.CompareAndSwap(false, true) {
		e.metrics.DispatchDropped("busy")
		e.logger.Debug("dispatch: dropped, already processing")
		return Result{}, ErrBusy
	}

	e.presenter.ProcessingStarted()

	var res Result
	func() {
		defer e.processing.Store(false)
		res = e.run(ctx, message)
	}()

	e.presenter.ProcessingEnded()
	e.presenter.AssistantTurn(res.Reply)
	return res, nil
}

// run executes one dispatch cycle. Caller holds the processing flag.
func (e *Engine) run(ctx context.Context, message string) Result {
	id := uuid.NewString()
	start := time.Now()
	cfg := e.Configuration()
	logger := e.logger.With("dispatch_id", id)

	ctx, span := e.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("dispatch.id", id),
		attribute.String("dispatch.model", cfg.Model),
		attribute.Int("dispatch.max_retries", cfg.MaxRetries),
	))
	defer span.End()

	// A caller that goes away must not cut the exchange short.
	ctx = context.WithoutCancel(ctx)

	history := e.store.Recent(cfg.HistoryWindow)
	user := conversation.UserTurn(message)
	if err := e.store.Append(ctx, user); err != nil {
		logger.Error("dispatch: append user turn", "error", err)
	}

	var res Result
	if cfg.Endpoint == "" && cfg.AllowFallback {
		res = Result{Reply: fallback.Respond(message), Outcome: OutcomeLocal, Method: cfg.Method}
	} else {
		res = e.deliver(ctx, logger, cfg, message, buildRequest(cfg, history, user))
	}
	res.ID = id
	res.Elapsed = time.Since(start)

	if err := e.store.Append(ctx, conversation.AssistantTurn(res.Reply)); err != nil {
		logger.Error("dispatch: append assistant turn", "error", err)
	}

	span.SetAttributes(
		attribute.String("dispatch.outcome", string(res.Outcome)),
		attribute.Int("dispatch.attempts", res.Attempts),
		attribute.String("dispatch.method", string(res.Method)),
	)
	if res.Outcome != OutcomeSuccess && res.LastError != nil {
		span.SetStatus(codes.Error, res.LastError.Error())
	}

	e.metrics.DispatchCompleted(res.Outcome, res.Attempts, res.Elapsed)
	e.metrics.HistorySize(e.store.Len())

	logger.Info("dispatch: completed",
		"outcome", string(res.Outcome),
		"attempts", res.Attempts,
		"method", string(res.Method),
		"elapsed", res.Elapsed,
	)
	return res
}

// deliver runs the retry loop and falls back once attempts are exhausted.
func (e *Engine) deliver(ctx context.Context, logger *slog.Logger, cfg Config, message string, req wireRequest) Result {
	method := cfg.Method
	switched := false
	attempts := 0
	var lastErr error

	for k := 0; k <= cfg.MaxRetries; k++ {
		if k > 0 {
			if err := e.sleep(ctx, cfg.RetryDelay+e.jitter(cfg.Jitter)); err != nil {
				lastErr = err
				break
			}
			e.presenter.Status(fmt.Sprintf("Retrying connection (%d/%d)...", k, cfg.MaxRetries), true)
		}

		attempts++
		text, matcher, err := e.attempt(ctx, cfg, method, req, attempts)
		e.metrics.AttemptCompleted(method, attemptLabel(err))
		if err == nil {
			e.health.RecordSuccess()
			if k > 0 {
				e.presenter.Status(StatusConnected, false)
			}
			return Result{Reply: text, Outcome: OutcomeSuccess, Attempts: attempts, Method: method, Matcher: matcher}
		}

		lastErr = err
		logger.Warn("dispatch: attempt failed", "attempt", attempts, "method", string(method), "error", err)

		e.health.RecordFailure(err)

		switch {
		case errors.Is(err, ErrRateLimit):
			e.presenter.Status(StatusRateLimited, true)
		case errors.Is(err, ErrMethodNotAllowed):
			e.presenter.Status(StatusMethodNotAllowed, true)
			if !switched {
				switched = true
				next := method.Opposite()
				e.switchMethod(logger, method, next)
				method = next
			}
		}
	}

	e.presenter.Status(StatusOffline, true)

	res := Result{Attempts: attempts, Method: method, LastError: lastErr}
	if cfg.AllowFallback {
		res.Reply = fallback.Respond(message)
		res.Outcome = OutcomeFallback
	} else {
		res.Reply = Apology
		res.Outcome = OutcomeApology
	}
	return res
}

// switchMethod records a 405-driven method change in the live configuration
// unless the method was changed by someone else meanwhile.
func (e *Engine) switchMethod(logger *slog.Logger, from, to Method) {
	e.metrics.MethodSwitched()

	e.cfgMu.Lock()
	applied := e.cfg.Method == from
	if applied {
		e.cfg.Method = to
	}
	e.cfgMu.Unlock()

	logger.Info("dispatch: switching method", "from", string(from), "to", string(to), "persisted", applied)
}

// attempt performs one HTTP exchange and returns the normalized reply.
func (e *Engine) attempt(ctx context.Context, cfg Config, method Method, body wireRequest, n int) (string, string, error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.attempt", trace.WithAttributes(
		attribute.Int("attempt.number", n),
		attribute.String("http.request.method", string(method)),
	))
	defer span.End()

	text, matcher, err := e.exchange(ctx, cfg, method, body, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, attemptLabel(err))
		return "", "", err
	}
	span.SetAttributes(attribute.String("normalize.matcher", matcher))
	return text, matcher, nil
}

func (e *Engine) exchange(ctx context.Context, cfg Config, method Method, body wireRequest, span trace.Span) (string, string, error) {
	actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := newRequest(actx, cfg, method, body)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrBackendDown, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrBackendDown, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", classifyStatus(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", "", fmt.Errorf("%w: read body: %w", ErrMalformedResponse, err)
	}

	text, matcher, err := e.normalizer.Decode(data)
	switch {
	case errors.Is(err, normalize.ErrNoText):
		return "", "", fmt.Errorf("%w: %w", ErrNoText, err)
	case err != nil:
		return "", "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return text, matcher, nil
}

// Probe checks that the endpoint answers a HEAD request and reports the
// result as a status. It feeds the health tracker and never changes the
// configuration.
func (e *Engine) Probe(ctx context.Context) error {
	cfg := e.Configuration()
	if cfg.Endpoint == "" {
		e.presenter.Status(StatusOffline, true)
		return ErrNoEndpoint
	}

	ctx, span := e.tracer.Start(ctx, "dispatch.probe")
	defer span.End()

	err := e.probe(ctx, cfg)
	switch {
	case err == nil:
		e.health.RecordSuccess()
		e.presenter.Status(StatusConnected, false)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ErrUnexpectedStatus):
		e.presenter.Status(StatusProbeFailed, true)
	default:
		e.presenter.Status(StatusProbeUnreachable, true)
	}

	e.health.RecordFailure(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, attemptLabel(err))
	e.logger.Warn("dispatch: connectivity probe failed", "error", err)
	return err
}

func (e *Engine) probe(ctx context.Context, cfg Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	target, err := resolveURL(cfg, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendDown, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %w", ErrBackendDown, err)
	}
	setHeaders(req, cfg)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendDown, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// Reset clears the transcript and announces the greeting, which becomes the
// first turn of the new transcript. It fails with ErrBusy while a dispatch
// is in flight.
func (e *Engine) Reset(ctx context.Context) error {
	if !e.processing.CompareAndSwap(false, true) {
		return ErrBusy
	}

	func() {
		defer e.processing.Store(false)
		ctx = context.WithoutCancel(ctx)
		e.store.Clear(ctx)
		if err := e.store.Append(ctx, conversation.AssistantTurn(Greeting)); err != nil {
			e.logger.Error("dispatch: append greeting", "error", err)
		}
	}()

	e.metrics.HistorySize(e.store.Len())
	e.logger.Info("dispatch: conversation reset")
	e.presenter.AssistantTurn(Greeting)
	return nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return rand.N(bound)
}
