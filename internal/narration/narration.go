// Package narration delivers voice prompts without ever blocking the engine.
package narration

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"kycflow/internal/verification/ports"
	id "kycflow/pkg/domain"
)

var (
	// ErrQueueFull is reported when a prompt is dropped because the speaker is behind.
	ErrQueueFull = errors.New("narration queue full")
	// ErrClosed is reported for prompts spoken after Close.
	ErrClosed = errors.New("narrator closed")
)

// Log writes prompts to the logger. It stands in for a speech engine on
// headless devices and in development.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Speak(ctx context.Context, key string, lang id.Language, params map[string]string) error {
	args := []any{"key", key, "language", lang.String()}
	for k, v := range params {
		args = append(args, "param."+k, v)
	}
	l.logger.InfoContext(ctx, "narration", args...)
	return nil
}

type utterance struct {
	key    string
	lang   id.Language
	params map[string]string
}

// Async queues prompts for a single speaker goroutine. Speak returns as soon
// as the prompt is queued; a full queue drops the prompt.
type Async struct {
	next    ports.Narrator
	queue   chan utterance
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool // guarded by mu
	done   chan struct{}
}

type Option func(*Async)

func WithQueueSize(n int) Option {
	return func(a *Async) {
		if n > 0 {
			a.queue = make(chan utterance, n)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Async) {
		a.logger = logger
	}
}

// NewAsync starts the speaker goroutine. Call Close to stop it.
func NewAsync(next ports.Narrator, opts ...Option) *Async {
	a := &Async{
		next:    next,
		queue:   make(chan utterance, 16),
		timeout: 10 * time.Second,
		logger:  slog.Default(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

func (a *Async) Speak(_ context.Context, key string, lang id.Language, params map[string]string) error {
	u := utterance{key: key, lang: lang, params: params}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- u:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting prompts, lets the speaker finish what is queued and
// waits for it.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for u := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.speak(ctx, u)
		cancel()
		if err != nil {
			a.logger.Debug("narration failed", "key", u.key, "error", err)
		}
	}
}

func (a *Async) speak(ctx context.Context, u utterance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("narrator panicked")
		}
	}()
	return a.next.Speak(ctx, u.key, u.lang, u.params)
}
