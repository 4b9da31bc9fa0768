package llmservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"multimodal-rag/internal/config"
	"multimodal-rag/internal/metrics"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"
)

// ErrModelCall is matched by every error returned from Caller.Generate.
var ErrModelCall = errors.New("model call failed")

var errEmptyResponse = errors.New("empty response from model")

var (
	// openai: "API returned unexpected status code: 503: ...".
	// ollama: "503 Service Unavailable: ...".
	statusPattern    = regexp.MustCompile(`(?:status code:? (\d{3})\b|^(\d{3}) [A-Za-z])`)
	transientPattern = regexp.MustCompile(`(?i)\b(?:rate limit(?:ed)?|too many requests|timeout|timed out|connection reset|connection refused|server overloaded)\b`)
)

// CallError records a model call that failed after all attempts.
type CallError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: model call failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) Is(target error) bool { return target == ErrModelCall }

type CallerConfig struct {
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts made on transient errors.
	MaxRetries int
	// RequestsPerSecond paces calls. Zero disables pacing.
	RequestsPerSecond float64
	// BaseDelay is the first backoff step, doubled per attempt.
	BaseDelay time.Duration
}

func CallerConfigFrom(c *config.LLMConfig) CallerConfig {
	return CallerConfig{
		Timeout:           c.Timeout,
		MaxRetries:        c.MaxRetries,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}

// Caller wraps a model with a per-attempt timeout, bounded retries and an
// optional rate limit.
type Caller struct {
	model   llms.Model
	cfg     CallerConfig
	limiter *rate.Limiter
}

func NewCaller(model llms.Model, cfg CallerConfig) *Caller {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &Caller{model: model, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// Generate sends messages and returns the text of the first choice.
func (c *Caller) Generate(ctx context.Context, op string, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ModelRetries.WithLabelValues(op).Inc()
			log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt+1).Msg("Retrying model call")
			if err := sleepCtx(ctx, c.retryDelay(attempt-1)); err != nil {
				break
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		text, err := c.attempt(ctx, messages, opts...)
		if err == nil {
			metrics.ModelCalls.WithLabelValues(op, metrics.OutcomeOK).Inc()
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) {
			break
		}
	}

	metrics.ModelCalls.WithLabelValues(op, metrics.OutcomeError).Inc()
	return "", &CallError{Op: op, Attempts: attempts, Err: lastErr}
}

func (c *Caller) attempt(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// retryDelay returns exponential backoff capped at 5s.
func (c *Caller) retryDelay(attempt int) time.Duration {
	d := c.cfg.BaseDelay << attempt
	if d > 5*time.Second || d <= 0 {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, errEmptyResponse):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if code, ok := statusCode(err); ok {
		return code == 429 || code >= 500
	}
	return transientPattern.MatchString(err.Error())
}

// statusCode pulls the HTTP status out of a provider error message.
func statusCode(err error) (int, bool) {
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	code, convErr := strconv.Atoi(digits)
	return code, convErr == nil
}
