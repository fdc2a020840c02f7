// Package errclass maps raw transport failures to typed AppErrors.
package errclass

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/metrics"
)

type rule struct {
	kind        domain.ErrorKind
	patterns    []string
	severity    domain.Severity
	retryable   bool
	userMessage string
}

// Rules are tested top to bottom; the first match wins. Timeout precedes
// Network so that "timeout" always yields a Timeout kind.
var rules = []rule{
	{
		kind:        domain.ErrorKindTimeout,
		patterns:    []string{"timeout", "abort"},
		severity:    domain.SeverityMedium,
		retryable:   true,
		userMessage: "The request took too long. Please try again.",
	},
	{
		kind:        domain.ErrorKindNetwork,
		patterns:    []string{"network", "connection", "fetch"},
		severity:    domain.SeverityMedium,
		retryable:   true,
		userMessage: "We are having trouble reaching the server. Check your connection.",
	},
	{
		kind:        domain.ErrorKindAuthentication,
		patterns:    []string{"401", "unauthorized", "token", "login"},
		severity:    domain.SeverityHigh,
		retryable:   false,
		userMessage: "Your session has expired. Please sign in again.",
	},
	{
		kind:        domain.ErrorKindAuthorization,
		patterns:    []string{"403", "forbidden", "permission"},
		severity:    domain.SeverityHigh,
		retryable:   false,
		userMessage: "You do not have access to this.",
	},
	{
		kind:        domain.ErrorKindValidation,
		patterns:    []string{"validation", "invalid", "required"},
		severity:    domain.SeverityLow,
		retryable:   false,
		userMessage: "Please check your input and try again.",
	},
	{
		kind:        domain.ErrorKindServer,
		patterns:    []string{"500", "server", "internal"},
		severity:    domain.SeverityHigh,
		retryable:   true,
		userMessage: "Something went wrong on our side. Please try again later.",
	},
	{
		kind:        domain.ErrorKindOffline,
		patterns:    []string{"offline", "no internet"},
		severity:    domain.SeverityMedium,
		retryable:   true,
		userMessage: "You are offline. Check your connection.",
	},
}

var unknownRule = rule{
	kind:        domain.ErrorKindUnknown,
	severity:    domain.SeverityMedium,
	retryable:   false,
	userMessage: "An unexpected error occurred.",
}

// Classifier classifies errors and keeps the most recent ones for diagnostics.
type Classifier struct {
	log    *slog.Logger
	recent *Ring
	now    func() time.Time
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger overrides the logger classifications are forwarded to.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Classifier with a diagnostic buffer of DefaultRingCapacity.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		log:    slog.Default().With("component", "errclass"),
		recent: NewRing(DefaultRingCapacity),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify maps err to an AppError. It never panics; a nil err yields Unknown.
func (c *Classifier) Classify(err error, ctx map[string]any) *domain.AppError {
	r := unknownRule
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
		text := describe(err)
		r = match(text)
	}

	appErr := &domain.AppError{
		Kind:        r.kind,
		Severity:    r.severity,
		Message:     msg,
		UserMessage: r.userMessage,
		Retryable:   r.retryable,
		Context:     copyContext(ctx),
		Timestamp:   c.now(),
		Err:         err,
	}
	c.record(appErr)
	return appErr
}

// Critical builds an Unknown error with Critical severity, used for failures of
// local infrastructure such as the persistent store.
func (c *Classifier) Critical(err error, ctx map[string]any) *domain.AppError {
	msg := "critical failure"
	if err != nil {
		msg = err.Error()
	}
	appErr := &domain.AppError{
		Kind:        domain.ErrorKindUnknown,
		Severity:    domain.SeverityCritical,
		Message:     msg,
		UserMessage: unknownRule.userMessage,
		Context:     copyContext(ctx),
		Timestamp:   c.now(),
		Err:         err,
	}
	c.record(appErr)
	return appErr
}

// Recent returns up to n of the most recent classifications, oldest first.
// n <= 0 returns everything buffered.
func (c *Classifier) Recent(n int) []*domain.AppError {
	return c.recent.Snapshot(n)
}

func (c *Classifier) record(e *domain.AppError) {
	c.recent.Push(e)
	metrics.ErrorsTotal.WithLabelValues(string(e.Kind)).Inc()

	attrs := []any{
		"kind", e.Kind,
		"severity", e.Severity,
		"message", e.Message,
		"timestamp", e.Timestamp,
	}
	if len(e.Context) > 0 {
		attrs = append(attrs, "context", e.Context)
	}
	switch e.Severity {
	case domain.SeverityCritical:
		c.log.Error("Request failed", attrs...)
	case domain.SeverityHigh:
		c.log.Warn("Request failed", attrs...)
	default:
		c.log.Info("Request failed", attrs...)
	}
}

// IsRetryable reports whether automatic re-attempts are allowed for e.
// Rejected credentials are never retried regardless of the stored flag.
func IsRetryable(e *domain.AppError) bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case domain.ErrorKindAuthentication, domain.ErrorKindAuthorization:
		return false
	}
	return e.Retryable
}

// Retryable reports whether err would classify as retryable, without
// recording it. Used to decide on immediate re-attempts.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	r := match(describe(err))
	switch r.kind {
	case domain.ErrorKindAuthentication, domain.ErrorKindAuthorization:
		return false
	}
	return r.retryable
}

// statusCoder is implemented by HTTP errors that expose the response code.
type statusCoder interface {
	HTTPStatus() int
}

func match(text string) rule {
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(text, p) {
				return r
			}
		}
	}
	return unknownRule
}

// describe lowercases the error text and appends hints for typed errors whose
// message does not carry a recognizable keyword.
func describe(err error) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(err.Error()))

	hint := func(s string) {
		b.WriteByte(' ')
		b.WriteString(s)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		hint("timeout")
	case errors.Is(err, context.Canceled):
		hint("abort")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			hint("timeout")
		} else {
			hint("connection")
		}
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch code := sc.HTTPStatus(); {
		case code == 401:
			hint("unauthorized")
		case code == 403:
			hint("forbidden")
		case code == 400 || code == 422:
			hint("invalid")
		case code == 408 || code == 504:
			hint("timeout")
		case code >= 500:
			hint("server")
		}
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		switch st.Code() {
		case codes.Unauthenticated:
			hint("unauthorized")
		case codes.PermissionDenied:
			hint("forbidden")
		case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
			hint("invalid")
		case codes.DeadlineExceeded:
			hint("timeout")
		case codes.Canceled, codes.Aborted:
			hint("abort")
		case codes.Unavailable:
			hint("connection")
		case codes.Internal, codes.Unknown, codes.DataLoss:
			hint("internal")
		}
	}

	return b.String()
}

func copyContext(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
