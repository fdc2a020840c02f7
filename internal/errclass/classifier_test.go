package errclass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/flatshare/internal/core/domain"
)

func newTestClassifier() *Classifier {
	return New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		kind      domain.ErrorKind
		retryable bool
	}{
		{errors.New("network request failed"), domain.ErrorKindNetwork, true},
		{errors.New("connection reset by peer"), domain.ErrorKindNetwork, true},
		{errors.New("failed to fetch"), domain.ErrorKindNetwork, true},
		{errors.New("http 401: Unauthorized"), domain.ErrorKindAuthentication, false},
		{errors.New("invalid token"), domain.ErrorKindAuthentication, false},
		{errors.New("please login again"), domain.ErrorKindAuthentication, false},
		{errors.New("http 403: Forbidden"), domain.ErrorKindAuthorization, false},
		{errors.New("missing permission meals.write"), domain.ErrorKindAuthorization, false},
		{errors.New("Validation failed: amount"), domain.ErrorKindValidation, false},
		{errors.New("field name is required"), domain.ErrorKindValidation, false},
		{errors.New("http 500: oops"), domain.ErrorKindServer, true},
		{errors.New("Internal Server Error"), domain.ErrorKindServer, true},
		{errors.New("request timeout after 5s"), domain.ErrorKindTimeout, true},
		{errors.New("operation aborted"), domain.ErrorKindTimeout, true},
		{errors.New("device is offline"), domain.ErrorKindOffline, true},
		{errors.New("No Internet"), domain.ErrorKindOffline, true},
		{errors.New("something odd"), domain.ErrorKindUnknown, false},
	}

	c := newTestClassifier()
	for _, tt := range tests {
		got := c.Classify(tt.err, nil)
		if got.Kind != tt.kind {
			t.Errorf("Classify(%q).Kind = %s, want %s", tt.err, got.Kind, tt.kind)
		}
		if got.Retryable != tt.retryable {
			t.Errorf("Classify(%q).Retryable = %v, want %v", tt.err, got.Retryable, tt.retryable)
		}
		if got.UserMessage == "" {
			t.Errorf("Classify(%q) has empty user message", tt.err)
		}
	}
}

func TestClassify_Any401IsAuthentication(t *testing.T) {
	c := newTestClassifier()
	for _, msg := range []string{"401", "HTTP 401", "code 401 server", "401 invalid input"} {
		got := c.Classify(errors.New(msg), nil)
		if got.Kind != domain.ErrorKindAuthentication || IsRetryable(got) {
			t.Errorf("Classify(%q) = %s retryable=%v", msg, got.Kind, IsRetryable(got))
		}
	}
}

func TestClassify_AnyTimeoutIsTimeout(t *testing.T) {
	c := newTestClassifier()
	for _, msg := range []string{"timeout", "connection timeout", "network TIMEOUT", "401 timeout"} {
		got := c.Classify(errors.New(msg), nil)
		if got.Kind != domain.ErrorKindTimeout || !IsRetryable(got) {
			t.Errorf("Classify(%q) = %s retryable=%v, want timeout/true", msg, got.Kind, IsRetryable(got))
		}
	}
}

func TestClassify_TypedErrors(t *testing.T) {
	c := newTestClassifier()

	if got := c.Classify(fmt.Errorf("dispatch: %w", context.DeadlineExceeded), nil); got.Kind != domain.ErrorKindTimeout {
		t.Errorf("deadline exceeded classified as %s", got.Kind)
	}
	if got := c.Classify(context.Canceled, nil); got.Kind != domain.ErrorKindTimeout {
		t.Errorf("canceled classified as %s", got.Kind)
	}

	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
	if got := c.Classify(opErr, nil); got.Kind != domain.ErrorKindNetwork {
		t.Errorf("net.OpError classified as %s", got.Kind)
	}

	grpcTests := []struct {
		code codes.Code
		kind domain.ErrorKind
	}{
		{codes.Unauthenticated, domain.ErrorKindAuthentication},
		{codes.PermissionDenied, domain.ErrorKindAuthorization},
		{codes.InvalidArgument, domain.ErrorKindValidation},
		{codes.DeadlineExceeded, domain.ErrorKindTimeout},
		{codes.Unavailable, domain.ErrorKindNetwork},
		{codes.Internal, domain.ErrorKindServer},
	}
	for _, tt := range grpcTests {
		got := c.Classify(status.Error(tt.code, "boom"), nil)
		if got.Kind != tt.kind {
			t.Errorf("grpc %s classified as %s, want %s", tt.code, got.Kind, tt.kind)
		}
	}
}

func TestClassify_NilIsUnknown(t *testing.T) {
	c := newTestClassifier()
	got := c.Classify(nil, nil)
	if got.Kind != domain.ErrorKindUnknown {
		t.Errorf("expected unknown, got %s", got.Kind)
	}
}

func TestClassify_ContextAndTimestamp(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New(
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixed }),
	)
	ctx := map[string]any{"url": "/meals"}
	got := c.Classify(errors.New("offline"), ctx)
	ctx["url"] = "mutated"

	if got.Context["url"] != "/meals" {
		t.Errorf("context not copied: %v", got.Context)
	}
	if !got.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, fixed)
	}
	if !errors.Is(got, got.Err) {
		t.Error("AppError should unwrap to the raw error")
	}
}

func TestIsRetryable_ForcesFalseForCredentials(t *testing.T) {
	for _, kind := range []domain.ErrorKind{domain.ErrorKindAuthentication, domain.ErrorKindAuthorization} {
		e := &domain.AppError{Kind: kind, Retryable: true}
		if IsRetryable(e) {
			t.Errorf("%s must never be retryable", kind)
		}
	}
	if !IsRetryable(&domain.AppError{Kind: domain.ErrorKindServer, Retryable: true}) {
		t.Error("server error with retryable flag should be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}

func TestClassifier_RecentIsBounded(t *testing.T) {
	c := newTestClassifier()
	for i := 0; i < DefaultRingCapacity+20; i++ {
		c.Classify(fmt.Errorf("err-%d", i), nil)
	}

	all := c.Recent(0)
	if len(all) != DefaultRingCapacity {
		t.Fatalf("expected %d buffered errors, got %d", DefaultRingCapacity, len(all))
	}
	if all[0].Message != "err-20" {
		t.Errorf("oldest = %s, want err-20", all[0].Message)
	}
	if last := all[len(all)-1].Message; last != fmt.Sprintf("err-%d", DefaultRingCapacity+19) {
		t.Errorf("newest = %s", last)
	}

	tail := c.Recent(3)
	if len(tail) != 3 || tail[2].Message != all[len(all)-1].Message {
		t.Errorf("Recent(3) = %v", tail)
	}
}

func TestClassifier_Critical(t *testing.T) {
	c := newTestClassifier()
	got := c.Critical(errors.New("redis: connection pool exhausted"), nil)
	if got.Kind != domain.ErrorKindUnknown || got.Severity != domain.SeverityCritical {
		t.Errorf("got %s/%s", got.Kind, got.Severity)
	}
	if IsRetryable(got) {
		t.Error("critical errors are not retryable")
	}
}

type httpErr int

func (e httpErr) Error() string   { return fmt.Sprintf("http %d", int(e)) }
func (e httpErr) HTTPStatus() int { return int(e) }

func TestClassify_HTTPStatusHints(t *testing.T) {
	tests := []struct {
		code int
		kind domain.ErrorKind
	}{
		{400, domain.ErrorKindValidation},
		{401, domain.ErrorKindAuthentication},
		{403, domain.ErrorKindAuthorization},
		{422, domain.ErrorKindValidation},
		{502, domain.ErrorKindServer},
		{504, domain.ErrorKindTimeout},
		{404, domain.ErrorKindUnknown},
	}
	c := newTestClassifier()
	for _, tt := range tests {
		err := fmt.Errorf("request: %w", httpErr(tt.code))
		if got := c.Classify(err, nil).Kind; got != tt.kind {
			t.Errorf("status %d: kind = %s, want %s", tt.code, got, tt.kind)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(errors.New("connection refused")) {
		t.Error("network errors should be retryable")
	}
	if Retryable(httpErr(401)) || Retryable(httpErr(403)) {
		t.Error("credential errors must not be retryable")
	}
	if Retryable(nil) {
		t.Error("nil must not be retryable")
	}
}
