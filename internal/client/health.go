package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthResult describes the first healthy candidate.
type HealthResult struct {
	Endpoint   string        `json:"endpoint"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Tried      int           `json:"tried"`
}

// CheckHealth probes candidates in order and returns the first healthy one.
// http(s) candidates and relative paths succeed on any 2xx; grpc:// and
// grpcs:// candidates use the standard gRPC health service.
func (c *Client) CheckHealth(ctx context.Context, candidates []string) (*HealthResult, error) {
	if len(candidates) == 0 {
		return nil, c.classifier.Classify(errors.New("health check: no endpoints configured"), nil)
	}

	var errs []error
	for i, candidate := range candidates {
		start := time.Now()
		code, err := c.probe(ctx, candidate)
		if err == nil {
			c.log.Debug("Health check passed", "endpoint", candidate, "latency", time.Since(start))
			return &HealthResult{
				Endpoint:   candidate,
				StatusCode: code,
				Latency:    time.Since(start),
				Tried:      i + 1,
			}, nil
		}
		c.log.Debug("Health check failed", "endpoint", candidate, "error", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}

	return nil, c.classifier.Classify(errors.Join(errs...), map[string]any{"candidates": candidates})
}

func (c *Client) probe(ctx context.Context, candidate string) (int, error) {
	switch {
	case strings.HasPrefix(candidate, "grpc://"):
		return 0, c.checkGRPC(ctx, strings.TrimPrefix(candidate, "grpc://"), false)
	case strings.HasPrefix(candidate, "grpcs://"):
		return 0, c.checkGRPC(ctx, strings.TrimPrefix(candidate, "grpcs://"), true)
	}

	resp, err := c.do(ctx, http.MethodGet, c.resolve(candidate), nil, nil, RequestConfig{SkipAuth: true})
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

func (c *Client) checkGRPC(ctx context.Context, target string, secure bool) error {
	creds := insecure.NewCredentials()
	if secure {
		creds = credentials.NewTLS(&tls.Config{})
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health: server %s", resp.GetStatus())
	}
	return nil
}
