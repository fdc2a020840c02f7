// Package services wraps the request client with the meal and expense
// endpoints of the flatshare API.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vietddude/flatshare/internal/client"
	"github.com/vietddude/flatshare/internal/errclass"
)

// Requester is the subset of the request client the services use.
type Requester interface {
	Request(ctx context.Context, method, target string, body any, cfg client.RequestConfig) (*client.Response, error)
	Classifier() *errclass.Classifier
}

const (
	defaultListTTL = 5 * time.Minute
	listRetries    = 2
)

// ListResult carries the freshness of a listing.
type ListResult struct {
	FromCache bool
	Stale     bool
}

func housePath(houseID, collection string) string {
	return fmt.Sprintf("/houses/%s/%s", url.PathEscape(houseID), collection)
}

func listConfig(ttl time.Duration) client.RequestConfig {
	return client.RequestConfig{
		Cache:           true,
		CacheTTL:        ttl,
		OfflineFallback: true,
		Retries:         listRetries,
	}
}

func invalid(c Requester, op, msg string) error {
	return c.Classifier().Classify(errors.New(msg), map[string]any{"operation": op})
}

func decode(c Requester, resp *client.Response, v any, op string) error {
	if err := resp.Decode(v); err != nil {
		return c.Classifier().Classify(err, map[string]any{"operation": op})
	}
	return nil
}
