package weaviate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kilupskalvis/wvsync/internal/models"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a DocumentClient with automatic retry on transient errors.
type RetryClient struct {
	inner  DocumentClient
	config *RetryConfig
}

// NewRetryClient creates a RetryClient that wraps the given DocumentClient.
func NewRetryClient(inner DocumentClient, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *models.ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	var ce *fault.WeaviateClientError
	if errors.As(err, &ce) && ce.StatusCode != 0 {
		return ce.StatusCode >= 500 || ce.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			d := rc.backoff(attempt)
			if err := sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

// Index is idempotent (upsert by id), so it is always safe to retry.
func (rc *RetryClient) Index(ctx context.Context, collection string, doc models.Document) error {
	return rc.retry(ctx, "index", func() error {
		return rc.inner.Index(ctx, collection, doc)
	})
}

func (rc *RetryClient) Delete(ctx context.Context, collection, id string) error {
	return rc.retry(ctx, "delete", func() error {
		return rc.inner.Delete(ctx, collection, id)
	})
}

func (rc *RetryClient) Search(ctx context.Context, collection string, q models.Query) (result *models.SearchResult, err error) {
	err = rc.retry(ctx, "search", func() error {
		result, err = rc.inner.Search(ctx, collection, q)
		return err
	})
	return
}

var _ DocumentClient = (*RetryClient)(nil)
