package weaviate

import (
	"context"
	"log/slog"
	"time"

	"github.com/kilupskalvis/wvsync/internal/metrics"
	"github.com/kilupskalvis/wvsync/internal/models"
)

// InstrumentedClient wraps a DocumentClient with metrics and debug logging.
type InstrumentedClient struct {
	inner  DocumentClient
	logger *slog.Logger
}

// NewInstrumentedClient wraps a client with observability.
func NewInstrumentedClient(inner DocumentClient, logger *slog.Logger) *InstrumentedClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentedClient{inner: inner, logger: logger}
}

func (c *InstrumentedClient) observe(op, collection string, start time.Time, err error) {
	duration := time.Since(start)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.DocumentOperationsTotal.WithLabelValues(op, collection, status).Inc()
	metrics.DocumentOperationDuration.WithLabelValues(op).Observe(duration.Seconds())

	if err != nil {
		c.logger.Warn("document operation failed",
			"operation", op, "collection", collection, "duration", duration, "error", err)
		return
	}
	c.logger.Debug("document operation completed",
		"operation", op, "collection", collection, "duration", duration)
}

func (c *InstrumentedClient) Index(ctx context.Context, collection string, doc models.Document) error {
	start := time.Now()
	err := c.inner.Index(ctx, collection, doc)
	c.observe("index", collection, start, err)
	return err
}

func (c *InstrumentedClient) Delete(ctx context.Context, collection, id string) error {
	start := time.Now()
	err := c.inner.Delete(ctx, collection, id)
	c.observe("delete", collection, start, err)
	return err
}

func (c *InstrumentedClient) Search(ctx context.Context, collection string, q models.Query) (*models.SearchResult, error) {
	start := time.Now()
	result, err := c.inner.Search(ctx, collection, q)
	c.observe("search", collection, start, err)
	return result, err
}

var _ DocumentClient = (*InstrumentedClient)(nil)
