// Package transports delivers batches of series: to the Datadog HTTP API,
// to a local file, or to stdout.
package transports

import (
	"context"

	"github.com/juvenn/datadog-reporter/series"
)

// A Transport delivers one batch of series per poll cycle.
type Transport interface {
	// Prepare opens the per-cycle request. An error skips the whole cycle.
	Prepare(ctx context.Context) (Request, error)
	// Close releases the transport, including a request left unsent.
	Close() error
}

// A Request accumulates the series of a single cycle. Send finalizes it and
// is the point where delivery I/O happens.
type Request interface {
	AddGauge(g *series.Series) error
	AddCounter(c *series.Series) error
	Send(ctx context.Context) error
}
