package observability

import (
	"context"

	"github.com/honeynil/ParcelBidService/internal/infrastructure/observability"
)

type Options struct {
	ServiceName  string
	LogLevel     string
	MetricsAddr  string
	OTLPEndpoint string
}

// Setup initializes logging, metrics and tracing, returning the tracer shutdown.
func Setup(ctx context.Context, opts Options) func(context.Context) error {
	observability.InitLogger(opts.LogLevel)
	observability.InitMetrics(opts.MetricsAddr)
	return observability.InitTracing(ctx, opts.ServiceName, opts.OTLPEndpoint)
}
