// Package worker provides a generic worker pool for background task processing.
//
// The connection layer runs transport connect and login attempts on a pool
// with a single worker, which serializes them without blocking the caller:
//
//	pool := worker.NewPool(1, 4, func(ctx context.Context, task func(context.Context) error) error {
//	    return task(ctx)
//	}, worker.WithErrorHandler(func(_ func(context.Context) error, err error) {
//	    logger.Warn("background task failed", "error", err)
//	}))
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
//
// Submit never blocks: a full queue yields ErrQueueFull. Statistics are always
// tracked; Prometheus metrics are added with WithMetricsRegistry.
package worker
