// Package pagination fetches every page of a paginated record endpoint.
//
// A harvest starts with a probe: page 1 is fetched once to learn the total
// record count and the page size. Plan turns those two numbers into the
// jobs for pages 2..N, and a WorkerPool drains them from a queue in
// parallel, turning each successful response into a record.Batch for the
// aggregator.
//
// Example usage:
//
//	source := pagination.NewHTTPSource(apiClient, endpoint, "media")
//	probe, err := source.Probe(ctx)
//	if err != nil {
//		return err // malformed probe aborts the run
//	}
//	jobs, err := pagination.Plan(*probe.Total, *probe.Size, source.PageURL)
//
//	work := queue.New[pagination.Job](0)
//	results := queue.New[record.Batch](0)
//	for _, job := range jobs {
//		_ = work.Put(ctx, job)
//	}
//	work.Close()
//
//	pool := pagination.NewWorkerPool(source, pagination.DefaultPoolConfig(), logger)
//	pool.Run(ctx, work, results)
//
// Pages that fail are logged and dropped; nothing is retried within a run
// beyond what the underlying client does.
package pagination
