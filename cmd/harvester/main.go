// Command harvester downloads the record metadata of a grid owner into a
// durable store, caches the images the records point to, and reports
// attribute histograms over the stored records.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
