package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/grid-harvester/pkg/imagecache"
	"github.com/Sternrassler/grid-harvester/pkg/queue"
	"github.com/Sternrassler/grid-harvester/pkg/record"
)

func newImagesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Cache the image of every stored record",
		Long: `images loads the owner's store and downloads the image of every record
into <images_dir>/<owner>/<id>-<width>.<ext>. Images already cached are
skipped.`,
		Args: cobra.NoArgs,
		RunE: withApp(runImages),
	}

	cmd.Flags().Int("width", 300, "requested image width (0 uses each record's width)")
	bindFlag(v, "images.width", cmd.Flags().Lookup("width"))
	return cmd
}

func runImages(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()

	persister, err := a.persister(ctx)
	if err != nil {
		return err
	}
	store, err := persister.Load(ctx)
	if err != nil {
		return err
	}
	if store.Len() == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no records stored for %s\n", a.cfg.Owner)
		return nil
	}

	c, err := a.httpClient()
	if err != nil {
		return err
	}
	pool, err := a.imagePool(ctx, c)
	if err != nil {
		return err
	}

	q := queue.New[record.Record](0)
	if _, err := imagecache.EnqueueStore(ctx, store, q); err != nil {
		return err
	}
	q.Close()

	err = a.serve(ctx, nil, func(ctx context.Context) error {
		return pool.Run(ctx, q)
	})
	if errors.Is(err, context.Canceled) {
		a.logger.Warn().Msg("Image caching interrupted")
		return nil
	}
	if err != nil {
		return err
	}

	stats := pool.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%d images cached, %d already present, %d failed\n",
		stats.Cached, stats.Skipped, stats.Failed)
	return nil
}
