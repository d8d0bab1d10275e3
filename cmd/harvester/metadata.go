package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/grid-harvester/pkg/harvest"
	"github.com/Sternrassler/grid-harvester/pkg/pagination"
)

func newMetadataCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Fetch all pages of the owner's grid and merge them into the store",
		Long: `metadata probes the first page for the record count, fetches the remaining
pages in parallel and merges every record into <store_dir>/<owner>.json.
Pages that fail are logged and skipped; the next run picks them up again.
With --cache-images every merged record's image is cached as well.`,
		Args: cobra.NoArgs,
		RunE: withApp(runMetadata),
	}

	cmd.Flags().Bool("cache-images", false, "cache the image of every merged record")
	cmd.Flags().Int("workers", 5, "number of parallel page fetchers")
	bindFlag(v, "images.enabled", cmd.Flags().Lookup("cache-images"))
	bindFlag(v, "harvest.workers", cmd.Flags().Lookup("workers"))
	return cmd
}

func runMetadata(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	if err := a.cfg.ValidateAPI(); err != nil {
		return err
	}

	c, err := a.httpClient()
	if err != nil {
		return err
	}
	persister, err := a.persister(ctx)
	if err != nil {
		return err
	}

	harvestCfg := a.cfg.HarvestConfig()
	if a.cfg.Images.Enabled {
		pool, err := a.imagePool(ctx, c)
		if err != nil {
			return err
		}
		harvestCfg.Images = pool
	}

	source := pagination.NewHTTPSource(c, a.cfg.Endpoint(), a.cfg.API.RecordsField)
	h := harvest.New(source, persister, harvestCfg, a.component("harvest"))

	var result *harvest.Result
	err = a.serve(ctx, h, func(ctx context.Context) error {
		var runErr error
		result, runErr = h.Run(ctx)
		return runErr
	})
	if errors.Is(err, context.Canceled) {
		a.logger.Warn().Msg("Harvest interrupted; merged records were saved")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d records stored for %s (%d added, %d pages failed) in %s\n",
		result.StoreSize, a.cfg.Owner, result.Added, result.PagesFailed, result.Duration.Round(time.Millisecond))
	return nil
}
