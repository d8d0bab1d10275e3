package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/grid-harvester/pkg/record"
)

type statsOptions struct {
	attr         string
	proportional bool
	ascending    bool
}

func newStatsCmd() *cobra.Command {
	opts := &statsOptions{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print how often each value of an attribute occurs in the store",
		Long: `stats counts the values of one record attribute across the owner's store,
most frequent first. Attributes include top-level fields and the lifted
iso, make, model, camera, preset and preset_bg_color.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app) error {
			return runStats(cmd, a, opts)
		}),
	}

	cmd.Flags().StringVar(&opts.attr, "attr", "preset", "attribute to build the histogram of")
	cmd.Flags().BoolVar(&opts.proportional, "proportional", false, "print shares instead of counts")
	cmd.Flags().BoolVar(&opts.ascending, "ascending", false, "least frequent first")
	return cmd
}

func runStats(cmd *cobra.Command, a *app, opts *statsOptions) error {
	ctx := cmd.Context()

	persister, err := a.persister(ctx)
	if err != nil {
		return err
	}
	store, err := persister.Load(ctx)
	if err != nil {
		return err
	}

	buckets := record.Frequency(store, opts.attr)
	if opts.ascending {
		buckets = record.Reverse(buckets)
	}

	column := "count"
	if opts.proportional {
		column = "share"
	}
	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(out, "%s\t%s\n", opts.attr, column)
	for _, b := range buckets {
		if opts.proportional {
			fmt.Fprintf(out, "%s\t%.4f\n", b.Value, b.Share)
		} else {
			fmt.Fprintf(out, "%s\t%d\n", b.Value, b.Count)
		}
	}
	return out.Flush()
}
