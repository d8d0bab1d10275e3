package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/grid-harvester/pkg/config"
)

// appKeyType is the context key the initialised app is stored under.
type appKeyType struct{}

var appKey appKeyType

// newRootCmd creates the root command and its subcommands. Every
// invocation gets its own Viper instance.
func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests the records of a paginated grid API",
		Long: `harvester fetches every page of an owner's grid in parallel, merges the
records into a durable JSON store and optionally caches the images they
reference.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ReadFile(v, cfgFile); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), v)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./harvester.yaml or $HOME/.harvester/harvester.yaml)")
	flags.String("owner", "", "grid owner whose records are harvested")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human-readable console logs")
	flags.String("server-addr", "", "serve /health, /ready, /metrics and /progress on this address")
	flags.String("redis-addr", "", "Redis address for the response cache and shared rate limits")
	bindFlag(v, "owner", flags.Lookup("owner"))
	bindFlag(v, "log.level", flags.Lookup("log-level"))
	bindFlag(v, "log.pretty", flags.Lookup("log-pretty"))
	bindFlag(v, "server.addr", flags.Lookup("server-addr"))
	bindFlag(v, "redis.addr", flags.Lookup("redis-addr"))

	cmd.AddCommand(newMetadataCmd(v))
	cmd.AddCommand(newImagesCmd(v))
	cmd.AddCommand(newStatsCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application not initialized")
	}
	return a, nil
}

// withApp adapts a command body that needs the app. The app is closed when
// the body returns, also on error.
func withApp(fn func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, a)
	}
}

// bindFlag binds a flag to a config key. Binding only fails for a nil flag.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}
