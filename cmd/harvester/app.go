package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/grid-harvester/internal/server"
	"github.com/Sternrassler/grid-harvester/pkg/client"
	"github.com/Sternrassler/grid-harvester/pkg/config"
	"github.com/Sternrassler/grid-harvester/pkg/imagecache"
	"github.com/Sternrassler/grid-harvester/pkg/logging"
	"github.com/Sternrassler/grid-harvester/pkg/storage"
)

// app holds the services shared by the commands.
type app struct {
	cfg    config.Config
	logger zerolog.Logger
	rdb    *redis.Client

	closers []func() error
}

func newApp(ctx context.Context, v *viper.Viper) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logging.Setup(cfg.LogConfig()).With().Str("owner", cfg.Owner).Logger(),
	}

	if opts := cfg.RedisOptions(); opts != nil {
		a.rdb = redis.NewClient(opts)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		a.closers = append(a.closers, a.rdb.Close)
		a.logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}
	return a, nil
}

// httpClient returns a client for the records API and the image host.
func (a *app) httpClient() (*client.Client, error) {
	c, err := client.New(a.cfg.ClientConfig(a.rdb), logging.NewLogger("client").With().Str("owner", a.cfg.Owner).Logger())
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	a.closers = append(a.closers, c.Close)
	return c, nil
}

func (a *app) openBucket(ctx context.Context, location string) (*blob.Bucket, error) {
	bucket, err := storage.OpenBucket(ctx, location)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, bucket.Close)
	return bucket, nil
}

// persister opens the store of the configured owner.
func (a *app) persister(ctx context.Context) (*storage.Persister, error) {
	bucket, err := a.openBucket(ctx, a.cfg.Harvest.StoreDir)
	if err != nil {
		return nil, err
	}
	return storage.NewPersister(bucket, storage.StoreKey(a.cfg.Owner), a.component("storage")), nil
}

// imagePool opens the image cache bucket and returns a pool fetching
// through c.
func (a *app) imagePool(ctx context.Context, c *client.Client) (*imagecache.Pool, error) {
	bucket, err := a.openBucket(ctx, a.cfg.Images.Dir)
	if err != nil {
		return nil, err
	}
	return imagecache.New(bucket, imagecache.NewHTTPFetcher(c), a.cfg.ImageConfig(), a.component("imagecache")), nil
}

func (a *app) component(name string) zerolog.Logger {
	return a.logger.With().Str("component", name).Logger()
}

// ready reports whether Redis is reachable when it is configured.
func (a *app) ready(ctx context.Context) error {
	if a.rdb == nil {
		return nil
	}
	return a.rdb.Ping(ctx).Err()
}

// serve runs fn while the status server is up, if one is configured. The
// server is stopped once fn returns.
func (a *app) serve(ctx context.Context, progress server.ProgressSource, fn func(ctx context.Context) error) error {
	if a.cfg.Server.Addr == "" {
		return fn(ctx)
	}

	srv := server.New(progress, a.ready, a.component("server"))
	srvCtx, stopServer := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		return srv.Run(srvCtx, a.cfg.Server.Addr)
	})

	err := fn(ctx)
	stopServer()
	if serr := g.Wait(); serr != nil {
		a.logger.Warn().Err(serr).Msg("Status server failed")
	}
	return err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug().Err(err).Msg("Close failed")
		}
	}
	a.closers = nil
}
