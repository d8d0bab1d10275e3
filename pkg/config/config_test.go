package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/grid-harvester/pkg/logging"
)

func TestLoadDefaults(t *testing.T) {
	v := New()
	v.Set("owner", "slowed")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.API.PageSize)
	assert.Equal(t, "media", cfg.API.RecordsField)
	assert.Equal(t, "_id", cfg.API.KeyField)
	assert.Equal(t, 1, cfg.Client.MaxAttempts)
	assert.Zero(t, cfg.Client.RequestsPerSecond)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Harvest.Workers)
	assert.Equal(t, 50*time.Millisecond, cfg.Harvest.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Harvest.MergeWait)
	assert.Equal(t, 0, cfg.Harvest.ResultCapacity, "result queue is unbounded by default")
	assert.Equal(t, "meta", cfg.Harvest.StoreDir)
	assert.Equal(t, "images", cfg.Images.Dir)
	assert.Equal(t, 300, cfg.Images.Width)
	assert.Equal(t, "jpg", cfg.Images.Ext)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Nil(t, cfg.RedisOptions(), "redis is disabled by default")
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	configYAML := `
owner: slowed
api:
  base_url: https://grid.example
  path: /ajxp/token/2.0/medias
  site_id: "113950"
  page_size: 250
client:
  requests_per_second: 4
  max_attempts: 3
  initial_backoff: 200ms
redis:
  addr: localhost:6379
  db: 2
  cache_ttl: 1m
harvest:
  workers: 8
  store_dir: s3://bucket/meta
images:
  enabled: true
  width: 640
log:
  level: debug
  pretty: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	v := New()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "slowed", cfg.Owner)
	assert.Equal(t, 250, cfg.API.PageSize)
	assert.Equal(t, 8, cfg.Harvest.Workers)
	assert.Equal(t, "s3://bucket/meta", cfg.Harvest.StoreDir)
	assert.True(t, cfg.Images.Enabled)
	assert.True(t, cfg.Log.Pretty)
	require.NoError(t, cfg.ValidateAPI())

	endpoint := cfg.Endpoint()
	assert.Equal(t, "https://grid.example/ajxp/token/2.0/medias?page=3&site_id=113950&size=250", endpoint.URL(3))

	clientCfg := cfg.ClientConfig(nil)
	assert.Equal(t, 4.0, clientCfg.RequestsPerSecond)
	assert.Equal(t, 3, clientCfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, clientCfg.Retry.InitialBackoff)
	assert.Equal(t, time.Minute, clientCfg.CacheTTL)

	opts := cfg.RedisOptions()
	require.NotNil(t, opts)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)

	assert.Equal(t, 640, cfg.ImageConfig().Width)
	assert.Equal(t, "_id", cfg.HarvestConfig().KeyField)
	assert.Equal(t, logging.LevelDebug, cfg.LogConfig().Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_OWNER", "envowner")
	t.Setenv("HARVESTER_HARVEST_WORKERS", "3")
	t.Setenv("HARVESTER_REDIS_ADDR", "redis:6379")
	t.Setenv("HARVESTER_HARVEST_RESULT_CAPACITY", "4")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, "envowner", cfg.Owner)
	assert.Equal(t, 3, cfg.Harvest.Workers)
	assert.Equal(t, 4, cfg.HarvestConfig().ResultCapacity)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestReadFile_MissingSearchedFile(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, ReadFile(New(), ""))
}

func TestReadFile_MissingExplicitFile(t *testing.T) {
	err := ReadFile(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  any
		errMsg string
	}{
		{name: "missing owner", key: "owner", value: "", errMsg: "owner is required"},
		{name: "owner with slash", key: "owner", value: "a/b", errMsg: "path separators"},
		{name: "page size", key: "api.page_size", value: 0, errMsg: "api.page_size"},
		{name: "workers", key: "harvest.workers", value: 0, errMsg: "harvest.workers"},
		{name: "result capacity", key: "harvest.result_capacity", value: -1, errMsg: "harvest.result_capacity"},
		{name: "image workers", key: "images.workers", value: -1, errMsg: "images.workers"},
		{name: "attempts", key: "client.max_attempts", value: 0, errMsg: "client.max_attempts"},
		{name: "log level", key: "log.level", value: "loud", errMsg: "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set("owner", "slowed")
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateAPI(t *testing.T) {
	v := New()
	v.Set("owner", "slowed")
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.ErrorContains(t, cfg.ValidateAPI(), "api.path")

	cfg.API.Path = "/medias"
	cfg.API.BaseURL = "vsco.co"
	assert.ErrorContains(t, cfg.ValidateAPI(), "absolute URL")

	cfg.API.BaseURL = "https://vsco.co"
	assert.NoError(t, cfg.ValidateAPI())
}
