package storage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/Sternrassler/grid-harvester/pkg/record"
)

func openMem(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func TestPersister_LoadMissing(t *testing.T) {
	p := NewPersister(openMem(t), StoreKey("slowed"), zerolog.Nop())

	store, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestPersister_LoadCorrupt(t *testing.T) {
	ctx := context.Background()
	bucket := openMem(t)

	tests := []struct {
		name string
		data string
	}{
		{name: "truncated", data: `{"a": {"v": 1}`},
		{name: "not json", data: `hello`},
		{name: "array", data: `[1, 2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, bucket.WriteAll(ctx, "broken.json", []byte(tt.data), nil))

			store, err := NewPersister(bucket, "broken.json", zerolog.Nop()).Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, store.Len())
		})
	}
}

func TestPersister_SaveFreshStore(t *testing.T) {
	ctx := context.Background()
	bucket := openMem(t)
	p := NewPersister(bucket, StoreKey("slowed"), zerolog.Nop())

	store, err := p.Load(ctx)
	require.NoError(t, err)
	store.Merge(record.Batch{Page: 1, Records: []record.Record{
		{Key: "a", Doc: record.Document{"v": 1}},
	}})
	require.NoError(t, p.Save(ctx, store))

	data, err := bucket.ReadAll(ctx, "slowed.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": {"v": 1}}`, string(data))
	assert.Contains(t, string(data), "\n    \"a\": {\n        \"v\": 1\n    }")
}

func TestPersister_RoundTrip(t *testing.T) {
	ctx := context.Background()
	bucket := openMem(t)
	p := NewPersister(bucket, StoreKey("slowed"), zerolog.Nop())

	require.NoError(t, bucket.WriteAll(ctx, "slowed.json", []byte(`{"a": {"v": 1}, "b": {"v": 2}}`), nil))

	store, err := p.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	store.Merge(record.Batch{Records: []record.Record{
		{Key: "b", Doc: record.Document{"v": 3}},
		{Key: "c", Doc: record.Document{"v": 4}},
	}})
	require.NoError(t, p.Save(ctx, store))

	reloaded, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, reloaded.Keys())

	b, _ := reloaded.Get("b")
	v, ok := b.Int("v")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestPersister_KeepsNonObjectValues(t *testing.T) {
	ctx := context.Background()
	bucket := openMem(t)
	p := NewPersister(bucket, StoreKey("slowed"), zerolog.Nop())

	require.NoError(t, bucket.WriteAll(ctx, "slowed.json", []byte(`{"a": {"v": 1}, "b": [1, 2], "c": "x"}`), nil))

	store, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, store.Keys())

	require.NoError(t, p.Save(ctx, store))
	data, err := bucket.ReadAll(ctx, "slowed.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": {"v": 1}, "b": [1, 2], "c": "x"}`, string(data))
}

func TestPersister_SaveNil(t *testing.T) {
	err := NewPersister(openMem(t), "x.json", zerolog.Nop()).Save(context.Background(), nil)
	assert.Error(t, err)
}

func TestOpenBucket_Directory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir() + "/nested/meta"

	bucket, err := OpenBucket(ctx, dir)
	require.NoError(t, err)
	defer bucket.Close()

	require.NoError(t, bucket.WriteAll(ctx, "owner/x.jpg", []byte("data"), nil))
	exists, err := bucket.Exists(ctx, "owner/x.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = bucket.ReadAll(ctx, "missing.json")
	assert.True(t, IsNotExist(err))
}

func TestOpenBucket_URL(t *testing.T) {
	bucket, err := OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	defer bucket.Close()

	_, err = OpenBucket(context.Background(), "")
	assert.Error(t, err)
}
