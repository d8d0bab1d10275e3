// Package storage keeps the harvester's durable state on a gocloud.dev/blob
// bucket: the merged record store of an owner, and the directory layout the
// resource cache writes into.
//
// A plain directory is opened with fileblob, which writes each object to a
// temporary file and renames it into place, so readers never observe a
// partially written store or image. Any other location is treated as a
// bucket URL (mem://, s3://, gs://) and opened through the URL mux; the
// matching driver must be linked in with a blank import.
package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// OpenBucket opens a directory or bucket URL.
func OpenBucket(ctx context.Context, location string) (*blob.Bucket, error) {
	if location == "" {
		return nil, fmt.Errorf("storage: empty bucket location")
	}

	if strings.Contains(location, "://") {
		bucket, err := blob.OpenBucket(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("storage: open bucket %s: %w", location, err)
		}
		return bucket, nil
	}

	if err := os.MkdirAll(location, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create directory %s: %w", location, err)
	}
	bucket, err := fileblob.OpenBucket(location, &fileblob.Options{
		CreateDir: true,
		Metadata:  fileblob.MetadataDontWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open directory %s: %w", location, err)
	}
	return bucket, nil
}

// IsNotExist reports whether err means the object does not exist.
func IsNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
