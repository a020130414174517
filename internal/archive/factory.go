package archive

import (
	"context"
	"fmt"
)

// Options carries the backend-specific settings for Open.
type Options struct {
	// Root is the directory for the filesystem driver.
	Root string
	// Bucket, Region, Endpoint, PathStyle configure the s3 driver.
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// Open selects an archive backend by driver name.
func Open(ctx context.Context, driver Driver, opts Options) (Store, error) {
	switch driver {
	case DriverFilesystem, "":
		return NewFilesystem(opts.Root)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Region:    opts.Region,
			Bucket:    opts.Bucket,
			Endpoint:  opts.Endpoint,
			PathStyle: opts.PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
}
