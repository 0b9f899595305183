/*Package kss stores binary file content outside of the database.

There are currently two possible drivers: a local filesystem and AWS S3.
Keys are opaque slash-separated names; the files service maps its group and
file name structure onto them.
*/
package kss

import (
	"context"
	"errors"
)

// ErrNoSuchKey is returned by Get when the key does not exist.
var ErrNoSuchKey = errors.New("no such key")

// Driver is the interface for the key storage service
type Driver interface {
	// Put stores data under key, overwriting any previous content.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the content stored under key, or ErrNoSuchKey.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the key. Deleting an unknown key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteAllWithPrefix removes all keys starting with prefix.
	DeleteAllWithPrefix(ctx context.Context, prefix string) error
}

// DriverType represents the different types of drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when there is no file storage
const None DriverType = ""

// Configuration contains the configuration for the file storage service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem
// driver
type LocalConfiguration struct {
	BasePath string
}

// S3Configuration contains the configuration for the AWS S3 driver
type S3Configuration struct {
	AccessID      string
	AccessKey     string
	AWSRegion     string
	AWSBucketName string
	KeyPrefix     string
}
