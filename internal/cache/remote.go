package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// SyncDirection controls which way Sync reconciles the local store against
// the remote bucket.
type SyncDirection int

const (
	// SyncPush uploads local entries missing remotely.
	SyncPush SyncDirection = iota
	// SyncPull downloads remote entries missing locally.
	SyncPull
	// SyncBoth does both, local wins on conflicting content hashes.
	SyncBoth
)

// RemoteConfig describes the S3-backed remote cache tier.
type RemoteConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	ReadOnly bool
}

// RemoteStore is the S3-backed cache tier consulted on a local miss.
type RemoteStore struct {
	cfg    RemoteConfig
	client *s3.Client
}

// NewRemoteStore builds an S3 client from the ambient AWS configuration
// (environment, shared config file, or instance role) and an optional
// custom endpoint for S3-compatible stores.
func NewRemoteStore(ctx context.Context, cfg RemoteConfig) (*RemoteStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cache: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &RemoteStore{cfg: cfg, client: client}, nil
}

func (r *RemoteStore) objectKey(key string) string {
	if r.cfg.Prefix == "" {
		return key
	}
	return r.cfg.Prefix + "/" + key
}

// Fetch downloads the object for key, or reports a miss if it does not
// exist in the bucket.
func (r *RemoteStore) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("cache: s3 read body: %w", err)
	}
	return data, true, nil
}

// Push uploads data under key. It is a no-op returning an error when the
// remote is configured read-only.
func (r *RemoteStore) Push(ctx context.Context, key string, data []byte) error {
	if r.cfg.ReadOnly {
		return fmt.Errorf("cache: remote store is read-only")
	}
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(r.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("cache: s3 put: %w", err)
	}
	return nil
}

// Exists reports whether key is present remotely without downloading it.
func (r *RemoteStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("cache: s3 head: %w", err)
	}
	return true, nil
}

// Sync reconciles the local store against the remote bucket for the given
// keys, per direction. Under SyncBoth, a key present on both sides is
// resolved by comparing content hashes: matching hashes need no action,
// and on a mismatch the local copy is pushed, overwriting the remote
// object (local wins).
func (r *RemoteStore) Sync(ctx context.Context, local *Store, keys []string, dir SyncDirection) (pushed, pulled int, err error) {
	for _, key := range keys {
		entry, hasLocal := local.Get(key)

		if dir == SyncPush || dir == SyncBoth {
			if hasLocal {
				existsRemote, err := r.Exists(ctx, key)
				if err != nil {
					return pushed, pulled, err
				}
				if !existsRemote {
					data, ok := local.GetBytes(key)
					if ok {
						if err := r.Push(ctx, key, data); err != nil {
							return pushed, pulled, err
						}
						pushed++
					}
				} else if dir == SyncBoth {
					remoteData, found, err := r.Fetch(ctx, key)
					if err != nil {
						return pushed, pulled, err
					}
					remoteSum := sha256.Sum256(remoteData)
					if found && hex.EncodeToString(remoteSum[:]) != entry.ContentHash {
						data, ok := local.GetBytes(key)
						if ok {
							if err := r.Push(ctx, key, data); err != nil {
								return pushed, pulled, err
							}
							pushed++
						}
					}
				}
			}
		}

		if dir == SyncPull || dir == SyncBoth {
			if !hasLocal {
				data, found, err := r.Fetch(ctx, key)
				if err != nil {
					return pushed, pulled, err
				}
				if found {
					if _, err := local.Put(key, "unknown", data, "", "remote-sync"); err != nil {
						return pushed, pulled, err
					}
					pulled++
				}
			}
		}
	}
	return pushed, pulled, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
