package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/anchoring"
	anchorbadger "github.com/marmos91/dittodsu/pkg/anchoring/badger"
	anchorleveldb "github.com/marmos91/dittodsu/pkg/anchoring/leveldb"
	anchormemory "github.com/marmos91/dittodsu/pkg/anchoring/memory"
	anchorremote "github.com/marmos91/dittodsu/pkg/anchoring/remote"
	"github.com/marmos91/dittodsu/pkg/bricks"
	"github.com/marmos91/dittodsu/pkg/store/object"
	objectfs "github.com/marmos91/dittodsu/pkg/store/object/fs"
	objectmemory "github.com/marmos91/dittodsu/pkg/store/object/memory"
	objects3 "github.com/marmos91/dittodsu/pkg/store/object/s3"
	"github.com/marmos91/dittodsu/pkg/transport"
	"github.com/marmos91/dittodsu/pkg/versionless"
	"github.com/mitchellh/mapstructure"
)

// RemoteDeps carries what remote backends need to reach a domain.
type RemoteDeps struct {
	Directory transport.Directory
	Client    *transport.Client
}

// ============================================================================
// Object stores
// ============================================================================

// CreateObjectStore creates the object store behind a bricks or versionless
// section.
//
// Supported types:
//   - "memory": ephemeral in-process storage
//   - "filesystem": pkg/store/object/fs (atomic file writes)
//   - "s3": pkg/store/object/s3 (Amazon S3 or compatible storage)
//
// The "remote" type has no object store; use CreateBrickStore or
// CreateBlobStore instead.
func CreateObjectStore(ctx context.Context, cfg *StoreConfig) (object.Store, error) {
	switch cfg.Type {
	case "memory":
		return objectmemory.New(), nil
	case "filesystem":
		return createFilesystemObjectStore(ctx, cfg.Filesystem)
	case "s3":
		return createS3ObjectStore(ctx, cfg.S3)
	case "remote":
		return nil, fmt.Errorf("remote stores have no local object store")
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

// createFilesystemObjectStore creates a filesystem-based object store.
func createFilesystemObjectStore(ctx context.Context, options map[string]any) (object.Store, error) {
	type FilesystemStoreConfig struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg FilesystemStoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem store config: %w", err)
	}

	if storeCfg.Path == "" {
		return nil, fmt.Errorf("filesystem store: path is required")
	}

	store, err := objectfs.New(ctx, storeCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem store: %w", err)
	}

	return store, nil
}

// createS3ObjectStore creates an S3-based object store.
func createS3ObjectStore(ctx context.Context, options map[string]any) (object.Store, error) {
	type S3StoreConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
		SkipBucketCheck bool   `mapstructure:"skip_bucket_check"`
	}

	var storeCfg S3StoreConfig
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 store config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 store: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(storeCfg.Region))

	// Static credentials if provided, otherwise the default credential chain
	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			storeCfg.AccessKeyID,
			storeCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := storeCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Object Store
	// ========================================================================

	store, err := objects3.New(ctx, objects3.Config{
		Client:          client,
		Bucket:          storeCfg.Bucket,
		KeyPrefix:       storeCfg.KeyPrefix,
		SkipBucketCheck: storeCfg.SkipBucketCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 store: %w", err)
	}

	logger.Info("S3 store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// ============================================================================
// Bricks and versionless blobs
// ============================================================================

// CreateBrickStore creates the brick store for cfg. Local types are backed
// by an instrumented object store named "bricks".
func CreateBrickStore(ctx context.Context, cfg *StoreConfig, remote RemoteDeps, metrics object.Metrics) (bricks.Store, error) {
	if cfg.Type == "remote" {
		return bricks.NewRemote(remote.Directory, remote.Client), nil
	}
	store, err := CreateObjectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("bricks: %w", err)
	}
	return bricks.NewLocal(object.Instrument(store, "bricks", metrics)), nil
}

// CreateBlobStore creates the versionless blob store for cfg. Local types are
// backed by an instrumented object store named "versionless".
func CreateBlobStore(ctx context.Context, cfg *StoreConfig, remote RemoteDeps, metrics object.Metrics) (versionless.Store, error) {
	if cfg.Type == "remote" {
		return versionless.NewRemote(remote.Directory, remote.Client), nil
	}
	store, err := CreateObjectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("versionless: %w", err)
	}
	return versionless.NewLocal(object.Instrument(store, "versionless", metrics)), nil
}

// ============================================================================
// Anchoring
// ============================================================================

// CreateAnchoringPersistence creates the anchoring persistence based on
// configuration.
//
// Supported types:
//   - "memory": pkg/anchoring/memory (ephemeral)
//   - "badger": pkg/anchoring/badger (BadgerDB, persistent)
//   - "leveldb": pkg/anchoring/leveldb (LevelDB, persistent)
//   - "remote": pkg/anchoring/remote (anchoring endpoints of each domain)
//
// Persistent backends implement io.Closer and must be closed by the caller.
func CreateAnchoringPersistence(ctx context.Context, cfg *AnchoringConfig, remote RemoteDeps) (anchoring.Persistence, error) {
	switch cfg.Type {
	case "memory":
		return anchormemory.New(), nil
	case "badger":
		return createBadgerPersistence(ctx, cfg.Badger)
	case "leveldb":
		return createLevelDBPersistence(ctx, cfg.LevelDB)
	case "remote":
		return anchorremote.New(remote.Directory, remote.Client), nil
	default:
		return nil, fmt.Errorf("unknown anchoring type: %q (supported: memory, badger, leveldb, remote)", cfg.Type)
	}
}

// createBadgerPersistence creates a BadgerDB-based anchoring persistence.
func createBadgerPersistence(ctx context.Context, options map[string]any) (anchoring.Persistence, error) {
	type BadgerOptions struct {
		DBPath           string `mapstructure:"db_path"`
		InMemory         bool   `mapstructure:"in_memory"`
		BlockCacheSizeMB int64  `mapstructure:"block_cache_mb"`
		IndexCacheSizeMB int64  `mapstructure:"index_cache_mb"`
	}

	var opts BadgerOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger anchoring options: %w", err)
	}

	if opts.DBPath == "" && !opts.InMemory {
		return nil, fmt.Errorf("badger anchoring: db_path is required")
	}

	p, err := anchorbadger.New(ctx, anchorbadger.Config{
		DBPath:           opts.DBPath,
		InMemory:         opts.InMemory,
		BlockCacheSizeMB: opts.BlockCacheSizeMB,
		IndexCacheSizeMB: opts.IndexCacheSizeMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger anchoring persistence: %w", err)
	}
	return p, nil
}

// createLevelDBPersistence creates a LevelDB-based anchoring persistence.
func createLevelDBPersistence(ctx context.Context, options map[string]any) (anchoring.Persistence, error) {
	type LevelDBOptions struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var opts LevelDBOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode leveldb anchoring options: %w", err)
	}

	if opts.Path == "" && !opts.InMemory {
		return nil, fmt.Errorf("leveldb anchoring: path is required")
	}

	p, err := anchorleveldb.New(ctx, anchorleveldb.Config{Path: opts.Path, InMemory: opts.InMemory})
	if err != nil {
		return nil, fmt.Errorf("failed to create leveldb anchoring persistence: %w", err)
	}
	return p, nil
}
