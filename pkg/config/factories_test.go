package config

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/marmos91/dittodsu/pkg/bricks"
	"github.com/marmos91/dittodsu/pkg/transport"
	"github.com/marmos91/dittodsu/pkg/versionless"
)

func TestCreateObjectStore_Filesystem(t *testing.T) {
	ctx := context.Background()
	cfg := &StoreConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": t.TempDir()},
	}

	store, err := CreateObjectStore(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create filesystem store: %v", err)
	}
	if err := store.Put(ctx, "a/b", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
}

func TestCreateObjectStore_FilesystemMissingPath(t *testing.T) {
	cfg := &StoreConfig{Type: "filesystem", Filesystem: map[string]any{}}

	_, err := CreateObjectStore(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}
}

func TestCreateObjectStore_S3MissingBucket(t *testing.T) {
	cfg := &StoreConfig{Type: "s3", S3: map[string]any{"region": "eu-west-1"}}

	_, err := CreateObjectStore(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket is required") {
		t.Errorf("Expected 'bucket is required' error, got: %v", err)
	}
}

func TestCreateObjectStore_UnknownType(t *testing.T) {
	_, err := CreateObjectStore(context.Background(), &StoreConfig{Type: "tape"})
	if err == nil {
		t.Fatal("Expected error for unknown store type")
	}
	if !strings.Contains(err.Error(), "unknown store type") {
		t.Errorf("Expected 'unknown store type' error, got: %v", err)
	}
}

func TestCreateBrickAndBlobStores(t *testing.T) {
	ctx := context.Background()
	remote := RemoteDeps{
		Directory: transport.NewStaticDirectory(),
		Client:    transport.NewClient(transport.Config{}, nil),
	}

	local, err := CreateBrickStore(ctx, &StoreConfig{Type: "memory"}, remote, nil)
	if err != nil {
		t.Fatalf("Failed to create memory brick store: %v", err)
	}
	if _, ok := local.(*bricks.Local); !ok {
		t.Errorf("Expected *bricks.Local, got %T", local)
	}

	remoteBricks, err := CreateBrickStore(ctx, &StoreConfig{Type: "remote"}, remote, nil)
	if err != nil {
		t.Fatalf("Failed to create remote brick store: %v", err)
	}
	if _, ok := remoteBricks.(*bricks.Remote); !ok {
		t.Errorf("Expected *bricks.Remote, got %T", remoteBricks)
	}

	blobs, err := CreateBlobStore(ctx, &StoreConfig{Type: "remote"}, remote, nil)
	if err != nil {
		t.Fatalf("Failed to create remote blob store: %v", err)
	}
	if _, ok := blobs.(*versionless.Remote); !ok {
		t.Errorf("Expected *versionless.Remote, got %T", blobs)
	}
}

func TestCreateAnchoringPersistence(t *testing.T) {
	ctx := context.Background()
	remote := RemoteDeps{
		Directory: transport.NewStaticDirectory(),
		Client:    transport.NewClient(transport.Config{}, nil),
	}

	tests := []struct {
		name    string
		cfg     AnchoringConfig
		closes  bool
		wantErr string
	}{
		{name: "memory", cfg: AnchoringConfig{Type: "memory"}},
		{name: "remote", cfg: AnchoringConfig{Type: "remote"}},
		{name: "badger", cfg: AnchoringConfig{Type: "badger", Badger: map[string]any{"db_path": t.TempDir()}}, closes: true},
		{name: "leveldb", cfg: AnchoringConfig{Type: "leveldb", LevelDB: map[string]any{"path": t.TempDir()}}, closes: true},
		{name: "badger without path", cfg: AnchoringConfig{Type: "badger"}, wantErr: "db_path is required"},
		{name: "leveldb without path", cfg: AnchoringConfig{Type: "leveldb"}, wantErr: "path is required"},
		{name: "unknown", cfg: AnchoringConfig{Type: "etcd"}, wantErr: "unknown anchoring type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CreateAnchoringPersistence(ctx, &tt.cfg, remote)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got: %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to create persistence: %v", err)
			}

			closer, ok := p.(io.Closer)
			if ok != tt.closes {
				t.Errorf("Expected io.Closer=%v, got %v", tt.closes, ok)
			}
			if ok {
				if err := closer.Close(); err != nil {
					t.Errorf("Close failed: %v", err)
				}
			}
		})
	}
}
