package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge/internal/types"
)

var (
	// ErrNotFound is returned when an asset does not exist.
	ErrNotFound = errors.New("asset not found")
	// ErrPayloadTooLarge is returned when an asset exceeds the size limit.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// AssetStore persists binary assets on disk with metadata in SQLite.
// Stored bytes are immutable: Put always allocates a new id and writes
// through a temp file so partial writes are never visible to Get.
type AssetStore struct {
	dir      string
	db       *sql.DB
	maxBytes int64
}

// PutOptions carries caller-supplied metadata for a new asset.
type PutOptions struct {
	OriginalName string
	ContentType  string
	// DeclaredSize is the content length claimed by the client, or 0 if
	// unknown. Oversized declarations are rejected before any bytes are read.
	DeclaredSize int64
	Kind         string
}

// NewAssetStore creates an asset store rooted at dir.
func NewAssetStore(dir string, db *sql.DB, maxBytes int64) (*AssetStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "staging"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}
	return &AssetStore{dir: dir, db: db, maxBytes: maxBytes}, nil
}

// Put stores the bytes from r as a new immutable asset.
func (s *AssetStore) Put(r io.Reader, opts PutOptions) (types.Asset, error) {
	if s.maxBytes > 0 && opts.DeclaredSize > s.maxBytes {
		return types.Asset{}, ErrPayloadTooLarge
	}

	id := uuid.New().String()
	ext := strings.ToLower(filepath.Ext(opts.OriginalName))
	storedName := id + ext
	finalPath := filepath.Join(s.dir, storedName)

	tmp, err := os.CreateTemp(filepath.Join(s.dir, "staging"), "put-*")
	if err != nil {
		return types.Asset{}, fmt.Errorf("failed to stage asset: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	// Copy with a hard cap: the declared length may lie.
	limit := io.Reader(r)
	if s.maxBytes > 0 {
		limit = io.LimitReader(r, s.maxBytes+1)
	}
	written, err := io.Copy(tmp, limit)
	if err != nil {
		tmp.Close()
		return types.Asset{}, fmt.Errorf("failed to write asset: %w", err)
	}
	if s.maxBytes > 0 && written > s.maxBytes {
		tmp.Close()
		return types.Asset{}, ErrPayloadTooLarge
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return types.Asset{}, fmt.Errorf("failed to sync asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return types.Asset{}, fmt.Errorf("failed to close staged asset: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return types.Asset{}, fmt.Errorf("failed to finalize asset: %w", err)
	}

	asset := types.Asset{
		ID:           id,
		StoredName:   storedName,
		OriginalName: opts.OriginalName,
		SizeBytes:    written,
		ContentType:  normalizeContentType(opts.ContentType, storedName),
		StoragePath:  finalPath,
		Kind:         opts.Kind,
		CreatedAt:    time.Now().UTC(),
	}
	if asset.Kind == "" {
		asset.Kind = types.AssetKindUpload
	}

	_, err = s.db.Exec(
		`INSERT INTO assets (id, stored_name, original_name, size_bytes, content_type, storage_path, kind, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ID, asset.StoredName, asset.OriginalName, asset.SizeBytes,
		asset.ContentType, asset.StoragePath, asset.Kind, asset.CreatedAt,
	)
	if err != nil {
		os.Remove(finalPath)
		return types.Asset{}, fmt.Errorf("failed to save asset metadata: %w", err)
	}

	return asset, nil
}

// Get returns the metadata for an asset.
func (s *AssetStore) Get(id string) (types.Asset, error) {
	return s.scanOne(`SELECT id, stored_name, original_name, size_bytes, content_type, storage_path, kind, created_at
		FROM assets WHERE id = ?`, id)
}

// ByStoredName looks an asset up by its on-disk filename.
func (s *AssetStore) ByStoredName(name string) (types.Asset, error) {
	return s.scanOne(`SELECT id, stored_name, original_name, size_bytes, content_type, storage_path, kind, created_at
		FROM assets WHERE stored_name = ?`, name)
}

// Open returns a reader over the asset's bytes along with its metadata.
func (s *AssetStore) Open(id string) (io.ReadCloser, types.Asset, error) {
	asset, err := s.Get(id)
	if err != nil {
		return nil, types.Asset{}, err
	}
	f, err := os.Open(asset.StoragePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.Asset{}, ErrNotFound
		}
		return nil, types.Asset{}, fmt.Errorf("failed to open asset: %w", err)
	}
	return f, asset, nil
}

// URLFor returns the serving path for an asset.
func (s *AssetStore) URLFor(asset types.Asset) string {
	return "/uploads/" + asset.StoredName
}

// Delete removes an asset's bytes and metadata.
func (s *AssetStore) Delete(id string) error {
	asset, err := s.Get(id)
	if err != nil {
		return err
	}
	if err := os.Remove(asset.StoragePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete asset file: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM assets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete asset metadata: %w", err)
	}
	return nil
}

// ListOlderThan returns assets created before the cutoff.
func (s *AssetStore) ListOlderThan(cutoff time.Time) ([]types.Asset, error) {
	rows, err := s.db.Query(
		`SELECT id, stored_name, original_name, size_bytes, content_type, storage_path, kind, created_at
		 FROM assets WHERE created_at < ? ORDER BY created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []types.Asset
	for rows.Next() {
		var a types.Asset
		if err := rows.Scan(&a.ID, &a.StoredName, &a.OriginalName, &a.SizeBytes,
			&a.ContentType, &a.StoragePath, &a.Kind, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// StagingDir returns the temp directory used for in-flight writes.
func (s *AssetStore) StagingDir() string {
	return filepath.Join(s.dir, "staging")
}

func (s *AssetStore) scanOne(query string, arg any) (types.Asset, error) {
	var a types.Asset
	err := s.db.QueryRow(query, arg).Scan(&a.ID, &a.StoredName, &a.OriginalName,
		&a.SizeBytes, &a.ContentType, &a.StoragePath, &a.Kind, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Asset{}, ErrNotFound
	}
	if err != nil {
		return types.Asset{}, fmt.Errorf("failed to get asset: %w", err)
	}
	return a, nil
}

func normalizeContentType(declared, storedName string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(storedName)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
