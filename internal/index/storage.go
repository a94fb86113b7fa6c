package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/dcarpintero/llamaindexchat/internal/logger"
)

const (
	dbFile       = "index.gob.gz"
	manifestFile = "manifest.json"
)

// Manifest describes how a persisted index was built.
type Manifest struct {
	EmbedModel   string    `json:"embed_model"`
	Dimensions   int       `json:"dimensions"`
	ChunkSize    int       `json:"chunk_size"`
	ChunkOverlap int       `json:"chunk_overlap"`
	Documents    int       `json:"documents"`
	Chunks       int       `json:"chunks"`
	CreatedAt    time.Time `json:"created_at"`
}

// Persist writes the index to dir, replacing whatever was there. The files are
// written to a sibling staging directory first so a failed write leaves the
// previous index untouched.
func (i *Index) Persist(dir string) error {
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	staging, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)
	// MkdirTemp creates 0700
	if err := os.Chmod(staging, 0o755); err != nil {
		return fmt.Errorf("chmod staging directory: %w", err)
	}

	if err := i.db.ExportToFile(filepath.Join(staging, dbFile), true, "", collectionName); err != nil {
		return fmt.Errorf("export collection: %w", err)
	}
	if err := saveManifest(filepath.Join(staging, manifestFile), i.manifest); err != nil {
		return err
	}

	backup := staging + ".old"
	hadPrevious := false
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, backup); err != nil {
			return fmt.Errorf("move previous index aside: %w", err)
		}
		hadPrevious = true
	}
	if err := os.Rename(staging, dir); err != nil {
		if hadPrevious {
			_ = os.Rename(backup, dir)
		}
		return fmt.Errorf("install index: %w", err)
	}
	if hadPrevious {
		_ = os.RemoveAll(backup)
	}

	logger.Info("persisted index", "dir", dir, "chunks", i.manifest.Chunks)
	return nil
}

// Load reads an index persisted by Persist. When embedModel is set it must
// match the model the index was built with.
func Load(dir, embedModel string) (*Index, error) {
	m, err := loadManifest(filepath.Join(dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if err != nil {
		return nil, err
	}
	if embedModel != "" && m.EmbedModel != embedModel {
		return nil, fmt.Errorf("%w: built with %q, configured %q", ErrIncompatible, m.EmbedModel, embedModel)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(filepath.Join(dir, dbFile), "", collectionName); err != nil {
		return nil, fmt.Errorf("import collection: %w", err)
	}
	coll := db.GetCollection(collectionName, nil)
	if coll == nil {
		return nil, fmt.Errorf("index: collection %q missing in %s", collectionName, dir)
	}

	logger.Info("loaded index", "dir", dir, "chunks", coll.Count(), "model", m.EmbedModel)
	return &Index{db: db, coll: coll, manifest: m}, nil
}

func saveManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func loadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
