package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"go.spiff.io/caddyfile"
)

// IngestSummary describes the result of an ingest.
type IngestSummary struct {
	Config   Config
	ImportID string
	// Hash is the hex-encoded SHA-256 of the ingested source.
	Hash string
	// Blocks holds a summary of each block's labels, such as "a.com, b.com" or
	// "(global options)".
	Blocks []string
	// Sites is the total number of site labels.
	Sites int
	// Imports holds the arguments of each import directive, such as "./common" or
	// "snip arg", in source order. Imports are not followed.
	Imports  []string
	Degraded []*caddyfile.Degradation
}

// Ingest parses src and replaces the stored rows of the named config with it, creating the
// config if it does not exist. Lex and structural errors are returned as is and leave the
// stored config untouched.
func (s *Store) Ingest(ctx context.Context, name, path string, src []byte) (*IngestSummary, error) {
	f, err := caddyfile.Parse(path, src)
	if err != nil {
		return nil, err
	}
	return s.ingest(ctx, name, path, f, src)
}

// IngestFile replaces the stored rows of the named config with an already parsed file.
func (s *Store) IngestFile(ctx context.Context, name, path string, f *caddyfile.File) (*IngestSummary, error) {
	return s.ingest(ctx, name, path, f, []byte(f.String()))
}

func (s *Store) ingest(ctx context.Context, name, path string, f *caddyfile.File, src []byte) (*IngestSummary, error) {
	if name == "" {
		return nil, &MappingError{Config: name, Err: xerrors.Errorf("config name is empty: %w", ErrInvalidArg)}
	}

	rows := blockRows(f)
	if err := checkRows(rows); err != nil {
		return nil, &MappingError{Config: name, Err: err}
	}

	sum := sha256.Sum256(src)
	summary := &IngestSummary{
		ImportID: uuid.NewString(),
		Hash:     hex.EncodeToString(sum[:]),
		Blocks:   make([]string, len(f.Blocks)),
		Degraded: f.Degraded,
	}
	for i, blk := range f.Blocks {
		summary.Blocks[i] = blk.Summary()
		summary.Sites += len(blk.Sites)
	}
	for _, d := range caddyfile.Imports(f) {
		summary.Imports = append(summary.Imports, strings.Join(d.ArgValues(), " "))
	}

	log := s.logger.With("config", name, "import", summary.ImportID)
	for _, d := range f.Degraded {
		log.Warn("Kept part of the file as raw text", "what", d.What, "loc", d.Loc.String(), "error", d.Err)
	}

	defer s.locks.lock(name)()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := findOrCreateConfig(tx, name, path)
		if err != nil {
			return err
		}

		if err := tx.Where("config_id = ?", cfg.ID).Delete(&ServerBlock{}).Error; err != nil {
			return xerrors.Errorf("delete blocks: %w", err)
		}
		for i := range rows {
			rows[i].ConfigID = cfg.ID
		}
		if err := tx.Create(&rows).Error; err != nil {
			return xerrors.Errorf("insert blocks: %w", err)
		}

		now := time.Now().UTC()
		err = tx.Model(&Config{}).Where("id = ?", cfg.ID).Updates(map[string]any{
			"path":             path,
			"last_imported_at": now,
			"content_hash":     summary.Hash,
			"last_import_id":   summary.ImportID,
		}).Error
		if err != nil {
			return xerrors.Errorf("update config: %w", err)
		}
		cfg.Path, cfg.LastImportedAt = path, &now
		cfg.ContentHash, cfg.LastImportID = summary.Hash, summary.ImportID
		summary.Config = *cfg
		return nil
	})
	if err != nil {
		return nil, &MappingError{Config: name, Err: err}
	}

	log.Debug("Ingested config", "blocks", len(f.Blocks), "sites", summary.Sites, "imports", len(summary.Imports), "hash", summary.Hash)
	return summary, nil
}

func findOrCreateConfig(tx *gorm.DB, name, path string) (*Config, error) {
	var cfg Config
	err := tx.Where("name = ?", name).Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = Config{Name: name, Path: path}
		err = tx.Create(&cfg).Error
	}
	if err != nil {
		return nil, xerrors.Errorf("config %s: %w", name, err)
	}
	return &cfg, nil
}
