package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/xerrors"
	"gorm.io/gorm"

	"go.spiff.io/caddyfile"
)

func ordered(column string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB { return db.Order(column) }
}

// loadConfig loads a config and all of its rows, ordered by their ordering columns.
func loadConfig(tx *gorm.DB, name string) (*Config, error) {
	var cfg Config
	err := tx.
		Preload("Blocks", ordered("block_index")).
		Preload("Blocks.Sites", ordered("label_index")).
		Preload("Blocks.Directives", ordered("line_index")).
		Preload("Blocks.Directives.Args", ordered("arg_index")).
		Preload("Blocks.Directives.KeyValues", ordered("kv_index")).
		Preload("Blocks.Fragments", ordered("fragment_index")).
		Where("name = ?", name).
		Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerrors.Errorf("config %s: %w", name, ErrNotFound)
	} else if err != nil {
		return nil, xerrors.Errorf("load config %s: %w", name, err)
	}
	return &cfg, nil
}

// Load reconstructs the file of the named config from its rows. All rows are read in one
// transaction, so a concurrent ingest or edit is seen either entirely or not at all.
func (s *Store) Load(ctx context.Context, name string) (*caddyfile.File, error) {
	var cfg *Config
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
		cfg, err = loadConfig(tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fileFromRows(cfg)
}

// Render returns the text of the named config. Nothing is returned if any row cannot be
// reconstructed.
func (s *Store) Render(ctx context.Context, name string) ([]byte, error) {
	f, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := caddyfile.Format(&buf, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export writes the text of the named config to w and records the time of the export.
func (s *Store) Export(ctx context.Context, name string, w io.Writer) error {
	defer s.locks.lock(name)()

	text, err := s.Render(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(text); err != nil {
		return xerrors.Errorf("export %s: %w", name, err)
	}

	err = s.db.WithContext(ctx).
		Model(&Config{}).
		Where("name = ?", name).
		Update("last_exported_at", time.Now().UTC()).Error
	if err != nil {
		return xerrors.Errorf("export %s: %w", name, err)
	}
	s.logger.Debug("Exported config", "config", name, "bytes", len(text))
	return nil
}

// Config returns the named config without its rows.
func (s *Store) Config(ctx context.Context, name string) (*Config, error) {
	var cfg Config
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerrors.Errorf("config %s: %w", name, ErrNotFound)
	} else if err != nil {
		return nil, xerrors.Errorf("config %s: %w", name, err)
	}
	return &cfg, nil
}

// Configs returns all stored configs, ordered by name, without their rows.
func (s *Store) Configs(ctx context.Context) ([]Config, error) {
	var cfgs []Config
	if err := s.db.WithContext(ctx).Order("name").Find(&cfgs).Error; err != nil {
		return nil, xerrors.Errorf("list configs: %w", err)
	}
	return cfgs, nil
}

// DeleteConfig deletes the named config and all of its rows.
func (s *Store) DeleteConfig(ctx context.Context, name string) error {
	defer s.locks.lock(name)()

	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&Config{})
	if err := res.Error; err != nil {
		return xerrors.Errorf("delete config %s: %w", name, err)
	}
	if res.RowsAffected == 0 {
		return xerrors.Errorf("config %s: %w", name, ErrNotFound)
	}
	s.logger.Debug("Deleted config", "config", name)
	return nil
}
