// Package files manages uploaded spreadsheets: validation, storage on disk,
// and metadata in SQLite.
package files

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidFile indicates the upload is not a readable .xlsx workbook.
	ErrInvalidFile = errors.New("invalid file: expected an .xlsx workbook")
	// ErrFileNotFound indicates no stored file exists for the given ID.
	ErrFileNotFound = errors.New("file not found")
)

// Kind distinguishes the two roles a spreadsheet plays in a comparison.
type Kind string

const (
	KindWorking   Kind = "wf"
	KindReference Kind = "ref"
)

func (k Kind) valid() bool {
	return k == KindWorking || k == KindReference
}

// xlsx files are ZIP containers; the first four bytes are the ZIP local
// file header magic.
var zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// StoredFile is the metadata record for an uploaded spreadsheet.
type StoredFile struct {
	ID           uuid.UUID `json:"id"`
	Kind         Kind      `json:"kind"`
	OriginalName string    `json:"original_name"`
	Path         string    `json:"-"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Manager stores uploaded spreadsheets under uploadDir/<kind>/ and tracks
// them in the shared SQLite database.
type Manager struct {
	db        *sql.DB
	uploadDir string
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager prepares the upload directories and metadata schema.
func NewManager(db *sql.DB, uploadDir string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{db: db, uploadDir: uploadDir, logger: logger, now: time.Now}
	for _, kind := range []Kind{KindWorking, KindReference} {
		if err := os.MkdirAll(m.kindDir(kind), 0755); err != nil {
			return nil, fmt.Errorf("failed to create upload directory: %w", err)
		}
	}
	if err := m.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize file schema: %w", err)
	}
	return m, nil
}

func (m *Manager) initSchema() error {
	_, err := m.db.Exec(`
	CREATE TABLE IF NOT EXISTS uploaded_files (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		original_name TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		uploaded_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_uploaded_files_kind ON uploaded_files(kind);
	`)
	return err
}

func (m *Manager) kindDir(kind Kind) string {
	return filepath.Join(m.uploadDir, string(kind))
}

// Save validates and stores an uploaded spreadsheet. The stored filename is
// timestamped so repeated uploads of the same workbook never collide.
func (m *Manager) Save(ctx context.Context, kind Kind, originalName string, r io.Reader) (*StoredFile, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("unknown file kind %q", kind)
	}
	if !strings.EqualFold(filepath.Ext(originalName), ".xlsx") {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidFile, filepath.Base(originalName))
	}

	header := make([]byte, 4)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if n < 4 || !bytes.Equal(header, zipMagic) {
		return nil, fmt.Errorf("%w: not a ZIP container", ErrInvalidFile)
	}

	id := uuid.New()
	now := m.now()
	name := fmt.Sprintf("%s_%s.xlsx", now.Format("20060102T150405"), id.String())
	path := filepath.Join(m.kindDir(kind), name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	written, err := io.Copy(f, io.MultiReader(bytes.NewReader(header), r))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	stored := &StoredFile{
		ID:           id,
		Kind:         kind,
		OriginalName: filepath.Base(originalName),
		Path:         path,
		Size:         written,
		UploadedAt:   now,
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO uploaded_files (id, kind, original_name, path, size, uploaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), string(kind), stored.OriginalName, path, written, now)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	m.logger.Info("file stored",
		zap.String("id", id.String()),
		zap.String("kind", string(kind)),
		zap.String("name", stored.OriginalName),
		zap.Int64("size", written))
	return stored, nil
}

// Ingest registers a spreadsheet already on disk, copying it into the
// managed store. Used by the inbox watcher.
func (m *Manager) Ingest(ctx context.Context, kind Kind, path string) (*StoredFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return m.Save(ctx, kind, filepath.Base(path), f)
}

// Get returns the metadata for a stored file.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*StoredFile, error) {
	var stored StoredFile
	var kind string
	err := m.db.QueryRowContext(ctx,
		`SELECT id, kind, original_name, path, size, uploaded_at FROM uploaded_files WHERE id = ?`,
		id.String(),
	).Scan(&stored.ID, &kind, &stored.OriginalName, &stored.Path, &stored.Size, &stored.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	stored.Kind = Kind(kind)
	return &stored, nil
}

// Locate resolves a file ID to its on-disk path, verifying the file still
// exists.
func (m *Manager) Locate(ctx context.Context, id uuid.UUID) (string, error) {
	stored, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(stored.Path); err != nil {
		return "", fmt.Errorf("%w: stored copy missing", ErrFileNotFound)
	}
	return stored.Path, nil
}

// List returns metadata for all stored files of a kind, newest first.
func (m *Manager) List(ctx context.Context, kind Kind) ([]StoredFile, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, kind, original_name, path, size, uploaded_at FROM uploaded_files
		 WHERE kind = ? ORDER BY uploaded_at DESC`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredFile
	for rows.Next() {
		var stored StoredFile
		var k string
		if err := rows.Scan(&stored.ID, &k, &stored.OriginalName, &stored.Path, &stored.Size, &stored.UploadedAt); err != nil {
			return nil, err
		}
		stored.Kind = Kind(k)
		out = append(out, stored)
	}
	return out, rows.Err()
}

// Delete removes the stored file and its metadata.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	stored, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := os.Remove(stored.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stored file: %w", err)
	}
	_, err = m.db.ExecContext(ctx, `DELETE FROM uploaded_files WHERE id = ?`, id.String())
	return err
}
