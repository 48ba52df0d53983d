package session

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/openbid/pricematch/internal/match"
	"github.com/openbid/pricematch/internal/models"
	"github.com/openbid/pricematch/internal/similarity"
)

// SQLiteStore persists sessions in SQLite, surviving process restarts within
// the TTL. Embeddings are stored as little-endian float32 blobs, the matrix
// in its binary encoding. SQLite's single-writer transaction model gives the
// per-session write serialization the contract requires.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteClock overrides the time source, for expiry tests.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore initializes the session schema on db. The db handle is
// shared with other repositories and not closed by this store's Close.
func NewSQLiteStore(db *sql.DB, ttl time.Duration, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		matrix BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS wf_descriptions (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		row_index INTEGER NOT NULL,
		raw_text TEXT NOT NULL,
		normalized_text TEXT,
		embedding BLOB,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS ref_descriptions (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		row_index INTEGER NOT NULL,
		raw_text TEXT NOT NULL,
		normalized_text TEXT,
		embedding BLOB,
		unit_price REAL NOT NULL,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS match_results (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		wf_row_index INTEGER NOT NULL,
		ref_row_index INTEGER,
		score REAL,
		assigned_price REAL,
		status TEXT NOT NULL,
		reason TEXT,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create registers a new session and bulk-inserts both description sets.
func (s *SQLiteStore) Create(ctx context.Context, wf []models.DescriptionItem, ref []models.CatalogEntry) (uuid.UUID, error) {
	id := uuid.New()
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, expires_at) VALUES (?, ?, ?)`,
		id.String(), now, now.Add(s.ttl))
	if err != nil {
		return uuid.Nil, err
	}

	wfStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO wf_descriptions (session_id, seq, row_index, raw_text, normalized_text, embedding)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uuid.Nil, err
	}
	defer wfStmt.Close()
	for i, item := range wf {
		if _, err := wfStmt.ExecContext(ctx, id.String(), i, item.RowIndex, item.RawText,
			item.NormalizedText, encodeVector(item.Embedding)); err != nil {
			return uuid.Nil, err
		}
	}

	refStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ref_descriptions (session_id, seq, row_index, raw_text, normalized_text, embedding, unit_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uuid.Nil, err
	}
	defer refStmt.Close()
	for i, entry := range ref {
		if _, err := refStmt.ExecContext(ctx, id.String(), i, entry.RowIndex, entry.RawText,
			entry.NormalizedText, encodeVector(entry.Embedding), entry.UnitPrice); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Get loads the full session. Expired sessions are deleted on sight and
// reported as ErrSessionNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess := &Session{ID: id}
	var matrixBlob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, expires_at, matrix FROM sessions WHERE id = ?`, id.String(),
	).Scan(&sess.CreatedAt, &sess.ExpiresAt, &matrixBlob)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.now().After(sess.ExpiresAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
		return nil, ErrSessionNotFound
	}
	if len(matrixBlob) > 0 {
		m, err := similarity.UnmarshalMatrix(matrixBlob)
		if err != nil {
			return nil, fmt.Errorf("decode matrix: %w", err)
		}
		sess.Matrix = m
	}

	if sess.WFItems, err = s.loadWFItems(ctx, id); err != nil {
		return nil, err
	}
	if sess.RefItems, err = s.loadRefItems(ctx, id); err != nil {
		return nil, err
	}
	if sess.Results, err = s.loadResults(ctx, id); err != nil {
		return nil, err
	}
	return sess, nil
}

// PutMatrix stores the similarity matrix for the session. A nil matrix
// clears the stored one.
func (s *SQLiteStore) PutMatrix(ctx context.Context, id uuid.UUID, m *similarity.Matrix) error {
	var blob []byte
	if m != nil {
		var err error
		blob, err = m.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode matrix: %w", err)
		}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET matrix = ? WHERE id = ? AND expires_at > ?`,
		blob, id.String(), s.now())
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// PutResults replaces the session's match results atomically, so a retried
// run never leaves two divergent result sets.
func (s *SQLiteStore) PutResults(ctx context.Context, id uuid.UUID, results []match.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var expiresAt time.Time
	err = tx.QueryRowContext(ctx, `SELECT expires_at FROM sessions WHERE id = ?`, id.String()).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	if s.now().After(expiresAt) {
		return ErrSessionNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_results WHERE session_id = ?`, id.String()); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO match_results (session_id, seq, wf_row_index, ref_row_index, score, assigned_price, status, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range results {
		if _, err := stmt.ExecContext(ctx, id.String(), i, r.WFRowIndex,
			nullableInt(r.RefRowIndex), nullableFloat(r.Score), nullableFloat(r.AssignedPrice),
			string(r.Status), r.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Expire removes the session and its dependents immediately.
func (s *SQLiteStore) Expire(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String())
	return err
}

// Close is a no-op; the shared db handle is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

// Cleanup deletes all expired sessions. Called periodically by the server.
func (s *SQLiteStore) Cleanup(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountSessions returns the number of live sessions.
func (s *SQLiteStore) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE expires_at > ?`, s.now()).Scan(&n)
	return n, err
}

func (s *SQLiteStore) loadWFItems(ctx context.Context, id uuid.UUID) ([]models.DescriptionItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, raw_text, normalized_text, embedding
		 FROM wf_descriptions WHERE session_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.DescriptionItem
	for rows.Next() {
		var item models.DescriptionItem
		var blob []byte
		if err := rows.Scan(&item.RowIndex, &item.RawText, &item.NormalizedText, &blob); err != nil {
			return nil, err
		}
		item.Embedding = decodeVector(blob)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) loadRefItems(ctx context.Context, id uuid.UUID) ([]models.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, raw_text, normalized_text, embedding, unit_price
		 FROM ref_descriptions WHERE session_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []models.CatalogEntry
	for rows.Next() {
		var entry models.CatalogEntry
		var blob []byte
		if err := rows.Scan(&entry.RowIndex, &entry.RawText, &entry.NormalizedText, &blob, &entry.UnitPrice); err != nil {
			return nil, err
		}
		entry.Embedding = decodeVector(blob)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) loadResults(ctx context.Context, id uuid.UUID) ([]match.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT wf_row_index, ref_row_index, score, assigned_price, status, reason
		 FROM match_results WHERE session_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []match.Result
	for rows.Next() {
		var r match.Result
		var refIdx sql.NullInt64
		var score, price sql.NullFloat64
		var status string
		if err := rows.Scan(&r.WFRowIndex, &refIdx, &score, &price, &status, &r.Reason); err != nil {
			return nil, err
		}
		r.Status = match.Status(status)
		if refIdx.Valid {
			v := int(refIdx.Int64)
			r.RefRowIndex = &v
		}
		if score.Valid {
			v := score.Float64
			r.Score = &v
		}
		if price.Valid {
			v := price.Float64
			r.AssignedPrice = &v
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// encodeVector packs a float32 vector into a little-endian blob; nil stays nil.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a blob written by encodeVector.
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func nullableInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
