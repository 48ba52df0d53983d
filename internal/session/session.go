// Package session holds the bounded-lifetime state of one matching run.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openbid/pricematch/internal/match"
	"github.com/openbid/pricematch/internal/models"
	"github.com/openbid/pricematch/internal/similarity"
)

// ErrSessionNotFound reports an unknown or evicted session. The caller must
// restart the run from extraction; the store performs no silent resurrection.
var ErrSessionNotFound = errors.New("session not found")

// Session is the intermediate state of one matching run. Mutated only by the
// owning run; destroyed on handoff or TTL expiry, whichever comes first.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
	WFItems   []models.DescriptionItem
	RefItems  []models.CatalogEntry
	Matrix    *similarity.Matrix
	Results   []match.Result
}

// Store persists per-run state keyed by session ID. Writes under the same
// session ID are serialized; sessions are isolated from each other, so no
// locking is needed across different IDs.
type Store interface {
	Create(ctx context.Context, wf []models.DescriptionItem, ref []models.CatalogEntry) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	PutMatrix(ctx context.Context, id uuid.UUID, m *similarity.Matrix) error
	PutResults(ctx context.Context, id uuid.UUID, results []match.Result) error
	Expire(ctx context.Context, id uuid.UUID) error
	Close() error
}
