// exposes a Store interface that is passed to the playout service
package db

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/shunt"
)

type Store interface {
	// event tree
	CreateTree(ctx context.Context, root *model.PlaylistEntry) error
	GetTree(ctx context.Context, id int) (*model.PlaylistEntry, error)
	UpdateEvent(ctx context.Context, e *model.PlaylistEntry) error
	DeleteTree(ctx context.Context, id int) (int, error)
	// CheckSlot reports a scheduling conflict if a top-level event already
	// occupies part of [start, end). CreateTree repeats the check under lock.
	CheckSlot(ctx context.Context, start, end int64) error

	// schedule queries, top-level events only
	ListRange(ctx context.Context, start, end int64) ([]model.PlaylistEntry, error)
	HeldRoot(ctx context.Context) (*model.PlaylistEntry, error)
	Airing(ctx context.Context, at int64) (*model.PlaylistEntry, error)
	Upcoming(ctx context.Context, after int64, limit int) ([]model.PlaylistEntry, error)

	// plugin registry
	UpsertPlugin(ctx context.Context, p model.Plugin) error
	ListPlugins(ctx context.Context) ([]model.Plugin, error)
	GetPlugin(ctx context.Context, name string) (*model.Plugin, error)

	shunt.Store
}

// scheduleLockKey is the advisory lock taken by every transaction that writes
// event triggers or durations.
const scheduleLockKey int64 = 0x706c61796f7574

type pgStore struct {
	db *sqlx.DB
	// serializes writers inside this process before they queue on the advisory lock
	mu sync.Mutex
}

// compile-time check that pgStore implements Store
var _ Store = (*pgStore)(nil)

func NewStore(db *sqlx.DB) Store {
	return &pgStore{db: db}
}
