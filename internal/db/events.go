package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/shunt"
)

const eventColumns = `id, type, trigger, device, devicetype, action, duration, parent, processed, lastupdate, callback, description`

// live excludes soft-deleted events from schedule queries.
const live = `processed <> 0`

const subtreeIDs = `
	WITH RECURSIVE tree AS (
		SELECT id FROM events WHERE id = $1
		UNION ALL
		SELECT e.id FROM events e JOIN tree t ON e.parent = t.id
	)`

type extraRow struct {
	EventID int    `db:"eventid"`
	Key     string `db:"key"`
	Value   string `db:"value"`
}

// inTx runs fn in a transaction holding the schedule lock.
func (s *pgStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, scheduleLockKey); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("schedule lock: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CreateTree inserts root and its descendants in one transaction, assigning
// ids and parent links in place. A top-level root may not overlap another
// top-level event.
func (s *pgStore) CreateTree(ctx context.Context, root *model.PlaylistEntry) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if root.Parent == nil && root.Trigger != nil {
			if err := checkOverlap(ctx, tx, 0, *root.Trigger, root.End()); err != nil {
				return err
			}
		}
		now := time.Now().Unix()
		return root.Walk(func(node *model.PlaylistEntry, _ int) error {
			node.LastUpdate = now
			if err := tx.QueryRowxContext(ctx, `
				INSERT INTO events (type, trigger, device, devicetype, action, duration, parent, processed, lastupdate, callback, description)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				RETURNING id;`,
				int(node.Type), node.Trigger, node.Device, node.DeviceType, node.Action, node.Duration,
				node.Parent, int(node.Processed), node.LastUpdate, node.Callback, node.Description,
			).Scan(&node.ID); err != nil {
				log.Error().Err(err).Str("device", node.Device).Msg("[db] CreateTree: insert event failed")
				return err
			}
			for _, c := range node.Children {
				id := node.ID
				c.Parent = &id
			}
			return insertExtra(ctx, tx, node.ID, node.EventData)
		})
	})
}

func insertExtra(ctx context.Context, tx *sqlx.Tx, eventID int, data map[string]string) error {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO extradata (eventid, key, value) VALUES ($1, $2, $3);`, eventID, k, data[k]); err != nil {
			log.Error().Err(err).Int("event_id", eventID).Str("key", k).Msg("[db] insert extradata failed")
			return err
		}
	}
	return nil
}

// checkOverlap fails with a scheduling conflict when a live top-level event
// other than exclude intersects [start, end).
func checkOverlap(ctx context.Context, q sqlx.QueryerContext, exclude int, start, end int64) error {
	var id int
	err := sqlx.GetContext(ctx, q, &id, `
		SELECT id FROM events
		 WHERE parent IS NULL AND trigger IS NOT NULL AND `+live+`
		   AND id <> $1 AND trigger < $3 AND trigger + duration > $2
		 LIMIT 1;`, exclude, start, end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: overlaps event %d", shunt.ErrSchedulingConflict, id)
}

func (s *pgStore) CheckSlot(ctx context.Context, start, end int64) error {
	return checkOverlap(ctx, s.db, 0, start, end)
}

// GetTree loads id and every descendant, children ordered by insertion.
func (s *pgStore) GetTree(ctx context.Context, id int) (*model.PlaylistEntry, error) {
	var rows []model.PlaylistEntry
	if err := s.db.SelectContext(ctx, &rows, subtreeIDs+`
		SELECT `+eventColumns+` FROM events WHERE id IN (SELECT id FROM tree) ORDER BY id;`, id); err != nil {
		log.Error().Err(err).Int("event_id", id).Msg("[db] GetTree failed")
		return nil, err
	}
	if len(rows) == 0 {
		return nil, model.ErrNotFound
	}
	if err := attachExtra(ctx, s.db, rows); err != nil {
		return nil, err
	}
	return assemble(rows, id)
}

// attachExtra loads extradata for every row in one query.
func attachExtra(ctx context.Context, q sqlx.QueryerContext, rows []model.PlaylistEntry) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]int64, len(rows))
	index := make(map[int]*model.PlaylistEntry, len(rows))
	for i := range rows {
		ids[i] = int64(rows[i].ID)
		index[rows[i].ID] = &rows[i]
	}
	var extra []extraRow
	if err := sqlx.SelectContext(ctx, q, &extra,
		`SELECT eventid, key, value FROM extradata WHERE eventid = ANY($1) ORDER BY id;`, pq.Array(ids)); err != nil {
		log.Error().Err(err).Msg("[db] load extradata failed")
		return err
	}
	for _, x := range extra {
		if e, ok := index[x.EventID]; ok {
			e.SetData(x.Key, x.Value)
		}
	}
	return nil
}

// assemble links flat rows into a tree rooted at rootID.
func assemble(rows []model.PlaylistEntry, rootID int) (*model.PlaylistEntry, error) {
	nodes := make(map[int]*model.PlaylistEntry, len(rows))
	for i := range rows {
		nodes[rows[i].ID] = &rows[i]
	}
	root, ok := nodes[rootID]
	if !ok {
		return nil, model.ErrNotFound
	}
	for i := range rows {
		n := &rows[i]
		if n.ID == rootID || n.Parent == nil {
			continue
		}
		parent, ok := nodes[*n.Parent]
		if !ok {
			return nil, fmt.Errorf("event %d: parent %d missing from subtree", n.ID, *n.Parent)
		}
		if err := parent.AddChild(n); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// UpdateEvent rewrites one event's own fields. Children and the parent link
// are untouched; extradata is replaced when e.EventData is non-nil.
func (s *pgStore) UpdateEvent(ctx context.Context, e *model.PlaylistEntry) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var parent sql.NullInt64
		err := tx.GetContext(ctx, &parent, `SELECT parent FROM events WHERE id = $1 FOR UPDATE;`, e.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !parent.Valid && e.Trigger != nil {
			if err := checkOverlap(ctx, tx, e.ID, *e.Trigger, e.End()); err != nil {
				return err
			}
		}
		if parent.Valid {
			p := int(parent.Int64)
			e.Parent = &p
		} else {
			e.Parent = nil
		}

		e.LastUpdate = time.Now().Unix()
		if _, err := tx.ExecContext(ctx, `
			UPDATE events
			   SET type = $2, trigger = $3, device = $4, devicetype = $5, action = $6, duration = $7,
			       processed = $8, lastupdate = $9, callback = $10, description = $11
			 WHERE id = $1;`,
			e.ID, int(e.Type), e.Trigger, e.Device, e.DeviceType, e.Action, e.Duration,
			int(e.Processed), e.LastUpdate, e.Callback, e.Description); err != nil {
			log.Error().Err(err).Int("event_id", e.ID).Msg("[db] UpdateEvent failed")
			return err
		}
		if e.EventData == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM extradata WHERE eventid = $1;`, e.ID); err != nil {
			return err
		}
		return insertExtra(ctx, tx, e.ID, e.EventData)
	})
}

// DeleteTree removes id and all descendants and returns how many events went.
func (s *pgStore) DeleteTree(ctx context.Context, id int) (int, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, subtreeIDs+`
			DELETE FROM extradata WHERE eventid IN (SELECT id FROM tree);`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, subtreeIDs+`
			DELETE FROM events WHERE id IN (SELECT id FROM tree);`, id)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if n == 0 {
			return model.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			log.Error().Err(err).Int("event_id", id).Msg("[db] DeleteTree failed")
		}
		return 0, err
	}
	return int(n), nil
}

func (s *pgStore) ListRange(ctx context.Context, start, end int64) ([]model.PlaylistEntry, error) {
	var out []model.PlaylistEntry
	if err := s.db.SelectContext(ctx, &out, `
		SELECT `+eventColumns+` FROM events
		 WHERE parent IS NULL AND `+live+` AND trigger >= $1 AND trigger < $2
		 ORDER BY trigger;`, start, end); err != nil {
		log.Error().Err(err).Msg("[db] ListRange failed")
		return nil, err
	}
	return out, attachExtra(ctx, s.db, out)
}

// HeldRoot returns the top-level ancestor of the most recent event in hold state.
func (s *pgStore) HeldRoot(ctx context.Context) (*model.PlaylistEntry, error) {
	var e model.PlaylistEntry
	err := s.db.GetContext(ctx, &e, `
		WITH RECURSIVE up AS (
			SELECT id, parent FROM (
				SELECT id, parent FROM events WHERE processed = $1 ORDER BY trigger DESC NULLS LAST LIMIT 1
			) held
			UNION ALL
			SELECT e.id, e.parent FROM events e JOIN up u ON e.id = u.parent
		)
		SELECT `+eventColumns+` FROM events WHERE id = (SELECT id FROM up WHERE parent IS NULL);`,
		int(model.StateHold))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *pgStore) Airing(ctx context.Context, at int64) (*model.PlaylistEntry, error) {
	var e model.PlaylistEntry
	err := s.db.GetContext(ctx, &e, `
		SELECT `+eventColumns+` FROM events
		 WHERE parent IS NULL AND `+live+` AND trigger <= $1 AND trigger + duration > $1
		 ORDER BY trigger DESC LIMIT 1;`, at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *pgStore) Upcoming(ctx context.Context, after int64, limit int) ([]model.PlaylistEntry, error) {
	var out []model.PlaylistEntry
	if err := s.db.SelectContext(ctx, &out, `
		SELECT `+eventColumns+` FROM events
		 WHERE parent IS NULL AND `+live+` AND trigger > $1
		 ORDER BY trigger LIMIT $2;`, after, limit); err != nil {
		log.Error().Err(err).Msg("[db] Upcoming failed")
		return nil, err
	}
	return out, nil
}
