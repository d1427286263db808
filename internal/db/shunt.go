package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/shunt"
)

type pgScheduleTx struct {
	tx *sqlx.Tx
}

var _ shunt.Tx = (*pgScheduleTx)(nil)

// InScheduleTx runs fn under the schedule lock; shunts never interleave with
// each other or with tree writes.
func (s *pgStore) InScheduleTx(ctx context.Context, fn func(tx shunt.Tx) error) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&pgScheduleTx{tx: tx})
	})
}

func (t *pgScheduleTx) GetEvent(ctx context.Context, id int) (*model.PlaylistEntry, error) {
	var e model.PlaylistEntry
	err := t.tx.GetContext(ctx, &e, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE;`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgScheduleTx) RootOf(ctx context.Context, id int) (*model.PlaylistEntry, error) {
	var e model.PlaylistEntry
	err := t.tx.GetContext(ctx, &e, `
		WITH RECURSIVE up AS (
			SELECT id, parent FROM events WHERE id = $1
			UNION ALL
			SELECT e.id, e.parent FROM events e JOIN up u ON e.id = u.parent
		)
		SELECT `+eventColumns+` FROM events WHERE id = (SELECT id FROM up WHERE parent IS NULL);`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgScheduleTx) SetState(ctx context.Context, id int, state model.EventState) error {
	return t.exec(ctx, `UPDATE events SET processed = $2, lastupdate = $3 WHERE id = $1;`,
		id, int(state), time.Now().Unix())
}

func (t *pgScheduleTx) SetDuration(ctx context.Context, id int, duration int64) error {
	return t.exec(ctx, `UPDATE events SET duration = $2, lastupdate = $3 WHERE id = $1;`,
		id, duration, time.Now().Unix())
}

func (t *pgScheduleTx) exec(ctx context.Context, q string, id int, args ...any) error {
	res, err := t.tx.ExecContext(ctx, q, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *pgScheduleTx) SpansFrom(ctx context.Context, ref int64) ([]shunt.Span, error) {
	var out []shunt.Span
	err := t.tx.SelectContext(ctx, &out, `
		SELECT id, trigger, duration FROM events
		 WHERE parent IS NULL AND `+live+` AND trigger >= $1
		 ORDER BY trigger;`, ref)
	return out, err
}

func (t *pgScheduleTx) PrecedingEnd(ctx context.Context, ref int64) (*int64, error) {
	var end sql.NullInt64
	if err := t.tx.GetContext(ctx, &end, `
		SELECT MAX(trigger + duration) FROM events
		 WHERE parent IS NULL AND `+live+` AND trigger < $1;`, ref); err != nil {
		return nil, err
	}
	if !end.Valid {
		return nil, nil
	}
	return &end.Int64, nil
}

// ShiftTrees moves each top-level event and its whole subtree.
func (t *pgScheduleTx) ShiftTrees(ctx context.Context, moves []shunt.Move) error {
	now := time.Now().Unix()
	for _, m := range moves {
		if _, err := t.tx.ExecContext(ctx, subtreeIDs+`
			UPDATE events SET trigger = trigger + $2, lastupdate = $3
			 WHERE id IN (SELECT id FROM tree) AND trigger IS NOT NULL;`, m.ID, m.Offset, now); err != nil {
			return err
		}
	}
	return nil
}
