package shunt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/metrics"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

// Tx is the schedule access a shunt needs. Every call made inside one
// InScheduleTx commits or rolls back together.
type Tx interface {
	GetEvent(ctx context.Context, id int) (*model.PlaylistEntry, error)
	// RootOf returns the top-level ancestor of id (id itself if it has no parent).
	RootOf(ctx context.Context, id int) (*model.PlaylistEntry, error)
	SetState(ctx context.Context, id int, state model.EventState) error
	SetDuration(ctx context.Context, id int, duration int64) error
	// SpansFrom lists top-level events with a trigger at or after ref.
	SpansFrom(ctx context.Context, ref int64) ([]Span, error)
	// PrecedingEnd is the latest end of top-level events starting before ref.
	PrecedingEnd(ctx context.Context, ref int64) (*int64, error)
	// ShiftTrees moves each listed top-level event and all its descendants.
	ShiftTrees(ctx context.Context, moves []Move) error
}

// Store runs fn in a transaction that no other shunt runs concurrently with.
type Store interface {
	InScheduleTx(ctx context.Context, fn func(tx Tx) error) error
}

// ErrNotHeld is returned when releasing an event that is not an open manual hold.
var ErrNotHeld = errors.New("event is not a manual hold")

type Result struct {
	Reference int64  `json:"reference"`
	Offset    int64  `json:"offset"`
	Moves     []Move `json:"moves"`
	Released  *int   `json:"released,omitempty"`
}

type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Shunt moves the schedule after originalEnd so that it starts at newEnd instead.
func (e *Engine) Shunt(ctx context.Context, originalEnd, newEnd int64) (*Result, error) {
	res := &Result{Reference: originalEnd, Offset: newEnd - originalEnd}
	err := e.store.InScheduleTx(ctx, func(tx Tx) error {
		moves, err := apply(ctx, tx, res.Reference, res.Offset)
		res.Moves = moves
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Release ends a manual hold at actualEnd (now when nil), marks it done and
// shunts everything after it by the difference from its planned end.
func (e *Engine) Release(ctx context.Context, id int, actualEnd *int64) (*Result, error) {
	end := e.now().Unix()
	if actualEnd != nil {
		end = *actualEnd
	}
	res := &Result{Released: &id}
	err := e.store.InScheduleTx(ctx, func(tx Tx) error {
		hold, err := tx.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		if !releasable(hold) {
			return fmt.Errorf("%w: event %d is %s %s", ErrNotHeld, id, hold.Type, hold.Processed)
		}
		if hold.Trigger == nil {
			return fmt.Errorf("event %d has no trigger to release from", id)
		}
		planned := hold.End()
		offset := end - planned

		if err := tx.SetState(ctx, id, model.StateDone); err != nil {
			return err
		}
		if err := tx.SetDuration(ctx, id, clamp(hold.Duration+offset)); err != nil {
			return err
		}

		ref := planned
		root, err := tx.RootOf(ctx, id)
		if err != nil {
			return err
		}
		if root.ID != hold.ID {
			ref = root.End()
			if err := tx.SetDuration(ctx, root.ID, clamp(root.Duration+offset)); err != nil {
				return err
			}
		}

		res.Reference, res.Offset = ref, offset
		res.Moves, err = apply(ctx, tx, ref, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int("event_id", id).Int64("offset", res.Offset).Int("moved", len(res.Moves)).
		Msg("[shunt] released manual hold")
	return res, nil
}

// releasable reports whether e is still waiting on a release: either in the
// hold state or a manual event that has not been released yet.
func releasable(e *model.PlaylistEntry) bool {
	if e.Processed == model.StateHold {
		return true
	}
	return e.Type == model.EventManual && e.Processed == model.StateReady
}

func apply(ctx context.Context, tx Tx, ref, offset int64) ([]Move, error) {
	if offset == 0 {
		return nil, nil
	}
	spans, err := tx.SpansFrom(ctx, ref)
	if err != nil {
		return nil, err
	}
	preceding, err := tx.PrecedingEnd(ctx, ref)
	if err != nil {
		return nil, err
	}
	moves, err := Plan(spans, ref, offset, preceding)
	metrics.RecordShunt(offset, errors.Is(err, ErrSchedulingConflict))
	if err != nil {
		log.Warn().Err(err).Int64("reference", ref).Int64("offset", offset).Msg("[shunt] cannot apply offset")
		return nil, err
	}
	if err := tx.ShiftTrees(ctx, moves); err != nil {
		return nil, err
	}
	log.Debug().Int64("reference", ref).Int64("offset", offset).Int("moved", len(moves)).Msg("[shunt] applied")
	return moves, nil
}

func clamp(d int64) int64 {
	if d < 0 {
		return 0
	}
	return d
}
