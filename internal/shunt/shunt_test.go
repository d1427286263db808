package shunt

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

func applyMoves(spans []Span, moves []Move) []Span {
	out := append([]Span(nil), spans...)
	by := make(map[int]int64, len(moves))
	for _, m := range moves {
		by[m.ID] = m.Offset
	}
	for i := range out {
		out[i].Trigger += by[out[i].ID]
	}
	return out
}

func overlapping(spans []Span) bool {
	sorted := append([]Span(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Trigger < sorted[j].Trigger })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].End() > sorted[i].Trigger {
			return true
		}
	}
	return false
}

// plan runs Plan the way the engine does, splitting the timeline at ref.
func plan(t *testing.T, spans []Span, ref, offset int64) ([]Span, error) {
	t.Helper()
	var after []Span
	var preceding *int64
	for _, s := range spans {
		if s.Trigger >= ref {
			after = append(after, s)
			continue
		}
		if end := s.End(); preceding == nil || end > *preceding {
			preceding = &end
		}
	}
	moves, err := Plan(after, ref, offset, preceding)
	if err != nil {
		return nil, err
	}
	return applyMoves(spans, moves), nil
}

func TestPlanConsumesGapOnly(t *testing.T) {
	spans := []Span{{ID: 1, Trigger: 0, Duration: 100}, {ID: 2, Trigger: 500, Duration: 50}}
	got, err := plan(t, spans, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got[0].Trigger)
	assert.Equal(t, int64(500), got[1].Trigger)
}

func TestPlanClosesGapThenPushesOn(t *testing.T) {
	spans := []Span{
		{ID: 1, Trigger: 0, Duration: 100},
		{ID: 2, Trigger: 130, Duration: 50},
		{ID: 3, Trigger: 180, Duration: 20},
		{ID: 4, Trigger: 1000, Duration: 10},
	}
	got, err := plan(t, spans, 0, 100)
	require.NoError(t, err)
	// the 30 before event 2 closes first, then events 1-3 push 70 into the big gap
	assert.Equal(t, []int64{100, 200, 250, 1000}, []int64{got[0].Trigger, got[1].Trigger, got[2].Trigger, got[3].Trigger})
	assert.False(t, overlapping(got))
}

func TestPlanBackToBackMovesTogether(t *testing.T) {
	spans := []Span{
		{ID: 1, Trigger: 1000, Duration: 100},
		{ID: 2, Trigger: 1100, Duration: 100},
		{ID: 3, Trigger: 1203, Duration: 50},
	}
	got, err := plan(t, spans, 1000, 10)
	require.NoError(t, err)
	for i, s := range got {
		assert.Equal(t, spans[i].Trigger+10, s.Trigger)
	}
}

func TestPlanIgnoresEventsBeforeReference(t *testing.T) {
	spans := []Span{{ID: 1, Trigger: 0, Duration: 100}, {ID: 2, Trigger: 100, Duration: 100}}
	got, err := plan(t, spans, 100, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got[0].Trigger)
	assert.Equal(t, int64(125), got[1].Trigger)
}

func TestPlanBackwardPullsFirstBlock(t *testing.T) {
	spans := []Span{
		{ID: 1, Trigger: 0, Duration: 90},
		{ID: 2, Trigger: 100, Duration: 100},
		{ID: 3, Trigger: 200, Duration: 50},
		{ID: 4, Trigger: 400, Duration: 50},
	}
	got, err := plan(t, spans, 100, -10)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 90, 190, 400}, []int64{got[0].Trigger, got[1].Trigger, got[2].Trigger, got[3].Trigger})
}

func TestPlanBackwardConflict(t *testing.T) {
	spans := []Span{{ID: 1, Trigger: 0, Duration: 95}, {ID: 2, Trigger: 100, Duration: 100}}
	_, err := plan(t, spans, 100, -10)
	assert.ErrorIs(t, err, ErrSchedulingConflict)
}

func TestPlanZeroOffset(t *testing.T) {
	moves, err := Plan([]Span{{ID: 1, Trigger: 10, Duration: 5}}, 0, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, moves)
}

func randomSchedule(r *rand.Rand) []Span {
	var spans []Span
	at := int64(0)
	for id := 1; id <= 12; id++ {
		if r.Intn(3) == 0 {
			at += int64(r.Intn(200))
		}
		d := int64(10 + r.Intn(120))
		spans = append(spans, Span{ID: id, Trigger: at, Duration: d})
		at += d
	}
	return spans
}

func TestPlanNeverOverlaps(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		spans := randomSchedule(r)
		for step := 0; step < 5; step++ {
			ref := spans[r.Intn(len(spans))].Trigger
			offset := int64(r.Intn(400) - 200)
			got, err := plan(t, spans, ref, offset)
			if err != nil {
				assert.ErrorIs(t, err, ErrSchedulingConflict)
				continue
			}
			require.False(t, overlapping(got), "round %d ref %d offset %d", round, ref, offset)
			spans = got
		}
	}
}

func TestPlanInverseRestoresSchedule(t *testing.T) {
	spans := []Span{
		{ID: 1, Trigger: 0, Duration: 100},
		{ID: 2, Trigger: 100, Duration: 60},
		{ID: 3, Trigger: 400, Duration: 50},
		{ID: 4, Trigger: 900, Duration: 50},
	}
	for _, offset := range []int64{1, 30, 100, 200} {
		fwd, err := plan(t, spans, 100, offset)
		require.NoError(t, err)
		back, err := plan(t, fwd, 100, -offset)
		require.NoError(t, err)
		assert.Equal(t, spans, back, "offset %d", offset)
	}
}

// memTx is a tiny schedule for engine tests. Children are not modelled.
type memTx struct {
	events map[int]*model.PlaylistEntry
	shifts []Move
}

func (m *memTx) InScheduleTx(_ context.Context, fn func(Tx) error) error { return fn(m) }

func (m *memTx) GetEvent(_ context.Context, id int) (*model.PlaylistEntry, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return e.Clone(), nil
}

func (m *memTx) RootOf(ctx context.Context, id int) (*model.PlaylistEntry, error) {
	for {
		e, err := m.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		if e.Parent == nil {
			return e, nil
		}
		id = *e.Parent
	}
}

func (m *memTx) SetState(_ context.Context, id int, state model.EventState) error {
	m.events[id].Processed = state
	return nil
}

func (m *memTx) SetDuration(_ context.Context, id int, d int64) error {
	m.events[id].Duration = d
	return nil
}

func (m *memTx) SpansFrom(_ context.Context, ref int64) ([]Span, error) {
	var out []Span
	for _, e := range m.events {
		if e.Parent == nil && e.Trigger != nil && *e.Trigger >= ref {
			out = append(out, Span{ID: e.ID, Trigger: *e.Trigger, Duration: e.Duration})
		}
	}
	return out, nil
}

func (m *memTx) PrecedingEnd(_ context.Context, ref int64) (*int64, error) {
	var out *int64
	for _, e := range m.events {
		if e.Parent == nil && e.Trigger != nil && *e.Trigger < ref {
			if end := e.End(); out == nil || end > *out {
				out = &end
			}
		}
	}
	return out, nil
}

func (m *memTx) ShiftTrees(_ context.Context, moves []Move) error {
	m.shifts = append(m.shifts, moves...)
	for _, mv := range moves {
		m.events[mv.ID].SetTrigger(m.events[mv.ID].TriggerAt() + mv.Offset)
	}
	return nil
}

func event(id int, trigger, duration int64, parent *int) *model.PlaylistEntry {
	e := &model.PlaylistEntry{ID: id, Duration: duration, Parent: parent, Processed: model.StateReady}
	e.SetTrigger(trigger)
	return e
}

func TestReleaseLateShuntsFollowingEvents(t *testing.T) {
	tx := &memTx{events: map[int]*model.PlaylistEntry{
		1: event(1, 400, 600, nil),
		2: event(2, 1000, 100, nil),
		3: event(3, 1100, 100, nil),
	}}
	tx.events[1].Type = model.EventManual
	tx.events[1].Processed = model.StateHold
	engine := NewEngine(tx)

	actual := int64(1010)
	res, err := engine.Release(context.Background(), 1, &actual)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Offset)
	assert.Equal(t, int64(1000), res.Reference)
	assert.Equal(t, model.StateDone, tx.events[1].Processed)
	assert.Equal(t, int64(610), tx.events[1].Duration)
	assert.Equal(t, int64(1010), tx.events[2].TriggerAt())
	assert.Equal(t, int64(1110), tx.events[3].TriggerAt())
}

func TestReleaseNestedHoldGrowsRoot(t *testing.T) {
	root := 1
	tx := &memTx{events: map[int]*model.PlaylistEntry{
		1: event(1, 0, 1000, nil),
		2: event(2, 200, 700, &root),
		3: event(3, 1000, 300, nil),
	}}
	tx.events[2].Processed = model.StateHold
	engine := NewEngine(tx)

	actual := int64(880)
	res, err := engine.Release(context.Background(), 2, &actual)
	require.NoError(t, err)
	assert.Equal(t, int64(-20), res.Offset)
	assert.Equal(t, int64(1000), res.Reference)
	assert.Equal(t, int64(680), tx.events[2].Duration)
	assert.Equal(t, int64(980), tx.events[1].Duration)
	assert.Equal(t, int64(980), tx.events[3].TriggerAt())
}

func TestReleaseUsesClockWhenNoEndGiven(t *testing.T) {
	tx := &memTx{events: map[int]*model.PlaylistEntry{1: event(1, 0, 100, nil)}}
	tx.events[1].Type = model.EventManual
	engine := NewEngine(tx)
	engine.now = func() time.Time { return time.Unix(130, 0) }

	res, err := engine.Release(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.Offset)
	assert.Equal(t, int64(130), tx.events[1].Duration)
}

func TestReleaseRejectsFixedEvent(t *testing.T) {
	tx := &memTx{events: map[int]*model.PlaylistEntry{
		1: event(1, 0, 100, nil),
		2: event(2, 100, 100, nil),
	}}
	actual := int64(130)
	_, err := NewEngine(tx).Release(context.Background(), 1, &actual)
	assert.ErrorIs(t, err, ErrNotHeld)
	assert.Equal(t, model.StateReady, tx.events[1].Processed)
	assert.Equal(t, int64(100), tx.events[2].TriggerAt())
	assert.Empty(t, tx.shifts)
}

func TestReleaseTwiceShuntsOnce(t *testing.T) {
	tx := &memTx{events: map[int]*model.PlaylistEntry{
		1: event(1, 400, 600, nil),
		2: event(2, 1000, 100, nil),
	}}
	tx.events[1].Type = model.EventManual
	tx.events[1].Processed = model.StateHold
	engine := NewEngine(tx)

	actual := int64(1010)
	_, err := engine.Release(context.Background(), 1, &actual)
	require.NoError(t, err)
	_, err = engine.Release(context.Background(), 1, &actual)
	assert.ErrorIs(t, err, ErrNotHeld)
	assert.Equal(t, int64(1010), tx.events[2].TriggerAt())
}

func TestReleaseMissingEvent(t *testing.T) {
	engine := NewEngine(&memTx{events: map[int]*model.PlaylistEntry{}})
	_, err := engine.Release(context.Background(), 9, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestShuntExplicit(t *testing.T) {
	tx := &memTx{events: map[int]*model.PlaylistEntry{
		1: event(1, 0, 100, nil),
		2: event(2, 500, 50, nil),
	}}
	res, err := NewEngine(tx).Shunt(context.Background(), 0, 50)
	require.NoError(t, err)
	assert.Equal(t, []Move{{ID: 1, Offset: 50}}, res.Moves)
	assert.Equal(t, int64(500), tx.events[2].TriggerAt())
}
