package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Nixie-Tech-LLC/playout/internal/metrics"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/rotation"
	"github.com/Nixie-Tech-LLC/playout/internal/shunt"
)

// MemoryStore keeps the event table in process, for DATABASE_URL=memory and
// tests. Rows are stored flat and keyed by id; trees are assembled on read.
// Every write works on a copy of the table that replaces it only on success.
type MemoryStore struct {
	mu      sync.Mutex
	rows    map[int]*model.PlaylistEntry
	plugins map[string]model.Plugin
	nextID  int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:    make(map[int]*model.PlaylistEntry),
		plugins: make(map[string]model.Plugin),
	}
}

func flat(n *model.PlaylistEntry) *model.PlaylistEntry {
	tmp := *n
	tmp.Children = nil
	return tmp.Clone()
}

type memTable struct {
	rows   map[int]*model.PlaylistEntry
	nextID int
}

// write runs fn against a copy of the table and keeps the copy if fn succeeds.
func (m *MemoryStore) write(fn func(t *memTable) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &memTable{rows: make(map[int]*model.PlaylistEntry, len(m.rows)), nextID: m.nextID}
	for id, r := range m.rows {
		t.rows[id] = flat(r)
	}
	if err := fn(t); err != nil {
		return err
	}
	m.rows, m.nextID = t.rows, t.nextID
	return nil
}

func (t *memTable) topLevel(filter func(r *model.PlaylistEntry) bool) []*model.PlaylistEntry {
	var out []*model.PlaylistEntry
	for _, r := range t.rows {
		if r.Parent == nil && r.Trigger != nil && r.Processed != model.StateDeleted && filter(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if *out[i].Trigger != *out[j].Trigger {
			return *out[i].Trigger < *out[j].Trigger
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *memTable) overlap(exclude int, start, end int64) error {
	hits := t.topLevel(func(r *model.PlaylistEntry) bool {
		return r.ID != exclude && *r.Trigger < end && r.End() > start
	})
	if len(hits) > 0 {
		return fmt.Errorf("%w: overlaps event %d", shunt.ErrSchedulingConflict, hits[0].ID)
	}
	return nil
}

func (t *memTable) subtree(id int) []int {
	if _, ok := t.rows[id]; !ok {
		return nil
	}
	children := make(map[int][]int)
	for _, r := range t.rows {
		if r.Parent != nil {
			children[*r.Parent] = append(children[*r.Parent], r.ID)
		}
	}
	out := []int{id}
	for i := 0; i < len(out); i++ {
		out = append(out, children[out[i]]...)
	}
	sort.Ints(out)
	return out
}

func (m *MemoryStore) CreateTree(_ context.Context, root *model.PlaylistEntry) error {
	return m.write(func(t *memTable) error {
		if root.Parent == nil && root.Trigger != nil {
			if err := t.overlap(0, *root.Trigger, root.End()); err != nil {
				return err
			}
		}
		now := time.Now().Unix()
		return root.Walk(func(node *model.PlaylistEntry, _ int) error {
			t.nextID++
			node.ID = t.nextID
			node.LastUpdate = now
			for _, c := range node.Children {
				id := node.ID
				c.Parent = &id
			}
			t.rows[node.ID] = flat(node)
			return nil
		})
	})
}

func (m *MemoryStore) GetTree(_ context.Context, id int) (*model.PlaylistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &memTable{rows: m.rows}
	ids := t.subtree(id)
	if len(ids) == 0 {
		return nil, model.ErrNotFound
	}
	rows := make([]model.PlaylistEntry, len(ids))
	for i, rid := range ids {
		rows[i] = *flat(m.rows[rid])
	}
	return assemble(rows, id)
}

func (m *MemoryStore) UpdateEvent(_ context.Context, e *model.PlaylistEntry) error {
	return m.write(func(t *memTable) error {
		r, ok := t.rows[e.ID]
		if !ok {
			return model.ErrNotFound
		}
		if r.Parent == nil && e.Trigger != nil {
			if err := t.overlap(e.ID, *e.Trigger, e.End()); err != nil {
				return err
			}
		}
		e.Parent = r.Parent
		e.LastUpdate = time.Now().Unix()
		data := r.EventData
		if e.EventData != nil {
			data = e.EventData
		}
		updated := flat(e)
		updated.EventData = nil
		for k, v := range data {
			updated.SetData(k, v)
		}
		t.rows[e.ID] = updated
		return nil
	})
}

func (m *MemoryStore) DeleteTree(_ context.Context, id int) (int, error) {
	var n int
	err := m.write(func(t *memTable) error {
		ids := t.subtree(id)
		if len(ids) == 0 {
			return model.ErrNotFound
		}
		for _, rid := range ids {
			delete(t.rows, rid)
		}
		n = len(ids)
		return nil
	})
	return n, err
}

func (m *MemoryStore) read(filter func(r *model.PlaylistEntry) bool) []model.PlaylistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &memTable{rows: m.rows}
	var out []model.PlaylistEntry
	for _, r := range t.topLevel(filter) {
		out = append(out, *flat(r))
	}
	return out
}

func (m *MemoryStore) CheckSlot(_ context.Context, start, end int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &memTable{rows: m.rows}
	return t.overlap(0, start, end)
}

func (m *MemoryStore) ListRange(_ context.Context, start, end int64) ([]model.PlaylistEntry, error) {
	return m.read(func(r *model.PlaylistEntry) bool {
		return *r.Trigger >= start && *r.Trigger < end
	}), nil
}

func (m *MemoryStore) HeldRoot(_ context.Context) (*model.PlaylistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var held *model.PlaylistEntry
	for _, r := range m.rows {
		if r.Processed == model.StateHold && (held == nil || r.TriggerAt() > held.TriggerAt()) {
			held = r
		}
	}
	if held == nil {
		return nil, model.ErrNotFound
	}
	for held.Parent != nil {
		parent, ok := m.rows[*held.Parent]
		if !ok {
			return nil, model.ErrNotFound
		}
		held = parent
	}
	return flat(held), nil
}

func (m *MemoryStore) Airing(_ context.Context, at int64) (*model.PlaylistEntry, error) {
	hits := m.read(func(r *model.PlaylistEntry) bool {
		return *r.Trigger <= at && r.End() > at
	})
	if len(hits) == 0 {
		return nil, model.ErrNotFound
	}
	return &hits[len(hits)-1], nil
}

func (m *MemoryStore) Upcoming(_ context.Context, after int64, limit int) ([]model.PlaylistEntry, error) {
	out := m.read(func(r *model.PlaylistEntry) bool { return *r.Trigger > after })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpsertPlugin(_ context.Context, p model.Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins[p.InstanceName] = p
	return nil
}

func (m *MemoryStore) ListPlugins(_ context.Context) ([]model.Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceName < out[j].InstanceName })
	return out, nil
}

func (m *MemoryStore) GetPlugin(_ context.Context, name string) (*model.Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[name]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) InScheduleTx(_ context.Context, fn func(tx shunt.Tx) error) error {
	return m.write(func(t *memTable) error {
		return fn(memScheduleTx{t})
	})
}

type memScheduleTx struct {
	t *memTable
}

func (x memScheduleTx) GetEvent(_ context.Context, id int) (*model.PlaylistEntry, error) {
	r, ok := x.t.rows[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return flat(r), nil
}

func (x memScheduleTx) RootOf(_ context.Context, id int) (*model.PlaylistEntry, error) {
	r, ok := x.t.rows[id]
	for ok && r.Parent != nil {
		r, ok = x.t.rows[*r.Parent]
	}
	if !ok {
		return nil, model.ErrNotFound
	}
	return flat(r), nil
}

func (x memScheduleTx) SetState(_ context.Context, id int, state model.EventState) error {
	r, ok := x.t.rows[id]
	if !ok {
		return model.ErrNotFound
	}
	r.Processed = state
	r.LastUpdate = time.Now().Unix()
	return nil
}

func (x memScheduleTx) SetDuration(_ context.Context, id int, duration int64) error {
	r, ok := x.t.rows[id]
	if !ok {
		return model.ErrNotFound
	}
	r.Duration = duration
	r.LastUpdate = time.Now().Unix()
	return nil
}

func (x memScheduleTx) SpansFrom(_ context.Context, ref int64) ([]shunt.Span, error) {
	var out []shunt.Span
	for _, r := range x.t.topLevel(func(r *model.PlaylistEntry) bool { return *r.Trigger >= ref }) {
		out = append(out, shunt.Span{ID: r.ID, Trigger: *r.Trigger, Duration: r.Duration})
	}
	return out, nil
}

func (x memScheduleTx) PrecedingEnd(_ context.Context, ref int64) (*int64, error) {
	var out *int64
	for _, r := range x.t.topLevel(func(r *model.PlaylistEntry) bool { return *r.Trigger < ref }) {
		if end := r.End(); out == nil || end > *out {
			out = &end
		}
	}
	return out, nil
}

func (x memScheduleTx) ShiftTrees(_ context.Context, moves []shunt.Move) error {
	now := time.Now().Unix()
	for _, mv := range moves {
		for _, id := range x.t.subtree(mv.ID) {
			r := x.t.rows[id]
			if r.Trigger != nil {
				r.SetTrigger(*r.Trigger + mv.Offset)
				r.LastUpdate = now
			}
		}
	}
	return nil
}

// memFillStore is the in-process counterpart of pgFillStore.
type memFillStore struct {
	mu         sync.Mutex
	instance   string
	ladder     rotation.Ladder
	fileWeight int
	videos     []model.FillEntry
	buckets    []model.RotationBucket
	nextVideo  int
	nextBucket int
	now        func() time.Time
	intn       func(int) int
}

var _ FillStore = (*memFillStore)(nil)

func NewMemoryFillStore(instance string, ladder rotation.Ladder, fileWeight int) FillStore {
	if fileWeight <= 0 {
		fileWeight = 1
	}
	return &memFillStore{instance: instance, ladder: ladder, fileWeight: fileWeight, now: time.Now, intn: rand.Intn}
}

func (s *memFillStore) Instance() string        { return s.instance }
func (s *memFillStore) Ladder() rotation.Ladder { return s.ladder }

func (s *memFillStore) AddVideo(_ context.Context, v *model.FillEntry) error {
	if v.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextVideo++
	v.ID = s.nextVideo
	v.Instance = s.instance
	s.videos = append(s.videos, *v)
	return nil
}

func (s *memFillStore) ListVideos(_ context.Context) ([]model.FillEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FillEntry(nil), s.videos...), nil
}

func (s *memFillStore) NextItem(_ context.Context, typename string, maxDuration int64) (*model.FillEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []model.FillEntry
	for _, v := range s.videos {
		if v.Duration <= maxDuration && (typename == "" || v.TypeName == typename) {
			candidates = append(candidates, v)
		}
	}
	byVideo := make(map[int][]model.RotationBucket)
	for _, b := range s.buckets {
		byVideo[b.VideoID] = append(byVideo[b.VideoID], b)
	}
	choice, ok := rotation.Pick(candidates, byVideo, s.ladder, s.fileWeight, s.intn)
	if !ok {
		metrics.RecordFillSelection(s.instance, "empty")
		return nil, nil
	}
	update, create := rotation.RecordPlay(byVideo[choice.ID], s.ladder, choice.ID, s.now().UTC())
	if update != nil {
		for i := range s.buckets {
			if s.buckets[i].ID == update.ID {
				s.buckets[i] = *update
			}
		}
	} else {
		s.nextBucket++
		create.ID = s.nextBucket
		create.Instance = s.instance
		s.buckets = append(s.buckets, *create)
	}
	metrics.RecordFillSelection(s.instance, "picked")
	return &choice, nil
}

func (s *memFillStore) UndoPlay(_ context.Context, videoID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	update, remove := rotation.UndoPlay(s.buckets, videoID)
	for i := range s.buckets {
		switch {
		case update != nil && s.buckets[i].ID == update.ID:
			s.buckets[i] = *update
		case remove != nil && s.buckets[i].ID == *remove:
			s.buckets = append(s.buckets[:i], s.buckets[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memFillStore) AgeBuckets(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan := rotation.Age(s.buckets, s.ladder, now.UTC())
	s.buckets = rotation.Apply(s.buckets, plan, func() int {
		s.nextBucket++
		return s.nextBucket
	})
	metrics.RecordAging(s.instance, nil)
	return nil
}
