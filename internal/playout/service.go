// Package playout orchestrates schedule changes: it validates incoming trees,
// expands processor placeholders, persists the result and tells the cache and
// device executors about every committed change.
package playout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/catalog"
	"github.com/Nixie-Tech-LLC/playout/internal/db"
	"github.com/Nixie-Tech-LLC/playout/internal/metrics"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/notify"
	"github.com/Nixie-Tech-LLC/playout/internal/processor"
	"github.com/Nixie-Tech-LLC/playout/internal/shunt"
)

// DefaultRange is the schedule window returned when no end is given.
const DefaultRange = 24 * time.Hour

// Cache versions the published schedule.
type Cache interface {
	ETag(ctx context.Context) (string, bool)
	Invalidate(ctx context.Context)
}

// Notifier receives a record of every committed change.
type Notifier interface {
	Publish(op string, eventID int, event any)
}

type Options struct {
	Cache      Cache
	Notifier   Notifier
	FillStores map[string]db.FillStore
}

type Service struct {
	store    db.Store
	registry *processor.Registry
	engine   *shunt.Engine
	fills    map[string]db.FillStore
	cache    Cache
	notifier Notifier
	now      func() time.Time
}

func NewService(store db.Store, registry *processor.Registry, opts Options) *Service {
	fills := opts.FillStores
	if fills == nil {
		fills = map[string]db.FillStore{}
	}
	return &Service{
		store:    store,
		registry: registry,
		engine:   shunt.NewEngine(store),
		fills:    fills,
		cache:    opts.Cache,
		notifier: opts.Notifier,
		now:      time.Now,
	}
}

func (s *Service) changed(ctx context.Context, op string, eventID int, event any) {
	metrics.RecordEventOp(op)
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	if s.notifier != nil {
		s.notifier.Publish(op, eventID, event)
	}
}

// ETag is the current schedule version, if a cache is configured.
func (s *Service) ETag(ctx context.Context) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	return s.cache.ETag(ctx)
}

// Create validates root, expands every processor placeholder in it and
// stores the resulting tree. root is consumed; use the returned tree.
func (s *Service) Create(ctx context.Context, root *model.PlaylistEntry) (*model.PlaylistEntry, error) {
	if root.Type == model.EventChild {
		return nil, invalid("type", "a top-level event cannot be a child")
	}
	if root.Trigger == nil {
		return nil, invalid("time", "a top-level event needs a trigger time")
	}
	if err := validateInput(root); err != nil {
		return nil, err
	}
	root.Parent = nil
	root.Detach()
	if err := s.store.CheckSlot(ctx, *root.Trigger, root.End()); err != nil {
		return nil, err
	}

	ctx, journal := processor.WithJournal(ctx)
	expanded, err := s.registry.Expand(ctx, root)
	if err != nil {
		log.Warn().Err(err).Str("device", root.Device).Msg("[events] create: expansion failed")
		s.undoPlays(ctx, journal)
		return nil, err
	}
	if err := validateExpanded(expanded); err != nil {
		s.undoPlays(ctx, journal)
		return nil, err
	}
	if err := s.store.CreateTree(ctx, expanded); err != nil {
		s.undoPlays(ctx, journal)
		return nil, err
	}
	log.Info().Int("event_id", expanded.ID).Int("nodes", expanded.Count()).Msg("[events] created")
	s.changed(ctx, notify.OpCreate, expanded.ID, View(expanded))
	return expanded, nil
}

// undoPlays takes back the rotation plays of an expansion whose tree was not
// stored. It runs even if the request context has been canceled.
func (s *Service) undoPlays(ctx context.Context, journal *processor.Journal) {
	ctx = context.WithoutCancel(ctx)
	plays := journal.Plays()
	for i := len(plays) - 1; i >= 0; i-- {
		p := plays[i]
		fs, ok := s.fills[p.Instance]
		if !ok {
			log.Warn().Str("instance", p.Instance).Int("video_id", p.VideoID).Msg("[fill] no store to undo play")
			continue
		}
		if err := fs.UndoPlay(ctx, p.VideoID); err != nil {
			log.Error().Err(err).Str("instance", p.Instance).Int("video_id", p.VideoID).Msg("[fill] undo play failed")
		}
	}
	if len(plays) > 0 {
		log.Info().Int("plays", len(plays)).Msg("[fill] plays of rejected create undone")
	}
}

func validateInput(root *model.PlaylistEntry) error {
	return root.Walk(func(n *model.PlaylistEntry, depth int) error {
		if n.Duration < 0 {
			return invalid("duration", "must not be negative")
		}
		if n.Processed == model.StateDeleted {
			n.Processed = model.StateReady
		}
		if catalog.IsProcessor(n.DeviceType) {
			if _, err := catalog.Lookup(n.DeviceType, n.Action); err != nil {
				return catalogError(err)
			}
			if n.Device == "" {
				return invalid("devicename", "a processor event needs an instance name")
			}
			return nil
		}
		if depth > 0 && n.Type == model.EventFixed {
			n.Type = model.EventChild
		}
		return catalogError(catalog.Validate(n.DeviceType, n.Action, n.EventData))
	})
}

// validateExpanded checks every node a processor produced the same way input
// nodes are checked. Placeholders left in place only need a known action.
func validateExpanded(root *model.PlaylistEntry) error {
	return root.Walk(func(n *model.PlaylistEntry, _ int) error {
		var err error
		if catalog.IsProcessor(n.DeviceType) {
			_, err = catalog.Lookup(n.DeviceType, n.Action)
		} else {
			err = catalog.Validate(n.DeviceType, n.Action, n.EventData)
		}
		if err != nil {
			return fmt.Errorf("expanded tree: %w", catalogError(err))
		}
		return nil
	})
}

func catalogError(err error) error {
	var ce *catalog.Error
	if errors.As(err, &ce) {
		return &ValidationError{Field: ce.Field, Reason: ce.Reason}
	}
	return err
}

func (s *Service) Get(ctx context.Context, id int) (*model.PlaylistEntry, error) {
	return s.store.GetTree(ctx, id)
}

// Update rewrites one event without touching its children.
func (s *Service) Update(ctx context.Context, e *model.PlaylistEntry) (*model.PlaylistEntry, error) {
	if e.ID <= 0 {
		return nil, invalid("eventid", "required")
	}
	if e.Duration < 0 {
		return nil, invalid("duration", "must not be negative")
	}
	if _, err := catalog.Lookup(e.DeviceType, e.Action); err != nil {
		return nil, catalogError(err)
	}
	if !catalog.IsProcessor(e.DeviceType) && e.EventData != nil {
		if err := catalog.Validate(e.DeviceType, e.Action, e.EventData); err != nil {
			return nil, catalogError(err)
		}
	}
	e.Children = nil
	if err := s.store.UpdateEvent(ctx, e); err != nil {
		return nil, err
	}
	updated, err := s.store.GetTree(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	log.Info().Int("event_id", e.ID).Msg("[events] updated")
	s.changed(ctx, notify.OpUpdate, e.ID, View(updated))
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id int) (int, error) {
	n, err := s.store.DeleteTree(ctx, id)
	if err != nil {
		return 0, err
	}
	log.Info().Int("event_id", id).Int("removed", n).Msg("[events] deleted")
	s.changed(ctx, notify.OpDelete, id, nil)
	return n, nil
}

// Schedule lists top-level events with a trigger in [start, end). A nil start
// means midnight UTC today; a nil end means start + DefaultRange.
func (s *Service) Schedule(ctx context.Context, start, end *int64) ([]model.PlaylistEntry, error) {
	var from, to int64
	if start != nil {
		from = *start
	} else {
		from = s.now().UTC().Truncate(24 * time.Hour).Unix()
	}
	if end != nil {
		to = *end
	} else {
		to = from + int64(DefaultRange/time.Second)
	}
	if to < from {
		return nil, invalid("end", "end time must be after start time")
	}
	return s.store.ListRange(ctx, from, to)
}

// NowPlaying returns the top-level event owning an active manual hold, else
// the top-level event spanning now. nil means nothing is on air.
func (s *Service) NowPlaying(ctx context.Context) (*model.PlaylistEntry, error) {
	held, err := s.store.HeldRoot(ctx)
	if err == nil {
		return held, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	airing, err := s.store.Airing(ctx, s.now().Unix())
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return airing, err
}

func (s *Service) NextPlaying(ctx context.Context, count int) ([]model.PlaylistEntry, error) {
	if count < 1 {
		return nil, invalid("count", "must be at least 1")
	}
	return s.store.Upcoming(ctx, s.now().Unix(), count)
}

// Release ends the manual hold id at actualEnd (now when nil) and shunts the
// schedule after it.
func (s *Service) Release(ctx context.Context, id int, actualEnd *int64) (*shunt.Result, error) {
	res, err := s.engine.Release(ctx, id, actualEnd)
	if errors.Is(err, shunt.ErrNotHeld) {
		return nil, invalid("eventid", "%v", err)
	}
	if err != nil {
		return nil, err
	}
	s.changed(ctx, notify.OpRelease, id, res)
	return res, nil
}

// Shunt moves everything scheduled from originalEnd onwards to start at newEnd.
func (s *Service) Shunt(ctx context.Context, originalEnd, newEnd int64) (*shunt.Result, error) {
	res, err := s.engine.Shunt(ctx, originalEnd, newEnd)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("reference", originalEnd).Int64("offset", res.Offset).Int("moved", len(res.Moves)).
		Msg("[events] shunted")
	s.changed(ctx, notify.OpShunt, 0, res)
	return res, nil
}

// RegisterPlugins records every configured processor instance as active.
func (s *Service) RegisterPlugins(ctx context.Context) error {
	for _, name := range s.registry.Names() {
		kind := s.registry.Kind(name)
		p := model.Plugin{
			InstanceName: name,
			PluginName:   pluginName(kind),
			Type:         kind,
			Status:       "active",
		}
		if err := s.store.UpsertPlugin(ctx, p); err != nil {
			return fmt.Errorf("register plugin %q: %w", name, err)
		}
	}
	log.Info().Int("count", len(s.registry.Names())).Msg("[plugins] registered")
	return nil
}

func pluginName(kind string) string {
	if kind == "" {
		return "EventProcessor"
	}
	return "EventProcessor_" + strings.ToUpper(kind[:1]) + kind[1:]
}

func (s *Service) Plugins(ctx context.Context) ([]model.Plugin, error) {
	return s.store.ListPlugins(ctx)
}

func (s *Service) Plugin(ctx context.Context, name string) (*model.Plugin, error) {
	return s.store.GetPlugin(ctx, name)
}

func (s *Service) fill(instance string) (db.FillStore, error) {
	fs, ok := s.fills[instance]
	if !ok {
		return nil, fmt.Errorf("fill instance %q: %w", instance, model.ErrNotFound)
	}
	return fs, nil
}

func (s *Service) AddFillVideo(ctx context.Context, instance string, v *model.FillEntry) error {
	fs, err := s.fill(instance)
	if err != nil {
		return err
	}
	if strings.TrimSpace(v.Filename) == "" {
		return invalid("filename", "required")
	}
	if v.Duration <= 0 {
		return invalid("duration", "must be positive")
	}
	if v.Weight < 0 {
		return invalid("weight", "must not be negative")
	}
	if err := fs.AddVideo(ctx, v); err != nil {
		return err
	}
	log.Info().Str("instance", instance).Int("video_id", v.ID).Str("filename", v.Filename).Msg("[fill] video added")
	return nil
}

func (s *Service) FillVideos(ctx context.Context, instance string) ([]model.FillEntry, error) {
	fs, err := s.fill(instance)
	if err != nil {
		return nil, err
	}
	return fs.ListVideos(ctx)
}
