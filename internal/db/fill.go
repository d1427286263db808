package db

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/playout/internal/metrics"
	"github.com/Nixie-Tech-LLC/playout/internal/model"
	"github.com/Nixie-Tech-LLC/playout/internal/rotation"
)

// FillStore is the clip catalog and rotation state of one fill instance.
type FillStore interface {
	Instance() string
	Ladder() rotation.Ladder
	AddVideo(ctx context.Context, v *model.FillEntry) error
	ListVideos(ctx context.Context) ([]model.FillEntry, error)
	// NextItem picks the least recently used clip no longer than maxDuration
	// and records the play in the same transaction. nil means nothing fits.
	NextItem(ctx context.Context, typename string, maxDuration int64) (*model.FillEntry, error)
	// UndoPlay takes back one play NextItem recorded for videoID.
	UndoPlay(ctx context.Context, videoID int) error
	AgeBuckets(ctx context.Context, now time.Time) error
}

const videoColumns = `id, instance, duration, filename, description, typename, devicename, weight`
const bucketColumns = `id, instance, video_id, buckettag, bucketcount, bucketstart`

type pgFillStore struct {
	db         *sqlx.DB
	instance   string
	ladder     rotation.Ladder
	fileWeight int
	mu         sync.Mutex
	now        func() time.Time
	intn       func(int) int
}

var _ FillStore = (*pgFillStore)(nil)

func NewFillStore(db *sqlx.DB, instance string, ladder rotation.Ladder, fileWeight int) FillStore {
	if fileWeight <= 0 {
		fileWeight = 1
	}
	return &pgFillStore{
		db:         db,
		instance:   instance,
		ladder:     ladder,
		fileWeight: fileWeight,
		now:        time.Now,
		intn:       rand.Intn,
	}
}

func (s *pgFillStore) Instance() string        { return s.instance }
func (s *pgFillStore) Ladder() rotation.Ladder { return s.ladder }

func (s *pgFillStore) AddVideo(ctx context.Context, v *model.FillEntry) error {
	if v.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	v.Instance = s.instance
	err := s.db.QueryRowxContext(ctx, `
	INSERT INTO fill_videos (instance, duration, filename, description, typename, devicename, weight)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id;`,
		v.Instance, v.Duration, v.Filename, v.Description, v.TypeName, v.Device, v.Weight).Scan(&v.ID)
	if err != nil {
		log.Error().Err(err).Str("instance", s.instance).Msg("[db] AddVideo failed")
	}
	return err
}

func (s *pgFillStore) ListVideos(ctx context.Context) ([]model.FillEntry, error) {
	var out []model.FillEntry
	if err := s.db.SelectContext(ctx, &out,
		`SELECT `+videoColumns+` FROM fill_videos WHERE instance = $1 ORDER BY id;`, s.instance); err != nil {
		log.Error().Err(err).Str("instance", s.instance).Msg("[db] ListVideos failed")
		return nil, err
	}
	return out, nil
}

// fillTx serializes every bucket writer of this instance, in process and across processes.
func (s *pgFillStore) fillTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "fill:"+s.instance); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("fill lock: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *pgFillStore) NextItem(ctx context.Context, typename string, maxDuration int64) (*model.FillEntry, error) {
	var picked *model.FillEntry
	err := s.fillTx(ctx, func(tx *sqlx.Tx) error {
		var candidates []model.FillEntry
		if err := tx.SelectContext(ctx, &candidates, `
			SELECT `+videoColumns+` FROM fill_videos
			 WHERE instance = $1 AND duration > 0 AND duration <= $2 AND ($3::text = '' OR typename = $3)
			 ORDER BY id;`, s.instance, maxDuration, typename); err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		ids := make([]int64, len(candidates))
		for i, c := range candidates {
			ids[i] = int64(c.ID)
		}
		var rows []model.RotationBucket
		if err := tx.SelectContext(ctx, &rows,
			`SELECT `+bucketColumns+` FROM fill_buckets WHERE video_id = ANY($1);`, pq.Array(ids)); err != nil {
			return err
		}
		buckets := make(map[int][]model.RotationBucket)
		for _, b := range rows {
			buckets[b.VideoID] = append(buckets[b.VideoID], b)
		}

		choice, ok := rotation.Pick(candidates, buckets, s.ladder, s.fileWeight, s.intn)
		if !ok {
			return nil
		}
		if err := s.recordPlay(ctx, tx, buckets[choice.ID], choice.ID); err != nil {
			return err
		}
		picked = &choice
		return nil
	})
	switch {
	case err != nil:
		metrics.RecordFillSelection(s.instance, "error")
		log.Error().Err(err).Str("instance", s.instance).Msg("[db] NextItem failed")
		return nil, err
	case picked == nil:
		metrics.RecordFillSelection(s.instance, "empty")
	default:
		metrics.RecordFillSelection(s.instance, "picked")
	}
	return picked, nil
}

func (s *pgFillStore) recordPlay(ctx context.Context, tx *sqlx.Tx, existing []model.RotationBucket, videoID int) error {
	update, create := rotation.RecordPlay(existing, s.ladder, videoID, s.now().UTC())
	if update != nil {
		_, err := tx.ExecContext(ctx, `UPDATE fill_buckets SET bucketcount = $2 WHERE id = $1;`, update.ID, update.Count)
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fill_buckets (instance, video_id, buckettag, bucketcount, bucketstart)
		VALUES ($1, $2, $3, $4, $5);`, s.instance, create.VideoID, create.Tag, create.Count, create.Start)
	return err
}

func (s *pgFillStore) UndoPlay(ctx context.Context, videoID int) error {
	err := s.fillTx(ctx, func(tx *sqlx.Tx) error {
		var rows []model.RotationBucket
		if err := tx.SelectContext(ctx, &rows,
			`SELECT `+bucketColumns+` FROM fill_buckets WHERE instance = $1 AND video_id = $2;`, s.instance, videoID); err != nil {
			return err
		}
		update, remove := rotation.UndoPlay(rows, videoID)
		switch {
		case update != nil:
			_, err := tx.ExecContext(ctx, `UPDATE fill_buckets SET bucketcount = $2 WHERE id = $1;`, update.ID, update.Count)
			return err
		case remove != nil:
			_, err := tx.ExecContext(ctx, `DELETE FROM fill_buckets WHERE id = $1;`, *remove)
			return err
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("instance", s.instance).Int("video_id", videoID).Msg("[db] UndoPlay failed")
		return err
	}
	return nil
}

// AgeBuckets rolls every expired bucket into the next level in one transaction.
func (s *pgFillStore) AgeBuckets(ctx context.Context, now time.Time) error {
	var plan rotation.Plan
	err := s.fillTx(ctx, func(tx *sqlx.Tx) error {
		var rows []model.RotationBucket
		if err := tx.SelectContext(ctx, &rows,
			`SELECT `+bucketColumns+` FROM fill_buckets WHERE instance = $1;`, s.instance); err != nil {
			return err
		}
		plan = rotation.Age(rows, s.ladder, now.UTC())
		if plan.Empty() {
			return nil
		}
		if len(plan.Delete) > 0 {
			ids := make([]int64, len(plan.Delete))
			for i, id := range plan.Delete {
				ids[i] = int64(id)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM fill_buckets WHERE id = ANY($1);`, pq.Array(ids)); err != nil {
				return err
			}
		}
		for _, b := range plan.Update {
			if _, err := tx.ExecContext(ctx,
				`UPDATE fill_buckets SET bucketcount = $2 WHERE id = $1;`, b.ID, b.Count); err != nil {
				return err
			}
		}
		for _, b := range plan.Create {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO fill_buckets (instance, video_id, buckettag, bucketcount, bucketstart)
				VALUES ($1, $2, $3, $4, $5);`, s.instance, b.VideoID, b.Tag, b.Count, b.Start); err != nil {
				return err
			}
		}
		return nil
	})
	metrics.RecordAging(s.instance, err)
	if err != nil {
		return fmt.Errorf("age buckets for %q: %w", s.instance, err)
	}
	log.Debug().Str("instance", s.instance).Int("rolled", len(plan.Delete)).Msg("[db] buckets aged")
	return nil
}
