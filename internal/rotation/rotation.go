// Package rotation implements the weighted, time-decaying play counters used
// by fill processors to avoid repeating the same clips.
//
// Every play lands in a level 0 bucket. When a bucket outlives its level's
// window its count is rolled into the next level, where it is weighted
// differently. The last level is terminal and never ages further.
package rotation

import (
	"errors"
	"fmt"
	"time"

	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

type Level struct {
	Window time.Duration
	Weight int64
}

// Ladder is the ordered list of age levels; the index is the bucket tag.
type Ladder []Level

func (l Ladder) Validate() error {
	if len(l) == 0 {
		return errors.New("weight ladder needs at least one level")
	}
	for i := 0; i < l.Terminal(); i++ {
		if l[i].Window <= 0 {
			return fmt.Errorf("weight level %d: window must be positive", i)
		}
	}
	return nil
}

// Terminal is the tag of the last level.
func (l Ladder) Terminal() int {
	return len(l) - 1
}

// TickInterval is the smallest non-terminal window, or zero for a single-level ladder.
func (l Ladder) TickInterval() time.Duration {
	var min time.Duration
	for i := 0; i < l.Terminal(); i++ {
		if min == 0 || l[i].Window < min {
			min = l[i].Window
		}
	}
	return min
}

func (l Ladder) weight(tag int) int64 {
	if tag < 0 || tag >= len(l) {
		return 0
	}
	return l[tag].Weight
}

// Score is Σ(count × level weight) × content weight. Lower scores were played less.
func Score(buckets []model.RotationBucket, ladder Ladder, contentWeight int) int64 {
	var sum int64
	for _, b := range buckets {
		sum += b.Count * ladder.weight(b.Tag)
	}
	return sum * int64(contentWeight)
}

// Pick returns the lowest scoring candidate; ties are broken with intn.
// defaultWeight is used for entries without a weight of their own.
func Pick(candidates []model.FillEntry, buckets map[int][]model.RotationBucket, ladder Ladder,
	defaultWeight int, intn func(int) int) (model.FillEntry, bool) {
	if len(candidates) == 0 {
		return model.FillEntry{}, false
	}
	var best []model.FillEntry
	var bestScore int64
	for _, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = defaultWeight
		}
		s := Score(buckets[c.ID], ladder, w)
		switch {
		case len(best) == 0 || s < bestScore:
			best = append(best[:0], c)
			bestScore = s
		case s == bestScore:
			best = append(best, c)
		}
	}
	if len(best) == 1 || intn == nil {
		return best[0], true
	}
	return best[intn(len(best))], true
}

// RecordPlay decides how a play of videoID at now is stored: either the newest
// level 0 bucket still inside its window is incremented (update != nil), or a
// fresh bucket is created.
func RecordPlay(existing []model.RotationBucket, ladder Ladder, videoID int, now time.Time) (update *model.RotationBucket, create *model.RotationBucket) {
	if target := latest(existing, 0, videoID); target != nil && open(*target, ladder, now) {
		b := *target
		b.Count++
		return &b, nil
	}
	return nil, &model.RotationBucket{VideoID: videoID, Tag: 0, Count: 1, Start: now}
}

// UndoPlay reverses one RecordPlay of videoID: the newest bucket at the lowest
// level holding plays loses one, and is removed when it reaches zero. If aging
// already rolled the play upwards it is taken from that level instead.
func UndoPlay(existing []model.RotationBucket, videoID int) (update *model.RotationBucket, remove *int) {
	var target *model.RotationBucket
	for i := range existing {
		b := &existing[i]
		if b.VideoID != videoID || b.Count <= 0 {
			continue
		}
		if target == nil || b.Tag < target.Tag || (b.Tag == target.Tag && b.Start.After(target.Start)) {
			target = b
		}
	}
	if target == nil {
		return nil, nil
	}
	if target.Count == 1 {
		id := target.ID
		return nil, &id
	}
	b := *target
	b.Count--
	return &b, nil
}

// Plan is the set of changes one aging pass makes.
type Plan struct {
	Delete []int
	Update []model.RotationBucket
	Create []model.RotationBucket
}

func (p Plan) Empty() bool {
	return len(p.Delete) == 0 && len(p.Update) == 0 && len(p.Create) == 0
}

// Age rolls every bucket older than its level's window into the next level,
// merging into that level's open bucket for the same video or starting a new
// one at now. Running it twice at the same instant yields an empty second plan.
func Age(buckets []model.RotationBucket, ladder Ladder, now time.Time) Plan {
	work := make([]*model.RotationBucket, 0, len(buckets))
	for i := range buckets {
		b := buckets[i]
		work = append(work, &b)
	}
	deleted := make(map[*model.RotationBucket]bool)
	dirty := make(map[*model.RotationBucket]bool)
	var created []*model.RotationBucket

	for level := 0; level < ladder.Terminal(); level++ {
		cutoff := now.Add(-ladder[level].Window)
		var due []*model.RotationBucket
		for _, b := range work {
			if b.Tag == level && !deleted[b] && !b.Start.After(cutoff) {
				due = append(due, b)
			}
		}
		for _, b := range due {
			target := latestOpen(work, ladder, level+1, b.VideoID, now, deleted)
			if target != nil {
				target.Count += b.Count
				dirty[target] = true
			} else {
				nb := &model.RotationBucket{
					Instance: b.Instance,
					VideoID:  b.VideoID,
					Tag:      level + 1,
					Count:    b.Count,
					Start:    now,
				}
				work = append(work, nb)
				created = append(created, nb)
			}
			deleted[b] = true
		}
	}

	var plan Plan
	for _, b := range work {
		switch {
		case b.ID == 0:
			// created this pass; collected below
		case deleted[b]:
			plan.Delete = append(plan.Delete, b.ID)
		case dirty[b]:
			plan.Update = append(plan.Update, *b)
		}
	}
	for _, b := range created {
		plan.Create = append(plan.Create, *b)
	}
	return plan
}

// Apply returns buckets with plan applied. New buckets get ids from nextID.
func Apply(buckets []model.RotationBucket, plan Plan, nextID func() int) []model.RotationBucket {
	gone := make(map[int]bool, len(plan.Delete))
	for _, id := range plan.Delete {
		gone[id] = true
	}
	updated := make(map[int]model.RotationBucket, len(plan.Update))
	for _, b := range plan.Update {
		updated[b.ID] = b
	}
	out := make([]model.RotationBucket, 0, len(buckets)+len(plan.Create))
	for _, b := range buckets {
		if gone[b.ID] {
			continue
		}
		if u, ok := updated[b.ID]; ok {
			b = u
		}
		out = append(out, b)
	}
	for _, b := range plan.Create {
		b.ID = nextID()
		out = append(out, b)
	}
	return out
}

func open(b model.RotationBucket, ladder Ladder, now time.Time) bool {
	if b.Tag >= ladder.Terminal() {
		return true
	}
	return now.Sub(b.Start) < ladder[b.Tag].Window
}

func latest(buckets []model.RotationBucket, tag, videoID int) *model.RotationBucket {
	var out *model.RotationBucket
	for i := range buckets {
		b := &buckets[i]
		if b.Tag != tag || b.VideoID != videoID {
			continue
		}
		if out == nil || b.Start.After(out.Start) {
			out = b
		}
	}
	return out
}

func latestOpen(work []*model.RotationBucket, ladder Ladder, tag, videoID int, now time.Time,
	deleted map[*model.RotationBucket]bool) *model.RotationBucket {
	var out *model.RotationBucket
	for _, b := range work {
		if deleted[b] || b.Tag != tag || b.VideoID != videoID {
			continue
		}
		if out == nil || b.Start.After(out.Start) {
			out = b
		}
	}
	if out == nil || !open(*out, ladder, now) {
		return nil
	}
	return out
}
