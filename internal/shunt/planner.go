// Package shunt re-times the schedule when a segment runs long or short.
//
// Top-level events after a reference point move together as a block up to the
// first real gap. A forward shunt closes gaps one at a time until the offset
// is used up; the space after the last event is unbounded, so a forward shunt
// always completes. A backward shunt only pulls the block before the first
// gap and fails with ErrSchedulingConflict when that would collide with the
// events in front of it.
package shunt

import (
	"errors"
	"sort"
)

// Fudge is how close (in seconds) two events may be and still count as
// back to back rather than separated by a gap.
const Fudge = 5

var ErrSchedulingConflict = errors.New("scheduling conflict")

// Span is a top-level event's position on the timeline.
type Span struct {
	ID       int
	Trigger  int64
	Duration int64
}

func (s Span) End() int64 {
	return s.Trigger + s.Duration
}

// Move is the net offset applied to one top-level event.
type Move struct {
	ID     int
	Offset int64
}

// Plan works out how far each span moves when shunting by offset from ref.
// spans must hold every top-level event with a trigger at or after ref.
// precedingEnd is the latest end of top-level events starting before ref, or
// nil if there are none. Spans that do not move are left out of the result.
func Plan(spans []Span, ref, offset int64, precedingEnd *int64) ([]Move, error) {
	work := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Trigger >= ref {
			work = append(work, s)
		}
	}
	if offset == 0 || len(work) == 0 {
		return nil, nil
	}
	sort.SliceStable(work, func(i, j int) bool { return work[i].Trigger < work[j].Trigger })
	start := make(map[int]int64, len(work))
	for _, s := range work {
		start[s.ID] = s.Trigger
	}

	if offset < 0 {
		gap, _, _ := findGap(work)
		if precedingEnd != nil && -offset > work[0].Trigger-*precedingEnd {
			return nil, ErrSchedulingConflict
		}
		shift(work, ref, gap, offset)
		return moves(work, start), nil
	}

	for remaining := offset; remaining > 0; {
		gap, size, bounded := findGap(work)
		step := remaining
		if bounded && size < step {
			step = size
		}
		shift(work, ref, gap, step)
		remaining -= step
	}
	return moves(work, start), nil
}

// findGap returns the end of the earliest span that is followed by real free
// time, and how long that free time is. bounded is false when nothing follows.
func findGap(work []Span) (gap, size int64, bounded bool) {
	for _, a := range work {
		if !isGap(work, a) {
			continue
		}
		gap = a.End()
		for _, b := range work {
			if b.Trigger > gap && (!bounded || b.Trigger-gap < size) {
				size = b.Trigger - gap
				bounded = true
			}
		}
		return gap, size, bounded
	}
	// the span ending last always qualifies, so only an empty list gets here
	return 0, 0, false
}

func isGap(work []Span, a Span) bool {
	end := a.End()
	for _, b := range work {
		if b.End() > end && b.Trigger-end < Fudge {
			return false
		}
	}
	return true
}

func shift(work []Span, from, to, by int64) {
	for i := range work {
		if work[i].Trigger >= from && work[i].Trigger < to {
			work[i].Trigger += by
		}
	}
}

func moves(work []Span, start map[int]int64) []Move {
	var out []Move
	for _, s := range work {
		if d := s.Trigger - start[s.ID]; d != 0 {
			out = append(out, Move{ID: s.ID, Offset: d})
		}
	}
	return out
}
