package processor

import (
	"context"
	"sync"
)

// Play is one clip selection a fill instance recorded during an expansion.
type Play struct {
	Instance string
	VideoID  int
}

// Journal collects the plays recorded while expanding one tree, so the caller
// can take them back if the tree is never stored.
type Journal struct {
	mu    sync.Mutex
	plays []Play
}

type journalKey struct{}

// WithJournal returns a context whose expansions record their plays in the
// returned journal.
func WithJournal(ctx context.Context) (context.Context, *Journal) {
	j := &Journal{}
	return context.WithValue(ctx, journalKey{}, j), j
}

func journalFrom(ctx context.Context) *Journal {
	j, _ := ctx.Value(journalKey{}).(*Journal)
	return j
}

func (j *Journal) record(instance string, videoID int) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.plays = append(j.plays, Play{Instance: instance, VideoID: videoID})
}

// Plays returns the recorded plays, oldest first.
func (j *Journal) Plays() []Play {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Play(nil), j.plays...)
}
