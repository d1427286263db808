package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/playout/internal/model"
)

var ladder = Ladder{
	{Window: time.Hour, Weight: 100},
	{Window: 24 * time.Hour, Weight: 10},
	{Weight: 1},
}

func TestLadderValidate(t *testing.T) {
	assert.NoError(t, ladder.Validate())
	assert.Error(t, Ladder{}.Validate())
	assert.Error(t, Ladder{{Window: 0, Weight: 1}, {Weight: 1}}.Validate())
	// a single terminal level needs no window
	assert.NoError(t, Ladder{{Weight: 1}}.Validate())
}

func TestTickInterval(t *testing.T) {
	assert.Equal(t, time.Hour, ladder.TickInterval())
	assert.Equal(t, time.Duration(0), Ladder{{Weight: 1}}.TickInterval())
}

func TestScore(t *testing.T) {
	buckets := []model.RotationBucket{
		{Tag: 0, Count: 2},
		{Tag: 1, Count: 3},
		{Tag: 2, Count: 5},
	}
	// (2*100 + 3*10 + 5*1) * 2
	assert.Equal(t, int64(470), Score(buckets, ladder, 2))
	assert.Equal(t, int64(0), Score(nil, ladder, 3))
}

func TestPickPrefersLeastPlayed(t *testing.T) {
	candidates := []model.FillEntry{{ID: 1, Weight: 1}, {ID: 2, Weight: 1}, {ID: 3, Weight: 1}}
	buckets := map[int][]model.RotationBucket{
		1: {{Tag: 0, Count: 1}},
		2: {{Tag: 2, Count: 4}},
		3: {{Tag: 1, Count: 1}},
	}
	got, ok := Pick(candidates, buckets, ladder, 1, nil)
	require.True(t, ok)
	assert.Equal(t, 2, got.ID)
}

func TestPickWeightScalesScore(t *testing.T) {
	candidates := []model.FillEntry{{ID: 1, Weight: 5}, {ID: 2}}
	buckets := map[int][]model.RotationBucket{
		1: {{Tag: 2, Count: 1}},
		2: {{Tag: 2, Count: 2}},
	}
	// id 1 scores 5, id 2 scores 2 with the default weight of 1
	got, ok := Pick(candidates, buckets, ladder, 1, nil)
	require.True(t, ok)
	assert.Equal(t, 2, got.ID)
}

func TestPickBreaksTiesWithRandom(t *testing.T) {
	candidates := []model.FillEntry{{ID: 1}, {ID: 2}, {ID: 3}}
	var seen int
	got, ok := Pick(candidates, nil, ladder, 1, func(n int) int {
		seen = n
		return n - 1
	})
	require.True(t, ok)
	assert.Equal(t, 3, seen)
	assert.Equal(t, 3, got.ID)
}

func TestPickEmpty(t *testing.T) {
	_, ok := Pick(nil, nil, ladder, 1, nil)
	assert.False(t, ok)
}

func TestRecordPlay(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first play creates level zero bucket", func(t *testing.T) {
		update, create := RecordPlay(nil, ladder, 7, now)
		assert.Nil(t, update)
		require.NotNil(t, create)
		assert.Equal(t, 0, create.Tag)
		assert.Equal(t, int64(1), create.Count)
		assert.Equal(t, now, create.Start)
	})

	t.Run("open bucket is incremented", func(t *testing.T) {
		existing := []model.RotationBucket{{ID: 3, VideoID: 7, Tag: 0, Count: 4, Start: now.Add(-10 * time.Minute)}}
		update, create := RecordPlay(existing, ladder, 7, now)
		assert.Nil(t, create)
		require.NotNil(t, update)
		assert.Equal(t, 3, update.ID)
		assert.Equal(t, int64(5), update.Count)
	})

	t.Run("expired bucket starts a new one", func(t *testing.T) {
		existing := []model.RotationBucket{{ID: 3, VideoID: 7, Tag: 0, Count: 4, Start: now.Add(-2 * time.Hour)}}
		update, create := RecordPlay(existing, ladder, 7, now)
		assert.Nil(t, update)
		require.NotNil(t, create)
	})
}

func TestAgeRollsIntoNextLevel(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	buckets := []model.RotationBucket{
		{ID: 1, VideoID: 10, Tag: 0, Count: 3, Start: now.Add(-2 * time.Hour)},
		{ID: 2, VideoID: 10, Tag: 1, Count: 5, Start: now.Add(-3 * time.Hour)},
		{ID: 3, VideoID: 11, Tag: 0, Count: 1, Start: now.Add(-time.Minute)},
		{ID: 4, VideoID: 12, Tag: 0, Count: 2, Start: now.Add(-90 * time.Minute)},
	}

	plan := Age(buckets, ladder, now)

	assert.ElementsMatch(t, []int{1, 4}, plan.Delete)
	require.Len(t, plan.Update, 1)
	assert.Equal(t, 2, plan.Update[0].ID)
	assert.Equal(t, int64(8), plan.Update[0].Count)
	require.Len(t, plan.Create, 1)
	assert.Equal(t, 12, plan.Create[0].VideoID)
	assert.Equal(t, 1, plan.Create[0].Tag)
	assert.Equal(t, now, plan.Create[0].Start)
}

func TestAgeCascadesToTerminal(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	buckets := []model.RotationBucket{
		{ID: 1, VideoID: 10, Tag: 1, Count: 6, Start: now.Add(-48 * time.Hour)},
		{ID: 2, VideoID: 10, Tag: 2, Count: 1, Start: now.Add(-720 * time.Hour)},
	}
	plan := Age(buckets, ladder, now)
	assert.Equal(t, []int{1}, plan.Delete)
	require.Len(t, plan.Update, 1)
	assert.Equal(t, int64(7), plan.Update[0].Count)
	assert.Empty(t, plan.Create)
}

func TestAgeIsIdempotentAtSameInstant(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	buckets := []model.RotationBucket{
		{ID: 1, VideoID: 10, Tag: 0, Count: 3, Start: now.Add(-2 * time.Hour)},
		{ID: 2, VideoID: 10, Tag: 0, Count: 2, Start: now.Add(-3 * time.Hour)},
		{ID: 3, VideoID: 11, Tag: 1, Count: 9, Start: now.Add(-30 * time.Hour)},
		{ID: 4, VideoID: 11, Tag: 0, Count: 1, Start: now.Add(-time.Hour)},
	}
	ids := 100
	next := func() int { ids++; return ids }

	once := Apply(buckets, Age(buckets, ladder, now), next)
	second := Age(once, ladder, now)
	assert.True(t, second.Empty())
	assert.Equal(t, once, Apply(once, second, next))

	// both level zero buckets for video 10 end up in a single level one bucket
	var merged []model.RotationBucket
	for _, b := range once {
		if b.VideoID == 10 {
			merged = append(merged, b)
		}
	}
	require.Len(t, merged, 1)
	assert.Equal(t, int64(5), merged[0].Count)
	assert.Equal(t, 1, merged[0].Tag)
}

func TestUndoPlay(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	buckets := []model.RotationBucket{
		{ID: 1, VideoID: 5, Tag: 0, Count: 2, Start: now.Add(-2 * time.Minute)},
		{ID: 2, VideoID: 5, Tag: 0, Count: 1, Start: now.Add(-time.Minute)},
		{ID: 3, VideoID: 5, Tag: 1, Count: 4, Start: now.Add(-time.Hour)},
		{ID: 4, VideoID: 6, Tag: 0, Count: 3, Start: now},
	}

	update, remove := UndoPlay(buckets, 5)
	assert.Nil(t, update)
	require.NotNil(t, remove)
	assert.Equal(t, 2, *remove, "newest level 0 bucket goes first")

	update, remove = UndoPlay(buckets[2:], 5)
	assert.Nil(t, remove)
	require.NotNil(t, update)
	assert.Equal(t, 3, update.ID)
	assert.Equal(t, int64(3), update.Count)
	assert.Equal(t, int64(4), buckets[2].Count, "input is not modified")

	update, remove = UndoPlay(buckets, 99)
	assert.Nil(t, update)
	assert.Nil(t, remove)
}
