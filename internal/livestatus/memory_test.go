package livestatus

import (
	"context"
	"sync"
	"testing"

	"storyteller-server/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed struct {
	mu     sync.Mutex
	values []string
	oks    []bool
}

func (o *observed) cb(v string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values = append(o.values, v)
	o.oks = append(o.oks, ok)
}

func TestMemoryChannel_SubscribeDeliversCurrentThenChanges(t *testing.T) {
	ctx := context.Background()
	ch := NewMemoryChannel()
	require.NoError(t, ch.Set(ctx, "jobs/1/status", "pending"))

	var o observed
	unsubscribe, err := ch.SubscribeValue(ctx, "jobs/1/status", o.cb)
	require.NoError(t, err)

	require.NoError(t, ch.Set(ctx, "jobs/1/status", "processing"))
	require.NoError(t, ch.Set(ctx, "jobs/1/progress", "10"))

	assert.Equal(t, []string{"pending", "processing"}, o.values)

	unsubscribe()
	unsubscribe()
	require.NoError(t, ch.Set(ctx, "jobs/1/status", "completed"))
	assert.Len(t, o.values, 2)
}

func TestMemoryChannel_RemoveDeletesDescendants(t *testing.T) {
	ctx := context.Background()
	ch := NewMemoryChannel()
	job := &model.GenerationJob{ID: uuid.New(), OwnerID: "owner", Status: model.StatusPending}
	require.NoError(t, MirrorJob(ctx, ch, job))
	require.NoError(t, ch.Set(ctx, "jobs/other/status", "pending"))
	require.NoError(t, ch.Set(ctx, JobPath(job.ID.String())+"x/status", "pending"))

	var o observed
	_, err := ch.SubscribeValue(ctx, JobLeafPath(job.ID.String(), LeafStatus), o.cb)
	require.NoError(t, err)

	require.NoError(t, RemoveJob(ctx, ch, job.ID.String()))

	for _, leaf := range []string{LeafStatus, LeafProgress, LeafOwnerID} {
		_, ok, err := ch.Get(ctx, JobLeafPath(job.ID.String(), leaf))
		require.NoError(t, err)
		assert.False(t, ok, leaf)
	}
	assert.Equal(t, 2, ch.Len(), "sibling paths are untouched")
	assert.Equal(t, []bool{true, false}, o.oks)

	// Повторное удаление и удаление несуществующего пути безопасны.
	assert.NoError(t, RemoveJob(ctx, ch, job.ID.String()))
}

func TestMemoryChannel_UnsubscribeFromCallback(t *testing.T) {
	ctx := context.Background()
	ch := NewMemoryChannel()

	var unsubscribe func()
	calls := 0
	unsubscribe, err := ch.SubscribeValue(ctx, "jobs/1/status", func(v string, ok bool) {
		calls++
		if v == "completed" {
			unsubscribe()
		}
	})
	require.NoError(t, err)

	require.NoError(t, ch.Set(ctx, "jobs/1/status", "completed"))
	require.NoError(t, ch.Set(ctx, "jobs/1/status", "failed"))
	assert.Equal(t, 2, calls)
}

func TestParseProgress(t *testing.T) {
	assert.Equal(t, 30, ParseProgress("30"))
	assert.Equal(t, 42, ParseProgress("42.7"))
	assert.Equal(t, 100, ParseProgress("250"))
	assert.Equal(t, 0, ParseProgress("-3"))
	assert.Equal(t, 0, ParseProgress("abc"))
}

func TestSetStateWritesProgressAndStatus(t *testing.T) {
	ctx := context.Background()
	ch := NewMemoryChannel()
	require.NoError(t, SetState(ctx, ch, "j", model.StatusProcessing, 10))
	require.NoError(t, SetFailed(ctx, ch, "j", "boom"))

	v, _, _ := ch.Get(ctx, JobLeafPath("j", LeafProgress))
	assert.Equal(t, "10", v)
	v, _, _ = ch.Get(ctx, JobLeafPath("j", LeafStatus))
	assert.Equal(t, "failed", v)
	v, _, _ = ch.Get(ctx, JobLeafPath("j", LeafError))
	assert.Equal(t, "boom", v)
}
