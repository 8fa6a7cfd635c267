package subscriber

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/livestatus"
	"storyteller-server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu    sync.Mutex
	snaps []model.JobSnapshot
}

func (c *collector) onUpdate(s model.JobSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *collector) last() model.JobSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[len(c.snaps)-1]
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func TestSubscribe_FirstCallbackIsSeededSnapshot(t *testing.T) {
	ch := livestatus.NewMemoryChannel()
	var c collector

	unsubscribe, err := Subscribe(context.Background(), ch, "job-1", c.onUpdate)
	require.NoError(t, err)
	defer unsubscribe()

	require.Equal(t, 1, c.count())
	assert.Equal(t, model.JobSnapshot{Status: model.StatusPending, Progress: 0}, c.last())
}

func TestSubscribe_MergesLeavesIntoCumulativeSnapshot(t *testing.T) {
	ctx := context.Background()
	ch := livestatus.NewMemoryChannel()
	require.NoError(t, livestatus.SetState(ctx, ch, "job-1", model.StatusProcessing, 10))

	var c collector
	unsubscribe, err := Subscribe(ctx, ch, "job-1", c.onUpdate)
	require.NoError(t, err)
	defer unsubscribe()

	assert.Equal(t, model.JobSnapshot{Status: model.StatusProcessing, Progress: 10}, c.last())

	require.NoError(t, livestatus.SetProgress(ctx, ch, "job-1", 30))
	assert.Equal(t, model.JobSnapshot{Status: model.StatusProcessing, Progress: 30}, c.last())

	// Изменение только error все равно дает полный снимок
	require.NoError(t, ch.Set(ctx, livestatus.JobLeafPath("job-1", livestatus.LeafError), "upstream failed"))
	assert.Equal(t, model.JobSnapshot{Status: model.StatusProcessing, Progress: 30, Error: "upstream failed"}, c.last())

	for _, s := range c.snaps {
		assert.NotEmpty(t, s.Status)
	}
}

func TestSubscribe_UnsubscribeIsIdempotentAndSafeAfterDelete(t *testing.T) {
	ctx := context.Background()
	ch := livestatus.NewMemoryChannel()
	var c collector

	unsubscribe, err := Subscribe(ctx, ch, "job-2", c.onUpdate)
	require.NoError(t, err)

	require.NoError(t, livestatus.SetState(ctx, ch, "job-2", model.StatusFailed, 30))
	require.NoError(t, livestatus.RemoveJob(ctx, ch, "job-2"))
	assert.Equal(t, model.StatusFailed, c.last().Status, "deleted leaf keeps the last known status")

	assert.NotPanics(t, func() {
		unsubscribe()
		unsubscribe()
	})

	before := c.count()
	require.NoError(t, livestatus.SetState(ctx, ch, "job-2", model.StatusCompleted, 100))
	assert.Equal(t, before, c.count(), "no callbacks after unsubscribe")
}

func TestSubscribe_RemovedPathBeforeTerminalStatusIsFailure(t *testing.T) {
	ctx := context.Background()
	ch := livestatus.NewMemoryChannel()
	require.NoError(t, livestatus.SetState(ctx, ch, "job-5", model.StatusProcessing, 30))

	var c collector
	unsubscribe, err := Subscribe(ctx, ch, "job-5", c.onUpdate)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, livestatus.RemoveJob(ctx, ch, "job-5"))
	assert.Equal(t, model.JobSnapshot{Status: model.StatusFailed, Progress: 30}, c.last())
}

func TestSubscribe_FailureMessageSurvivesRemoval(t *testing.T) {
	ctx := context.Background()
	ch := livestatus.NewMemoryChannel()
	require.NoError(t, livestatus.SetState(ctx, ch, "job-6", model.StatusProcessing, 30))

	var c collector
	unsubscribe, err := Subscribe(ctx, ch, "job-6", c.onUpdate)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, livestatus.SetFailed(ctx, ch, "job-6", "story generation failed after multiple retries"))
	require.NoError(t, livestatus.RemoveJob(ctx, ch, "job-6"))

	assert.Equal(t, model.JobSnapshot{
		Status:   model.StatusFailed,
		Progress: 30,
		Error:    "story generation failed after multiple retries",
	}, c.last())
}

func TestSubscribe_RemovalOfUnknownJobKeepsPending(t *testing.T) {
	ctx := context.Background()
	ch := livestatus.NewMemoryChannel()

	var c collector
	unsubscribe, err := Subscribe(ctx, ch, "job-7", c.onUpdate)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, livestatus.RemoveJob(ctx, ch, "job-7"))
	assert.Equal(t, model.InitialSnapshot(), c.last())
}

func TestSubscribe_CallerUnsubscribesOnTerminalStatus(t *testing.T) {
	ctx := context.Background()
	ch := livestatus.NewMemoryChannel()

	var (
		unsubscribe Unsubscribe
		statuses    []model.StoryStatus
	)
	unsubscribe, err := Subscribe(ctx, ch, "job-3", func(s model.JobSnapshot) {
		statuses = append(statuses, s.Status)
		if s.Status.IsTerminal() {
			unsubscribe()
		}
	})
	require.NoError(t, err)

	require.NoError(t, livestatus.SetState(ctx, ch, "job-3", model.StatusCompleted, 100))
	require.NoError(t, livestatus.SetState(ctx, ch, "job-3", model.StatusProcessing, 10))

	assert.Equal(t, []model.StoryStatus{model.StatusPending, model.StatusPending, model.StatusCompleted}, statuses)
}

type failingChannel struct {
	interfaces.StatusChannel
	failOn   string
	detached []string
}

func (f *failingChannel) SubscribeValue(ctx context.Context, path string, cb interfaces.ValueCallback) (func(), error) {
	if path == f.failOn {
		return nil, errors.New("subscribe refused")
	}
	return func() { f.detached = append(f.detached, path) }, nil
}

func TestSubscribe_FailureDetachesEarlierLeaves(t *testing.T) {
	ch := &failingChannel{failOn: livestatus.JobLeafPath("job-4", livestatus.LeafError)}

	_, err := Subscribe(context.Background(), ch, "job-4", func(model.JobSnapshot) {})
	require.Error(t, err)
	assert.ElementsMatch(t, []string{
		livestatus.JobLeafPath("job-4", livestatus.LeafStatus),
		livestatus.JobLeafPath("job-4", livestatus.LeafProgress),
	}, ch.detached)
}
