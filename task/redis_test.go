package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfextract/extract"
	"pdfextract/task"
)

func newRedisStore(t *testing.T) (*task.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := task.NewRedisStoreWithClient(client, time.Hour)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	tk, err := s.Create(ctx, "report.pdf", 2048)
	require.NoError(t, err)
	require.NotEmpty(t, tk.ID)

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
	assert.Equal(t, "report.pdf", got.Filename)
	assert.Equal(t, int64(2048), got.Size)
	assert.Equal(t, 0, got.Progress)

	require.NoError(t, s.MarkProcessing(ctx, tk.ID, 10, "Starting PDF extraction..."))
	require.NoError(t, s.Update(ctx, tk.ID, 50, "halfway"))

	res := &extract.Result{FullText: "hello", PageCount: 3, WordCount: 1}
	require.NoError(t, s.Complete(ctx, tk.ID, res, "pdftext"))

	got, err = s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "pdftext", got.Backend)
	require.NotNil(t, got.Result)
	assert.Equal(t, "hello", got.Result.FullText)
	assert.Equal(t, 3, got.Result.PageCount)
	assert.Nil(t, got.Error)
}

func TestRedisStoreTerminalWins(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	tk, err := s.Create(ctx, "doc.pdf", 1)
	require.NoError(t, err)

	// Finalizing an unclaimed task fails.
	assert.ErrorIs(t, s.Fail(ctx, tk.ID, task.KindTimeout, "early"), task.ErrInvalidTransition)

	require.NoError(t, s.MarkProcessing(ctx, tk.ID, 10, "starting"))

	// Claiming an already claimed task fails.
	assert.ErrorIs(t, s.MarkProcessing(ctx, tk.ID, 10, "again"), task.ErrInvalidTransition)

	require.NoError(t, s.Fail(ctx, tk.ID, task.KindExtractionFailed, "broken document"))

	assert.ErrorIs(t, s.Complete(ctx, tk.ID, &extract.Result{}, "fitz"), task.ErrInvalidTransition)
	assert.ErrorIs(t, s.Update(ctx, tk.ID, 99, "late"), task.ErrInvalidTransition)

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "broken document", got.Error.Message)
	assert.Nil(t, got.Result)
	// A failed task never reads as fully done.
	assert.Less(t, got.Progress, 100)
}

func TestRedisStoreMonotoneProgress(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	tk, err := s.Create(ctx, "doc.pdf", 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessing(ctx, tk.ID, 10, "starting"))
	require.NoError(t, s.Update(ctx, tk.ID, 70, "almost"))
	require.NoError(t, s.Update(ctx, tk.ID, 25, "stale write"))

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, got.Progress)
}

func TestRedisStoreDelete(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	tk, err := s.Create(ctx, "doc.pdf", 1)
	require.NoError(t, err)
	require.NoError(t, s.PutPayload(ctx, tk.ID, []byte("%PDF")))

	require.NoError(t, s.Delete(ctx, tk.ID))
	_, err = s.Get(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
	_, err = s.Payload(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, tk.ID), task.ErrNotFound)

	// Write-backs from a worker that still holds the id must not
	// recreate the hash.
	assert.ErrorIs(t, s.Update(ctx, tk.ID, 50, "late"), task.ErrNotFound)
	assert.ErrorIs(t, s.Complete(ctx, tk.ID, &extract.Result{}, "pdftext"), task.ErrNotFound)
	_, err = s.Get(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestRedisStoreExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := task.NewRedisStoreWithClient(client, time.Minute)
	defer s.Close()
	ctx := context.Background()

	tk, err := s.Create(ctx, "ephemeral.pdf", 1)
	require.NoError(t, err)
	require.NoError(t, s.PutPayload(ctx, tk.ID, []byte("%PDF")))

	mr.FastForward(2 * time.Minute)

	_, err = s.Get(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
	_, err = s.Payload(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestRedisStorePayloadRoundTrip(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	tk, err := s.Create(ctx, "doc.pdf", 4)
	require.NoError(t, err)

	require.NoError(t, s.PutPayload(ctx, tk.ID, []byte("%PDF-1.7")))
	data, err := s.Payload(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)

	require.NoError(t, s.DeletePayload(ctx, tk.ID))
	_, err = s.Payload(ctx, tk.ID)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestRedisStoreList(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "a.pdf", 1)
	require.NoError(t, err)
	b, err := s.Create(ctx, "b.pdf", 2)
	require.NoError(t, err)

	tasks, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	ids := []string{tasks[0].ID, tasks[1].ID}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}

func TestRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := task.NewRedisQueue(client, 2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))
	assert.ErrorIs(t, q.Enqueue(ctx, "c"), task.ErrQueueFull)

	id, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	size, err := q.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
	assert.Equal(t, 2, q.Capacity())

	n, err := q.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Empty queue times out with no id and no error.
	id, err = q.Dequeue(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestRedisQueueSubSecondTimeoutFloor(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	q := task.NewRedisQueue(client, 5)
	ctx := context.Background()

	// A queued entry is returned immediately regardless of the timeout.
	require.NoError(t, q.Enqueue(ctx, "ready"))
	start := time.Now()
	id, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "ready", id)
	assert.Less(t, time.Since(start), time.Second)

	// On an empty queue the sub-second timeout is floored to BLPOP's 1s
	// minimum rather than silently rounded by the client.
	start = time.Now()
	id, err = q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}
