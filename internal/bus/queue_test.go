package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema/schematest"
)

func env(minute int) schema.Envelope {
	return schema.MustEnvelope(schematest.System(schematest.Time(minute), "tick"))
}

func TestQueueFullAndClosed(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Publish(env(0)))
	assert.ErrorIs(t, q.Publish(env(1)), ErrQueueFull)
	assert.Equal(t, 1, q.Len())

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Publish(env(2)), ErrQueueClosed)
	assert.ErrorIs(t, q.PublishWait(context.Background(), env(3)), ErrQueueClosed)
	assert.Equal(t, uint64(1), q.Published())
	assert.Equal(t, uint64(3), q.Rejected())

	var got []schema.Envelope
	q.Run(context.Background(), func(e schema.Envelope) { got = append(got, e) })
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp().Equal(schematest.Time(0)))
}

func TestPublishWaitHonorsContext(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Publish(env(0)))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.PublishWait(ctx, env(1)), context.DeadlineExceeded)
}

func TestRunDeliversInOrder(t *testing.T) {
	q := NewQueue(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx, func(e schema.Envelope) {
			mu.Lock()
			got = append(got, e.Timestamp().Minute())
			mu.Unlock()
		})
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, q.PublishWait(ctx, env(i)))
	}
	q.Close()
	wg.Wait()

	require.Len(t, got, 50)
	for i, m := range got {
		assert.Equal(t, i, m)
	}
}
