package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammex.com/internal/domain"
	"ammex.com/internal/matching"
)

func TestActor_Backpressure(t *testing.T) {
	a := newAssetActor(Market{Asset: "BTC"}, matching.NewBook("BTC"), 2, 1)
	// 不启动 run，邮箱塞满后直接拒绝
	require.NoError(t, a.tryEnqueue(func() {}))
	require.NoError(t, a.tryEnqueue(func() {}))
	assert.ErrorIs(t, a.tryEnqueue(func() {}), ErrEngineBusy)
	assert.Equal(t, uint64(1), a.MailboxFull())
}

func TestActor_RunsInOrder(t *testing.T) {
	a := newAssetActor(Market{Asset: "BTC"}, matching.NewBook("BTC"), 128, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.run(ctx)

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, a.tryEnqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()
	for i := range got {
		assert.Equal(t, i, got[i])
	}
}

func TestEngine_PanicInCommandIsContained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.eng.do(ctx, "BTC", func(context.Context, *assetActor) error {
		panic("boom")
	})
	assert.ErrorIs(t, err, errActorPanic)

	// actor 还活着
	_, err = f.eng.PlaceOrder(ctx, 1, "BTC", domain.SideBid, d("1"), d("1"))
	assert.NoError(t, err)
}

func TestEngine_ClosedRejects(t *testing.T) {
	f := newFixture(t)
	f.eng.Close()
	_, err := f.eng.PlaceOrder(context.Background(), 1, "BTC", domain.SideBid, d("1"), d("1"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngine_CallerTimeout(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	block := make(chan struct{})
	defer close(block)
	go func() {
		_ = f.eng.do(context.Background(), "BTC", func(context.Context, *assetActor) error {
			<-block
			return nil
		})
	}()
	time.Sleep(5 * time.Millisecond)

	_, err := f.eng.GetBook(ctx, "BTC")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
