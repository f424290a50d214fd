package live

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 2 * time.Second

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

// counterQuery returns the value of n each time it runs.
func counterQuery(n *atomic.Int64) QueryFunc[int64] {
	return func(context.Context) (int64, error) {
		return n.Load(), nil
	}
}

func TestWatch_deliversInitialValue(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var n atomic.Int64
	n.Store(7)
	sub := Watch(context.Background(), bus, counterQuery(&n), "food_cards")
	defer sub.Close()

	v, err := sub.Next(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestWatch_redeliversAfterPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var n atomic.Int64
	sub := Watch(context.Background(), bus, counterQuery(&n), "meal_records")
	defer sub.Close()

	ctx := testCtx(t)
	v, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), v)

	n.Store(1)
	bus.Publish("meal_records")

	v, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestWatch_ignoresOtherTables(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var runs atomic.Int64
	query := func(context.Context) (int64, error) {
		return runs.Add(1), nil
	}
	sub := Watch(context.Background(), bus, query, "food_cards")
	defer sub.Close()

	_, err := sub.Next(testCtx(t))
	require.NoError(t, err)

	bus.Publish("meal_records")

	select {
	case r := <-sub.Updates():
		t.Fatalf("unexpected delivery %v", r)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int64(1), runs.Load())
}

func TestWatch_latestValueWins(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var n atomic.Int64
	sub := Watch(context.Background(), bus, counterQuery(&n), "food_cards")
	defer sub.Close()

	for i := 1; i <= 100; i++ {
		n.Store(int64(i))
		bus.Publish("food_cards")
	}

	ctx := testCtx(t)
	for {
		v, err := sub.Next(ctx)
		require.NoError(t, err)
		if v == 100 {
			break
		}
		require.Less(t, v, int64(100))
	}
}

func TestWatch_deliversQueryErrors(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	boom := errors.New("boom")
	var fail atomic.Bool
	fail.Store(true)
	query := func(context.Context) (string, error) {
		if fail.Load() {
			return "", boom
		}
		return "ok", nil
	}
	sub := Watch(context.Background(), bus, query, "food_cards")
	defer sub.Close()

	ctx := testCtx(t)
	_, err := sub.Next(ctx)
	require.ErrorIs(t, err, boom)

	fail.Store(false)
	bus.Publish("food_cards")

	v, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestSubscription_CloseUnregisters(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var n atomic.Int64
	sub := Watch(context.Background(), bus, counterQuery(&n), "food_cards", "meal_records")
	_, err := sub.Next(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1, bus.WatcherCount("food_cards"))
	assert.Equal(t, 1, bus.WatcherCount("meal_records"))

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, bus.WatcherCount("food_cards"))
	assert.Equal(t, 0, bus.WatcherCount("meal_records"))

	_, err = sub.Next(testCtx(t))
	assert.ErrorIs(t, err, ErrClosed)

	// publishing to a table nobody watches is fine
	bus.Publish("food_cards")
}

func TestSubscription_contextCancel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int64
	sub := Watch(ctx, bus, counterQuery(&n), "food_cards")

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not stop after cancel")
	}
	assert.Equal(t, 0, bus.WatcherCount("food_cards"))
}

func TestBus_CloseEndsSubscriptionsAndListeners(t *testing.T) {
	bus := NewBus()

	var n atomic.Int64
	sub := Watch(context.Background(), bus, counterQuery(&n), "food_cards")
	l := bus.Listen("meal_records")

	_, err := sub.Next(testCtx(t))
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not stop after bus close")
	}
	_, ok := <-l.C()
	assert.False(t, ok)

	l.Close()
	sub.Close()
	bus.Publish("food_cards")

	// watching a closed bus ends immediately
	late := Watch(context.Background(), bus, counterQuery(&n), "food_cards")
	defer late.Close()
	select {
	case <-late.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription on closed bus did not stop")
	}
}

func TestListener_coalescesSignals(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	l := bus.Listen("food_cards", "meal_records")
	defer l.Close()

	bus.Publish("food_cards")
	bus.Publish("meal_records")
	bus.Publish("food_cards", "meal_records")

	select {
	case <-l.C():
	case <-time.After(waitTimeout):
		t.Fatal("no signal")
	}
	select {
	case <-l.C():
		t.Fatal("signals should coalesce into one")
	default:
	}
}

func TestBus_nilPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish("food_cards") })
}

// A nil bus behaves as a closed one for watches and listeners.
func TestBus_nilWatchAndListen(t *testing.T) {
	var bus *Bus

	var n atomic.Int64
	n.Store(3)
	sub := Watch(context.Background(), bus, counterQuery(&n), "food_cards")
	defer sub.Close()

	v, err := sub.Next(testCtx(t))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	_, err = sub.Next(testCtx(t))
	assert.ErrorIs(t, err, ErrClosed)

	l := bus.Listen("meal_records")
	_, ok := <-l.C()
	assert.False(t, ok)
	assert.NotPanics(t, l.Close)
	assert.NotPanics(t, bus.Close)
	assert.Zero(t, bus.WatcherCount("food_cards"))
}
