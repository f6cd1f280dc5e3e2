package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleMarketEvent() MarketEvent {
	return MarketEvent{Timestamp: time.Unix(0, 0)}
}

func TestPublishSync_TypedDispatch(t *testing.T) {
	b := New()

	var gotMarket int
	var gotFill int
	Subscribe[MarketEvent](b, func(MarketEvent) { gotMarket++ })
	Subscribe[FillEvent](b, func(FillEvent) { gotFill++ })

	b.PublishSync(sampleMarketEvent())
	b.PublishSync(sampleMarketEvent())

	require.Equal(t, 2, gotMarket)
	require.Equal(t, 0, gotFill)
}

func TestSubscribeAll_ReceivesEveryKind(t *testing.T) {
	b := New()

	var kinds []EventKind
	b.SubscribeAll(func(e Event) { kinds = append(kinds, e.Kind()) })

	b.PublishSync(sampleMarketEvent())
	b.PublishSync(FillEvent{Timestamp: time.Unix(0, 0)})

	require.Equal(t, []EventKind{KindMarket, KindFill}, kinds)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := New()

	var count int
	h := Subscribe[MarketEvent](b, func(MarketEvent) { count++ })

	b.PublishSync(sampleMarketEvent())
	b.Unsubscribe(h)
	b.PublishSync(sampleMarketEvent())

	require.Equal(t, 1, count)
}

func TestUnsubscribe_UnknownHandleIsNoop(t *testing.T) {
	b := New()
	require.NotPanics(t, func() { b.Unsubscribe(SubscriptionHandle(999)) })
}

func TestPanickingSubscriber_IsolatedFromOthers(t *testing.T) {
	b := New()

	var secondCalled bool
	b.SubscribeAll(func(Event) { panic("boom") })
	b.SubscribeAll(func(Event) { secondCalled = true })

	require.NotPanics(t, func() { b.PublishSync(sampleMarketEvent()) })
	require.True(t, secondCalled)
}

func TestAsyncPublish_ProcessPending(t *testing.T) {
	b := New()

	var count int
	Subscribe[MarketEvent](b, func(MarketEvent) { count++ })

	require.NoError(t, b.Publish(sampleMarketEvent()))
	require.NoError(t, b.Publish(sampleMarketEvent()))
	require.Equal(t, 0, count, "ProcessPending not yet called")

	b.ProcessPending()
	require.Equal(t, 2, count)
}

func TestAsyncPublish_AfterStop(t *testing.T) {
	b := New()
	b.Stop()
	err := b.Publish(sampleMarketEvent())
	require.ErrorIs(t, err, ErrQueueClosed)
}
