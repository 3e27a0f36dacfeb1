package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/xo/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a single subscriber should receive only the events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("session.updated"),
						eventWithName("score.applied"),
					},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{"session.updated"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("session.updated")}, out.received["s1"])
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("leaderboard.updated"),
					},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{"leaderboard.updated"}},
						{name: "s2", subscribeTo: []string{"leaderboard.updated"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("leaderboard.updated")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("leaderboard.updated")}, out.received["s2"])
			},
		},

		"multiple events should be dispatched correctly to multiple subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("e1"),
						eventWithName("e2"),
						eventWithName("e1"),
						eventWithName("e3"),
					},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{"e1"}},
						{name: "s2", subscribeTo: []string{"e1", "e2"}},
						{name: "s3", subscribeTo: []string{"e3", "e2"}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("e1"), eventWithName("e1")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("e1"), eventWithName("e1"), eventWithName("e2")}, out.received["s2"])
				assert.ElementsMatch(t, []event.Event{eventWithName("e2"), eventWithName("e3")}, out.received["s3"])
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus(event.WithPoolSize(4))
			for _, s := range in.subscribers {
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_On(t *testing.T) {
	b := event.NewBus()

	var got atomic.Int64
	b.Subscribe("typed", event.On(func(_ context.Context, e typedEvent) error {
		got.Add(e.n)
		return nil
	}))
	b.Subscribe("typed", event.On(func(_ context.Context, _ eventWithName) error {
		t.Error("handler for another event type must not be called")
		return nil
	}))

	b.Publish(context.Background(), typedEvent{n: 2})
	b.Publish(context.Background(), typedEvent{n: 3})
	b.Stop()

	assert.Equal(t, int64(5), got.Load())
}

func TestBus_HandlerFailuresDoNotStopOthers(t *testing.T) {
	b := event.NewBus()

	var calls atomic.Int64
	b.Subscribe("e", func(context.Context, event.Event) error {
		panic("boom")
	})
	b.Subscribe("e", func(context.Context, event.Event) error {
		return errors.New("failed")
	})
	b.Subscribe("e", func(context.Context, event.Event) error {
		calls.Add(1)
		return nil
	})

	b.Publish(context.Background(), eventWithName("e"))
	b.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestBus_PublishAfterStopIsDropped(t *testing.T) {
	b := event.NewBus()

	var calls atomic.Int64
	b.Subscribe("e", func(context.Context, event.Event) error {
		calls.Add(1)
		return nil
	})

	b.Stop()
	b.Publish(context.Background(), eventWithName("e"))
	b.Wait()

	assert.Zero(t, calls.Load())
}

type eventWithName string

func (e eventWithName) Name() string {
	return string(e)
}

type typedEvent struct {
	n int64
}

func (typedEvent) Name() string { return "typed" }

type subscriber struct {
	name        string
	subscribeTo []string
}
