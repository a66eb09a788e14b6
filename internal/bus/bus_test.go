package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSyncDelivery(t *testing.T) {
	b := New(2)
	defer b.Close()

	var got atomic.Int32
	b.Subscribe("tool_call", func(topic string, payload any) {
		require.Equal(t, "tool_call", topic)
		require.Equal(t, 42, payload)
		got.Add(1)
	}, Sync)

	b.Emit("tool_call", 42)
	require.Equal(t, int32(1), got.Load())
}

func TestAsyncDelivery(t *testing.T) {
	b := New(2)
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		b.Subscribe("system_event", func(string, any) { wg.Done() }, Async)
	}

	b.Emit("system_event", "payload")

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers not invoked")
	}
}

func TestEmitNoSubscribersIsNoop(t *testing.T) {
	b := New(1)
	defer b.Close()
	b.Emit("nobody_home", nil) // must not panic or block
}

func TestUnsubscribe(t *testing.T) {
	b := New(1)
	defer b.Close()

	var calls atomic.Int32
	sub := b.Subscribe("agent_response", func(string, any) { calls.Add(1) }, Sync)
	b.Emit("agent_response", nil)
	b.Unsubscribe(sub)
	b.Emit("agent_response", nil)

	require.Equal(t, int32(1), calls.Load())
}

func TestAsyncPanicIsolated(t *testing.T) {
	b := New(1)
	defer b.Close()

	var ok atomic.Bool
	b.Subscribe("t", func(string, any) { panic("boom") }, Async)
	b.Subscribe("t", func(string, any) { ok.Store(true) }, Async)

	b.Emit("t", nil)

	require.Eventually(t, ok.Load, 2*time.Second, 10*time.Millisecond)
}

func TestTopicIsolation(t *testing.T) {
	b := New(1)
	defer b.Close()

	var a, c atomic.Int32
	b.Subscribe("a", func(string, any) { a.Add(1) }, Sync)
	b.Subscribe("c", func(string, any) { c.Add(1) }, Sync)

	b.Emit("a", nil)
	require.Equal(t, int32(1), a.Load())
	require.Equal(t, int32(0), c.Load())
}
