package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdt/cv-notify/internal/model"
)

// sseHandler writes the given pre-rendered event frames and holds the
// connection open until the client goes away.
func sseHandler(t *testing.T, frames []string, gotToken *atomic.Value) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if gotToken != nil {
			gotToken.Store(r.URL.Query().Get("token"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fl, ok := w.(http.Flusher)
		require.True(t, ok)

		for _, f := range frames {
			fmt.Fprint(w, f)
		}
		fl.Flush()

		<-r.Context().Done()
	}
}

// newTestClient builds a client against the given server with fast
// reconnect settings.
func newTestClient(srvURL, token string) *Client {
	return New(Options{
		BaseURL: srvURL,
		Token:   token,
		Logger:  zerolog.Nop(),
	})
}

// collectEvents subscribes and funnels delivered events into a channel.
func collectEvents(c *Client) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	unsub := c.Subscribe(func(ev Event) {
		ch <- ev
	})
	return ch, unsub
}

// receiveEvent waits for one event or fails the test.
func receiveEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestConnectDeliversNormalizedEvents(t *testing.T) {
	frames := []string{
		"event: connected\ndata: {\"user_id\":\"u1\"}\n\n",
		"event: ping\ndata: {}\n\n",
		": keep-alive comment\n\n",
		"event: cv_update_request\ndata: {\"type\":\"cv_update_request\",\"title\":\"Update CV\",\"message\":\"Please refresh your CV\",\"request_id\":\"r1\"}\n\n",
		"event: notification\ndata: {\"type\":\"success\",\"title\":\"Done\",\"message\":\"Processed\"}\n\n",
		"event: notification\ndata: {not valid json\n\n",
		"data: {\"type\":\"cv_update_request\",\"title\":\"Unnamed\",\"message\":\"Routed by type\"}\n\n",
	}

	var gotToken atomic.Value
	srv := httptest.NewServer(sseHandler(t, frames, &gotToken))
	defer srv.Close()

	c := newTestClient(srv.URL, "tok-123")
	ch, unsub := collectEvents(c)
	defer unsub()
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, StateOpen, c.State())

	// Named CV update request: always a warning, keeps its durable id.
	ev := receiveEvent(t, ch)
	assert.Equal(t, "Update CV", ev.Title)
	assert.Equal(t, "Please refresh your CV", ev.Message)
	assert.Equal(t, model.KindWarning, ev.Kind)
	assert.Equal(t, "r1", ev.RequestID)

	// Generic notification: kind mapped from the payload type.
	ev = receiveEvent(t, ch)
	assert.Equal(t, "Done", ev.Title)
	assert.Equal(t, model.KindSuccess, ev.Kind)
	assert.Empty(t, ev.RequestID)

	// Unnamed message routed by its type discriminant. The malformed
	// frame before it must have been dropped without breaking the loop.
	ev = receiveEvent(t, ch)
	assert.Equal(t, "Unnamed", ev.Title)
	assert.Equal(t, model.KindWarning, ev.Kind)

	// connected, ping, comment, and malformed frames produce nothing.
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, "tok-123", gotToken.Load())
}

func TestConnectWithoutTokenFailsFast(t *testing.T) {
	// No server at all: the precondition must trip before any dial.
	c := newTestClient("http://127.0.0.1:0", "")

	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrNoToken)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectReplacesExistingConnection(t *testing.T) {
	var conns int32
	firstClosed := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		<-r.Context().Done()
		if n == 1 {
			close(firstClosed)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "tok")
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	select {
	case <-firstClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection was not torn down")
	}

	assert.Equal(t, StateOpen, c.State())
	assert.EqualValues(t, 2, atomic.LoadInt32(&conns))
}

// retryRecorder replaces the client's timer scheduling so tests control
// exactly when retries fire and can inspect the requested delays.
type retryRecorder struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (r *retryRecorder) afterFunc(d time.Duration, fn func()) *time.Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	r.pending = append(r.pending, fn)
	return time.NewTimer(time.Hour)
}

func (r *retryRecorder) fire(t *testing.T, i int) {
	r.mu.Lock()
	require.Greater(t, len(r.pending), i)
	fn := r.pending[i]
	r.mu.Unlock()
	fn()
}

func (r *retryRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func TestReconnectBackoffDoublesAndResets(t *testing.T) {
	var healthy atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "tok")
	defer c.Disconnect()

	rec := &retryRecorder{}
	c.afterFunc = rec.afterFunc

	// Three consecutive failed opens: 1s, then 2s, then 4s.
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateReconnecting, c.State())

	rec.fire(t, 0)
	rec.fire(t, 1)

	delays := rec.recorded()
	require.Len(t, delays, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)

	// A successful open resets the attempt counter and the delay floor.
	healthy.Store(true)
	rec.fire(t, 2)

	require.Eventually(t, func() bool {
		return c.State() == StateOpen
	}, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	attempts, delay := c.attempts, c.delay
	c.mu.Unlock()
	assert.Zero(t, attempts)
	assert.Equal(t, time.Second, delay)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Options{
		BaseURL:              srv.URL,
		Token:                "tok",
		MaxReconnectAttempts: 2,
		Logger:               zerolog.Nop(),
	})
	rec := &retryRecorder{}
	c.afterFunc = rec.afterFunc

	require.NoError(t, c.Connect(context.Background()))
	rec.fire(t, 0)
	rec.fire(t, 1)

	// Attempt budget spent: terminal Disconnected, nothing rescheduled.
	assert.Equal(t, StateDisconnected, c.State())
	assert.Len(t, rec.recorded(), 2)
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "tok")
	rec := &retryRecorder{}
	c.afterFunc = rec.afterFunc

	require.NoError(t, c.Connect(context.Background()))
	require.Len(t, rec.recorded(), 1)

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())

	// A stale timer firing after Disconnect must be a no-op.
	rec.fire(t, 0)
	assert.Len(t, rec.recorded(), 1)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0", "tok")

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0", "tok")

	var kept, removed []Event
	unsubKept := c.Subscribe(func(ev Event) { kept = append(kept, ev) })
	defer unsubKept()
	unsubRemoved := c.Subscribe(func(ev Event) { removed = append(removed, ev) })
	unsubRemoved()

	c.dispatch(eventNotification, `{"type":"info","title":"t","message":"m"}`)

	assert.Len(t, kept, 1)
	assert.Empty(t, removed)
}

func TestStreamClosureTriggersReconnect(t *testing.T) {
	var conns int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&conns, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		// Close immediately: the client should enter Reconnecting.
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "tok")
	defer c.Disconnect()

	rec := &retryRecorder{}
	c.afterFunc = rec.afterFunc

	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return c.State() == StateReconnecting
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(rec.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, time.Second, rec.recorded()[0])
}
