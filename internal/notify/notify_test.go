package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordSender struct {
	mu   sync.Mutex
	got  []Message
	gate chan struct{}
	err  error
}

func (s *recordSender) Send(_ context.Context, msg Message) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.got = append(s.got, msg)
	s.mu.Unlock()
	return s.err
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	s := &recordSender{}
	d := NewDispatcher(s, zaptest.NewLogger(t), 2, 8, time.Second)

	for i := 0; i < 5; i++ {
		d.Notify(Message{Kind: KindRiskDetected, AccountID: "A"})
	}
	d.Close()

	require.Len(t, s.got, 5)
	require.False(t, s.got[0].At.IsZero())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	s := &recordSender{gate: make(chan struct{})}
	d := NewDispatcher(s, zaptest.NewLogger(t), 1, 1, time.Second)
	var dropped atomic.Int32
	d.OnDrop(func() { dropped.Add(1) })

	// first message occupies the worker, second fills the queue
	d.Notify(Message{Kind: "a"})
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	d.Notify(Message{Kind: "b"})
	d.Notify(Message{Kind: "c"})

	require.Equal(t, int32(1), dropped.Load())
	close(s.gate)
	d.Close()
	require.Len(t, s.got, 2)

	d.Notify(Message{Kind: "late"})
	require.Equal(t, int32(2), dropped.Load())
}

func TestDispatcher_SendErrorIsLoggedOnly(t *testing.T) {
	s := &recordSender{err: errors.New("boom")}
	d := NewDispatcher(s, zaptest.NewLogger(t), 1, 4, time.Second)
	d.Notify(Message{Kind: KindGuardFailed})
	d.Close()
	require.Len(t, s.got, 1)
}

func TestWebhookSender(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ws := &WebhookSender{URL: srv.URL, Client: srv.Client()}
	require.NoError(t, ws.Send(context.Background(), Message{Kind: KindGuardStuck, AccountID: "ACC2"}))
	require.Equal(t, "ACC2", got.AccountID)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	ws.URL = bad.URL
	require.Error(t, ws.Send(context.Background(), Message{Kind: KindGuardStuck}))
}
