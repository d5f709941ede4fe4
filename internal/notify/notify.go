// Package notify delivers operator notifications off the control loops.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message is one operator notification.
type Message struct {
	Kind      string         `json:"kind"`
	Owner     string         `json:"owner"`
	AccountID string         `json:"account_id"`
	Text      string         `json:"text"`
	Fields    map[string]any `json:"fields,omitempty"`
	At        time.Time      `json:"at"`
}

// Notification kinds.
const (
	KindRiskDetected  = "risk-detected"
	KindGuardFailed   = "guard-failed"
	KindGuardStuck    = "guard-stuck"
	KindGuardReleased = "guard-released"
	KindCooldownFault = "cooldown-conflict"
)

// Notifier accepts notifications without blocking the caller.
type Notifier interface {
	Notify(msg Message)
}

// Sender performs the actual delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Nop discards every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(Message) {}

// Dispatcher fans notifications out to a bounded pool of workers.
// When the queue is full the message is dropped and logged.
type Dispatcher struct {
	sender  Sender
	log     *zap.Logger
	queue   chan Message
	timeout time.Duration
	onDrop  func()

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewDispatcher starts workers goroutines draining a queue of size depth.
func NewDispatcher(sender Sender, log *zap.Logger, workers, depth int, timeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	d := &Dispatcher{
		sender:  sender,
		log:     log,
		queue:   make(chan Message, depth),
		timeout: timeout,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// OnDrop registers a hook invoked for every dropped message.
func (d *Dispatcher) OnDrop(fn func()) { d.onDrop = fn }

// Notify enqueues msg or drops it when the queue is full or closed.
func (d *Dispatcher) Notify(msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(msg, "closed")
		return
	}
	select {
	case d.queue <- msg:
	default:
		d.drop(msg, "queue full")
	}
}

func (d *Dispatcher) drop(msg Message, why string) {
	d.log.Warn("notification dropped",
		zap.String("why", why), zap.String("kind", msg.Kind),
		zap.String("owner", msg.Owner), zap.String("account", msg.AccountID))
	if d.onDrop != nil {
		d.onDrop()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sender.Send(ctx, msg); err != nil {
			d.log.Warn("notification failed",
				zap.String("kind", msg.Kind), zap.String("account", msg.AccountID), zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

// LogSender writes notifications to the log only.
type LogSender struct{ Log *zap.Logger }

// Send implements Sender.
func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.Info("notification",
		zap.String("kind", msg.Kind), zap.String("owner", msg.Owner),
		zap.String("account", msg.AccountID), zap.String("text", msg.Text))
	return nil
}
