package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/investmarket/auth-api/internal/domain"
)

const sendTimeout = 15 * time.Second

type job struct {
	to      string
	code    string
	purpose domain.Purpose
	subject string
	body    string
	notice  bool
}

// Dispatcher is a Notifier that queues messages for a fixed pool of workers,
// so request handlers never wait on delivery. A full queue drops the message.
type Dispatcher struct {
	next      Notifier
	ch        chan job
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	mu        sync.RWMutex // guards closed; held for writing while closing
	closed    bool
	closeOnce sync.Once
}

func NewDispatcher(next Notifier, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		next: next,
		ch:   make(chan job, queueSize),
		done: make(chan struct{}),
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.run()
	}
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.ch:
			d.deliver(j)
		case <-d.done:
			for {
				select {
				case j := <-d.ch:
					d.deliver(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if j.notice {
		ok, err = d.next.SendNotice(ctx, j.to, j.subject, j.body)
	} else {
		ok, err = d.next.SendOTP(ctx, j.to, j.code, j.purpose)
	}
	if err != nil || !ok {
		slog.Warn("notification not delivered", "to", j.to, "purpose", j.purpose, "subject", j.subject, "err", err)
	}
}

func (d *Dispatcher) enqueue(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		slog.Warn("notification dispatcher closed, dropping message", "to", j.to, "purpose", j.purpose)
		return false
	}
	select {
	case d.ch <- j:
		return true
	default:
		d.dropped.Add(1)
		slog.Warn("notification queue full, dropping message", "to", j.to, "purpose", j.purpose)
		return false
	}
}

// SendOTP queues the code for delivery. It reports false when the message was dropped.
func (d *Dispatcher) SendOTP(_ context.Context, to, code string, purpose domain.Purpose) (bool, error) {
	return d.enqueue(job{to: to, code: code, purpose: purpose}), nil
}

func (d *Dispatcher) SendNotice(_ context.Context, to, subject, body string) (bool, error) {
	return d.enqueue(job{to: to, subject: subject, body: body, notice: true}), nil
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped is the number of messages discarded because the queue was full or
// the dispatcher was closed.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
