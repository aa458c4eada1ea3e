package alert

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Notifier delivers a single message to an external channel.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

const (
	defaultQueueSize          = 128
	defaultDropReportInterval = time.Minute
	sendTimeout               = 20 * time.Second
)

type ManagerOptions struct {
	QueueSize          int
	DropReportInterval time.Duration
}

// Manager decouples alert producers from the (slow, failing) delivery
// channel. Messages are queued and sent by a background worker; when the
// queue is full new messages are dropped and the drops are reported.
type Manager struct {
	mode                 string
	notifier             Notifier
	queue                chan string
	stop                 chan struct{}
	done                 chan struct{}
	dropReportInterval   time.Duration
	droppedTotal         uint64
	droppedSinceReported uint64
	wg                   sync.WaitGroup
	mu                   sync.RWMutex
	closed               bool
	log                  *logrus.Entry
}

func NewManager(mode string, notifier Notifier) *Manager {
	return NewManagerWithOptions(mode, notifier, ManagerOptions{
		QueueSize:          defaultQueueSize,
		DropReportInterval: defaultDropReportInterval,
	})
}

func NewManagerWithOptions(mode string, notifier Notifier, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	reportInterval := opts.DropReportInterval
	if reportInterval < 0 {
		reportInterval = 0
	}
	m := &Manager{
		mode:               mode,
		notifier:           notifier,
		queue:              make(chan string, queueSize),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		dropReportInterval: reportInterval,
		log:                logrus.WithField("component", "alert"),
	}
	m.wg.Add(1)
	go m.loop()
	if m.dropReportInterval > 0 {
		m.wg.Add(1)
		go m.dropReportLoop()
	}
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

// Notify queues text for delivery. A full queue drops the message rather
// than blocking the caller.
func (m *Manager) Notify(text string) {
	if m == nil || m.notifier == nil {
		return
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return
	}
	select {
	case m.queue <- text:
		m.mu.RUnlock()
		return
	default:
		droppedTotal := atomic.AddUint64(&m.droppedTotal, 1)
		droppedInWindow := atomic.AddUint64(&m.droppedSinceReported, 1)
		m.mu.RUnlock()
		// Report the first drop in a window immediately; the periodic
		// summary covers the rest.
		if droppedInWindow == 1 {
			m.log.WithFields(logrus.Fields{
				"dropped_total": droppedTotal,
				"queue_len":     len(m.queue),
				"queue_cap":     cap(m.queue),
			}).Warn("alert queue full, dropping message")
		}
	}
}

// Close flushes the queue and stops the workers, bounded by ctx.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case text := <-m.queue:
			m.send(text)
		case <-m.stop:
			for {
				select {
				case text := <-m.queue:
					m.send(text)
				default:
					m.reportDroppedSummary()
					return
				}
			}
		}
	}
}

func (m *Manager) dropReportLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.dropReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reportDroppedSummary()
		case <-m.stop:
			m.reportDroppedSummary()
			return
		}
	}
}

func (m *Manager) reportDroppedSummary() {
	dropped := atomic.SwapUint64(&m.droppedSinceReported, 0)
	if dropped == 0 {
		return
	}
	m.log.WithFields(logrus.Fields{
		"dropped_since_last": dropped,
		"dropped_total":      atomic.LoadUint64(&m.droppedTotal),
		"queue_len":          len(m.queue),
		"queue_cap":          cap(m.queue),
	}).Warn("alerts dropped")
}

func (m *Manager) droppedStats() (uint64, uint64) {
	if m == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&m.droppedTotal), atomic.LoadUint64(&m.droppedSinceReported)
}

func (m *Manager) send(text string) {
	msg := m.buildMessage(text)
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, msg); err != nil {
		m.log.Errorf("notify failed: %v", err)
	}
}

func (m *Manager) buildMessage(text string) string {
	lines := []string{
		"[hedge-volume] " + m.mode,
		"time: " + time.Now().UTC().Format(time.RFC3339),
		text,
	}
	return strings.Join(lines, "\n")
}
