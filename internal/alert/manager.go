package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Alerter receives events an operator should look at, such as a venue
// circuit tripping or a snapshot source handing out an unsorted ladder.
type Alerter interface {
	Important(event string, fields map[string]string)
}

const (
	defaultAlertQueueSize     = 128
	defaultDropReportInterval = time.Minute
	defaultSuppressWindow     = 5 * time.Minute
	notifyTimeout             = 20 * time.Second
)

// subjectKeys lead the first line of every message, in this order.
var subjectKeys = []string{"venue", "pair"}

type ManagerOptions struct {
	QueueSize          int
	DropReportInterval time.Duration
	// SuppressWindow collapses repeats of one event for one venue. Zero
	// sends every event.
	SuppressWindow time.Duration
	Logger         zerolog.Logger
}

// Manager delivers alerts asynchronously through a bounded queue. Important
// never blocks: repeats inside the suppression window are counted instead of
// sent, and events are dropped and counted when the queue is full.
type Manager struct {
	service            string
	notifier           Notifier
	logger             zerolog.Logger
	queue              chan alertEvent
	stop               chan struct{}
	done               chan struct{}
	dropReportInterval time.Duration
	suppressWindow     time.Duration
	now                func() time.Time

	droppedTotal         uint64
	droppedSinceReported uint64

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	suppressMu sync.Mutex
	recent     map[string]*recentAlert
}

type alertEvent struct {
	event      string
	fields     map[string]string
	suppressed int
	since      time.Time
}

// recentAlert remembers the last delivered alert for one (event, venue) and
// what was held back after it.
type recentAlert struct {
	sentAt     time.Time
	suppressed int
	last       alertEvent
}

func NewManager(service string, notifier Notifier) *Manager {
	return NewManagerWithOptions(service, notifier, ManagerOptions{
		QueueSize:          defaultAlertQueueSize,
		DropReportInterval: defaultDropReportInterval,
		SuppressWindow:     defaultSuppressWindow,
		Logger:             zerolog.Nop(),
	})
}

func NewManagerWithOptions(service string, notifier Notifier, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultAlertQueueSize
	}
	m := &Manager{
		service:            service,
		notifier:           notifier,
		logger:             opts.Logger.With().Str("component", "alert").Logger(),
		queue:              make(chan alertEvent, queueSize),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		dropReportInterval: max(opts.DropReportInterval, 0),
		suppressWindow:     max(opts.SuppressWindow, 0),
		now:                time.Now,
		recent:             make(map[string]*recentAlert),
	}
	m.wg.Add(1)
	go m.loop()
	if m.dropReportInterval > 0 || m.suppressWindow > 0 {
		m.wg.Add(1)
		go m.maintainLoop()
	}
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

func (m *Manager) Important(event string, fields map[string]string) {
	if m == nil || m.notifier == nil {
		return
	}
	ev, ok := m.admit(alertEvent{event: event, fields: cloneFields(fields)})
	if !ok {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	m.enqueue(ev)
}

// admit applies the suppression window. A repeat inside the window is
// counted and held back; the first event after it carries the count.
func (m *Manager) admit(ev alertEvent) (alertEvent, bool) {
	if m.suppressWindow <= 0 {
		return ev, true
	}
	key := ev.event + "|" + ev.fields["venue"]
	now := m.now()

	m.suppressMu.Lock()
	defer m.suppressMu.Unlock()
	r, seen := m.recent[key]
	if seen && now.Sub(r.sentAt) < m.suppressWindow {
		r.suppressed++
		r.last = ev
		return alertEvent{}, false
	}
	if seen && r.suppressed > 0 {
		ev.suppressed = r.suppressed
		ev.since = r.sentAt
	}
	m.recent[key] = &recentAlert{sentAt: now}
	return ev, true
}

// enqueue must be called with m.mu read-locked and the manager open.
func (m *Manager) enqueue(ev alertEvent) {
	select {
	case m.queue <- ev:
		return
	default:
	}
	droppedTotal := atomic.AddUint64(&m.droppedTotal, 1)
	droppedInWindow := atomic.AddUint64(&m.droppedSinceReported, 1)
	// First drop in a window is logged right away; the rest go into the periodic summary.
	if droppedInWindow == 1 {
		m.logger.Warn().
			Str("event", "alert_queue_dropped").
			Str("target_event", ev.event).
			Str("venue", ev.fields["venue"]).
			Str("reason", "queue_full").
			Uint64("dropped_total", droppedTotal).
			Int("queue_len", len(m.queue)).
			Int("queue_cap", cap(m.queue)).
			Msg("alert dropped")
	}
}

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
		case ev := <-m.queue:
			m.send(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.send(ev)
				default:
					for _, ev := range m.takeSummaries(time.Time{}) {
						m.send(ev)
					}
					m.reportDroppedSummary()
					return
				}
			}
		}
	}
}

func (m *Manager) maintainLoop() {
	defer m.wg.Done()
	var dropC, sweepC <-chan time.Time
	if m.dropReportInterval > 0 {
		t := time.NewTicker(m.dropReportInterval)
		defer t.Stop()
		dropC = t.C
	}
	if m.suppressWindow > 0 {
		t := time.NewTicker(m.suppressWindow)
		defer t.Stop()
		sweepC = t.C
	}
	for {
		select {
		case <-dropC:
			m.reportDroppedSummary()
		case <-sweepC:
			m.sweepSuppressed()
		case <-m.stop:
			m.reportDroppedSummary()
			return
		}
	}
}

// sweepSuppressed queues a summary for every window that closed with repeats
// held back, so a burst that simply stops is still reported.
func (m *Manager) sweepSuppressed() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	for _, ev := range m.takeSummaries(m.now()) {
		m.enqueue(ev)
	}
}

// takeSummaries removes expired windows and returns one summary per window
// that suppressed anything. A zero cutoff takes every window.
func (m *Manager) takeSummaries(cutoff time.Time) []alertEvent {
	m.suppressMu.Lock()
	defer m.suppressMu.Unlock()
	var out []alertEvent
	for key, r := range m.recent {
		if !cutoff.IsZero() && cutoff.Sub(r.sentAt) < m.suppressWindow {
			continue
		}
		delete(m.recent, key)
		if r.suppressed == 0 {
			continue
		}
		ev := r.last
		ev.suppressed = r.suppressed
		ev.since = r.sentAt
		out = append(out, ev)
	}
	return out
}

func (m *Manager) reportDroppedSummary() {
	dropped := atomic.SwapUint64(&m.droppedSinceReported, 0)
	if dropped == 0 {
		return
	}
	m.logger.Warn().
		Str("event", "alert_queue_dropped_report").
		Uint64("dropped_since_last", dropped).
		Uint64("dropped_total", atomic.LoadUint64(&m.droppedTotal)).
		Int64("report_interval_sec", int64(m.dropReportInterval/time.Second)).
		Int("queue_len", len(m.queue)).
		Int("queue_cap", cap(m.queue)).
		Msg("alerts dropped")
}

func (m *Manager) droppedStats() (uint64, uint64) {
	if m == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&m.droppedTotal), atomic.LoadUint64(&m.droppedSinceReported)
}

func (m *Manager) send(ev alertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, m.buildMessage(ev)); err != nil {
		m.logger.Error().Err(err).
			Str("event", "alert_notify_failed").
			Str("target_event", ev.event).
			Str("venue", ev.fields["venue"]).
			Msg("alert delivery failed")
	}
}

// buildMessage renders "[service] venue pair: event" followed by the
// suppression summary and the remaining fields sorted by key.
func (m *Manager) buildMessage(ev alertEvent) string {
	subject := "[" + m.service + "]"
	for _, k := range subjectKeys {
		if v := ev.fields[k]; v != "" {
			subject += " " + v
		}
	}
	lines := []string{subject + ": " + ev.event}
	if ev.suppressed > 0 {
		lines = append(lines, fmt.Sprintf("suppressed: %d more since %s", ev.suppressed, ev.since.UTC().Format(time.RFC3339)))
	}
	lines = append(lines, "time: "+m.now().UTC().Format(time.RFC3339))

	keys := make([]string, 0, len(ev.fields))
	for k := range ev.fields {
		if !isSubjectKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+ev.fields[k])
	}
	return strings.Join(lines, "\n")
}

func isSubjectKey(k string) bool {
	for _, s := range subjectKeys {
		if k == s {
			return true
		}
	}
	return false
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
