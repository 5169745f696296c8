// Package safety keeps unhealthy venues from slowing down every aggregation.
package safety

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"book-aggregator/internal/alert"
	"book-aggregator/internal/config"
	"book-aggregator/internal/metrics"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

const (
	defaultMaxFailures = 5
	defaultCooldown    = 30 * time.Second
	defaultProbePasses = 1
)

type circuit struct {
	failures        int
	state           CircuitState
	openedAt        time.Time
	openErr         error
	halfOpenSuccess int
}

// Breaker tracks one circuit per venue. A circuit opens after maxFailures
// consecutive failed fetches, rejects fetches for the cooldown, then lets
// probes through until probePasses of them succeed in a row.
type Breaker struct {
	enabled     bool
	maxFailures int
	cooldown    time.Duration
	probePasses int

	mu       sync.Mutex
	circuits map[string]*circuit
	now      func() time.Time

	logger  zerolog.Logger
	alerter alert.Alerter
	metrics *metrics.Metrics
}

func NewBreaker(cfg config.CircuitBreakerConfig, logger zerolog.Logger) *Breaker {
	b := &Breaker{
		enabled:     cfg.Enabled,
		maxFailures: cfg.MaxFailures,
		cooldown:    time.Duration(cfg.CooldownSec) * time.Second,
		probePasses: cfg.ProbePasses,
		circuits:    make(map[string]*circuit),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("component", "breaker").Logger(),
	}
	if b.maxFailures < 1 {
		b.maxFailures = defaultMaxFailures
	}
	if b.cooldown <= 0 {
		b.cooldown = defaultCooldown
	}
	if b.probePasses < 1 {
		b.probePasses = defaultProbePasses
	}
	return b
}

func (b *Breaker) SetAlerter(alerter alert.Alerter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerter = alerter
}

func (b *Breaker) SetMetrics(m *metrics.Metrics) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

func (b *Breaker) circuitLocked(venue string) *circuit {
	c, ok := b.circuits[venue]
	if !ok {
		c = &circuit{state: CircuitClosed}
		b.circuits[venue] = c
	}
	return c
}

// Allow reports whether venue may be fetched. An open circuit past its
// cooldown moves to half-open and admits trial requests.
func (b *Breaker) Allow(venue string) error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	c := b.circuitLocked(venue)
	if c.state != CircuitOpen {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(c.openedAt) < b.cooldown {
		err := c.openErr
		if err == nil {
			err = fmt.Errorf("%w: venue %s", ErrCircuitOpen, venue)
		}
		b.mu.Unlock()
		return err
	}
	c.state = CircuitHalfOpen
	c.halfOpenSuccess = 0
	c.failures = 0
	c.openErr = nil
	alerter := b.alerter
	b.mu.Unlock()

	b.logger.Info().Str("event", "circuit_breaker_half_open").Str("venue", venue).
		Dur("cooldown", b.cooldown).Msg("probing venue")
	if alerter != nil {
		alerter.Important("circuit_breaker_half_open", map[string]string{
			"venue":        venue,
			"cooldown_sec": strconv.FormatInt(int64(b.cooldown/time.Second), 10),
		})
	}
	return nil
}

// CooldownRemaining is how long venue's circuit stays open; zero when closed.
func (b *Breaker) CooldownRemaining(venue string) time.Duration {
	if b == nil || !b.enabled {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[venue]
	if !ok || c.state != CircuitOpen {
		return 0
	}
	elapsed := b.now().Sub(c.openedAt)
	if elapsed >= b.cooldown {
		return 0
	}
	return b.cooldown - elapsed
}

func (b *Breaker) State(venue string) CircuitState {
	if b == nil || !b.enabled {
		return CircuitClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[venue]; ok {
		return c.state
	}
	return CircuitClosed
}

// States snapshots every tracked circuit, keyed by venue.
func (b *Breaker) States() map[string]CircuitState {
	out := map[string]CircuitState{}
	if b == nil || !b.enabled {
		return out
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for v, c := range b.circuits {
		out[v] = c.state
	}
	return out
}

// Record feeds one fetch outcome into venue's circuit. It returns the open
// error when this failure tripped the circuit.
func (b *Breaker) Record(venue string, err error) error {
	if b == nil || !b.enabled {
		return nil
	}

	b.mu.Lock()
	c := b.circuitLocked(venue)
	alerter := b.alerter

	if err == nil {
		prevFailures := c.failures
		prevState := c.state
		recovered := false
		switch c.state {
		case CircuitHalfOpen:
			c.halfOpenSuccess++
			if c.halfOpenSuccess >= b.probePasses {
				recovered = true
				c.state = CircuitClosed
				c.failures = 0
				c.openErr = nil
				c.openedAt = time.Time{}
				c.halfOpenSuccess = 0
			}
		case CircuitOpen:
			// A fetch that started before the trip; the circuit stays open.
		case CircuitClosed:
			c.failures = 0
		}
		b.mu.Unlock()
		if recovered {
			b.logger.Info().Str("event", "circuit_breaker_recovered").Str("venue", venue).
				Int("previous_consecutive_failures", prevFailures).Str("from_state", string(prevState)).
				Msg("venue recovered")
			if alerter != nil {
				alerter.Important("circuit_breaker_recovered", map[string]string{
					"venue":      venue,
					"from_state": string(prevState),
				})
			}
		}
		return nil
	}

	switch c.state {
	case CircuitOpen:
		openErr := c.openErr
		b.mu.Unlock()
		return openErr
	case CircuitHalfOpen:
		openErr := b.tripLocked(venue, c, err, "half_open_probe_failed")
		m := b.metrics
		b.mu.Unlock()
		b.reportTrip(alerter, m, venue, "half_open", err)
		return openErr
	}

	c.failures++
	failures := c.failures
	if failures < b.maxFailures {
		b.mu.Unlock()
		if failures == b.maxFailures-1 && b.maxFailures > 1 {
			b.logger.Warn().Str("event", "circuit_breaker_near_trip").Str("venue", venue).
				Int("consecutive_failures", failures).Int("threshold", b.maxFailures).Err(err).
				Msg("venue close to tripping")
		}
		return nil
	}
	openErr := b.tripLocked(venue, c, err, "consecutive_failures")
	m := b.metrics
	b.mu.Unlock()
	b.reportTrip(alerter, m, venue, "closed", err)
	return openErr
}

func (b *Breaker) tripLocked(venue string, c *circuit, err error, reason string) error {
	failures := c.failures
	if failures < 1 {
		failures = 1
	}
	c.state = CircuitOpen
	c.openedAt = b.now()
	c.halfOpenSuccess = 0
	c.failures = failures
	c.openErr = fmt.Errorf("%w: venue %s failed %d consecutive times, cooldown=%s, reason=%s, last error: %v",
		ErrCircuitOpen, venue, failures, b.cooldown, reason, err)
	return c.openErr
}

func (b *Breaker) reportTrip(alerter alert.Alerter, m *metrics.Metrics, venue, phase string, err error) {
	m.IncCircuitTrip(venue)
	b.logger.Error().Str("event", "circuit_breaker_trip").Str("venue", venue).Str("phase", phase).
		Int("threshold", b.maxFailures).Err(err).Msg("venue circuit opened")
	if alerter != nil {
		alerter.Important("circuit_breaker_trip", map[string]string{
			"venue":      venue,
			"phase":      phase,
			"threshold":  strconv.Itoa(b.maxFailures),
			"last_error": err.Error(),
		})
	}
}
