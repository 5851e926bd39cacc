package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// ErrCircuitOpen возвращается, пока брокер считается недоступным.
var ErrCircuitOpen = errors.New("outbox publisher circuit is open")

// CircuitState: состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerPublisher оборачивает publisher circuit breaker'ом.
// После maxFailures подряд неудачных публикаций вызовы отклоняются с ErrCircuitOpen
// до истечения resetTimeout, затем пропускается одна пробная публикация.
type BreakerPublisher struct {
	next         domain.OutboxPublisher
	maxFailures  int
	resetTimeout time.Duration
	logger       *log.Entry
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	probing     bool
}

// NewBreakerPublisher создаёт publisher с circuit breaker.
func NewBreakerPublisher(next domain.OutboxPublisher, maxFailures int, resetTimeout time.Duration, logger *log.Entry) *BreakerPublisher {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = log.WithField("component", "outbox-breaker")
	}
	return &BreakerPublisher{
		next:         next,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		logger:       logger,
		now:          time.Now,
		state:        CircuitClosed,
	}
}

// State возвращает текущее состояние.
func (b *BreakerPublisher) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Publish публикует сообщение, если цепь не разомкнута.
func (b *BreakerPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := b.next.Publish(ctx, msg)
	if err != nil && ctx.Err() != nil {
		// Отмена контекста не говорит о состоянии брокера.
		b.release()
		return err
	}
	b.record(err)
	return err
}

func (b *BreakerPublisher) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.state = CircuitHalfOpen
		b.logger.Info("outbox circuit breaker half-open")
	case CircuitHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
	}
	if b.state == CircuitHalfOpen {
		b.probing = true
	}
	return nil
}

func (b *BreakerPublisher) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *BreakerPublisher) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil {
		if b.state != CircuitClosed {
			b.logger.Info("outbox circuit breaker closed")
		}
		b.state = CircuitClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == CircuitHalfOpen || b.failures >= b.maxFailures {
		if b.state != CircuitOpen {
			b.logger.WithFields(log.Fields{
				"failures": b.failures,
				"reset":    b.resetTimeout,
			}).WithError(err).Warn("outbox circuit breaker opened")
		}
		b.state = CircuitOpen
	}
}

var _ domain.OutboxPublisher = (*BreakerPublisher)(nil)
