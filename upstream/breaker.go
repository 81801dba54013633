package upstream

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when a host's breaker is open and the call is
// failed immediately without being attempted.
var ErrCircuitOpen = errors.New("upstream: UPSTREAM_CIRCUIT_OPEN")

// HostBreakers holds one two-step circuit breaker per upstream host, opened
// lazily on first use. A two-step breaker lets the caller report the
// outcome of its own I/O (rather than wrapping a closure), which is the
// shape streaming calls need: success/failure is only known after the
// response body has been consumed.
type HostBreakers struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker[any]

	maxFailures uint32
	openTimeout time.Duration
}

// NewHostBreakers constructs a per-host breaker pool. maxFailures is the
// number of consecutive failures before a host's breaker opens; openTimeout
// is how long it stays open before allowing one half-open probe.
func NewHostBreakers(maxFailures int, openTimeout time.Duration) *HostBreakers {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}
	return &HostBreakers{
		breakers:    make(map[string]*gobreaker.TwoStepCircuitBreaker[any]),
		maxFailures: uint32(maxFailures),
		openTimeout: openTimeout,
	}
}

func (h *HostBreakers) forHost(host string) *gobreaker.TwoStepCircuitBreaker[any] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.breakers[host]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name:        host,
		MaxRequests: 1, // permit exactly one probe per cooldown while half-open
		Timeout:     h.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= h.maxFailures
		},
	}
	b := gobreaker.NewTwoStepCircuitBreaker[any](settings)
	h.breakers[host] = b
	return b
}

// Allow reports whether a call to host may proceed, returning a done
// function the caller must invoke with the call's outcome. Returns
// ErrCircuitOpen without a done function when the breaker is open.
func (h *HostBreakers) Allow(host string) (done func(success bool), err error) {
	breaker := h.forHost(host)
	doneFn, err := breaker.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return doneFn, nil
}

// State reports the current breaker state for host, for diagnostics.
func (h *HostBreakers) State(host string) gobreaker.State {
	return h.forHost(host).State()
}
