package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/cassiomorais/eventpay/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the per-gateway circuit breaker.
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings are used when none are configured.
var DefaultBreakerSettings = BreakerSettings{
	MaxRequests:  10,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  10,
	FailureRatio: 0.6,
}

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(name string, from, to gobreaker.State)

// Registry holds the configured processors, each behind its own breaker.
type Registry struct {
	defaultName     string
	settings        BreakerSettings
	onStateChange   StateChangeFunc
	processors      map[string]Processor
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*CreateOrderResult]
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBreakerSettings overrides DefaultBreakerSettings.
func WithBreakerSettings(s BreakerSettings) RegistryOption {
	return func(r *Registry) { r.settings = s }
}

// WithStateChange registers a breaker transition observer.
func WithStateChange(fn StateChangeFunc) RegistryOption {
	return func(r *Registry) { r.onStateChange = fn }
}

// NewRegistry creates a registry whose default gateway is defaultName.
func NewRegistry(defaultName string, opts ...RegistryOption) *Registry {
	r := &Registry{
		defaultName:     defaultName,
		settings:        DefaultBreakerSettings,
		processors:      make(map[string]Processor),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*CreateOrderResult]),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds p and gives it a breaker. Only retryable failures count
// against the breaker; rejections are the caller's problem, not the gateway's.
func (r *Registry) Register(p Processor) {
	s := r.settings
	r.processors[p.Name()] = p
	r.circuitBreakers[p.Name()] = gobreaker.NewCircuitBreaker[*CreateOrderResult](gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if r.onStateChange != nil {
				r.onStateChange(name, from, to)
			}
		},
	})
}

// Default returns the configured default gateway name.
func (r *Registry) Default() string {
	return r.defaultName
}

// Names lists registered gateways in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.processors))
	for n := range r.processors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the processor registered under name.
func (r *Registry) Get(name string) (Processor, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.processors[name]
	if !ok {
		return nil, fmt.Errorf("unknown gateway %q: %w", name, errors.ErrGatewayNotFound)
	}
	return p, nil
}

// CreateOrder calls CreateOrder on the named processor through its breaker.
// An open breaker surfaces as a retryable errors.ErrGatewayUnavailable.
func (r *Registry) CreateOrder(ctx context.Context, name string, req CreateOrderRequest) (*CreateOrderResult, error) {
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	breaker := r.circuitBreakers[p.Name()]

	res, err := breaker.Execute(func() (*CreateOrderResult, error) {
		return p.CreateOrder(ctx, req)
	})
	if err != nil {
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.NewGatewayError(errors.ErrGatewayUnavailable, p.Name(), "circuit breaker open", err)
		}
		return nil, err
	}
	return res, nil
}

// BreakerState reports the current breaker state of name.
func (r *Registry) BreakerState(name string) gobreaker.State {
	if cb, ok := r.circuitBreakers[name]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}
