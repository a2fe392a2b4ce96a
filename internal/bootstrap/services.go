package bootstrap

import (
	"fmt"

	"github.com/cassiomorais/eventpay/internal/gateway"
	"github.com/cassiomorais/eventpay/internal/infrastructure/config"
	infraRedis "github.com/cassiomorais/eventpay/internal/infrastructure/redis"
	"github.com/cassiomorais/eventpay/internal/notify"
	"github.com/cassiomorais/eventpay/internal/repository/postgres"
	"github.com/cassiomorais/eventpay/internal/service"
	"github.com/cassiomorais/eventpay/pkg/retry"
	"github.com/sony/gobreaker/v2"
)

// Services is the wired application graph.
type Services struct {
	Orders      *postgres.OrderRepository
	Outbox      *postgres.OutboxRepository
	Idempotency *postgres.IdempotencyRepository
	TxManager   *postgres.TxManager
	Gateways    *gateway.Registry
	AuditDLQ    *infraRedis.AuditDeadLetters

	Audit         *service.AuditService
	OrderService  *service.OrderService
	Webhooks      *service.WebhookReconciler
	Registrations *service.RegistrationService
	Notifications *service.NotificationService
}

// Wire builds repositories, gateways and services on top of the app's infrastructure.
func (a *App) Wire() (*Services, error) {
	cfg := a.Config

	registry, err := NewGatewayRegistry(cfg.Gateway, a)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Orders:      postgres.NewOrderRepository(a.Pool),
		Outbox:      postgres.NewOutboxRepository(a.Pool),
		Idempotency: postgres.NewIdempotencyRepository(a.Pool),
		TxManager:   postgres.NewTxManager(a.Pool),
		Gateways:    registry,
		AuditDLQ:    infraRedis.NewAuditDeadLetters(a.Redis, cfg.Audit.DeadLetterKey),
	}
	registrations := postgres.NewRegistrationRepository(a.Pool)
	events := postgres.NewEventRepository(a.Pool)
	transactions := postgres.NewTransactionRepository(a.Pool)

	s.Audit = service.NewAuditService(postgres.NewAuditRepository(a.Pool), s.AuditDLQ, retry.Config{
		MaxAttempts:  cfg.Audit.MaxAttempts,
		InitialDelay: cfg.Audit.RetryDelay,
		MaxDelay:     cfg.Audit.MaxDelay,
		Multiplier:   2,
	}, a.Logger, a.Metrics)

	s.OrderService = service.NewOrderService(service.OrderDeps{
		Orders:        s.Orders,
		Transactions:  transactions,
		Coupons:       postgres.NewCouponRepository(a.Pool),
		Registrations: registrations,
		Events:        events,
		Outbox:        s.Outbox,
		TxManager:     s.TxManager,
		Gateways:      registry,
		Audit:         s.Audit,
		Logger:        a.Logger,
		Metrics:       a.Metrics,
	}, service.OrderConfig{
		Currency:      cfg.Payment.Currency,
		OrderTimeout:  cfg.Payment.OrderTimeout,
		CreateTimeout: cfg.Gateway.Timeout,
		CreateRetry: retry.Config{
			MaxAttempts:  cfg.Payment.CreateMaxAttempts,
			InitialDelay: cfg.Payment.CreateRetryDelay,
			MaxDelay:     cfg.Payment.CreateMaxDelay,
			Multiplier:   2,
		},
	})

	s.Webhooks = service.NewWebhookReconciler(registry, s.Orders, transactions, s.OrderService, s.Audit, a.Logger, a.Metrics)
	s.Registrations = service.NewRegistrationService(registrations, events, s.Orders, transactions, s.Audit, a.Logger)
	s.Notifications = service.NewNotificationService(newSender(cfg.Notify, a), s.Audit, a.Logger, a.Metrics)
	return s, nil
}

// NewGatewayRegistry registers every configured gateway. The default one
// must be among them.
func NewGatewayRegistry(cfg config.GatewayConfig, a *App) (*gateway.Registry, error) {
	registry := gateway.NewRegistry(cfg.Default,
		gateway.WithBreakerSettings(gateway.BreakerSettings{
			MaxRequests:  cfg.BreakerMaxRequests,
			Interval:     cfg.BreakerInterval,
			Timeout:      cfg.BreakerTimeout,
			MinRequests:  cfg.BreakerMinRequests,
			FailureRatio: cfg.BreakerFailureRatio,
		}),
		gateway.WithStateChange(func(name string, from, to gobreaker.State) {
			a.Logger.Warn().Str("gateway", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			a.Metrics.ObserveBreaker(name, int(to))
		}),
	)

	if cfg.Razorpay.KeyID != "" || cfg.Default == "razorpay" {
		registry.Register(gateway.NewRazorpay(gateway.RazorpayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			BaseURL:       cfg.Razorpay.BaseURL,
			Timeout:       cfg.Timeout,
		}, nil))
	}
	if cfg.Stripe.SecretKey != "" || cfg.Default == "stripe" {
		registry.Register(gateway.NewStripe(gateway.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			BaseURL:       cfg.Stripe.BaseURL,
			Timeout:       cfg.Timeout,
		}, nil))
	}
	if cfg.EnableMock {
		registry.Register(gateway.NewMockProcessor(gateway.MockName))
	}

	if _, err := registry.Get(""); err != nil {
		return nil, fmt.Errorf("default gateway: %w", err)
	}
	a.Logger.Info().Strs("gateways", registry.Names()).Str("default", cfg.Default).Msg("Payment gateways registered")
	return registry, nil
}

func newSender(cfg config.NotifyConfig, a *App) notify.Sender {
	if cfg.RelayURL == "" {
		a.Logger.Warn().Msg("No notification relay configured, notifications are logged only")
		return notify.NewLogSender(a.Logger)
	}
	return notify.NewRelaySender(notify.RelayConfig{
		BaseURL: cfg.RelayURL,
		Timeout: cfg.Timeout,
		Retry: retry.Config{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     10 * cfg.RetryDelay,
			Multiplier:   2,
		},
	}, nil)
}
