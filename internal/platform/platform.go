package platform

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/farmcart-backend/internal/catalog"
	"github.com/angelmondragon/farmcart-backend/internal/ledger"
	"github.com/angelmondragon/farmcart-backend/internal/orders"
	"github.com/angelmondragon/farmcart-backend/internal/payments"
	"github.com/angelmondragon/farmcart-backend/internal/payments/local"
	paypaladapter "github.com/angelmondragon/farmcart-backend/internal/payments/paypal"
	phonepeadapter "github.com/angelmondragon/farmcart-backend/internal/payments/phonepe"
	"github.com/angelmondragon/farmcart-backend/internal/reconciliation"
	"github.com/angelmondragon/farmcart-backend/pkg/config"
	"github.com/angelmondragon/farmcart-backend/pkg/db"
	"github.com/angelmondragon/farmcart-backend/pkg/logger"
	"github.com/angelmondragon/farmcart-backend/pkg/metrics"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox"
	"github.com/angelmondragon/farmcart-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/farmcart-backend/pkg/paypal"
	"github.com/angelmondragon/farmcart-backend/pkg/phonepe"
	"github.com/angelmondragon/farmcart-backend/pkg/redis"
	"github.com/angelmondragon/farmcart-backend/pkg/square"
)

// Core is the order and payment graph shared by the api and cron binaries.
// PayPal and PhonePe are nil when their credentials are absent.
type Core struct {
	Orders  orders.Service
	Ledger  ledger.Service
	Engine  *reconciliation.Engine
	Local   *local.Adapter
	PayPal  *paypaladapter.Adapter
	PhonePe *phonepeadapter.Adapter

	// Payments routes methods to the configured adapters.
	Payments *payments.Registry
}

// Params feeds Build. Redis and Registerer are optional.
type Params struct {
	Config     *config.Config
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
	Logger     *logger.Logger
}

func Build(ctx context.Context, p Params) (*Core, error) {
	if p.Config == nil || p.DB == nil || p.Logger == nil {
		return nil, fmt.Errorf("config, database and logger are required")
	}
	cfg := p.Config
	logg := p.Logger
	paymentMetrics := metrics.NewPaymentMetrics(p.Registerer)
	emitter := outbox.NewService(outbox.NewRepository(p.DB.DB()), logg)

	orderRepo := orders.NewRepository(p.DB.DB())
	compensator, err := catalog.NewCompensator(catalog.NewRepository(p.DB.DB()))
	if err != nil {
		return nil, err
	}
	pricer, err := orders.NewPricer(cfg.Pricing)
	if err != nil {
		return nil, err
	}
	var primary orders.SequenceSource
	if p.Redis != nil {
		primary = orders.NewRedisSequence(p.Redis)
	}
	numbers, err := orders.NewNumberGenerator(
		cfg.Pricing.OrderNumberPrefix,
		primary,
		orders.NewCountSequence(orderRepo, cfg.Pricing.OrderNumberPrefix),
		logg,
	)
	if err != nil {
		return nil, err
	}
	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repository:  orderRepo,
		Tx:          p.DB,
		Compensator: compensator,
		Outbox:      emitter,
		Numbers:     numbers,
		Pricer:      pricer,
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repository: ledger.NewRepository(p.DB.DB()),
		Orders:     orderRepo,
		Tx:         p.DB,
		Outbox:     emitter,
		Logger:     logg,
		Currency:   cfg.Pricing.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	engine, err := reconciliation.NewEngine(ledgerSvc, paymentMetrics, logg)
	if err != nil {
		return nil, err
	}

	core := &Core{Orders: ordersSvc, Ledger: ledgerSvc, Engine: engine}

	var cards local.CardCharger
	if cfg.Square.Enabled() {
		squareClient, err := square.NewClient(ctx, cfg.Square, paymentMetrics, logg)
		if err != nil {
			return nil, fmt.Errorf("square client: %w", err)
		}
		cards = squareClient
	}
	if core.Local, err = local.NewAdapter(ledgerSvc, cards, logg); err != nil {
		return nil, err
	}

	if cfg.PayPal.ClientID != "" {
		opts := []paypal.Option{paypal.WithMetrics(paymentMetrics)}
		if p.Redis != nil {
			opts = append(opts, paypal.WithTokenCache(p.Redis))
		}
		client, err := paypal.NewClient(cfg.PayPal, logg, opts...)
		if err != nil {
			return nil, fmt.Errorf("paypal client: %w", err)
		}
		if core.PayPal, err = paypaladapter.NewAdapter(ledgerSvc, client, engine, logg); err != nil {
			return nil, err
		}
	} else {
		logg.Warn(ctx, "paypal credentials missing; redirect-capture payments disabled")
	}

	if cfg.PhonePe.MerchantID != "" {
		signer := reconciliation.NewSigner(cfg.PhonePe.SaltKey, cfg.PhonePe.SaltIndex)
		client, err := phonepe.NewClient(cfg.PhonePe, signer, reconciliation.EncodePayload, logg, phonepe.WithMetrics(paymentMetrics))
		if err != nil {
			return nil, fmt.Errorf("phonepe client: %w", err)
		}
		var guard phonepeadapter.CallbackGuard
		if p.Redis != nil {
			manager, err := idempotency.NewManager(p.Redis, cfg.Payments.WebhookGuardTTL)
			if err != nil {
				return nil, err
			}
			guard = manager
		}
		core.PhonePe, err = phonepeadapter.NewAdapter(phonepeadapter.AdapterParams{
			Ledger:   ledgerSvc,
			Gateway:  client,
			Engine:   engine,
			Verifier: signer,
			Guard:    guard,
			Logger:   logg,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logg.Warn(ctx, "phonepe merchant missing; async payments disabled")
	}

	adapters := []payments.Adapter{core.Local}
	if core.PayPal != nil {
		adapters = append(adapters, core.PayPal)
	}
	if core.PhonePe != nil {
		adapters = append(adapters, core.PhonePe)
	}
	if core.Payments, err = payments.NewRegistry(adapters...); err != nil {
		return nil, err
	}

	return core, nil
}
