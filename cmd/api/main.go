package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/membership-functions/internal/config"
	"github.com/kursadbilgin/membership-functions/internal/handler"
	infraredis "github.com/kursadbilgin/membership-functions/internal/infra/redis"
	"github.com/kursadbilgin/membership-functions/internal/ledger"
	"github.com/kursadbilgin/membership-functions/internal/observability"
	"github.com/kursadbilgin/membership-functions/internal/provider"
	"github.com/kursadbilgin/membership-functions/internal/ratelimit"
	"github.com/kursadbilgin/membership-functions/internal/service"
	"github.com/kursadbilgin/membership-functions/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// loadDotenv applies a local env file when one exists. Variables already set
// in the environment win.
func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func main() {
	if err := loadDotenv(".env"); err != nil {
		log.Fatalf("failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.PayPalSandbox {
		logger.Warn("using paypal sandbox environment", zap.String("verifyUrl", cfg.PayPalVerifyURL))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	var (
		rdb         *redis.Client
		rateLimiter ratelimit.RateLimiter
		txnLedger   ledger.TxnLedger = ledger.Nop{}
	)
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		rateLimiter, err = infraredis.NewRedisRateLimiter(rdb, infraredis.RedisRateLimiterConfig{
			LimitPerSec: cfg.MailchimpRateLimitPerSec,
			Namespace:   provider.APIKeyFingerprint(cfg.MailchimpAPIKey),
		})
		if err != nil {
			logger.Fatal("redis rate limiter initialization failed", zap.Error(err))
		}
		txnLedger, err = infraredis.NewRedisTxnLedger(rdb, cfg.LedgerTTL)
		if err != nil {
			logger.Fatal("redis txn ledger initialization failed", zap.Error(err))
		}
	} else {
		rateLimiter, err = ratelimit.NewLocalRateLimiter(cfg.MailchimpRateLimitPerSec)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
		logger.Info("redis not configured, using in-process rate limiting without a txn ledger")
	}

	verifier, err := provider.NewPayPalVerifier(cfg.PayPalVerifyURL, cfg.PayPalVerifyTimeout)
	if err != nil {
		logger.Fatal("paypal verifier initialization failed", zap.Error(err))
	}

	mailchimp, err := provider.NewMailchimpClient(cfg.MailchimpAPIKey, cfg.MailchimpListID, cfg.MailchimpTimeout)
	if err != nil {
		logger.Fatal("mailchimp client initialization failed", zap.Error(err))
	}

	validator, err := service.NewValidator(service.ValidatorConfig{
		Receiver:           cfg.PayPalReceiver,
		AcceptedCurrencies: cfg.AcceptedCurrencies,
		AcceptedTxnTypes:   cfg.AcceptedTxnTypes,
		MinGross:           cfg.MinGrossAmount,
		StalenessWindow:    cfg.StalenessWindow,
		ClockSkew:          cfg.ClockSkew,
	})
	if err != nil {
		logger.Fatal("validator initialization failed", zap.Error(err))
	}

	synchronizer, err := service.NewMembershipSynchronizer(mailchimp, rateLimiter, service.SynchronizerConfig{
		MemberTag: cfg.MailchimpMemberTag,
		Location:  cfg.MembershipTimezone,
		Timeout:   cfg.MailchimpTimeout,
	}, logger, metrics)
	if err != nil {
		logger.Fatal("membership synchronizer initialization failed", zap.Error(err))
	}

	ipnService, err := service.NewIPNService(verifier, validator, synchronizer, txnLedger, logger, metrics)
	if err != nil {
		logger.Fatal("ipn service initialization failed", zap.Error(err))
	}

	membershipService, err := service.NewMembershipService(mailchimp, rateLimiter, logger, metrics)
	if err != nil {
		logger.Fatal("membership service initialization failed", zap.Error(err))
	}

	app := transport.NewApp(logger, metrics)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, rdb)
	if err := handler.RegisterIPNRoutes(app, ipnService); err != nil {
		logger.Fatal("ipn route registration failed", zap.Error(err))
	}
	if err := handler.RegisterMembershipRoutes(app, membershipService); err != nil {
		logger.Fatal("membership route registration failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("membership-functions api started", zap.String("addr", cfg.Addr()))
		return app.Listen(cfg.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
		return
	}
	logger.Info("membership-functions api stopped")
}
