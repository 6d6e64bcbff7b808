package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/investmarket/auth-api/internal/application/notify"
	"github.com/investmarket/auth-api/internal/application/otp"
	"github.com/investmarket/auth-api/internal/config"
	"github.com/investmarket/auth-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/investmarket/auth-api/internal/infrastructure/jwt"
	"github.com/investmarket/auth-api/internal/infrastructure/mailersend"
	"github.com/investmarket/auth-api/internal/infrastructure/memstore"
	natsinfra "github.com/investmarket/auth-api/internal/infrastructure/nats"
	"github.com/investmarket/auth-api/internal/infrastructure/postgres"
	"github.com/investmarket/auth-api/internal/infrastructure/smtp"
	"github.com/investmarket/auth-api/internal/infrastructure/sns"
	"github.com/investmarket/auth-api/internal/pkg/logger"
	"github.com/investmarket/auth-api/internal/pkg/password"
	transporthttp "github.com/investmarket/auth-api/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	log := logger.Setup(os.Stdout, cfg.LogLevel)
	if envErr != nil {
		log.Info("no .env file found, reading from environment")
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	accounts, challenges, closeStore, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	jwtProvider, err := jwtinfra.NewProvider(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL)
	if err != nil {
		log.Error("jwt provider not available", "err", err)
		os.Exit(1)
	}

	hasher, err := password.New(cfg.PasswordHashAlgo, cfg.BcryptCost)
	if err != nil {
		log.Error("password hasher not available", "err", err)
		os.Exit(1)
	}

	dispatcher := notify.NewDispatcher(buildNotifier(ctx, cfg, log), cfg.NotifyWorkers, cfg.NotifyQueueSize)

	deps := &transporthttp.Deps{
		AccountRepo: accounts,
		Ledger:      otp.NewLedger(challenges, otp.WithCodeLength(cfg.OTP.Length)),
		Hasher:      hasher,
		Notifier:    dispatcher,
		JWTProvider: jwtProvider,
		Logger:      log,
	}

	// Events are optional; auth flows never wait on NATS.
	var publisher *natsinfra.Publisher
	if cfg.NATSURL != "" {
		if p, err := natsinfra.NewPublisher(cfg.NATSURL); err == nil {
			publisher = p
			deps.Events = p
		} else {
			log.Warn("event publisher not available", "err", err)
		}
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "err", err)
	}
	dispatcher.Close()
	if dropped := dispatcher.Dropped(); dropped > 0 {
		log.Warn("notifications dropped", "count", dropped)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Warn("failed to drain event publisher", "err", err)
		}
	}
	log.Info("server stopped")
}

// openStores returns the account and challenge stores for the configured
// backend together with a close func.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (transporthttp.AccountRepository, otp.ChallengeStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				log.Warn("failed to close database", "err", err)
			}
		}
		return postgres.NewAccountRepo(db), postgres.NewChallengeRepo(db), closeDB, nil
	case config.BackendMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return memstore.NewAccountStore(), memstore.NewChallengeStore(), func() {}, nil
	default:
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		// Creates tables if they don't exist.
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return dynamo.NewAccountRepo(client, cfg.DynamoTables), dynamo.NewChallengeRepo(client, cfg.DynamoTables.Challenges), func() {}, nil
	}
}

// buildNotifier picks the delivery channels. Dev mode only logs codes.
func buildNotifier(ctx context.Context, cfg *config.Config, log *slog.Logger) notify.Notifier {
	if cfg.NotifyDevMode {
		log.Warn("notify dev mode enabled, codes are written to the log")
		return notify.Dev{}
	}

	var email notify.Notifier
	if ms := mailersend.NewMailer(cfg.MailerSendAPIKey, cfg.MailerSendFromName, cfg.MailerSendFromEmail); ms != nil {
		email = notify.NewEmail(ms)
	} else {
		email = notify.NewEmail(smtp.NewMailer(cfg))
	}

	var sms notify.Notifier
	if awsCfg, err := dynamo.LoadAWSConfig(ctx, cfg, cfg.SNSRegion); err == nil {
		sms = notify.NewSMS(sns.NewSender(awsCfg))
	} else {
		log.Warn("SNS sender not available", "err", err)
	}
	return notify.Router{Email: email, SMS: sms}
}
