// Entry point for the cron scheduler process
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/rs/zerolog/log"

	"payroll.service/internal/config"
	"payroll.service/internal/core"
	"payroll.service/internal/gateway/arifpay"
	"payroll.service/internal/ports/messaging"
	"payroll.service/internal/ports/repository"
	"payroll.service/internal/scheduler"
	"payroll.service/pkg/aws"
	"payroll.service/pkg/database"
	"payroll.service/pkg/logger"
	"payroll.service/pkg/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	logger.Setup(cfg.IsLocalDev)

	shutdownTracer, err := telemetry.InitTracer("payroll-scheduler")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	db, err := database.NewInstrumentedConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer db.Close()
	log.Info().Msg("Successfully connected to the database.")

	awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	entries := repository.NewTimeEntryRepository(db)
	payments := repository.NewPaymentRepository(db)
	companies := repository.NewCompanyRepository(db)
	employees := repository.NewEmployeeRepository(db)

	producer := messaging.NewSQSProducer(sqsClient, cfg.NotificationSQSURL)
	gateway := arifpay.NewClient(cfg.ArifpayBaseURL)

	payoutService := core.NewPayoutService(payments, employees, companies, gateway, producer, core.PayoutOptions{
		CallbackURL:   cfg.APIBaseURL + "/api/v1/webhooks/payout",
		WebhookSecret: cfg.ArifpayWebhookSecret,
		DryRun:        cfg.PayoutDryRun,
	})
	payrollService := core.NewPayrollService(companies, employees, entries, payments)
	ledgerService := core.NewLedgerService(payments, employees, companies, payoutService)
	recoveryService := core.NewRecoveryService(payments, companies, ledgerService, payrollService)
	if cfg.StuckThresholdHours > 0 {
		recoveryService.StuckThreshold = time.Duration(cfg.StuckThresholdHours) * time.Hour
	}
	if cfg.FailedRetentionDays > 0 {
		recoveryService.FailedRetention = time.Duration(cfg.FailedRetentionDays) * 24 * time.Hour
	}

	sched := scheduler.New(recoveryService)
	if err := sched.Register(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info().Msg("Shutting down scheduler...")
		cancel()
	}()

	log.Info().Msg("Scheduler starting")
	sched.Start(ctx)
}
