package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mesapay/chatpay/internal/config"
	"github.com/mesapay/chatpay/internal/flow"
	gateway "github.com/mesapay/chatpay/internal/gateways"
	"github.com/mesapay/chatpay/internal/payments"
	"github.com/mesapay/chatpay/internal/repository"
	"github.com/mesapay/chatpay/internal/retry"
	"github.com/mesapay/chatpay/internal/sweeper"
	"github.com/mesapay/chatpay/pkg/logger"
	"github.com/mesapay/chatpay/pkg/pg"
	"github.com/mesapay/chatpay/pkg/prom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	conversationRepo := repository.NewConversationRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)

	orderClient := gateway.NewOrderClient(config.Get().OrderServiceURL, time.Second*5)
	messengerClient := gateway.NewMessengerClient(config.Get().MessengerURL, config.Get().MessengerToken, time.Second*5)
	paymentClient := gateway.NewPaymentClient(config.Get().PaymentGatewayURL, config.Get().PaymentGatewayToken, time.Second*10)

	// The sweeps push conversations through the same engine the event
	// path uses, so the step transition rules hold everywhere.
	orchestrator := payments.NewOrchestrator(transactionRepo, orderClient, messengerClient, paymentClient, config.Get().PixExpiry)
	guard := flow.NewGuard(conversationRepo, config.Get().ClaimInactivityThreshold)
	engine := flow.NewEngine(conversationRepo, transactionRepo, guard, orderClient, messengerClient, orchestrator,
		retry.Policy{
			MaxAttempts:   uint64(config.Get().RetryMaxAttempts),
			Interval:      config.Get().RetryInterval,
			NotifyAttempt: uint64(config.Get().RetryNotifyAttempt),
		},
		flow.Config{
			EventMaxAge:    config.Get().EventMaxAge,
			ActivityWindow: config.Get().ActivityWindow,
			PixExpiry:      config.Get().PixExpiry,
		})
	orchestrator.Bind(engine)

	service := sweeper.NewService(transactionRepo, conversationRepo, engine, messengerClient, sweeper.Config{
		Interval:         config.Get().SweepInterval,
		ReminderAge:      config.Get().PaymentReminderAge,
		CheckInThreshold: config.Get().CheckInThreshold,
		AbandonThreshold: config.Get().AbandonThreshold,
		ActivityWindow:   config.Get().ActivityWindow,
		BatchSize:        200,
	})

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9101", "/metrics")
	}()

	service.Start()
	logger.Info("sweeper started", "version", version, "commit", commit, "built", date)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case <-c:
		service.Stop()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
