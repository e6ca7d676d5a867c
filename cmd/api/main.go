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
	"github.com/mesapay/chatpay/internal/handlers"
	"github.com/mesapay/chatpay/internal/payments"
	"github.com/mesapay/chatpay/internal/queue"
	"github.com/mesapay/chatpay/internal/repository"
	"github.com/mesapay/chatpay/internal/retry"
	xhttp "github.com/mesapay/chatpay/pkg/http"
	"github.com/mesapay/chatpay/pkg/logger"
	"github.com/mesapay/chatpay/pkg/pg"
	"github.com/mesapay/chatpay/pkg/prom"
	"github.com/mesapay/chatpay/pkg/redis"
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

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

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

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	eventQueue, err := queue.NewEventQueue(redisAdap, config.Get().QueueConsumerName, queue.QueueConfig{
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating event queue", "error", err)
		return
	}

	conversationRepo := repository.NewConversationRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)

	// collaborators
	orderClient := gateway.NewOrderClient(config.Get().OrderServiceURL, time.Second*5)
	messengerClient := gateway.NewMessengerClient(config.Get().MessengerURL, config.Get().MessengerToken, time.Second*5)
	paymentClient := gateway.NewPaymentClient(config.Get().PaymentGatewayURL, config.Get().PaymentGatewayToken, time.Second*10)

	// settlement wiring: callbacks land on the orchestrator, which hands
	// the conversation side to the flow engine
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

	verifier := payments.NewVerifier(config.Get().PaymentGatewaySecret, config.Get().CallbackAllowedIPs)

	// v1 handlers
	eventHandler := handlers.NewEventHandler(eventQueue)
	callbackHandler := handlers.NewCallbackHandler(orchestrator, verifier)
	conversationHandler := handlers.NewConversationHandler(conversationRepo)
	healthHandler := handlers.NewHealthHandler(nil)

	g := s.Router.Group("/api/v1")
	handlers.RegisterEventRoutes(g, eventHandler)
	handlers.RegisterCallbackRoutes(g, callbackHandler)
	handlers.RegisterConversationRoutes(g, conversationHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	logger.Info("api started", "version", version, "commit", commit, "built", date)

	select {
	case <-c:
		s.Shutdown()
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
