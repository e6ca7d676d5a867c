package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mesapay/chatpay/internal/payments"
)

// Mock payment gateway for local development: approves or declines
// charges on a configurable rate and delivers signed settlement
// callbacks the way the real processor does.

type pixChargeRequest struct {
	Reference         string  `json:"reference" binding:"required"`
	Amount            float64 `json:"amount" binding:"required"`
	Document          string  `json:"document"`
	Name              string  `json:"name"`
	ExpirationSeconds int     `json:"expiration_seconds"`
}

type cardChargeRequest struct {
	Reference string  `json:"reference" binding:"required"`
	Amount    float64 `json:"amount" binding:"required"`
	Document  string  `json:"document"`
	Name      string  `json:"name"`
	Number    string  `json:"card_number"`
	Brand     string  `json:"brand"`
	ExpMonth  string  `json:"exp_month"`
	ExpYear   string  `json:"exp_year"`
	CVV       string  `json:"cvv"`
	Token     string  `json:"card_token"`
	Capture   bool    `json:"capture"`
	StoreCard bool    `json:"store_card"`
}

type captureRequest struct {
	Amount float64 `json:"amount"`
}

type callbackBody struct {
	Event     string                   `json:"event"`
	Timestamp string                   `json:"timestamp"`
	Data      payments.GatewayResponse `json:"data"`
}

// declineCodes are acquirer responses the simulator rotates through.
var declineCodes = []string{"51", "05", "57", "14", "91"}

type MockGateway struct {
	approvalRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	callbackURL  string
	verifier     *payments.Verifier
	client       *http.Client
	rng          *rand.Rand
}

func NewMockGateway(approvalRate float64, minDelay, maxDelay time.Duration, callbackURL, secret string) *MockGateway {
	return &MockGateway{
		approvalRate: approvalRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		callbackURL:  callbackURL,
		verifier:     payments.NewVerifier(secret, nil),
		client:       &http.Client{Timeout: 10 * time.Second},
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockGateway) newGatewayID() string {
	return "ch_" + uuid.New().String()[:13]
}

func (m *MockGateway) randomDelay() time.Duration {
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(m.maxDelay-m.minDelay)))
}

func (m *MockGateway) shouldApprove() bool {
	return m.rng.Float64() < m.approvalRate
}

func (m *MockGateway) declineCode() string {
	return declineCodes[m.rng.Intn(len(declineCodes))]
}

// deliverCallback signs the body over its raw bytes and posts it with
// the gateway headers, mirroring the production contract.
func (m *MockGateway) deliverCallback(event string, data payments.GatewayResponse) {
	if m.callbackURL == "" {
		return
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	body, err := json.Marshal(callbackBody{Event: event, Timestamp: ts, Data: data})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal callback")
		return
	}

	req, err := http.NewRequest(http.MethodPost, m.callbackURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("failed to build callback request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(payments.HeaderSignature, m.verifier.Sign(body))
	req.Header.Set(payments.HeaderEvent, event)
	req.Header.Set(payments.HeaderTimestamp, ts)

	resp, err := m.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("callback delivery failed")
		return
	}
	defer resp.Body.Close()

	log.Info().
		Str("event", event).
		Str("gateway_id", data.GatewayID).
		Int("status", resp.StatusCode).
		Msg("callback delivered")
}

// settlePixLater waits a random delay and either pays or expires the
// charge through the callback channel.
func (m *MockGateway) settlePixLater(gatewayID string, amount float64, expiresIn time.Duration) {
	delay := m.randomDelay()
	if expiresIn > 0 && delay >= expiresIn {
		delay = expiresIn + time.Second
	}
	time.Sleep(delay)

	if m.shouldApprove() {
		m.deliverCallback("charge.paid", payments.GatewayResponse{
			GatewayCode:  "00",
			StatusCode:   8,
			AcquirerCode: "00",
			GatewayID:    gatewayID,
			Amount:       amount,
		})
		return
	}
	m.deliverCallback("charge.expired", payments.GatewayResponse{
		GatewayCode:  "00",
		StatusCode:   3,
		AcquirerCode: "00",
		GatewayID:    gatewayID,
		Amount:       amount,
	})
}

type Handler struct {
	gateway *MockGateway
}

func NewHandler(gateway *MockGateway) *Handler {
	return &Handler{gateway: gateway}
}

// CreatePixCharge returns a waiting charge with a payable code and
// schedules the asynchronous settlement.
func (h *Handler) CreatePixCharge(c *gin.Context) {
	var req pixChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	gatewayID := h.gateway.newGatewayID()
	expiresIn := time.Duration(req.ExpirationSeconds) * time.Second

	log.Info().
		Str("reference", req.Reference).
		Str("gateway_id", gatewayID).
		Float64("amount", req.Amount).
		Msg("pix charge created")

	go h.gateway.settlePixLater(gatewayID, req.Amount, expiresIn)

	c.JSON(http.StatusCreated, payments.GatewayResponse{
		GatewayCode:  "00",
		StatusCode:   2,
		AcquirerCode: "00",
		GatewayID:    gatewayID,
		Amount:       req.Amount,
		PixCode:      fmt.Sprintf("00020126580014br.gov.bcb.pix%s5204000053039865802BR", uuid.New().String()),
	})
}

// CreateCardCharge settles inline: approved charges come back as
// success (or pre-authorization when capture is off), declines carry a
// rotating acquirer code.
func (h *Handler) CreateCardCharge(c *gin.Context) {
	var req cardChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	gatewayID := h.gateway.newGatewayID()
	resp := payments.GatewayResponse{
		GatewayCode: "00",
		GatewayID:   gatewayID,
		Amount:      req.Amount,
	}

	if h.gateway.shouldApprove() {
		resp.AcquirerCode = "00"
		if req.Capture {
			resp.StatusCode = 8
		} else {
			resp.StatusCode = 5
		}
		if req.StoreCard && req.Token == "" {
			resp.CardToken = "tok_" + uuid.New().String()[:13]
		}
		log.Info().
			Str("reference", req.Reference).
			Str("gateway_id", gatewayID).
			Bool("capture", req.Capture).
			Msg("card charge approved")
	} else {
		resp.StatusCode = 8
		resp.AcquirerCode = h.gateway.declineCode()
		log.Warn().
			Str("reference", req.Reference).
			Str("gateway_id", gatewayID).
			Str("acquirer_code", resp.AcquirerCode).
			Msg("card charge declined")
	}

	c.JSON(http.StatusCreated, resp)
}

// CaptureCharge confirms a pre-authorized charge.
func (h *Handler) CaptureCharge(c *gin.Context) {
	gatewayID := c.Param("id")
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	log.Info().
		Str("gateway_id", gatewayID).
		Float64("amount", req.Amount).
		Msg("charge captured")

	c.JSON(http.StatusOK, payments.GatewayResponse{
		GatewayCode:  "00",
		StatusCode:   8,
		AcquirerCode: "00",
		GatewayID:    gatewayID,
		Amount:       req.Amount,
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"approval_rate": h.gateway.approvalRate,
		"timestamp":     time.Now(),
	})
}

// UpdateConfig changes the approval rate at runtime, handy for forcing
// decline paths while testing.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var cfg struct {
		ApprovalRate *float64 `json:"approval_rate"`
	}
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if cfg.ApprovalRate != nil && *cfg.ApprovalRate >= 0 && *cfg.ApprovalRate <= 1.0 {
		h.gateway.approvalRate = *cfg.ApprovalRate
		log.Info().Float64("rate", *cfg.ApprovalRate).Msg("updated approval rate")
	}
	c.JSON(http.StatusOK, gin.H{"approval_rate": h.gateway.approvalRate})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/charges/pix", handler.CreatePixCharge)
		v1.POST("/charges/card", handler.CreateCardCharge)
		v1.POST("/charges/:id/capture", handler.CaptureCharge)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8082")
	approvalRate := getEnvFloat("APPROVAL_RATE", 0.9)
	minDelay := getEnvDuration("MIN_DELAY", 2*time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 10*time.Second)
	callbackURL := getEnv("CALLBACK_URL", "http://localhost:8080/api/v1/callbacks/payment")
	secret := getEnv("CALLBACK_SECRET", "dev-secret")

	log.Info().
		Str("port", port).
		Float64("approval_rate", approvalRate).
		Str("callback_url", callbackURL).
		Msg("starting mock payment gateway")

	gatewaySim := NewMockGateway(approvalRate, minDelay, maxDelay, callbackURL, secret)
	handler := NewHandler(gatewaySim)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
