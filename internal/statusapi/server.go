// Package statusapi serves read-only verification results over HTTP and
// exports them as Prometheus gauges.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/legacyrecon/pkg/reconcile"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	shutdownTimeout  = 5 * time.Second
)

// Verifier resolves a party and compares its aggregates across stores.
type Verifier interface {
	ResolveAnchor(ctx context.Context, code reconcile.PartyCode) (reconcile.Party, error)
	Verify(ctx context.Context, party reconcile.Party) (reconcile.PartyVerification, error)
}

// Run serves the status API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, verifier Verifier, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("status api config: %w", err)
	}
	var validator *sessionvalidator.Validator
	if cfg.Guarded() {
		sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
			SigningKey: []byte(cfg.SessionSigningKey),
			Issuer:     cfg.SessionIssuer,
			CookieName: cfg.SessionCookieName,
		})
		if err != nil {
			return fmt.Errorf("session validator: %w", err)
		}
		validator = sessionValidator
	} else {
		logger.Warn("status api running without session guard")
	}

	handler := &httpHandler{
		logger:   logger,
		verifier: verifier,
		metrics:  NewMetrics(),
		cfg:      cfg,
	}
	router := setupRouter(cfg, handler, validator)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// setupRouter wires routes. A nil validator leaves /api unguarded.
func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(handler.metrics.Handler()))

	api := router.Group("/api")
	if validator != nil {
		api.Use(validator.GinMiddleware(claimsContextKey))
	}
	api.GET("/verify/:code", handler.handleVerify)

	return router
}

type httpHandler struct {
	logger   *zap.Logger
	verifier Verifier
	metrics  *Metrics
	cfg      Config
}

type aggregatePayload struct {
	Count    int64  `json:"count"`
	Quantity string `json:"quantity"`
	Value    string `json:"value"`
}

type rolePayload struct {
	Role          string           `json:"role"`
	Source        aggregatePayload `json:"source"`
	Destination   aggregatePayload `json:"destination"`
	CountDelta    int64            `json:"count_delta"`
	QuantityDelta string           `json:"quantity_delta"`
	ValueDelta    string           `json:"value_delta"`
	Match         bool             `json:"match"`
}

type verificationPayload struct {
	Code  string        `json:"code"`
	Match bool          `json:"match"`
	Roles []rolePayload `json:"roles"`
}

func (handler *httpHandler) handleVerify(ctx *gin.Context) {
	code, err := reconcile.NewPartyCode(ctx.Param("code"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_code", err.Error()))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()

	party, err := handler.verifier.ResolveAnchor(requestCtx, code)
	switch {
	case errors.Is(err, reconcile.ErrPartyNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "party not found"))
		return
	case errors.Is(err, reconcile.ErrPartyWithoutLegacyID):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("no_legacy_id", "party has no legacy id"))
		return
	case err != nil:
		handler.logger.Error("resolve party", zap.String("code", code.String()), zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "party lookup failed"))
		return
	}

	verification, err := handler.verifier.Verify(requestCtx, party)
	if err != nil {
		handler.logger.Error("verify party", zap.String("code", code.String()), zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("store_error", "verification failed"))
		return
	}
	handler.metrics.Observe(verification)
	ctx.JSON(http.StatusOK, toVerificationPayload(verification))
}

func toVerificationPayload(verification reconcile.PartyVerification) verificationPayload {
	payload := verificationPayload{
		Code:  verification.Party.Code.String(),
		Match: verification.Match(),
		Roles: make([]rolePayload, 0, len(verification.Roles)),
	}
	for _, role := range verification.Roles {
		payload.Roles = append(payload.Roles, rolePayload{
			Role:          role.Role.String(),
			Source:        toAggregatePayload(role.Source),
			Destination:   toAggregatePayload(role.Destination),
			CountDelta:    role.CountDelta,
			QuantityDelta: role.QuantityDelta.String(),
			ValueDelta:    role.ValueDelta.String(),
			Match:         role.Match,
		})
	}
	return payload
}

func toAggregatePayload(aggregate reconcile.Aggregate) aggregatePayload {
	return aggregatePayload{
		Count:    aggregate.Count,
		Quantity: aggregate.Quantity.String(),
		Value:    aggregate.Value.String(),
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
