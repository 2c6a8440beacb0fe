package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cradoe/walletrecon/internal/errHandler"
	"github.com/cradoe/walletrecon/internal/metrics"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/reconcile"
	"github.com/cradoe/walletrecon/internal/request"
	"github.com/cradoe/walletrecon/internal/response"
	"github.com/cradoe/walletrecon/internal/webhook"
)

const webhookReceived = "Webhook received"

// Reconciler applies a normalized webhook. reconcile.Dispatcher implements it.
type Reconciler interface {
	ProcessWebhook(ctx context.Context, result *models.WebhookProcessResult) error
}

type WebhookHandler struct {
	Registry   *webhook.Registry
	Reconciler Reconciler
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	ErrHandler *errHandler.ErrorHandler
}

func NewWebhookHandler(handler *WebhookHandler) *WebhookHandler {
	return &WebhookHandler{
		Registry:   handler.Registry,
		Reconciler: handler.Reconciler,
		Metrics:    handler.Metrics,
		Logger:     handler.Logger,
		ErrHandler: handler.ErrHandler,
	}
}

// HandleWebhook acknowledges every delivery from a known provider with 200.
// Providers retry anything else, and a retry cannot fix a bad signature or a
// payload we will never accept.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	name := models.Provider(strings.ToLower(r.PathValue("provider")))

	p, ok := h.Registry.Get(name)
	if !ok {
		h.ErrHandler.NotFound(w, r)
		return
	}

	logger := h.Logger.With("provider", name)

	// the signature covers these exact bytes
	body, err := request.ReadRaw(w, r)
	if err != nil {
		logger.Warn("webhook body unreadable", "error", err)
		h.Metrics.WebhookEvent(string(name), metrics.OutcomeInvalidPayload)
		h.acknowledge(w, r)
		return
	}

	if !p.ValidateSignature(body, r.Header.Get(p.SignatureHeader())) {
		logger.Warn("webhook signature rejected", "header", p.SignatureHeader())
		h.Metrics.WebhookEvent(string(name), metrics.OutcomeInvalidSignature)
		h.acknowledge(w, r)
		return
	}

	if err := p.ValidatePayload(body); err != nil {
		logger.Warn("webhook payload rejected", "error", err)
		h.Metrics.WebhookEvent(string(name), metrics.OutcomeInvalidPayload)
		h.acknowledge(w, r)
		return
	}

	result, err := p.Process(body)
	if err != nil {
		logger.Warn("webhook payload could not be normalized", "error", err)
		h.Metrics.WebhookEvent(string(name), metrics.OutcomeInvalidPayload)
		h.acknowledge(w, r)
		return
	}

	// a provider hanging up must not abort a half-applied reconciliation
	ctx := context.WithoutCancel(r.Context())

	err = h.Reconciler.ProcessWebhook(ctx, result)
	switch {
	case err == nil,
		errors.Is(err, reconcile.ErrDuplicateEvent),
		errors.Is(err, reconcile.ErrResourceNotFound):
		// logged, counted and escalated by the reconciler
	case errors.Is(err, reconcile.ErrValidation):
		logger.Warn("webhook rejected by reconciler", "error", err)
	default:
		h.ErrHandler.ReportServerError(r, err)
	}

	h.acknowledge(w, r)
}

func (h *WebhookHandler) acknowledge(w http.ResponseWriter, r *http.Request) {
	err := response.JSONOkResponse(w, nil, webhookReceived, nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
