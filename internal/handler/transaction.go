package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cradoe/walletrecon/internal/context"
	"github.com/cradoe/walletrecon/internal/errHandler"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/orchestrator"
	"github.com/cradoe/walletrecon/internal/provider"
	"github.com/cradoe/walletrecon/internal/repository"
	"github.com/cradoe/walletrecon/internal/request"
	"github.com/cradoe/walletrecon/internal/response"
	"github.com/cradoe/walletrecon/internal/validator"
)

// CallResolver finds the outbound call for a provider. provider.Clients
// implements it.
type CallResolver interface {
	CallFor(name models.Provider) (provider.Call, bool)
}

type TransactionResponseData struct {
	ID                string                   `json:"id"`
	Reference         string                   `json:"reference"`
	ProviderReference string                   `json:"provider_reference,omitempty"`
	Amount            int64                    `json:"amount"`
	Direction         models.Direction         `json:"direction"`
	Category          models.Category          `json:"category"`
	Provider          models.Provider          `json:"provider"`
	Status            models.TransactionStatus `json:"status"`
	BalanceBefore     *int64                   `json:"balance_before,omitempty"`
	BalanceAfter      *int64                   `json:"balance_after,omitempty"`
	Narration         string                   `json:"narration,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
}

func newTransactionResponseData(trans *models.Transaction) *TransactionResponseData {
	data := &TransactionResponseData{
		ID:                trans.ID,
		Reference:         trans.Reference,
		ProviderReference: trans.ProviderReference.String,
		Amount:            trans.Amount,
		Direction:         trans.Direction,
		Category:          trans.Category,
		Provider:          trans.Provider,
		Status:            trans.Status,
		Narration:         trans.Narration,
		CreatedAt:         trans.CreatedAt,
	}
	if trans.BalanceBefore.Valid {
		data.BalanceBefore = &trans.BalanceBefore.Int64
	}
	if trans.BalanceAfter.Valid {
		data.BalanceAfter = &trans.BalanceAfter.Int64
	}
	return data
}

type TransactionHandler struct {
	DB           repository.Database
	Orchestrator *orchestrator.Orchestrator
	Calls        CallResolver
	ErrHandler   *errHandler.ErrorHandler
}

func NewTransactionHandler(handler *TransactionHandler) *TransactionHandler {
	return &TransactionHandler{
		DB:           handler.DB,
		Orchestrator: handler.Orchestrator,
		Calls:        handler.Calls,
		ErrHandler:   handler.ErrHandler,
	}
}

var spendCategories = []string{
	string(models.CategoryWithdrawal),
	string(models.CategoryTransfer),
	string(models.CategoryBillPayment),
	string(models.CategoryAirtime),
}

var balanceFields = []string{
	"",
	string(models.BalanceFieldMain),
	string(models.BalanceFieldBonus),
	string(models.BalanceFieldCommission),
}

func (h *TransactionHandler) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Amount         int64               `json:"amount"`
		Category       string              `json:"category"`
		Provider       string              `json:"provider"`
		Balance        string              `json:"balance"`
		IdempotencyKey string              `json:"idempotency_key"`
		Reference      string              `json:"reference"`
		Narration      string              `json:"narration"`
		Metadata       map[string]any      `json:"metadata"`
		Validator      validator.Validator `json:"-"`
	}

	err := request.DecodeJSON(w, r, &input)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Category = strings.ToLower(strings.TrimSpace(input.Category))
	input.Provider = strings.ToLower(strings.TrimSpace(input.Provider))

	input.Validator.Check(input.Amount > 0, "Amount must be greater than zero")
	input.Validator.Check(validator.PermittedValue(input.Category, spendCategories...), "Category is not supported")
	input.Validator.Check(validator.NotBlank(input.Provider), "Provider is required")
	input.Validator.Check(validator.PermittedValue(input.Balance, balanceFields...), "Balance must be balance, bonus_balance or commission_balance")
	input.Validator.Check(validator.NotBlank(input.IdempotencyKey), "Idempotency key is required")
	input.Validator.Check(validator.MaxRunes(input.IdempotencyKey, 100), "Idempotency key must not be more than 100 characters")
	input.Validator.Check(validator.MaxRunes(input.Narration, 255), "Narration must not be more than 255 characters")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	call, ok := h.Calls.CallFor(models.Provider(input.Provider))
	if !ok {
		input.Validator.AddError("Provider is not supported")
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return
	}

	ownerID := context.ContextGetAuthenticatedOwner(r)

	result, err := h.Orchestrator.ExecuteTransaction(r.Context(), orchestrator.Request{
		OwnerID:        ownerID,
		Amount:         input.Amount,
		Category:       models.Category(input.Category),
		Provider:       models.Provider(input.Provider),
		Field:          models.BalanceField(input.Balance),
		IdempotencyKey: ownerID + ":" + input.IdempotencyKey,
		Reference:      input.Reference,
		Narration:      input.Narration,
		Initiator:      ownerID,
		InitiatorKind:  models.InitiatorUser,
		Metadata:       input.Metadata,
	}, call)

	var providerErr *orchestrator.ProviderError
	switch {
	case errors.As(err, &providerErr):
		data := map[string]any{"reference": providerErr.Reference}
		if result != nil && result.Transaction != nil {
			data["transaction"] = newTransactionResponseData(result.Transaction)
		}
		err = response.JSONErrorResponse(w, data, "Transaction failed and your wallet has been refunded", http.StatusBadGateway, nil)
		if err != nil {
			h.ErrHandler.ServerError(w, r, err)
		}
		return

	case errors.Is(err, orchestrator.ErrInsufficientBalance):
		input.Validator.AddError("Insufficient balance")
		h.ErrHandler.FailedValidation(w, r, input.Validator.Errors)
		return

	case errors.Is(err, orchestrator.ErrWalletLocked):
		err = response.JSONErrorResponse(w, nil, "Your wallet cannot process transactions at this time", http.StatusForbidden, nil)
		if err != nil {
			h.ErrHandler.ServerError(w, r, err)
		}
		return

	case errors.Is(err, orchestrator.ErrWalletNotFound):
		h.ErrHandler.NotFound(w, r)
		return

	case errors.Is(err, orchestrator.ErrValidation):
		h.ErrHandler.BadRequest(w, r, err)
		return

	case err != nil:
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	data := newTransactionResponseData(result.Transaction)

	switch {
	case result.Replayed:
		err = response.JSONOkResponse(w, data, "Transaction already processed", nil)
	case result.Transaction.Status == models.TransactionStatusSuccess:
		err = response.JSONCreatedResponse(w, data, "Transaction successful")
	default:
		err = response.JSONAcceptedResponse(w, data, "Transaction is being processed")
	}
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *TransactionHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	ownerID := context.ContextGetAuthenticatedOwner(r)
	query := retrieveUrlQueryValues(r)

	transactions, err := h.DB.Transaction().ListByOwner(r.Context(), ownerID, repository.ListFilter{
		StartDate: query.StartDate,
		EndDate:   query.EndDate,
		Limit:     query.Limit,
		Offset:    query.Offset,
	})
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	data := make([]*TransactionResponseData, len(transactions))
	for i := range transactions {
		data[i] = newTransactionResponseData(&transactions[i])
	}

	err = response.JSONOkResponse(w, data, "Transactions retrieved successfully", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *TransactionHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	ownerID := context.ContextGetAuthenticatedOwner(r)

	trans, found, err := h.DB.Transaction().GetByReference(r.Context(), r.PathValue("reference"))
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	// another owner's transaction is reported as missing
	if !found || trans.OwnerID != ownerID {
		h.ErrHandler.NotFound(w, r)
		return
	}

	err = response.JSONOkResponse(w, newTransactionResponseData(trans), "Transaction retrieved successfully", nil)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
