package errHandler

import (
	"context"
	"log/slog"
	"net/http"

	"runtime/debug"
	"strings"

	"github.com/cradoe/walletrecon/internal/helper"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/notify"
	"github.com/cradoe/walletrecon/internal/response"
	"github.com/cradoe/walletrecon/internal/smtp"
)

type ErrorHandler struct {
	notificationEmail string
	logger            *slog.Logger
	help              *helper.HelperRepository
	mailer            smtp.MailerInterface
}

func New(notificationEmail string, mailer smtp.MailerInterface, logger *slog.Logger, help *helper.HelperRepository) *ErrorHandler {
	return &ErrorHandler{
		notificationEmail: notificationEmail,
		logger:            logger,
		help:              help,
		mailer:            mailer,
	}
}

func (e *ErrorHandler) ReportServerError(r *http.Request, err error) {
	var (
		message = err.Error()
		method  = r.Method
		url     = r.URL.String()
		trace   = string(debug.Stack())
	)

	requestAttrs := slog.Group("request", "method", method, "url", url)
	e.logger.Error(message, requestAttrs, "trace", trace)

	if e.notificationEmail != "" {
		data := e.help.NewEmailData()
		data["Message"] = message
		data["RequestMethod"] = method
		data["RequestURL"] = url
		data["Trace"] = trace

		err := e.mailer.Send(e.notificationEmail, data, "error-notification.tmpl")
		if err != nil {
			trace = string(debug.Stack())
			e.logger.Error(err.Error(), requestAttrs, "trace", trace)
		}
	}
}

// Escalate asks an operator to look at a webhook that was acknowledged
// without being applied. It satisfies notify.Escalator.
func (e *ErrorHandler) Escalate(ctx context.Context, review notify.Review) {
	reviewAttrs := slog.Group("review",
		"provider", review.Provider,
		"event", review.EventType,
		"reference", review.Reference,
		"provider_reference", review.ProviderReference,
		"account_number", review.AccountNumber,
		"amount", review.Amount,
	)
	e.logger.Warn("manual review required", "reason", review.Reason, reviewAttrs)

	if e.notificationEmail == "" {
		return
	}

	currency := review.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	data := e.help.NewEmailData()
	data["Provider"] = review.Provider
	data["Reason"] = review.Reason
	data["EventType"] = review.EventType
	data["Reference"] = review.Reference
	data["ProviderReference"] = review.ProviderReference
	data["AccountNumber"] = review.AccountNumber
	data["Amount"] = review.Amount
	data["Currency"] = currency

	if err := e.mailer.Send(e.notificationEmail, data, "manual-review.tmpl"); err != nil {
		e.logger.Error("manual review email failed", "error", err, reviewAttrs)
	}
}

type Error struct {
	w       http.ResponseWriter
	r       *http.Request
	errors  any
	status  int
	message string
	headers http.Header
}

func (e *ErrorHandler) ErrorMessage(d *Error) {
	d.message = strings.ToUpper(d.message[:1]) + d.message[1:]

	err := response.JSONErrorResponse(d.w, d.errors, d.message, d.status, d.headers)
	if err != nil {
		e.ReportServerError(d.r, err)
		d.w.WriteHeader(http.StatusInternalServerError)
	}
}

func (e *ErrorHandler) ServerError(w http.ResponseWriter, r *http.Request, err error) {
	e.ReportServerError(r, err)

	message := "The server encountered a problem and could not process your request"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusInternalServerError,
		message: message,
		headers: nil,
	})
}

func (e *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	message := "The requested resource could not be found"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusNotFound,
		message: message,
		headers: nil,
	})
}

func (e *ErrorHandler) BadRequest(w http.ResponseWriter, r *http.Request, err error) {
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusBadRequest,
		message: err.Error(),
		headers: nil,
	})
}

func (e *ErrorHandler) FailedValidation(w http.ResponseWriter, r *http.Request, v any) {
	message := "Validation failed"

	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnprocessableEntity,
		message: message,
		headers: nil,
		errors:  v,
	})
}

func (e *ErrorHandler) InvalidAuthenticationToken(w http.ResponseWriter, r *http.Request) {
	headers := make(http.Header)
	headers.Set("WWW-Authenticate", "Bearer")

	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnauthorized,
		message: "Invalid authentication token",
		headers: headers,
	})
}

func (e *ErrorHandler) AuthenticationRequired(w http.ResponseWriter, r *http.Request) {
	message := "You must be authenticated to access this resource"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnauthorized,
		message: message,
		headers: nil,
	})
}
