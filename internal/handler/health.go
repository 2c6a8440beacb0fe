package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/cradoe/walletrecon/internal/errHandler"
	"github.com/cradoe/walletrecon/internal/response"
)

// Dependency is something the service cannot work without, checked on
// every status request.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

type healthCheckHandler struct {
	err          *errHandler.ErrorHandler
	dependencies []Dependency
}

func NewHealthCheckHandler(err *errHandler.ErrorHandler, dependencies ...Dependency) *healthCheckHandler {
	return &healthCheckHandler{
		err:          err,
		dependencies: dependencies,
	}
}

func (h *healthCheckHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]any, len(h.dependencies))
	healthy := true
	for _, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			checks[dep.Name] = err.Error()
			healthy = false
			continue
		}
		checks[dep.Name] = "ok"
	}

	if !healthy {
		err := response.JSONErrorResponse(w, checks, "Degraded", http.StatusServiceUnavailable, nil)
		if err != nil {
			h.err.ServerError(w, r, err)
		}
		return
	}

	message := "Up and grateful"

	err := response.JSONOkResponse(w, checks, message, nil)
	if err != nil {
		h.err.ServerError(w, r, err)
	}
}
