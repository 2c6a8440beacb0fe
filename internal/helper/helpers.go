package helper

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

type HelperRepository struct {
	baseUrl string
	WG      *sync.WaitGroup
	logger  *slog.Logger
}

func New(baseUrl string, wg *sync.WaitGroup, logger *slog.Logger) *HelperRepository {
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HelperRepository{
		baseUrl: baseUrl,
		WG:      wg,
		logger:  logger,
	}
}

func (h *HelperRepository) NewEmailData() map[string]any {
	data := map[string]any{
		"BaseURL": h.baseUrl,
	}

	return data
}

// BackgroundTask runs fn on its own goroutine. Errors and panics are logged
// and never reach the caller. Wait on WG to drain pending tasks.
func (h *HelperRepository) BackgroundTask(name string, fn func() error) {
	h.WG.Add(1)

	go func() {
		defer h.WG.Done()

		defer func() {
			if err := recover(); err != nil {
				h.logger.Error(fmt.Sprintf("%v", err), "task", name, "trace", string(debug.Stack()))
			}
		}()

		if err := fn(); err != nil {
			h.logger.Error(err.Error(), "task", name)
		}
	}()
}

// Wait blocks until every task started with BackgroundTask has returned.
func (h *HelperRepository) Wait() {
	h.WG.Wait()
}
