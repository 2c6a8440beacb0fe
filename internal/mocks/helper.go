package mocks

import (
	"io"
	"log/slog"

	"github.com/cradoe/walletrecon/internal/helper"
)

// Logger discards everything.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// NewHelper returns a helper whose background tasks can be drained with Wait.
func NewHelper() *helper.HelperRepository {
	return helper.New("http://localhost", nil, Logger)
}
