package request

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spendInput struct {
	Amount   int64  `json:"amount"`
	Category string `json:"category"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"amount":400,"category":"airtime"}`},
		{name: "empty", body: ``, wantErr: "body must not be empty"},
		{name: "syntax", body: `{"amount":}`, wantErr: "badly-formed JSON"},
		{name: "wrong type", body: `{"amount":"400"}`, wantErr: `incorrect JSON type for field "amount"`},
		{name: "unknown key", body: `{"amount":400,"pin":1234}`, wantErr: `body contains unknown key "pin"`},
		{name: "two values", body: `{"amount":1}{"amount":2}`, wantErr: "single JSON value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()

			var input spendInput
			err := DecodeJSON(rr, req, &input)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, int64(400), input.Amount)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodeJSONAllowUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":400,"pin":1234}`))

	var input spendInput
	require.NoError(t, DecodeJSONAllowUnknownFields(httptest.NewRecorder(), req, &input))
	assert.Equal(t, int64(400), input.Amount)
}

func TestReadRawKeepsExactBytes(t *testing.T) {
	raw := "{\"event\":\"charge.success\",  \"data\":{}}\n"
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))

	body, err := ReadRaw(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, raw, string(body))
}
