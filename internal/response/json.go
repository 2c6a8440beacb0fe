package response

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
)

type Response[T any] struct {
	Status  int    `json:"status"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
	Error   T      `json:"error,omitempty"`
}

const defaultSuccessMessage = "Request successful"

func JSONOkResponse(w http.ResponseWriter, data any, message string, headers http.Header) error {
	return success(w, http.StatusOK, data, message, headers)
}

func JSONCreatedResponse(w http.ResponseWriter, data any, message string) error {
	return success(w, http.StatusCreated, data, message, nil)
}

// JSONAcceptedResponse is for work that was taken on but has not finished,
// e.g. a spend the provider is still processing.
func JSONAcceptedResponse(w http.ResponseWriter, data any, message string) error {
	return success(w, http.StatusAccepted, data, message, nil)
}

func success(w http.ResponseWriter, status int, data any, message string, headers http.Header) error {
	if message == "" {
		message = defaultSuccessMessage
	}
	if m, ok := data.(map[string]any); ok {
		data = ConvertKeysToSnakeCase(m)
	}

	return JSONWithHeaders(w, &Response[any]{
		Status:  status,
		Success: true,
		Message: message,
		Data:    data,
	}, headers)
}

func JSONErrorResponse(w http.ResponseWriter, err any, message string, status int, headers http.Header) error {
	if message == "" {
		message = "Request failed"
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}

	return JSONWithHeaders(w, &Response[any]{
		Status:  status,
		Success: false,
		Message: message,
		Error:   err,
	}, headers)
}

// JSONWithHeaders writes response as indented JSON using response.Status
// as the HTTP status code.
func JSONWithHeaders[T any](w http.ResponseWriter, response *Response[T], headers http.Header) error {
	js, err := json.MarshalIndent(response, "", "\t")
	if err != nil {
		return err
	}
	js = append(js, '\n')

	for key, value := range headers {
		w.Header()[key] = value
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.Status)

	_, err = w.Write(js)
	return err
}

var camelBoundary = regexp.MustCompile("([a-z0-9])([A-Z])")

func toSnakeCase(s string) string {
	return strings.ToLower(camelBoundary.ReplaceAllString(s, "${1}_${2}"))
}

// ConvertKeysToSnakeCase rewrites camelCase keys, nested maps included.
func ConvertKeysToSnakeCase(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		if nested, ok := value.(map[string]any); ok {
			value = ConvertKeysToSnakeCase(nested)
		}
		out[toSnakeCase(key)] = value
	}
	return out
}
