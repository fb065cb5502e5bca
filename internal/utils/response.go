package utils

import (
	"encoding/json"
	"net/http"

	"ms-events/internal/apperr"
)

type ErrorBody struct {
	Success bool     `json:"success"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	EventID string `json:"eventId,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse builds the body for err. The wrapped cause is only exposed in development.
func ErrorResponse(err error, devMode bool) (int, ErrorBody) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal("Internal server error", err)
	}

	body := ErrorBody{
		Success: false,
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Fields:  appErr.Fields,
	}
	if devMode && appErr.Err != nil {
		body.Error = appErr.Err.Error()
	}
	return appErr.Kind.HTTPStatus(), body
}

func WriteError(w http.ResponseWriter, err error, devMode bool) {
	status, body := ErrorResponse(err, devMode)
	WriteJSON(w, status, body)
}
