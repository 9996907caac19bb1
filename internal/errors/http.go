package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"
)

// APIErrorCode is the error code reported in HTTP error bodies.
type APIErrorCode string

const (
	APICodeInvalidRequest APIErrorCode = "INVALID_REQUEST"
	APICodeTableNotFound  APIErrorCode = "TABLE_NOT_FOUND"
	APICodeUpstream       APIErrorCode = "UPSTREAM_ERROR"
	APICodeStore          APIErrorCode = "STORE_UNAVAILABLE"
	APICodeTimeout        APIErrorCode = "TIMEOUT"
	APICodeInternal       APIErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode APIErrorCode           `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Handler writes errors as JSON responses.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleError maps err to a status code and writes the response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := r.Header.Get("X-Request-ID")

	if stderrors.Is(err, context.DeadlineExceeded) {
		h.WriteErrorResponse(w, http.StatusGatewayTimeout, APICodeTimeout, err.Error(), nil, requestID)
		return
	}

	var se *SyncError
	if !stderrors.As(err, &se) {
		h.WriteErrorResponse(w, http.StatusInternalServerError, APICodeInternal, err.Error(), nil, requestID)
		return
	}

	details := se.Details
	if se.Code == ErrCodeTransport {
		// upstream bodies may carry anything
		details = map[string]interface{}{}
		for k, v := range se.Details {
			if k != "body" {
				details[k] = v
			}
		}
	}
	h.WriteErrorResponse(w, se.HTTPStatus(), apiCode(se.Code), se.Error(), details, requestID)
}

func apiCode(code ErrorCode) APIErrorCode {
	switch code {
	case ErrCodeInvalidArgument:
		return APICodeInvalidRequest
	case ErrCodeConfiguration:
		return APICodeTableNotFound
	case ErrCodeTransport:
		return APICodeUpstream
	case ErrCodeStore:
		return APICodeStore
	default:
		return APICodeInternal
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode APIErrorCode, message string, details map[string]interface{}, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	if len(details) == 0 {
		details = nil
	}
	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		Details:   details,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, APICodeInvalidRequest, message, nil, requestID)
}
