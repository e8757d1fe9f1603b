package response

import (
	"encoding/json"
	"net/http"
	"time"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/sirupsen/logrus"
)

type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorResponse struct {
	Success   bool      `json:"success"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the logger used for encoding failures and request logs.
func SetLogger(l logrus.FieldLogger) {
	if l != nil {
		logger = l
	}
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	response := Response{
		Success:   statusCode >= 200 && statusCode < 300,
		Data:      data,
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.WithError(err).Error("Error encoding JSON response")
	}
}

// Success sends a successful JSON response
func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Created sends a created JSON response
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// Error sends an error JSON response
func Error(w http.ResponseWriter, statusCode int, message string, err error) {
	writeError(w, statusCode, "", message, err)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string, err error) {
	response := ErrorResponse{
		Success:   false,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}

	if err != nil {
		response.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		logger.WithError(encodeErr).Error("Error encoding error response")
	}
}

// FromError sends err with the HTTP status matching its business error code.
func FromError(w http.ResponseWriter, err error) {
	code := customError.CodeOf(err)
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("code", code).Error("request failed")
	}
	writeError(w, status, code, http.StatusText(status), err)
}

// StatusFor maps a business error to an HTTP status code.
func StatusFor(err error) int {
	if customError.IsFatal(err) {
		return http.StatusInternalServerError
	}

	switch customError.CodeOf(err) {
	case customError.ErrCodeValidation,
		customError.ErrCodeCurrencyMismatch,
		customError.ErrCodeDateMismatch,
		customError.ErrCodeLinkedAccountRequired,
		customError.ErrCodeInsufficientCollateral,
		customError.ErrCodeTopupOutstandingExceedsAmount:
		return http.StatusBadRequest
	case customError.ErrCodeLoanNotFound,
		customError.ErrCodeTransactionNotFound,
		customError.ErrCodeChargeNotFound:
		return http.StatusNotFound
	case customError.ErrCodeInvalidStateTransition,
		customError.ErrCodeLoanNotActive,
		customError.ErrCodeAlreadyPaidOrWaived,
		customError.ErrCodeAlreadyClosedWrittenOff,
		customError.ErrCodeDataIntegrityConflict:
		return http.StatusConflict
	case customError.ErrCodeCollaboratorError:
		return http.StatusBadGateway
	case customError.ErrCodeCacheError, customError.ErrCodeDatabaseError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// BadRequest sends a 400 bad request response
func BadRequest(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusBadRequest, message, err)
}

// NotFound sends a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message, nil)
}

// InternalServerError sends a 500 internal server error response
func InternalServerError(w http.ResponseWriter, message string, err error) {
	Error(w, http.StatusInternalServerError, message, err)
}

// ServiceUnavailable sends a 503 response
func ServiceUnavailable(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusServiceUnavailable, data)
}

// JSONMiddleware sets JSON content type for all responses
func JSONMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds CORS headers
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response recorder to capture the status code
		recorder := &responseRecorder{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(recorder, r)

		logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   recorder.statusCode,
			"duration": time.Since(start).String(),
		}).Info("http request")
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *responseRecorder) WriteHeader(statusCode int) {
	rec.statusCode = statusCode
	rec.ResponseWriter.WriteHeader(statusCode)
}
