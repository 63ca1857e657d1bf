package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/mapvision/authority"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeResult answers with the Result and the status its code maps to.
func writeResult(w http.ResponseWriter, res authority.Result) {
	if res.Code == authority.CodeRateLimit && res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
	}
	writeJSON(w, statusFor(res), toResultBody(res))
}

// writeData answers a successful read.
func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

func writeError(w http.ResponseWriter, err error) {
	writeResult(w, authority.ResultOf(err))
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, resultBody{
		Message: msg,
		Code:    authority.CodeValidation,
	})
}

func statusFor(res authority.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case authority.CodeValidation, authority.CodeSamePassword, authority.CodeCannotDisableSelf:
		return http.StatusBadRequest
	case authority.CodeInvalidCredentials, authority.CodeInvalidCurrentPassword:
		return http.StatusUnauthorized
	case authority.CodeInvalidToken:
		return http.StatusBadRequest
	case authority.CodeUserBlocked:
		return http.StatusLocked
	case authority.CodeAccountDisabled, authority.CodeEmailNotVerified, authority.CodePermissionDenied:
		return http.StatusForbidden
	case authority.CodeEmailExists:
		return http.StatusConflict
	case authority.CodeRateLimit:
		return http.StatusTooManyRequests
	case authority.CodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		badRequest(w, "request body must contain a single JSON value")
		return false
	}
	return true
}
