package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"secret.share/internal/common"
)

type ErrorResponse struct {
	Error   string     `json:"error"`
	Code    string     `json:"code"`
	ResetAt *time.Time `json:"resetAt,omitempty"`
}

var kindStatus = map[common.Kind]int{
	common.KindNotFound:        http.StatusNotFound,
	common.KindUnauthorized:    http.StatusUnauthorized,
	common.KindForbidden:       http.StatusForbidden,
	common.KindConflict:        http.StatusConflict,
	common.KindTooManyRequests: http.StatusTooManyRequests,
	common.KindBadRequest:      http.StatusBadRequest,
}

// fail maps a service error onto the response. Unclassified errors are
// logged and reported as a bare internal error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var rl *common.RateLimitError
	if errors.As(err, &rl) {
		writeRateLimited(w, rl)
		return
	}

	kind := common.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		h.log.Error(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", string(common.KindInternal))
		return
	}
	writeError(w, status, err.Error(), string(kind))
}

func writeRateLimited(w http.ResponseWriter, rl *common.RateLimitError) {
	retry := int(math.Ceil(time.Until(rl.ResetAt).Seconds()))
	if retry < 1 {
		retry = 1
	}
	resetAt := rl.ResetAt.UTC()

	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:   "too many requests",
		Code:    string(common.KindTooManyRequests),
		ResetAt: &resetAt,
	})
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
