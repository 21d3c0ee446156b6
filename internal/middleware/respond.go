package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// ErrorCodeRateLimited is the error code returned with every 429.
const ErrorCodeRateLimited = "rate_limited"

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, message string) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"success":false,"error":"` + ErrorCodeRateLimited + `","message":"` + message + `"}`))
}
