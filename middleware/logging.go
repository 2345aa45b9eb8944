package middleware

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// AccessLog logs one line per request with its status and duration.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		logrus.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      m.Code,
			"duration":    m.Duration.String(),
			"bytes":       m.Written,
			"request_id":  chimiddleware.GetReqID(r.Context()),
			"remote_addr": ClientIP(r),
		}).Info("Request handled")
	})
}
