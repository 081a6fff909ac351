package middleware

import (
	"net/http"
	"time"

	"github.com/classfeed/internal/logger"
)

// RequestLog логирует каждый HTTP-запрос: method, path, статус и время выполнения (асинхронно).
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		next.ServeHTTP(rw, r)
		if rw.status >= http.StatusBadRequest {
			logger.Errorf("http %s %s -> %d", r.Method, r.URL.Path, rw.status)
		}
		logger.LogDuration("http "+r.Method+" "+r.URL.Path, start)
	})
}
