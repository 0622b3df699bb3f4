package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Тип для ключа контекста.
type contextKey string

// Ключ для хранения логгера запроса в контексте.
const LoggerKey contextKey = "logger"

// RequestLogger кладёт в контекст запись логгера с полями запроса и пишет итог обработки.
// request_id берётся из chi middleware.RequestID, если он подключён раньше.
func RequestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := logger.WithContext(r.Context()).WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				entry = entry.WithField("request_id", reqID)
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ctx := context.WithValue(r.Context(), LoggerKey, entry)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := logrus.Fields{
				"status":   status,
				"bytes":    ww.BytesWritten(),
				"duration": time.Since(start).String(),
			}
			if status >= http.StatusInternalServerError {
				entry.WithFields(fields).Warn("Запрос завершился ошибкой")
				return
			}
			entry.WithFields(fields).Info("Запрос обработан")
		})
	}
}

// LoggerFromContext извлекает логгер запроса из контекста.
// Возвращает запись логгера и true, если она найдена, иначе nil и false.
func LoggerFromContext(ctx context.Context) (*logrus.Entry, bool) {
	entry, ok := ctx.Value(LoggerKey).(*logrus.Entry)
	return entry, ok
}
