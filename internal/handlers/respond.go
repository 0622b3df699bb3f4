package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/middleware"
	"github.com/maynagashev/kvkeeper/models"
)

// Виды ошибок в теле ответа.
const (
	kindValidation = "validation_error"
	kindNotFound   = "not_found"
	kindTooLarge   = "payload_too_large"
	kindInternal   = "internal_error"
)

// loggerFor возвращает логгер запроса из контекста или fallback.
func loggerFor(r *http.Request, fallback *logrus.Entry) *logrus.Entry {
	if entry, ok := middleware.LoggerFromContext(r.Context()); ok {
		return entry
	}
	return fallback.WithContext(r.Context())
}

func writeJSON(w http.ResponseWriter, log *logrus.Entry, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	// Документы отдаются байт в байт, без замены <, > и & на \u-последовательности
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		log.WithError(err).Error("Ошибка кодирования ответа")
	}
}

func writeError(w http.ResponseWriter, log *logrus.Entry, status int, kind, detail string) {
	writeJSON(w, log, status, models.ErrorResponse{Detail: detail, Kind: kind})
}
