package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/models"
)

// HealthHandler отвечает на проверки доступности.
type HealthHandler struct {
	logger *logrus.Entry
}

// NewHealthHandler создает новый экземпляр HealthHandler.
func NewHealthHandler(logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{logger: logger.WithField("component", "health_handler")}
}

// Healthz сообщает, что процесс жив.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, loggerFor(r, h.logger), http.StatusOK, models.HealthResponse{Status: "ok"})
}

// Hello возвращает приветствие сервиса.
func (h *HealthHandler) Hello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, loggerFor(r, h.logger), http.StatusOK, models.MessageResponse{Message: "hello from kvkeeper"})
}
