package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/services"
	"github.com/maynagashev/kvkeeper/models"
)

// MaxBodyBytes - максимальный размер тела запроса PUT.
const MaxBodyBytes = 8 << 20

const putRequestSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["value"]
}`

// KVHandler обрабатывает HTTP-запросы к хранилищу ключ-значение.
type KVHandler struct {
	kvService services.KVService
	schema    *jsonschema.Schema
	logger    *logrus.Entry
}

// NewKVHandler создает новый экземпляр KVHandler.
func NewKVHandler(kvs services.KVService, logger *logrus.Logger) (*KVHandler, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inmemory://put-request", bytes.NewReader([]byte(putRequestSchema))); err != nil {
		return nil, fmt.Errorf("ошибка загрузки схемы запроса: %w", err)
	}
	schema, err := compiler.Compile("inmemory://put-request")
	if err != nil {
		return nil, fmt.Errorf("ошибка компиляции схемы запроса: %w", err)
	}

	return &KVHandler{
		kvService: kvs,
		schema:    schema,
		logger:    logger.WithField("component", "kv_handler"),
	}, nil
}

// Put обрабатывает PUT /kv/{key}: вставка или полная замена документа.
func (h *KVHandler) Put(w http.ResponseWriter, r *http.Request) {
	log := loggerFor(r, h.logger)

	key, err := keyParam(r)
	if err != nil {
		writeError(w, log, http.StatusUnprocessableEntity, kindValidation, err.Error())
		return
	}
	log = log.WithField("key", key)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, log, http.StatusRequestEntityTooLarge, kindTooLarge,
				fmt.Sprintf("тело запроса больше %d байт", maxErr.Limit))
			return
		}
		log.WithError(err).Warn("Не удалось прочитать тело запроса")
		writeError(w, log, http.StatusBadRequest, kindValidation, "не удалось прочитать тело запроса")
		return
	}

	req, err := h.decodePut(body)
	if err != nil {
		log.WithError(err).Info("Некорректное тело запроса")
		writeError(w, log, http.StatusUnprocessableEntity, kindValidation, err.Error())
		return
	}

	resp, err := h.kvService.Put(r.Context(), key, req.Value)
	if err != nil {
		h.writeServiceError(w, log, err)
		return
	}
	writeJSON(w, log, http.StatusOK, resp)
}

// Get обрабатывает GET /kv/{key}.
func (h *KVHandler) Get(w http.ResponseWriter, r *http.Request) {
	log := loggerFor(r, h.logger)

	key, err := keyParam(r)
	if err != nil {
		writeError(w, log, http.StatusUnprocessableEntity, kindValidation, err.Error())
		return
	}

	rec, err := h.kvService.Get(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, log.WithField("key", key), err)
		return
	}
	writeJSON(w, log, http.StatusOK, rec)
}

// List обрабатывает GET /kv: все ключи в лексикографическом порядке.
func (h *KVHandler) List(w http.ResponseWriter, r *http.Request) {
	log := loggerFor(r, h.logger)

	items, err := h.kvService.List(r.Context())
	if err != nil {
		h.writeServiceError(w, log, err)
		return
	}
	writeJSON(w, log, http.StatusOK, models.ListResponse{Count: len(items), Items: items})
}

// Delete обрабатывает DELETE /kv/{key}.
func (h *KVHandler) Delete(w http.ResponseWriter, r *http.Request) {
	log := loggerFor(r, h.logger)

	key, err := keyParam(r)
	if err != nil {
		writeError(w, log, http.StatusUnprocessableEntity, kindValidation, err.Error())
		return
	}

	if err = h.kvService.Delete(r.Context(), key); err != nil {
		h.writeServiceError(w, log.WithField("key", key), err)
		return
	}
	writeJSON(w, log, http.StatusOK, models.DeleteResponse{Key: key, Deleted: true})
}

// decodePut проверяет тело по схеме и извлекает документ без потери точности.
func (h *KVHandler) decodePut(body []byte) (*models.PutRequest, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("тело запроса не является корректным JSON: %w", err)
	}
	if err := h.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("тело запроса не соответствует схеме: %w", err)
	}

	var req models.PutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("тело запроса не является корректным JSON: %w", err)
	}
	return &req, nil
}

func (h *KVHandler) writeServiceError(w http.ResponseWriter, log *logrus.Entry, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, log, http.StatusNotFound, kindNotFound, services.ErrNotFound.Error())
	case errors.Is(err, services.ErrValidation):
		writeError(w, log, http.StatusUnprocessableEntity, kindValidation, err.Error())
	default:
		log.WithError(err).Error("Внутренняя ошибка сервиса")
		writeError(w, log, http.StatusInternalServerError, kindInternal, "внутренняя ошибка сервера")
	}
}

// keyParam извлекает ключ из маршрута. Если путь пришёл в экранированном виде (например, %2F),
// chi отдаёт параметр без декодирования.
func keyParam(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, nil
	}
	decoded, err := url.PathUnescape(key)
	if err != nil {
		return "", fmt.Errorf("%w: некорректное экранирование ключа", services.ErrValidation)
	}
	return decoded, nil
}
