package models

import "encoding/json"

// Record представляет запись хранилища ключ-значение в том виде, в котором она отдаётся клиенту.
// Value хранится как канонический компактный JSON и возвращается байт в байт.
type Record struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt string          `json:"updated_at"` // UTC, ISO-8601 с микросекундами
}

// RecordSummary описывает запись в списке ключей (без значения).
type RecordSummary struct {
	Key       string `json:"key"`
	UpdatedAt string `json:"updated_at"`
}

// PutRequest представляет тело запроса PUT /kv/{key}.
type PutRequest struct {
	Value json.RawMessage `json:"value"`
}

// PutResponse представляет ответ на успешную запись.
type PutResponse struct {
	Key       string `json:"key"`
	UpdatedAt string `json:"updated_at"`
	Upserted  bool   `json:"upserted"`
}

// ListResponse представляет ответ GET /kv.
type ListResponse struct {
	Count int             `json:"count"`
	Items []RecordSummary `json:"items"`
}

// DeleteResponse представляет ответ DELETE /kv/{key}.
type DeleteResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

// HealthResponse представляет ответ /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// MessageResponse - простой ответ с сообщением (используется /hello).
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse - тело ответа с ошибкой для CRUD-маршрутов.
type ErrorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind,omitempty"`
}
