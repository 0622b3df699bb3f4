// Package client содержит HTTP-клиент API kvkeeper.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/maynagashev/kvkeeper/models"
)

// Client определяет интерфейс для взаимодействия с API сервера kvkeeper.
type Client interface {
	// Health проверяет доступность сервера.
	Health(ctx context.Context) error
	// Put записывает документ под ключом key.
	Put(ctx context.Context, key string, value json.RawMessage) (*models.PutResponse, error)
	// Get получает документ по ключу.
	Get(ctx context.Context, key string) (*models.Record, error)
	// List получает список ключей.
	List(ctx context.Context) (*models.ListResponse, error)
	// Delete удаляет ключ.
	Delete(ctx context.Context, key string) error
	// TriggerBackup запускает резервное копирование и ждёт его завершения.
	TriggerBackup(ctx context.Context) (*models.BackupResponse, error)
}

// BackupError описывает неудачный запуск резервного копирования на сервере.
type BackupError struct {
	Kind       string
	Message    string
	StdoutTail string
	StderrTail string
}

func (e *BackupError) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Kind, e.StderrTail)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// httpClient реализует интерфейс Client для взаимодействия с сервером по HTTP.
type httpClient struct {
	baseURL    string       // Базовый URL сервера, например "http://localhost:8000"
	httpClient *http.Client // HTTP клиент для выполнения запросов
}

// NewHTTPClient создает новый экземпляр API клиента.
func NewHTTPClient(baseURL string) Client {
	return NewHTTPClientWith(baseURL, &http.Client{})
}

// NewHTTPClientWith создает клиент поверх заданного http.Client (таймауты, TLS).
func NewHTTPClientWith(baseURL string, hc *http.Client) Client {
	return &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
	}
}

// Health отправляет GET /healthz.
func (c *httpClient) Health(ctx context.Context) error {
	var resp models.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("сервер сообщил статус %q", resp.Status)
	}
	return nil
}

// Put отправляет PUT /kv/{key}.
func (c *httpClient) Put(ctx context.Context, key string, value json.RawMessage) (*models.PutResponse, error) {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(models.PutRequest{Value: value}); err != nil {
		return nil, fmt.Errorf("ошибка кодирования документа: %w", err)
	}

	var resp models.PutResponse
	if err := c.do(ctx, http.MethodPut, keyPath(key), body.Bytes(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get отправляет GET /kv/{key}.
func (c *httpClient) Get(ctx context.Context, key string) (*models.Record, error) {
	var rec models.Record
	if err := c.do(ctx, http.MethodGet, keyPath(key), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List отправляет GET /kv.
func (c *httpClient) List(ctx context.Context) (*models.ListResponse, error) {
	var resp models.ListResponse
	if err := c.do(ctx, http.MethodGet, "/kv", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete отправляет DELETE /kv/{key}.
func (c *httpClient) Delete(ctx context.Context, key string) error {
	var resp models.DeleteResponse
	return c.do(ctx, http.MethodDelete, keyPath(key), nil, &resp)
}

// TriggerBackup отправляет POST /backup. Неудачный запуск возвращается как *BackupError.
func (c *httpClient) TriggerBackup(ctx context.Context) (*models.BackupResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/backup", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса на резервное копирование: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure models.BackupFailure
		if decodeErr := json.NewDecoder(resp.Body).Decode(&failure); decodeErr != nil || failure.Kind == "" {
			return nil, fmt.Errorf("ошибка резервного копирования: статус %d", resp.StatusCode)
		}
		return nil, &BackupError{
			Kind:       failure.Kind,
			Message:    failure.Message,
			StdoutTail: failure.StdoutTail,
			StderrTail: failure.StderrTail,
		}
	}

	var result models.BackupResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ошибка декодирования ответа: %w", err)
	}
	return &result, nil
}

// keyPath экранирует ключ целиком, включая "/".
func keyPath(key string) string {
	return "/kv/" + url.PathEscape(key)
}

func (c *httpClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do выполняет запрос и декодирует успешный ответ в out.
func (c *httpClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка выполнения запроса %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ошибка декодирования ответа: %w", err)
	}
	return nil
}

// statusError переводит код ответа в ошибку, добавляя detail из тела, если он есть.
func statusError(resp *http.Response) error {
	var body models.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusUnprocessableEntity, http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		sentinel = ErrValidation
	default:
		if body.Detail != "" {
			return fmt.Errorf("ошибка сервера: статус %d: %s", resp.StatusCode, body.Detail)
		}
		return fmt.Errorf("ошибка сервера: статус %d", resp.StatusCode)
	}

	if body.Detail != "" {
		return fmt.Errorf("%w: %s", sentinel, body.Detail)
	}
	return sentinel
}

// Кастомные ошибки клиента.
var (
	ErrNotFound   = errors.New("ключ не найден")
	ErrValidation = errors.New("сервер отклонил запрос")
)
