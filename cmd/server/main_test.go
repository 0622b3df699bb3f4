package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/kvkeeper/internal/config"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	return &config.Config{
		Port: "0",
		DB: config.DBConfig{
			Driver: config.DriverSQLite,
			Path:   filepath.Join(dataDir, "sqlite.db"),
		},
		Backup: config.BackupConfig{
			DataDir:           dataDir,
			BackupDir:         filepath.Join(t.TempDir(), "backups"),
			RemoteFolder:      "/kvkeeper",
			SimpleUploadLimit: 1 << 20,
		},
		Storage: config.StorageConfig{
			Backend: config.BackendFilesystem,
			Root:    t.TempDir(),
		},
	}
}

// Вспомогательная функция для проверки наличия маршрута.
func hasRoute(r chi.Router, method, pattern string) bool {
	found := false
	// Ошибка от chi.Walk используется только для прерывания обхода
	_ = chi.Walk(r, func(m, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if m == method && route == pattern {
			found = true
			return errors.New("found")
		}
		return nil
	})
	return found
}

func TestSetupDependencies(t *testing.T) {
	originalOpenDB := openDB
	t.Cleanup(func() { openDB = originalOpenDB })

	t.Run("Успешная инициализация с SQLite и файловым хранилищем", func(t *testing.T) {
		openDB = originalOpenDB
		deps, err := setupDependencies(context.Background(), newTestConfig(t), newTestLogger(), prometheus.NewRegistry())
		require.NoError(t, err)
		t.Cleanup(func() { _ = deps.db.Close() })

		assert.NotNil(t, deps.kvService)
		assert.NotNil(t, deps.pipeline)
		assert.NotNil(t, deps.kvHandler)
		assert.NotNil(t, deps.backupHandler)
		assert.NotNil(t, deps.healthHandler)
	})

	t.Run("Ошибка подключения к БД", func(t *testing.T) {
		openDB = func(config.DBConfig, *logrus.Logger) (*sqlx.DB, error) {
			return nil, errors.New("нет соединения")
		}
		_, err := setupDependencies(context.Background(), newTestConfig(t), newTestLogger(), prometheus.NewRegistry())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ошибка инициализации БД")
	})

	t.Run("Неизвестный бэкенд хранилища", func(t *testing.T) {
		openDB = originalOpenDB
		cfg := newTestConfig(t)
		cfg.Storage.Backend = "dropbox"

		_, err := setupDependencies(context.Background(), cfg, newTestLogger(), prometheus.NewRegistry())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ошибка инициализации удалённого хранилища")
	})

	t.Run("Повторная регистрация метрик", func(t *testing.T) {
		openDB = originalOpenDB
		reg := prometheus.NewRegistry()
		deps, err := setupDependencies(context.Background(), newTestConfig(t), newTestLogger(), reg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = deps.db.Close() })

		_, err = setupDependencies(context.Background(), newTestConfig(t), newTestLogger(), reg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "метрик")
	})
}

func TestSetupRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	deps, err := setupDependencies(context.Background(), newTestConfig(t), newTestLogger(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.db.Close() })

	r := setupRouter(deps, newTestLogger(), reg)
	require.NotNil(t, r)

	t.Run("Маршруты зарегистрированы", func(t *testing.T) {
		assert.True(t, hasRoute(r, http.MethodGet, "/healthz"))
		assert.True(t, hasRoute(r, http.MethodGet, "/hello"))
		assert.True(t, hasRoute(r, http.MethodGet, "/metrics"))
		assert.True(t, hasRoute(r, http.MethodGet, "/kv"))
		assert.True(t, hasRoute(r, http.MethodPut, "/kv/{key}"))
		assert.True(t, hasRoute(r, http.MethodGet, "/kv/{key}"))
		assert.True(t, hasRoute(r, http.MethodDelete, "/kv/{key}"))
		assert.True(t, hasRoute(r, http.MethodPost, "/backup"))
	})

	t.Run("Запись и чтение через роутер", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/kv/alpha", strings.NewReader(`{"value":{"n":1}}`)))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		rr = httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/kv/alpha", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"n":1`)
	})

	t.Run("Метрики резервного копирования отдаются", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "kvkeeper_backup_artifact_bytes")
	})

	t.Run("Резервное копирование через роутер", func(t *testing.T) {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/backup", nil))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Contains(t, rr.Body.String(), "/kvkeeper/DATA-")
	})
}

func TestServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	err := serve(ctx, server, &config.Config{}, newTestLogger())
	require.NoError(t, err)
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	err := run(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ошибка конфигурации")
}
