package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/maynagashev/kvkeeper/internal/backup"
	"github.com/maynagashev/kvkeeper/internal/config"
	"github.com/maynagashev/kvkeeper/internal/handlers"
	"github.com/maynagashev/kvkeeper/internal/metrics"
	appmiddleware "github.com/maynagashev/kvkeeper/internal/middleware"
	"github.com/maynagashev/kvkeeper/internal/repository"
	"github.com/maynagashev/kvkeeper/internal/services"
	"github.com/maynagashev/kvkeeper/internal/storage"
)

const (
	appName = "kvkeeper"

	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	tracerShutdownTimeout  = 3 * time.Second
)

// openDB вынесена в переменную для подмены в тестах.
var openDB = repository.Open

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	db            *sqlx.DB
	kvService     services.KVService
	pipeline      *backup.Pipeline
	healthHandler *handlers.HealthHandler
	kvHandler     *handlers.KVHandler
	backupHandler *handlers.BackupHandler
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(os.Args[1:]); err != nil {
		logrus.WithError(err).Error("Ошибка выполнения сервера")
		os.Exit(1)
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run(args []string) error {
	cfg, err := config.Load(flag.NewFlagSet(appName, flag.ContinueOnError), args)
	if err != nil {
		return fmt.Errorf("ошибка конфигурации: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	logger.AddHook(&appmiddleware.TraceHook{})
	logger.Info("Запуск сервера kvkeeper...")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := initTracer(cfg.TracingEnabled)
	if err != nil {
		return err
	}
	defer func() {
		tctx, tcancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer tcancel()
		if shutdownErr := shutdownTracer(tctx); shutdownErr != nil {
			logger.WithError(shutdownErr).Error("Ошибка остановки трассировки")
		}
	}()

	deps, err := setupDependencies(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer func() {
		if closeErr := deps.db.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Ошибка закрытия соединения с БД")
		}
	}()

	router := setupRouter(deps, logger, prometheus.DefaultGatherer)
	handler, err := appmiddleware.InstrumentWithMetrics(prometheus.DefaultRegisterer, otelhttp.NewHandler(router, appName))
	if err != nil {
		return fmt.Errorf("ошибка регистрации метрик HTTP: %w", err)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
	return serve(ctx, server, cfg, logger)
}

// serve запускает сервер (с TLS, если он настроен) и останавливает его по отмене ctx.
func serve(ctx context.Context, server *http.Server, cfg *config.Config, logger *logrus.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log := logger.WithField("addr", server.Addr)
		var err error
		if cfg.TLSEnabled() {
			log.WithFields(logrus.Fields{"cert": cfg.CertFile, "key": cfg.KeyFile}).Info("Запуск HTTPS-сервера...")
			err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			log.Info("Запуск HTTP-сервера...")
			err = server.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка запуска сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Получен сигнал остановки, завершаем работу...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	return nil
}

// setupDependencies инициализирует и возвращает все необходимые зависимости сервера.
func setupDependencies(
	ctx context.Context,
	cfg *config.Config,
	logger *logrus.Logger,
	reg prometheus.Registerer,
) (*dependencies, error) {
	deps := &dependencies{}
	var err error

	// 1. Подключение к БД и схема
	deps.db, err = openDB(cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации БД: %w", err)
	}
	closeDB := func() {
		if closeErr := deps.db.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Ошибка закрытия соединения с БД")
		}
	}

	kvRepo := repository.NewKVRepository(deps.db, logger)
	if err = kvRepo.EnsureSchema(ctx); err != nil {
		closeDB()
		return nil, fmt.Errorf("ошибка создания схемы БД: %w", err)
	}
	deps.kvService = services.NewKVService(kvRepo, logger)

	// 2. Удалённое хранилище
	objectStorage, err := storage.New(cfg.Storage, logger)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("ошибка инициализации удалённого хранилища: %w", err)
	}

	// 3. Конвейер резервного копирования
	backupMetrics, err := metrics.NewProm(reg)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("ошибка регистрации метрик резервного копирования: %w", err)
	}
	deps.pipeline = backup.NewPipelineFromConfig(cfg.Backup, objectStorage, deps.kvService, backupMetrics, logger)

	// 4. Обработчики
	deps.kvHandler, err = handlers.NewKVHandler(deps.kvService, logger)
	if err != nil {
		closeDB()
		return nil, err
	}
	deps.healthHandler = handlers.NewHealthHandler(logger)
	deps.backupHandler = handlers.NewBackupHandler(deps.pipeline, logger)

	return deps, nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(deps *dependencies, logger *logrus.Logger, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	// --- Маршруты --- //
	r.Get("/healthz", deps.healthHandler.Healthz)
	r.Get("/hello", deps.healthHandler.Hello)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/kv", deps.kvHandler.List)
	r.Put("/kv/{key}", deps.kvHandler.Put)
	r.Get("/kv/{key}", deps.kvHandler.Get)
	r.Delete("/kv/{key}", deps.kvHandler.Delete)
	r.Post("/backup", deps.backupHandler.Trigger)

	return r
}

// initTracer регистрирует провайдер трассировки. Без флага tracing спаны отбрасываются.
func initTracer(enabled bool) (func(context.Context) error, error) {
	exp, err := appmiddleware.NewSTDOUTExporter(!enabled)
	if err != nil {
		return nil, err
	}
	tp, err := appmiddleware.RegisterTraceProvider(appName, exp)
	if err != nil {
		return nil, err
	}
	return tp.Shutdown, nil
}
