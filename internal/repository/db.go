package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // Драйвер PostgreSQL, импортируем для регистрации
	_ "github.com/mattn/go-sqlite3" // Драйвер SQLite, импортируем для регистрации
	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/config"
)

const (
	maxOpenConns    = 25              // Максимальное количество открытых соединений
	maxIdleConns    = 25              // Максимальное количество простаивающих соединений
	connMaxLifetime = 5 * time.Minute // Максимальное время жизни соединения
	connMaxIdleTime = 5 * time.Minute // Максимальное время простоя соединения

	// SQLite допускает одного писателя, поэтому держим одно соединение.
	sqliteMaxOpenConns = 1
	sqliteParams       = "_busy_timeout=5000&_journal_mode=WAL"

	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// NewDB создает и возвращает новое подключение к БД указанного драйвера.
func NewDB(driver, dsn string, logger *logrus.Logger) (*sqlx.DB, error) {
	log := logger.WithField("driver", driver)
	log.Info("Подключение к БД...")

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
	}

	// Проверка соединения
	if err = db.Ping(); err != nil {
		// Закрываем соединение в случае ошибки пинга
		if closeErr := db.Close(); closeErr != nil {
			log.WithError(closeErr).Error("Ошибка закрытия соединения с БД после неудачного пинга")
		}
		return nil, fmt.Errorf("ошибка проверки соединения с БД (ping): %w", err)
	}

	// Настройка пула соединений
	if driver == driverSQLite {
		db.SetMaxOpenConns(sqliteMaxOpenConns)
		db.SetMaxIdleConns(sqliteMaxOpenConns)
	} else {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
		db.SetConnMaxIdleTime(connMaxIdleTime)
	}

	log.Info("Подключение к БД успешно установлено.")
	return db, nil
}

// Open подключается к БД, описанной в конфигурации.
func Open(cfg config.DBConfig, logger *logrus.Logger) (*sqlx.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		dsn, err := SQLiteDSN(cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewDB(driverSQLite, dsn, logger)
	case config.DriverPostgres:
		return NewDB(driverPostgres, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("неизвестный драйвер БД: %q", cfg.Driver)
	}
}

// SQLiteDSN готовит каталог для файла БД и возвращает строку подключения SQLite.
func SQLiteDSN(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("ошибка создания каталога для файла БД '%s': %w", path, err)
	}
	return path + "?" + sqliteParams, nil
}
