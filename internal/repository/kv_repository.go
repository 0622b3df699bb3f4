package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/models"
)

// Запросы пишутся с плейсхолдерами "?" и переписываются под драйвер через Rebind.
const (
	createTableQuery = `CREATE TABLE IF NOT EXISTS kv (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

	// updated_at не уменьшается: если часы ушли назад, остаётся прежняя метка.
	upsertQuery = `INSERT INTO kv (k, v, updated_at) VALUES (?, ?, ?)
ON CONFLICT (k) DO UPDATE SET
	v = excluded.v,
	updated_at = CASE WHEN excluded.updated_at > kv.updated_at THEN excluded.updated_at ELSE kv.updated_at END
RETURNING updated_at`

	getQuery          = `SELECT k, v, updated_at FROM kv WHERE k = ?`
	listQuery         = `SELECT k, updated_at FROM kv ORDER BY k`
	listQueryPostgres = `SELECT k, updated_at FROM kv ORDER BY k COLLATE "C"` // побайтовый порядок как в SQLite
	deleteQuery       = `DELETE FROM kv WHERE k = ?`
	checkpointQuery   = `PRAGMA wal_checkpoint(TRUNCATE)`
)

// KVRepository определяет методы для работы с таблицей kv.
type KVRepository interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, key, value, updatedAt string) (string, error)
	Get(ctx context.Context, key string) (*models.KVRow, error)
	List(ctx context.Context) ([]models.KVSummaryRow, error)
	Delete(ctx context.Context, key string) error
	Checkpoint(ctx context.Context) error
}

// sqlKVRepository реализует KVRepository поверх sqlx (SQLite или PostgreSQL).
type sqlKVRepository struct {
	db     *sqlx.DB
	logger *logrus.Entry
}

// NewKVRepository создает новый экземпляр репозитория ключ-значение.
func NewKVRepository(db *sqlx.DB, logger *logrus.Logger) KVRepository {
	return &sqlKVRepository{
		db:     db,
		logger: logger.WithField("component", "kv_repository"),
	}
}

// EnsureSchema создает таблицу kv, если её ещё нет.
func (r *sqlKVRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTableQuery); err != nil {
		r.logger.WithError(err).Error("Ошибка создания таблицы kv")
		return fmt.Errorf("ошибка создания таблицы kv: %w", err)
	}
	return nil
}

// Upsert атомарно вставляет или заменяет запись одним запросом.
// Возвращает значение updated_at, которое фактически сохранено.
func (r *sqlKVRepository) Upsert(ctx context.Context, key, value, updatedAt string) (string, error) {
	var stored string
	err := r.db.QueryRowxContext(ctx, r.db.Rebind(upsertQuery), key, value, updatedAt).Scan(&stored)
	if err != nil {
		r.logger.WithField("key", key).WithError(err).Error("Ошибка записи ключа")
		return "", fmt.Errorf("ошибка выполнения запроса на запись ключа: %w", err)
	}

	r.logger.WithField("key", key).Debug("Ключ записан")
	return stored, nil
}

// Get находит запись по ключу.
// Возвращает запись или ошибку (включая ErrRecordNotFound).
func (r *sqlKVRepository) Get(ctx context.Context, key string) (*models.KVRow, error) {
	var row models.KVRow

	err := r.db.GetContext(ctx, &row, r.db.Rebind(getQuery), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.WithField("key", key).Debug("Ключ не найден")
			return nil, ErrRecordNotFound
		}
		r.logger.WithField("key", key).WithError(err).Error("Ошибка при чтении ключа")
		return nil, fmt.Errorf("ошибка выполнения запроса на чтение ключа: %w", err)
	}

	return &row, nil
}

// List возвращает все ключи с метками времени, упорядоченные по ключу.
func (r *sqlKVRepository) List(ctx context.Context) ([]models.KVSummaryRow, error) {
	query := listQuery
	if r.db.DriverName() == driverPostgres {
		query = listQueryPostgres
	}

	rows := make([]models.KVSummaryRow, 0)
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		r.logger.WithError(err).Error("Ошибка при получении списка ключей")
		return nil, fmt.Errorf("ошибка выполнения запроса на получение списка ключей: %w", err)
	}

	r.logger.WithField("count", len(rows)).Debug("Получен список ключей")
	return rows, nil
}

// Delete удаляет ровно одну запись. Если записи не было, возвращает ErrRecordNotFound.
func (r *sqlKVRepository) Delete(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(deleteQuery), key)
	if err != nil {
		r.logger.WithField("key", key).WithError(err).Error("Ошибка удаления ключа")
		return fmt.Errorf("ошибка выполнения запроса на удаление ключа: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества удалённых строк: %w", err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}

	r.logger.WithField("key", key).Debug("Ключ удалён")
	return nil
}

// Checkpoint переносит журнал WAL в основной файл SQLite перед архивацией каталога данных.
// Для PostgreSQL ничего не делает: его файлы не лежат в каталоге данных сервиса.
func (r *sqlKVRepository) Checkpoint(ctx context.Context) error {
	if r.db.DriverName() != driverSQLite {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, checkpointQuery); err != nil {
		r.logger.WithError(err).Error("Ошибка контрольной точки WAL")
		return fmt.Errorf("ошибка контрольной точки WAL: %w", err)
	}
	return nil
}

// Кастомная ошибка репозитория.
var (
	ErrRecordNotFound = errors.New("запись не найдена")
)
