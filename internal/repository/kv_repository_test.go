package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/kvkeeper/internal/models"
	"github.com/maynagashev/kvkeeper/internal/repository"
)

// Вспомогательная функция для создания мока БД и репозитория.
func setupKVRepoMock(t *testing.T, driver string) (repository.KVRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.NewKVRepository(sqlx.NewDb(db, driver), newTestLogger()), mock
}

// Вспомогательная функция для создания репозитория поверх настоящего файла SQLite.
func setupSQLiteRepo(t *testing.T) repository.KVRepository {
	t.Helper()
	dsn, err := repository.SQLiteDSN(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	db, err := repository.NewDB("sqlite3", dsn, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.NewKVRepository(db, newTestLogger())
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func TestKVRepository_Upsert(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expected    string
		expectedErr bool
	}{
		{
			name: "Успешная запись",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"updated_at"}).AddRow("2025-01-01T00:00:00.000000+00:00")
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO kv (k, v, updated_at) VALUES (?, ?, ?)`)).
					WithArgs("a", `{"x":1}`, "2025-01-01T00:00:00.000000+00:00").
					WillReturnRows(rows)
			},
			expected: "2025-01-01T00:00:00.000000+00:00",
		},
		{
			name: "Ошибка базы данных",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO kv`)).
					WillReturnError(errors.New("disk I/O error"))
			},
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := setupKVRepoMock(t, "sqlite3")
			tt.mockSetup(mock)

			stored, err := repo.Upsert(context.Background(), "a", `{"x":1}`, "2025-01-01T00:00:00.000000+00:00")

			if tt.expectedErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "ошибка выполнения запроса")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, stored)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "Не все ожидания мока были выполнены")
		})
	}
}

func TestKVRepository_Get(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectedRow *models.KVRow
		expectedErr error
	}{
		{
			name: "Успешный поиск",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"k", "v", "updated_at"}).AddRow("a", `[1,2]`, "t1")
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT k, v, updated_at FROM kv WHERE k = ?`)).
					WithArgs("a").WillReturnRows(rows)
			},
			expectedRow: &models.KVRow{Key: "a", Value: `[1,2]`, UpdatedAt: "t1"},
		},
		{
			name: "Ключ не найден",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT k, v, updated_at FROM kv`)).
					WithArgs("a").WillReturnError(sql.ErrNoRows)
			},
			expectedErr: repository.ErrRecordNotFound,
		},
		{
			name: "Ошибка базы данных",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT k, v, updated_at FROM kv`)).
					WithArgs("a").WillReturnError(errors.New("connection failed"))
			},
			expectedErr: errors.New("ошибка выполнения запроса"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := setupKVRepoMock(t, "sqlite3")
			tt.mockSetup(mock)

			row, err := repo.Get(context.Background(), "a")

			switch {
			case tt.expectedErr == nil:
				require.NoError(t, err)
				assert.Equal(t, tt.expectedRow, row)
			case errors.Is(tt.expectedErr, repository.ErrRecordNotFound):
				require.ErrorIs(t, err, repository.ErrRecordNotFound)
				assert.Nil(t, row)
			default:
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErr.Error())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestKVRepository_List(t *testing.T) {
	t.Run("SQLite сортирует по ключу", func(t *testing.T) {
		repo, mock := setupKVRepoMock(t, "sqlite3")
		rows := sqlmock.NewRows([]string{"k", "updated_at"}).AddRow("a", "t1").AddRow("b", "t2")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT k, updated_at FROM kv ORDER BY k`)).WillReturnRows(rows)

		items, err := repo.List(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []models.KVSummaryRow{{Key: "a", UpdatedAt: "t1"}, {Key: "b", UpdatedAt: "t2"}}, items)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PostgreSQL использует побайтовую сортировку", func(t *testing.T) {
		repo, mock := setupKVRepoMock(t, "postgres")
		mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY k COLLATE "C"`)).
			WillReturnRows(sqlmock.NewRows([]string{"k", "updated_at"}))

		items, err := repo.List(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Ошибка базы данных", func(t *testing.T) {
		repo, mock := setupKVRepoMock(t, "sqlite3")
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT k, updated_at FROM kv`)).WillReturnError(errors.New("boom"))

		_, err := repo.List(context.Background())
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestKVRepository_Delete(t *testing.T) {
	t.Run("Удаление существующего ключа", func(t *testing.T) {
		repo, mock := setupKVRepoMock(t, "sqlite3")
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv WHERE k = ?`)).
			WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Delete(context.Background(), "a"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Ключ не найден", func(t *testing.T) {
		repo, mock := setupKVRepoMock(t, "sqlite3")
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv`)).
			WithArgs("a").WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Delete(context.Background(), "a")
		require.ErrorIs(t, err, repository.ErrRecordNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestKVRepository_Checkpoint(t *testing.T) {
	t.Run("SQLite выполняет контрольную точку", func(t *testing.T) {
		repo, mock := setupKVRepoMock(t, "sqlite3")
		mock.ExpectExec(regexp.QuoteMeta(`PRAGMA wal_checkpoint(TRUNCATE)`)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, repo.Checkpoint(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PostgreSQL ничего не делает", func(t *testing.T) {
		repo, mock := setupKVRepoMock(t, "postgres")

		require.NoError(t, repo.Checkpoint(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestKVRepository_SQLite(t *testing.T) {
	ctx := context.Background()

	t.Run("Повторная запись заменяет значение", func(t *testing.T) {
		repo := setupSQLiteRepo(t)

		_, err := repo.Upsert(ctx, "k", `{"a":1}`, "2025-01-01T00:00:00.000000+00:00")
		require.NoError(t, err)
		stored, err := repo.Upsert(ctx, "k", `{"a":2}`, "2025-01-01T00:00:01.000000+00:00")
		require.NoError(t, err)
		assert.Equal(t, "2025-01-01T00:00:01.000000+00:00", stored)

		row, err := repo.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, `{"a":2}`, row.Value)
		assert.Equal(t, stored, row.UpdatedAt)
	})

	t.Run("Метка времени не уменьшается", func(t *testing.T) {
		repo := setupSQLiteRepo(t)

		_, err := repo.Upsert(ctx, "k", `1`, "2025-01-01T00:00:05.000000+00:00")
		require.NoError(t, err)
		stored, err := repo.Upsert(ctx, "k", `2`, "2025-01-01T00:00:01.000000+00:00")
		require.NoError(t, err)
		assert.Equal(t, "2025-01-01T00:00:05.000000+00:00", stored)

		row, err := repo.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, `2`, row.Value, "значение всё равно заменяется последним писателем")
	})

	t.Run("Список упорядочен по ключу", func(t *testing.T) {
		repo := setupSQLiteRepo(t)

		items, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, items)

		_, err = repo.Upsert(ctx, "b", `"x"`, "t")
		require.NoError(t, err)
		_, err = repo.Upsert(ctx, "a", `"y"`, "t")
		require.NoError(t, err)

		items, err = repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "a", items[0].Key)
		assert.Equal(t, "b", items[1].Key)
	})

	t.Run("Удаление", func(t *testing.T) {
		repo := setupSQLiteRepo(t)

		require.ErrorIs(t, repo.Delete(ctx, "k"), repository.ErrRecordNotFound)

		_, err := repo.Upsert(ctx, "k", `null`, "t")
		require.NoError(t, err)
		require.NoError(t, repo.Delete(ctx, "k"))

		_, err = repo.Get(ctx, "k")
		require.ErrorIs(t, err, repository.ErrRecordNotFound)
	})

	t.Run("Контрольная точка и повторное создание схемы", func(t *testing.T) {
		repo := setupSQLiteRepo(t)

		require.NoError(t, repo.EnsureSchema(ctx))
		require.NoError(t, repo.Checkpoint(ctx))
	})
}
