package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/kvkeeper/internal/models"
	"github.com/maynagashev/kvkeeper/internal/repository"
	"github.com/maynagashev/kvkeeper/internal/services"
)

// MockKVRepository - мок репозитория ключ-значение.
type MockKVRepository struct {
	mock.Mock
}

func (m *MockKVRepository) EnsureSchema(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockKVRepository) Upsert(ctx context.Context, key, value, updatedAt string) (string, error) {
	args := m.Called(ctx, key, value, updatedAt)
	return args.String(0), args.Error(1)
}

func (m *MockKVRepository) Get(ctx context.Context, key string) (*models.KVRow, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.KVRow), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockKVRepository) List(ctx context.Context) ([]models.KVSummaryRow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.KVSummaryRow), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockKVRepository) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockKVRepository) Checkpoint(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestKVService_Put(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 4, 5, 6, 7, 8, 123456789, time.FixedZone("MSK", 3*60*60))
	expectedTS := "2025-04-05T03:07:08.123456+00:00"

	t.Run("Успех, документ приводится к компактному виду", func(t *testing.T) {
		repo := new(MockKVRepository)
		svc := services.NewKVServiceWithClock(repo, newTestLogger(), fixedClock(now))
		repo.On("Upsert", ctx, "k", `{"b":1,"a":[true,null]}`, expectedTS).Return(expectedTS, nil)

		resp, err := svc.Put(ctx, "k", json.RawMessage("{ \"b\": 1,\n \"a\": [true, null] }"))
		require.NoError(t, err)
		assert.Equal(t, "k", resp.Key)
		assert.Equal(t, expectedTS, resp.UpdatedAt)
		assert.True(t, resp.Upserted)
		repo.AssertExpectations(t)
	})

	t.Run("Возвращается сохранённая метка времени", func(t *testing.T) {
		repo := new(MockKVRepository)
		svc := services.NewKVServiceWithClock(repo, newTestLogger(), fixedClock(now))
		repo.On("Upsert", ctx, "k", `1`, expectedTS).Return("2030-01-01T00:00:00.000000+00:00", nil)

		resp, err := svc.Put(ctx, "k", json.RawMessage(`1`))
		require.NoError(t, err)
		assert.Equal(t, "2030-01-01T00:00:00.000000+00:00", resp.UpdatedAt)
	})

	validationCases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "Пустой ключ", key: "", value: `1`},
		{name: "Слишком длинный ключ", key: strings.Repeat("k", 513), value: `1`},
		{name: "Некорректный UTF-8 в ключе", key: "\xff\xfe", value: `1`},
		{name: "Пустое значение", key: "k", value: ``},
		{name: "Некорректный JSON", key: "k", value: `{"a":`},
	}
	for _, tc := range validationCases {
		t.Run(tc.name, func(t *testing.T) {
			repo := new(MockKVRepository)
			svc := services.NewKVServiceWithClock(repo, newTestLogger(), fixedClock(now))

			_, err := svc.Put(ctx, tc.key, json.RawMessage(tc.value))
			require.ErrorIs(t, err, services.ErrValidation)
			repo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("Ошибка репозитория", func(t *testing.T) {
		repo := new(MockKVRepository)
		svc := services.NewKVServiceWithClock(repo, newTestLogger(), fixedClock(now))
		repo.On("Upsert", ctx, "k", `1`, expectedTS).Return("", errors.New("db down"))

		_, err := svc.Put(ctx, "k", json.RawMessage(`1`))
		require.Error(t, err)
		assert.NotErrorIs(t, err, services.ErrValidation)
	})
}

func TestKVService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("Успех", func(t *testing.T) {
		repo := new(MockKVRepository)
		svc := services.NewKVService(repo, newTestLogger())
		repo.On("Get", ctx, "k").Return(&models.KVRow{Key: "k", Value: `{"a":1}`, UpdatedAt: "ts"}, nil)

		rec, err := svc.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "k", rec.Key)
		assert.JSONEq(t, `{"a":1}`, string(rec.Value))
		assert.Equal(t, "ts", rec.UpdatedAt)
	})

	t.Run("Ключ не найден", func(t *testing.T) {
		repo := new(MockKVRepository)
		svc := services.NewKVService(repo, newTestLogger())
		repo.On("Get", ctx, "k").Return(nil, repository.ErrRecordNotFound)

		_, err := svc.Get(ctx, "k")
		require.ErrorIs(t, err, services.ErrNotFound)
	})

	t.Run("Ошибка репозитория", func(t *testing.T) {
		repo := new(MockKVRepository)
		svc := services.NewKVService(repo, newTestLogger())
		repo.On("Get", ctx, "k").Return(nil, errors.New("db down"))

		_, err := svc.Get(ctx, "k")
		require.Error(t, err)
		assert.NotErrorIs(t, err, services.ErrNotFound)
	})
}

func TestKVService_ListAndDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("Пустой список не nil", func(t *testing.T) {
		repo := new(MockKVRepository)
		svc := services.NewKVService(repo, newTestLogger())
		repo.On("List", ctx).Return([]models.KVSummaryRow{}, nil)

		items, err := svc.List(ctx)
		require.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})

	t.Run("Удаление отсутствующего ключа", func(t *testing.T) {
		repo := new(MockKVRepository)
		svc := services.NewKVService(repo, newTestLogger())
		repo.On("Delete", ctx, "k").Return(repository.ErrRecordNotFound)

		require.ErrorIs(t, svc.Delete(ctx, "k"), services.ErrNotFound)
	})

	t.Run("Контрольная точка делегируется репозиторию", func(t *testing.T) {
		repo := new(MockKVRepository)
		svc := services.NewKVService(repo, newTestLogger())
		repo.On("Checkpoint", ctx).Return(nil).Once()

		require.NoError(t, svc.Checkpoint(ctx))
		repo.AssertExpectations(t)
	})
}

// Свойства хранилища проверяются на настоящем файле SQLite.
func newSQLiteService(t *testing.T, now func() time.Time) services.KVService {
	t.Helper()
	dsn, err := repository.SQLiteDSN(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	db, err := repository.NewDB("sqlite3", dsn, newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.NewKVRepository(db, newTestLogger())
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return services.NewKVServiceWithClock(repo, newTestLogger(), now)
}

func TestKVService_SQLiteProperties(t *testing.T) {
	ctx := context.Background()

	t.Run("Последняя запись побеждает, значение возвращается без потерь", func(t *testing.T) {
		svc := newSQLiteService(t, time.Now)
		docs := []string{
			`{"nested":{"list":[1,2.50,{"deep":[null,true,false]}],"s":"привет \"мир\""},"big":12345678901234567890}`,
			`[1e400,-0.0000000000000000001,"",{}]`,
			`"просто строка"`,
			`null`,
			`false`,
			`3.14159265358979323846264338327950288`,
		}

		for i := range docs {
			_, err := svc.Put(ctx, "k", json.RawMessage(docs[i]))
			require.NoError(t, err)
			rec, err := svc.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, docs[i], string(rec.Value))
		}
	})

	t.Run("Метка времени не уменьшается, если часы ушли назад", func(t *testing.T) {
		current := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		svc := newSQLiteService(t, func() time.Time { return current })

		first, err := svc.Put(ctx, "k", json.RawMessage(`1`))
		require.NoError(t, err)

		current = current.Add(-time.Hour)
		second, err := svc.Put(ctx, "k", json.RawMessage(`2`))
		require.NoError(t, err)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

		rec, err := svc.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, `2`, string(rec.Value))
		assert.Equal(t, first.UpdatedAt, rec.UpdatedAt)
	})

	t.Run("Список, удаление и повторное чтение", func(t *testing.T) {
		svc := newSQLiteService(t, time.Now)

		_, err := svc.Put(ctx, "b", json.RawMessage(`"x"`))
		require.NoError(t, err)
		_, err = svc.Put(ctx, "a", json.RawMessage(`"y"`))
		require.NoError(t, err)

		items, err := svc.List(ctx)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, []string{"a", "b"}, []string{items[0].Key, items[1].Key})

		require.NoError(t, svc.Delete(ctx, "a"))
		_, err = svc.Get(ctx, "a")
		require.ErrorIs(t, err, services.ErrNotFound)
		require.ErrorIs(t, svc.Delete(ctx, "a"), services.ErrNotFound)

		_, err = svc.Get(ctx, "never-written")
		require.ErrorIs(t, err, services.ErrNotFound)
	})
}
