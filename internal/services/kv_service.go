package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/repository"
	"github.com/maynagashev/kvkeeper/models"
)

const (
	// TimestampLayout - ISO-8601 с фиксированной точностью до микросекунд и явным смещением.
	// Фиксированная ширина позволяет сравнивать метки как строки.
	TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

	maxKeyLength = 512
)

// KVService определяет интерфейс сервиса хранилища ключ-значение.
type KVService interface {
	Put(ctx context.Context, key string, value json.RawMessage) (*models.PutResponse, error)
	Get(ctx context.Context, key string) (*models.Record, error)
	List(ctx context.Context) ([]models.RecordSummary, error)
	Delete(ctx context.Context, key string) error
	Checkpoint(ctx context.Context) error
}

var _ KVService = (*kvService)(nil) // Проверка соответствия интерфейсу

type kvService struct {
	repo   repository.KVRepository
	now    func() time.Time
	logger *logrus.Entry
}

// NewKVService создает новый экземпляр сервиса ключ-значение.
func NewKVService(repo repository.KVRepository, logger *logrus.Logger) KVService {
	return NewKVServiceWithClock(repo, logger, time.Now)
}

// NewKVServiceWithClock создает сервис с заданными часами (используется в тестах).
func NewKVServiceWithClock(repo repository.KVRepository, logger *logrus.Logger, now func() time.Time) KVService {
	return &kvService{
		repo:   repo,
		now:    now,
		logger: logger.WithField("component", "kv_service"),
	}
}

// Put атомарно вставляет или заменяет документ под ключом key.
func (s *kvService) Put(ctx context.Context, key string, value json.RawMessage) (*models.PutResponse, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	canonical, err := canonicalize(value)
	if err != nil {
		return nil, err
	}

	updatedAt, err := s.repo.Upsert(ctx, key, canonical, s.now().UTC().Format(TimestampLayout))
	if err != nil {
		s.logger.WithField("key", key).WithError(err).Error("Ошибка репозитория при записи ключа")
		return nil, fmt.Errorf("внутренняя ошибка при записи ключа: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"key": key, "updated_at": updatedAt}).Info("Ключ записан")
	return &models.PutResponse{Key: key, UpdatedAt: updatedAt, Upserted: true}, nil
}

// Get возвращает документ и метку времени для ключа.
func (s *kvService) Get(ctx context.Context, key string) (*models.Record, error) {
	row, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		s.logger.WithField("key", key).WithError(err).Error("Ошибка репозитория при чтении ключа")
		return nil, fmt.Errorf("внутренняя ошибка при чтении ключа: %w", err)
	}

	return &models.Record{
		Key:       row.Key,
		Value:     json.RawMessage(row.Value),
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// List возвращает ключи в лексикографическом порядке. Пустой список не является ошибкой.
func (s *kvService) List(ctx context.Context) ([]models.RecordSummary, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка репозитория при получении списка ключей")
		return nil, fmt.Errorf("внутренняя ошибка при получении списка ключей: %w", err)
	}

	items := make([]models.RecordSummary, 0, len(rows))
	for _, row := range rows {
		items = append(items, models.RecordSummary{Key: row.Key, UpdatedAt: row.UpdatedAt})
	}
	return items, nil
}

// Delete удаляет запись. Отсутствующий ключ - ErrNotFound.
func (s *kvService) Delete(ctx context.Context, key string) error {
	if err := s.repo.Delete(ctx, key); err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return ErrNotFound
		}
		s.logger.WithField("key", key).WithError(err).Error("Ошибка репозитория при удалении ключа")
		return fmt.Errorf("внутренняя ошибка при удалении ключа: %w", err)
	}

	s.logger.WithField("key", key).Info("Ключ удалён")
	return nil
}

// Checkpoint сбрасывает журнал БД на диск перед снимком каталога данных.
func (s *kvService) Checkpoint(ctx context.Context) error {
	return s.repo.Checkpoint(ctx)
}

func validateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: пустой ключ", ErrValidation)
	case len(key) > maxKeyLength:
		return fmt.Errorf("%w: ключ длиннее %d байт", ErrValidation, maxKeyLength)
	case !utf8.ValidString(key):
		return fmt.Errorf("%w: ключ не является корректной строкой UTF-8", ErrValidation)
	}
	return nil
}

// canonicalize приводит документ к компактному JSON без изменения порядка ключей и записи чисел.
func canonicalize(value json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(value)) == 0 {
		return "", fmt.Errorf("%w: значение отсутствует", ErrValidation)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return "", fmt.Errorf("%w: значение не является корректным JSON: %w", ErrValidation, err)
	}
	return buf.String(), nil
}

// Кастомные ошибки сервиса.
var (
	ErrNotFound   = errors.New("ключ не найден")
	ErrValidation = errors.New("некорректный запрос")
)
