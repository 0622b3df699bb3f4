// Package storage содержит бэкенды удалённого хранилища объектов для загрузки резервных копий.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/config"
)

// ObjectStorage определяет интерфейс для взаимодействия с объектным хранилищем.
// UploadFile - однократная загрузка: объект либо полностью заменяется, либо остаётся прежним.
type ObjectStorage interface {
	UploadFile(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// New создает бэкенд, выбранный в конфигурации.
func New(cfg config.StorageConfig, logger *logrus.Logger) (ObjectStorage, error) {
	switch cfg.Backend {
	case config.BackendMinio:
		return NewMinioClient(MinioConfig{
			Endpoint:        cfg.Minio.Endpoint,
			AccessKeyID:     cfg.Minio.AppKey,
			SecretAccessKey: cfg.Minio.AppSecret,
			SessionToken:    cfg.Minio.RefreshToken,
			UseSSL:          cfg.Minio.UseSSL,
			BucketName:      cfg.Minio.Bucket,
			Region:          cfg.Minio.Region,
		}, logger)
	case config.BackendFilesystem:
		return NewFileSystem(cfg.Root, logger)
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", cfg.Backend)
	}
}

// normalizeKey убирает ведущие слэши: удалённые пути вида "/folder/file" и ключи объектов
// вида "folder/file" обозначают один и тот же объект.
func normalizeKey(objectKey string) string {
	return strings.TrimLeft(strings.TrimSpace(objectKey), "/")
}

// Кастомные ошибки хранилища.
var (
	ErrObjectNotFound = errors.New("объект не найден в хранилище")
	ErrUnauthorized   = errors.New("хранилище отклонило учётные данные")
	ErrInvalidKey     = errors.New("некорректный ключ объекта")
)
