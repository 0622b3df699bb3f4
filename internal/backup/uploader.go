package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/models"
	"github.com/maynagashev/kvkeeper/internal/storage"
)

// SimpleUploadLimit - максимальный размер файла для однократной загрузки (150 MiB).
const SimpleUploadLimit int64 = 150 * 1024 * 1024

// Uploader загружает локальный файл в удалённое хранилище одним запросом.
type Uploader struct {
	storage storage.ObjectStorage
	limit   int64
	logger  *logrus.Entry
}

// NewUploader создает загрузчик. Неположительный limit означает SimpleUploadLimit.
func NewUploader(store storage.ObjectStorage, limit int64, logger *logrus.Logger) *Uploader {
	if limit <= 0 {
		limit = SimpleUploadLimit
	}
	return &Uploader{
		storage: store,
		limit:   limit,
		logger:  logger.WithField("component", "uploader"),
	}
}

// Upload загружает localPath в remotePath с перезаписью существующего объекта.
// Файлы больше лимита отклоняются с ErrTooLarge без обращения к хранилищу.
func (u *Uploader) Upload(ctx context.Context, localPath, remotePath string) (*models.RemoteObject, error) {
	log := u.logger.WithFields(logrus.Fields{"local_path": localPath, "remote_path": remotePath})

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: не удалось открыть файл: %w", ErrIO, err)
	}
	defer f.Close()

	// Размер берётся у открытого файла, чтобы он совпадал с передаваемым потоком
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: не удалось прочитать файл: %w", ErrIO, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s не является обычным файлом", ErrIO, localPath)
	}

	size := info.Size()
	if size > u.limit {
		log.WithField("size", size).Warn("Файл превышает лимит однократной загрузки")
		return nil, fmt.Errorf("%w (%s > %s)", ErrTooLarge,
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(u.limit))) //nolint:gosec // оба значения положительны
	}

	// Поток ограничен размером из Stat: дописанные позже байты не уходят в хранилище
	body := io.LimitReader(f, size)

	if err = u.storage.UploadFile(ctx, remotePath, body, size, contentTypeFor(localPath)); err != nil {
		log.WithError(err).Error("Ошибка загрузки в хранилище")
		if errors.Is(err, storage.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %w", ErrAuth, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransfer, err)
	}

	log.WithField("size", humanize.IBytes(uint64(size))).Info("Файл загружен") //nolint:gosec // размер файла неотрицателен
	return &models.RemoteObject{RemotePath: remotePath, SizeBytes: size}, nil
}

func contentTypeFor(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return "application/gzip"
	}
	return "application/octet-stream"
}
