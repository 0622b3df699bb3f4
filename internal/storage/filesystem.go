package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// FileSystem хранит объекты в локальном каталоге (например, смонтированном сетевом диске).
// Ключ объекта отображается на путь относительно корня.
type FileSystem struct {
	logger *logrus.Entry
	root   string
}

// NewFileSystem создает бэкенд с корнем rootDir, создавая каталог при необходимости.
func NewFileSystem(rootDir string, logger *logrus.Logger) (*FileSystem, error) {
	log := logger.WithFields(logrus.Fields{"component": "filesystem", "root_dir": rootDir})
	log.Info("Инициализация файлового хранилища")

	if err := os.MkdirAll(rootDir, 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания корневого каталога хранилища: %w", err)
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка определения пути корневого каталога: %w", err)
	}

	return &FileSystem{logger: log, root: abs}, nil
}

// resolve превращает ключ объекта в путь внутри корня. Выход за пределы корня невозможен.
func (fs *FileSystem) resolve(objectKey string) (string, error) {
	rel := normalizeKey(path.Clean("/" + normalizeKey(objectKey)))
	if rel == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, objectKey)
	}
	return filepath.Join(fs.root, filepath.FromSlash(rel)), nil
}

// UploadFile записывает объект во временный файл рядом с целевым и атомарно переименовывает его.
// При любой ошибке прежний объект остаётся нетронутым.
func (fs *FileSystem) UploadFile(
	ctx context.Context,
	objectKey string,
	reader io.Reader,
	size int64,
	_ string,
) error {
	target, err := fs.resolve(objectKey)
	if err != nil {
		return err
	}
	logger := fs.logger.WithContext(ctx).WithField("object_key", objectKey)

	if err = os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		logger.WithError(err).Error("Не удалось создать каталог объекта")
		return fmt.Errorf("ошибка создания каталога объекта: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		logger.WithError(err).Error("Не удалось создать временный файл")
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// После успешного переименования файла уже нет, ошибка игнорируется
		_ = os.Remove(tmpName)
	}()

	written, err := io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		logger.WithError(err).Error("Ошибка записи объекта")
		return fmt.Errorf("ошибка записи объекта: %w", err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("записано %d байт вместо %d", written, size)
	}

	if err = os.Rename(tmpName, target); err != nil {
		logger.WithError(err).Error("Ошибка публикации объекта")
		return fmt.Errorf("ошибка публикации объекта: %w", err)
	}

	logger.WithField("size", written).Info("Объект сохранён")
	return nil
}

// DownloadFile открывает объект на чтение.
func (fs *FileSystem) DownloadFile(_ context.Context, objectKey string) (io.ReadCloser, error) {
	target, err := fs.resolve(objectKey)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("ошибка открытия объекта: %w", err)
	}
	return f, nil
}
