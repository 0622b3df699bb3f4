package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// Коды ошибок S3, означающие проблему с учётными данными.
var minioAuthErrorCodes = map[string]struct{}{
	"AccessDenied":          {},
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"ExpiredToken":          {},
	"InvalidToken":          {},
}

// MinioClient реализует ObjectStorage для MinIO и других S3-совместимых хранилищ.
type MinioClient struct {
	client         *minio.Client
	bucketName     string
	region         string
	hasCredentials bool
	logger         *logrus.Entry

	bucketOnce sync.Once
	bucketErr  error
}

// MinioConfig содержит параметры для подключения к MinIO.
type MinioConfig struct {
	Endpoint        string // Адрес MinIO (например, "localhost:9000")
	AccessKeyID     string // Ключ приложения
	SecretAccessKey string // Секрет приложения
	SessionToken    string // Токен сессии (необязателен)
	UseSSL          bool   // Использовать SSL (обычно false для локальной разработки)
	BucketName      string // Имя бакета для хранения архивов
	Region          string // Регион; если задан, клиент не запрашивает расположение бакета
}

// NewMinioClient создает новый клиент MinIO.
// Соединение не проверяется: бакет создаётся лениво при первой загрузке.
func NewMinioClient(cfg MinioConfig, logger *logrus.Logger) (*MinioClient, error) {
	log := logger.WithFields(logrus.Fields{"component": "minio", "endpoint": cfg.Endpoint, "bucket": cfg.BucketName})
	log.Info("Инициализация клиента MinIO...")

	if cfg.BucketName == "" {
		return nil, errors.New("не указано имя бакета MinIO")
	}

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}

	return &MinioClient{
		client:         minioClient,
		bucketName:     cfg.BucketName,
		region:         cfg.Region,
		hasCredentials: cfg.AccessKeyID != "" && cfg.SecretAccessKey != "",
		logger:         log,
	}, nil
}

// ensureBucket проверяет существование бакета и создаёт его при необходимости (один раз).
func (c *MinioClient) ensureBucket(ctx context.Context) error {
	c.bucketOnce.Do(func() {
		exists, err := c.client.BucketExists(ctx, c.bucketName)
		if err != nil {
			c.bucketErr = fmt.Errorf("ошибка проверки существования бакета '%s': %w", c.bucketName, classifyMinioError(err))
			return
		}
		if exists {
			return
		}
		c.logger.Info("Бакет не найден, попытка создания...")
		err = c.client.MakeBucket(ctx, c.bucketName, minio.MakeBucketOptions{Region: c.region})
		if err != nil {
			c.bucketErr = fmt.Errorf("ошибка создания бакета '%s': %w", c.bucketName, classifyMinioError(err))
			return
		}
		c.logger.Info("Бакет успешно создан.")
	})
	return c.bucketErr
}

// UploadFile загружает файл в MinIO одним запросом PUT, перезаписывая существующий объект.
func (c *MinioClient) UploadFile(
	ctx context.Context,
	objectKey string,
	reader io.Reader,
	size int64,
	contentType string,
) error {
	key := normalizeKey(objectKey)
	if key == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, objectKey)
	}
	if !c.hasCredentials {
		return fmt.Errorf("%w: не заданы ключ и секрет приложения", ErrUnauthorized)
	}
	log := c.logger.WithField("object_key", key)

	if err := c.ensureBucket(ctx); err != nil {
		log.WithError(err).Error("Бакет недоступен")
		return err
	}

	log.WithField("size", humanize.IBytes(uint64(max(size, 0)))).Info("Загрузка файла...") //nolint:gosec // size >= 0

	// Один запрос PUT на весь объект независимо от размера
	opts := minio.PutObjectOptions{ContentType: contentType, DisableMultipart: true}

	uploadInfo, err := c.client.PutObject(ctx, c.bucketName, key, reader, size, opts)
	if err != nil {
		log.WithError(err).Error("Ошибка загрузки файла")
		return fmt.Errorf("ошибка загрузки файла в MinIO: %w", classifyMinioError(err))
	}

	log.WithFields(logrus.Fields{"size": uploadInfo.Size, "etag": uploadInfo.ETag}).Info("Файл успешно загружен")
	return nil
}

// DownloadFile скачивает файл из MinIO.
// Возвращает io.ReadCloser, который нужно закрыть после использования.
func (c *MinioClient) DownloadFile(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	key := normalizeKey(objectKey)
	log := c.logger.WithField("object_key", key)

	object, err := c.client.GetObject(ctx, c.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		log.WithError(err).Error("Ошибка получения файла")
		return nil, fmt.Errorf("ошибка получения файла из MinIO: %w", classifyMinioError(err))
	}

	// GetObject ленивый: ошибки вида NoSuchKey проявляются при первом обращении
	if _, err = object.Stat(); err != nil {
		_ = object.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			log.Warn("Файл не найден в бакете")
			return nil, ErrObjectNotFound
		}
		log.WithError(err).Error("Ошибка получения метаданных файла")
		return nil, fmt.Errorf("ошибка получения метаданных из MinIO: %w", classifyMinioError(err))
	}

	return object, nil
}

// classifyMinioError помечает ошибки учётных данных как ErrUnauthorized.
func classifyMinioError(err error) error {
	resp := minio.ToErrorResponse(err)
	if _, ok := minioAuthErrorCodes[resp.Code]; ok ||
		resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return err
}
