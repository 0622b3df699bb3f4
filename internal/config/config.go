// Package config собирает конфигурацию сервиса из флагов, переменных окружения и файла .env.
//
// Приоритет: флаг командной строки, затем переменная окружения, затем значение по умолчанию.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Драйверы БД.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Бэкенды удалённого хранилища.
const (
	BackendMinio      = "minio"
	BackendFilesystem = "filesystem"
)

const (
	defaultServerPort   = "8000"
	defaultWriteTimeout = 10 * time.Minute // синхронный бэкап должен успеть завершиться
	defaultLogLevel     = "info"

	defaultDBDriver     = DriverSQLite
	defaultDBPath       = "/data/sqlite.db"
	defaultDataDir      = "/data"
	defaultBackupDir    = "/backups"
	defaultRemoteFolder = "/kvkeeper"
	defaultUploadLimit  = "150MiB"

	defaultStorageBackend = BackendMinio
	defaultMinioEndpoint  = "localhost:9000"
	defaultMinioBucket    = "kvkeeper-backups"
	defaultMinioRegion    = "us-east-1"

	// Переменные окружения.
	envServerPort     = "SERVER_PORT"
	envTLSCertFile    = "TLS_CERT_FILE"
	envTLSKeyFile     = "TLS_KEY_FILE"
	envWriteTimeout   = "SERVER_WRITE_TIMEOUT"
	envLogLevel       = "LOG_LEVEL"
	envTracing        = "TRACING_ENABLED"
	envDBDriver       = "DB_DRIVER"
	envDBPath         = "DB_PATH"
	envDatabaseDSN    = "DATABASE_DSN"
	envDataFolder     = "DATA_FOLDER"
	envBackupFolder   = "BACKUP_FOLDER"
	envRemoteFolder   = "REMOTE_FOLDER"
	envUploadLimit    = "SIMPLE_UPLOAD_LIMIT"
	envStorageBackend = "STORAGE_BACKEND"
	envStorageRoot    = "STORAGE_ROOT"
	envMinioEndpoint  = "MINIO_ENDPOINT"
	envMinioBucket    = "MINIO_BUCKET"
	envMinioRegion    = "MINIO_REGION"
	envMinioUseSSL    = "MINIO_USE_SSL"
	envAppKey         = "STORAGE_APP_KEY"
	envAppSecret      = "STORAGE_APP_SECRET" //nolint:gosec // имя переменной окружения, а не секрет
	envRefreshToken   = "STORAGE_REFRESH_TOKEN"
)

// Config хранит всю конфигурацию процесса. Компоненты получают нужные им части явно.
type Config struct {
	Port           string
	CertFile       string
	KeyFile        string
	WriteTimeout   time.Duration
	LogLevel       string
	TracingEnabled bool

	DB      DBConfig
	Backup  BackupConfig
	Storage StorageConfig
}

// DBConfig описывает подключение к БД хранилища ключ-значение.
type DBConfig struct {
	Driver string // sqlite3 или postgres
	Path   string // путь к файлу SQLite
	DSN    string // строка подключения PostgreSQL
}

// BackupConfig описывает конвейер резервного копирования.
type BackupConfig struct {
	DataDir           string
	BackupDir         string
	RemoteFolder      string
	SimpleUploadLimit int64
}

// StorageConfig описывает удалённое хранилище объектов.
type StorageConfig struct {
	Backend string
	Root    string // корень для бэкенда filesystem
	Minio   MinioConfig
}

// MinioConfig содержит параметры S3-совместимого хранилища.
// Тройка ключ/секрет/токен соответствует учётным данным приложения.
type MinioConfig struct {
	Endpoint     string
	Bucket       string
	Region       string
	UseSSL       bool
	AppKey       string
	AppSecret    string
	RefreshToken string
}

// TLSEnabled сообщает, заданы ли сертификат и ключ.
func (c *Config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Load подгружает .env (если он есть) и разбирает флаги из args.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	// Отсутствие .env не является ошибкой
	_ = godotenv.Load()
	return Parse(fs, args)
}

// Parse регистрирует флаги конфигурации в fs, разбирает args и проверяет результат.
// Значения по умолчанию для флагов берутся из переменных окружения.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	env := &envReader{}
	cfg := &Config{}

	fs.StringVar(&cfg.Port, "port", env.str(envServerPort, defaultServerPort),
		fmt.Sprintf("Порт HTTP-сервера (env: %s)", envServerPort))
	fs.StringVar(&cfg.CertFile, "cert-file", env.str(envTLSCertFile, ""),
		fmt.Sprintf("Путь к файлу TLS-сертификата (env: %s)", envTLSCertFile))
	fs.StringVar(&cfg.KeyFile, "key-file", env.str(envTLSKeyFile, ""),
		fmt.Sprintf("Путь к файлу TLS-ключа (env: %s)", envTLSKeyFile))
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", env.duration(envWriteTimeout, defaultWriteTimeout),
		fmt.Sprintf("Таймаут записи ответа (env: %s)", envWriteTimeout))
	fs.StringVar(&cfg.LogLevel, "log-level", env.str(envLogLevel, defaultLogLevel),
		fmt.Sprintf("Уровень логирования (env: %s)", envLogLevel))
	fs.BoolVar(&cfg.TracingEnabled, "tracing", env.boolean(envTracing, false),
		fmt.Sprintf("Включить трассировку OpenTelemetry (env: %s)", envTracing))

	fs.StringVar(&cfg.DB.Driver, "db-driver", env.str(envDBDriver, defaultDBDriver),
		fmt.Sprintf("Драйвер БД: sqlite3 или postgres (env: %s)", envDBDriver))
	fs.StringVar(&cfg.DB.Path, "db-path", env.str(envDBPath, defaultDBPath),
		fmt.Sprintf("Путь к файлу SQLite (env: %s)", envDBPath))
	fs.StringVar(&cfg.DB.DSN, "database-dsn", env.str(envDatabaseDSN, ""),
		fmt.Sprintf("Строка подключения к PostgreSQL (env: %s)", envDatabaseDSN))

	fs.StringVar(&cfg.Backup.DataDir, "data-dir", env.str(envDataFolder, defaultDataDir),
		fmt.Sprintf("Каталог данных для резервного копирования (env: %s)", envDataFolder))
	fs.StringVar(&cfg.Backup.BackupDir, "backup-dir", env.str(envBackupFolder, defaultBackupDir),
		fmt.Sprintf("Каталог для локальных архивов (env: %s)", envBackupFolder))
	fs.StringVar(&cfg.Backup.RemoteFolder, "remote-folder", env.str(envRemoteFolder, defaultRemoteFolder),
		fmt.Sprintf("Папка в удалённом хранилище (env: %s)", envRemoteFolder))
	cfg.Backup.SimpleUploadLimit = env.size(envUploadLimit, defaultUploadLimit)

	fs.StringVar(&cfg.Storage.Backend, "storage-backend", env.str(envStorageBackend, defaultStorageBackend),
		fmt.Sprintf("Бэкенд удалённого хранилища: minio или filesystem (env: %s)", envStorageBackend))
	fs.StringVar(&cfg.Storage.Root, "storage-root", env.str(envStorageRoot, ""),
		fmt.Sprintf("Корневой каталог бэкенда filesystem (env: %s)", envStorageRoot))
	cfg.Storage.Minio = MinioConfig{
		Endpoint:     env.str(envMinioEndpoint, defaultMinioEndpoint),
		Bucket:       env.str(envMinioBucket, defaultMinioBucket),
		Region:       env.str(envMinioRegion, defaultMinioRegion),
		UseSSL:       env.boolean(envMinioUseSSL, false),
		AppKey:       env.str(envAppKey, ""),
		AppSecret:    env.str(envAppSecret, ""),
		RefreshToken: env.str(envRefreshToken, ""),
	}

	if env.err != nil {
		return nil, env.err
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("ошибка разбора флагов: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("сертификат (--cert-file) и ключ (--key-file) должны задаваться вместе")
	}
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return errors.New("не указан путь к файлу SQLite (--db-path или " + envDBPath + ")")
		}
	case DriverPostgres:
		if c.DB.DSN == "" {
			return errors.New("не указана строка подключения к БД (--database-dsn или " + envDatabaseDSN + ")")
		}
	default:
		return fmt.Errorf("неизвестный драйвер БД: %q", c.DB.Driver)
	}
	if c.Backup.DataDir == "" || c.Backup.BackupDir == "" {
		return errors.New("каталоги данных и архивов должны быть заданы")
	}
	if c.Backup.SimpleUploadLimit <= 0 {
		return errors.New("лимит однократной загрузки должен быть положительным")
	}
	switch c.Storage.Backend {
	case BackendMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return errors.New("для бэкенда minio нужны " + envMinioEndpoint + " и " + envMinioBucket)
		}
	case BackendFilesystem:
		if c.Storage.Root == "" {
			return errors.New("для бэкенда filesystem не указан корень (--storage-root или " + envStorageRoot + ")")
		}
	default:
		return fmt.Errorf("неизвестный бэкенд хранилища: %q", c.Storage.Backend)
	}
	return nil
}

// envReader читает переменные окружения и запоминает первую ошибку разбора.
type envReader struct {
	err error
}

func (e *envReader) str(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func (e *envReader) boolean(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(fmt.Errorf("некорректное значение %s=%q: %w", key, value, err))
		return fallback
	}
	return parsed
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.fail(fmt.Errorf("некорректное значение %s=%q: %w", key, value, err))
		return fallback
	}
	return parsed
}

// size разбирает размеры вида "150MiB" или "1048576".
func (e *envReader) size(key, fallback string) int64 {
	value := e.str(key, fallback)
	parsed, err := humanize.ParseBytes(value)
	if err != nil {
		e.fail(fmt.Errorf("некорректное значение %s=%q: %w", key, value, err))
		return 0
	}
	return int64(parsed) //nolint:gosec // лимит заведомо меньше MaxInt64
}

func (e *envReader) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
