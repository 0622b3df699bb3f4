// Команда backup выполняет одно резервное копирование каталога данных
// или загружает в удалённое хранилище отдельный файл.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/backup"
	"github.com/maynagashev/kvkeeper/internal/config"
	"github.com/maynagashev/kvkeeper/internal/metrics"
	"github.com/maynagashev/kvkeeper/internal/repository"
	"github.com/maynagashev/kvkeeper/internal/storage"
)

const lockFileName = ".backup.lock"

// uploadFlags описывает режим загрузки одного файла.
type uploadFlags struct {
	sourceFilename      string
	sourceFolder        string
	destinationFilename string
	destinationFolder   string
}

func (u uploadFlags) enabled() bool {
	return u.sourceFilename != "" || u.sourceFolder != "" || u.destinationFilename != "" || u.destinationFolder != ""
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		logrus.WithError(err).WithField("kind", backup.KindOf(err)).Error("Резервное копирование завершилось ошибкой")
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	var (
		upload     uploadFlags
		useLock    bool
		checkpoint bool
	)
	fs.StringVar(&upload.sourceFilename, "source-filename", "", "Имя загружаемого файла")
	fs.StringVar(&upload.sourceFolder, "source-folder", "", "Каталог с загружаемым файлом")
	fs.StringVar(&upload.destinationFilename, "destination-filename", "", "Имя файла в удалённом хранилище")
	fs.StringVar(&upload.destinationFolder, "destination-folder", "", "Папка в удалённом хранилище")
	fs.BoolVar(&useLock, "lock", true, "Не запускать резервное копирование параллельно с другим запуском")
	fs.BoolVar(&checkpoint, "checkpoint", true, "Сбросить журнал SQLite на диск перед упаковкой")

	cfg, err := config.Load(fs, args)
	if err != nil {
		return fmt.Errorf("ошибка конфигурации: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации удалённого хранилища: %w", err)
	}

	if upload.enabled() {
		return uploadOne(ctx, upload, cfg, store, logger, stdout)
	}

	if useLock {
		unlock, lockErr := acquireLock(cfg.Backup.BackupDir, logger)
		if lockErr != nil {
			return lockErr
		}
		defer unlock()
	}

	var snapshotter backup.Snapshotter
	if checkpoint {
		snapshotter = &dbSnapshotter{cfg: cfg.DB, logger: logger}
	}

	pipeline := backup.NewPipelineFromConfig(cfg.Backup, store, snapshotter, metrics.Noop{}, logger)
	result, runErr := pipeline.Run(ctx)
	for _, line := range result.Transcript {
		fmt.Fprintln(stdout, line)
	}
	return runErr
}

// uploadOne загружает source-folder/source-filename в destination-folder/destination-filename.
// Папка назначения по умолчанию совпадает с папкой резервных копий.
func uploadOne(
	ctx context.Context,
	u uploadFlags,
	cfg *config.Config,
	store storage.ObjectStorage,
	logger *logrus.Logger,
	stdout io.Writer,
) error {
	if u.sourceFilename == "" || u.sourceFolder == "" || u.destinationFilename == "" {
		return ErrUploadFlags
	}
	folder := u.destinationFolder
	if folder == "" {
		folder = cfg.Backup.RemoteFolder
	}

	uploader := backup.NewUploader(store, cfg.Backup.SimpleUploadLimit, logger)
	obj, err := uploader.Upload(ctx,
		filepath.Join(u.sourceFolder, u.sourceFilename),
		path.Join(folder, u.destinationFilename))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Файл загружен: %s\n", obj.RemotePath)
	return nil
}

// acquireLock берёт эксклюзивную блокировку в каталоге резервных копий.
func acquireLock(backupDir string, logger *logrus.Logger) (func(), error) {
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: не удалось создать каталог резервных копий: %w", backup.ErrIO, err)
	}
	lockPath := filepath.Join(backupDir, lockFileName)
	log := logger.WithField("lock_path", lockPath)

	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка блокировки %s: %w", backup.ErrIO, lockPath, err)
	}
	if !locked {
		return nil, ErrLocked
	}
	log.Debug("Блокировка получена")

	return func() {
		if unlockErr := fileLock.Unlock(); unlockErr != nil {
			log.WithError(unlockErr).Error("Ошибка при снятии блокировки")
		}
	}, nil
}

// dbSnapshotter открывает БД только на время контрольной точки.
type dbSnapshotter struct {
	cfg    config.DBConfig
	logger *logrus.Logger
}

func (s *dbSnapshotter) Checkpoint(ctx context.Context) error {
	if s.cfg.Driver == config.DriverSQLite {
		// Не создаём пустую БД там, где её ещё нет
		if _, err := os.Stat(s.cfg.Path); errors.Is(err, os.ErrNotExist) {
			s.logger.WithField("db_path", s.cfg.Path).Info("Файл БД не найден, контрольная точка пропущена")
			return nil
		}
	}

	db, err := repository.Open(s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return repository.NewKVRepository(db, s.logger).Checkpoint(ctx)
}

// Кастомные ошибки команды.
var (
	ErrLocked      = errors.New("резервное копирование уже выполняется")
	ErrUploadFlags = errors.New("для загрузки файла нужны -source-filename, -source-folder и -destination-filename")
)
