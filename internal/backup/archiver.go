package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/models"
)

const (
	artifactPrefix = "DATA-"
	artifactSuffix = ".tar.gz"
	// Формат метки времени в имени архива: без двоеточий и пробелов.
	artifactTimeLayout = "2006-01-02T15-04-05"
)

// ArtifactName возвращает имя архива для момента t.
func ArtifactName(t time.Time) string {
	return artifactPrefix + t.Format(artifactTimeLayout) + artifactSuffix
}

// Archiver упаковывает каталог данных в tar.gz внутри каталога резервных копий.
type Archiver struct {
	dataDir   string
	backupDir string
	now       func() time.Time
	logger    *logrus.Entry
}

// NewArchiver создает архиватор каталога dataDir.
func NewArchiver(dataDir, backupDir string, logger *logrus.Logger) *Archiver {
	return NewArchiverWithClock(dataDir, backupDir, logger, time.Now)
}

// NewArchiverWithClock создает архиватор с заданными часами (используется в тестах).
func NewArchiverWithClock(dataDir, backupDir string, logger *logrus.Logger, now func() time.Time) *Archiver {
	return &Archiver{
		dataDir:   dataDir,
		backupDir: backupDir,
		now:       now,
		logger: logger.WithFields(logrus.Fields{
			"component":  "archiver",
			"data_dir":   dataDir,
			"backup_dir": backupDir,
		}),
	}
}

// Pack создает архив с корнем "./": распаковка воспроизводит содержимое каталога данных.
// Архив пишется во временный файл и публикуется под своим именем только после закрытия потоков
// tar и gzip. Существующий архив с тем же именем не перезаписывается.
func (a *Archiver) Pack(ctx context.Context) (*models.Artifact, error) {
	capturedAt := a.now()
	filename := ArtifactName(capturedAt)

	root, err := a.resolveDataDir()
	if err != nil {
		return nil, err
	}

	if err = os.MkdirAll(a.backupDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: не удалось создать каталог резервных копий: %w", ErrIO, err)
	}
	backupAbs, err := filepath.Abs(a.backupDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if resolved, evalErr := filepath.EvalSymlinks(backupAbs); evalErr == nil {
		backupAbs = resolved
	}

	tmp, err := os.CreateTemp(backupAbs, filename+".*.partial")
	if err != nil {
		return nil, fmt.Errorf("%w: не удалось создать файл архива: %w", ErrIO, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// Готовый архив доступен по жёсткой ссылке, временное имя удаляется всегда
		_ = os.Remove(tmpName)
	}()

	log := a.logger.WithField("filename", filename)
	log.Info("Упаковка каталога данных...")

	writeErr := a.writeArchive(ctx, tmp, root, backupAbs, tmpName)
	if closeErr := tmp.Close(); writeErr == nil && closeErr != nil {
		writeErr = fmt.Errorf("%w: %w", ErrIO, closeErr)
	}
	if writeErr != nil {
		log.WithError(writeErr).Error("Ошибка упаковки каталога данных")
		return nil, writeErr
	}

	// Link не заменяет существующий файл: архив с тем же именем принадлежит другому запуску
	localPath := filepath.Join(backupAbs, filename)
	if err = os.Link(tmpName, localPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			log.Error("Архив с таким именем уже существует")
			return nil, fmt.Errorf("%w: архив %s уже существует: %w", ErrIO, filename, err)
		}
		return nil, fmt.Errorf("%w: не удалось сохранить архив: %w", ErrIO, err)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	log.WithField("size", humanize.IBytes(uint64(info.Size()))).Info("Архив создан") //nolint:gosec // размер файла неотрицателен

	return &models.Artifact{
		LocalPath:  localPath,
		Filename:   filename,
		SizeBytes:  info.Size(),
		CapturedAt: capturedAt,
	}, nil
}

// resolveDataDir проверяет, что каталог данных существует, и раскрывает символические ссылки.
func (a *Archiver) resolveDataDir() (string, error) {
	root, err := filepath.Abs(a.dataDir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIO, err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("%w: каталог данных недоступен: %w", ErrIO, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("%w: каталог данных недоступен: %w", ErrIO, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s не является каталогом", ErrIO, a.dataDir)
	}
	return root, nil
}

func (a *Archiver) writeArchive(ctx context.Context, w io.Writer, root, backupAbs, skipFile string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == skipFile {
			return nil
		}
		// Каталог резервных копий внутри каталога данных не архивируется
		if d.IsDir() && p == backupAbs && p != root {
			return filepath.SkipDir
		}
		return addEntry(tw, root, p, d)
	})
	if walkErr != nil {
		_ = tw.Close()
		_ = gz.Close()
		return fmt.Errorf("%w: %w", ErrIO, walkErr)
	}

	if err := tw.Close(); err != nil {
		_ = gz.Close()
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// addEntry записывает в архив каталог, обычный файл или символическую ссылку.
// Остальные типы файлов пропускаются.
func addEntry(tw *tar.Writer, root, p string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	switch mode := info.Mode(); {
	case mode.IsDir(), mode.IsRegular():
	case mode&fs.ModeSymlink != 0:
		if link, err = os.Readlink(p); err != nil {
			return err
		}
	default:
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name, err = entryName(root, p, info.IsDir())
	if err != nil {
		return err
	}

	if err = tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()

	// Копируется ровно заявленный в заголовке размер, даже если файл растёт во время упаковки
	if _, err = io.CopyN(tw, f, hdr.Size); err != nil {
		return fmt.Errorf("ошибка чтения %s: %w", p, err)
	}
	return nil
}

func entryName(root, p string, isDir bool) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "./", nil
	}
	name := "./" + filepath.ToSlash(rel)
	if isDir && !strings.HasSuffix(name, "/") {
		name += "/"
	}
	return name, nil
}
