package backup

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/metrics"
	"github.com/maynagashev/kvkeeper/internal/models"
)

// Packer создает локальный архив каталога данных.
type Packer interface {
	Pack(ctx context.Context) (*models.Artifact, error)
}

// ArtifactUploader отправляет локальный файл в удалённое хранилище.
type ArtifactUploader interface {
	Upload(ctx context.Context, localPath, remotePath string) (*models.RemoteObject, error)
}

// Snapshotter приводит файлы хранилища в согласованное состояние перед упаковкой.
type Snapshotter interface {
	Checkpoint(ctx context.Context) error
}

// PipelineConfig содержит зависимости конвейера. Snapshotter и Metrics необязательны.
type PipelineConfig struct {
	Packer       Packer
	Uploader     ArtifactUploader
	Snapshotter  Snapshotter
	RemoteFolder string
	Metrics      metrics.BackupMetrics
	Logger       *logrus.Logger
}

// Pipeline выполняет резервное копирование: упаковка, затем загрузка.
type Pipeline struct {
	packer       Packer
	uploader     ArtifactUploader
	snapshotter  Snapshotter
	remoteFolder string
	metrics      metrics.BackupMetrics
	logger       *logrus.Entry
}

// Result описывает один запуск конвейера.
type Result struct {
	RunID      string
	RemotePath string
	Artifact   *models.Artifact
	Transcript []string
}

// LastLine возвращает последнюю строку журнала запуска.
func (r *Result) LastLine() string {
	if r == nil || len(r.Transcript) == 0 {
		return ""
	}
	return r.Transcript[len(r.Transcript)-1]
}

// NewPipeline создает конвейер резервного копирования.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Noop{}
	}
	return &Pipeline{
		packer:       cfg.Packer,
		uploader:     cfg.Uploader,
		snapshotter:  cfg.Snapshotter,
		remoteFolder: cfg.RemoteFolder,
		metrics:      m,
		logger:       cfg.Logger.WithField("component", "backup_pipeline"),
	}
}

// run накапливает журнал одного запуска и дублирует его строки в лог.
type run struct {
	result  *Result
	logger  *logrus.Entry
	started time.Time
}

func (r *run) step(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.result.Transcript = append(r.result.Transcript, line)
	r.logger.Info(line)
}

// Run выполняет упаковку и загрузку. Первая ошибка прерывает запуск и возвращается без изменений,
// локальный архив при этом остаётся на диске. Result возвращается всегда.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	r := &run{
		result:  &Result{RunID: uuid.NewString()},
		started: time.Now(),
	}
	r.logger = p.logger.WithContext(ctx).WithField("run_id", r.result.RunID)

	if p.snapshotter != nil {
		r.step("Сброс журнала хранилища на диск")
		if err := p.snapshotter.Checkpoint(ctx); err != nil {
			return p.fail(r, fmt.Errorf("%w: не удалось подготовить хранилище: %w", ErrIO, err))
		}
	}

	r.step("Упаковка каталога данных")
	artifact, err := p.packer.Pack(ctx)
	if err != nil {
		return p.fail(r, err)
	}
	r.result.Artifact = artifact
	r.step("Создан архив %s (%s)", artifact.LocalPath, humanize.IBytes(uint64(artifact.SizeBytes))) //nolint:gosec // размер неотрицателен

	remotePath := path.Join(p.remoteFolder, artifact.Filename)
	r.step("Загрузка в %s", remotePath)
	obj, err := p.uploader.Upload(ctx, artifact.LocalPath, remotePath)
	if err != nil {
		return p.fail(r, err)
	}

	r.result.RemotePath = obj.RemotePath
	p.metrics.ObserveRun(metrics.OutcomeSuccess, time.Since(r.started), artifact.SizeBytes)
	r.step("Резервная копия загружена: %s", obj.RemotePath)
	return r.result, nil
}

func (p *Pipeline) fail(r *run, err error) (*Result, error) {
	var size int64
	if r.result.Artifact != nil {
		size = r.result.Artifact.SizeBytes
	}
	kind := KindOf(err)
	p.metrics.ObserveRun(string(kind), time.Since(r.started), size)

	line := fmt.Sprintf("Ошибка (%s): %v", kind, err)
	r.result.Transcript = append(r.result.Transcript, line)
	r.logger.WithError(err).WithField("kind", kind).Error("Резервное копирование не выполнено")
	return r.result, err
}
