package backup

import (
	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/config"
	"github.com/maynagashev/kvkeeper/internal/metrics"
	"github.com/maynagashev/kvkeeper/internal/storage"
)

// NewPipelineFromConfig собирает архиватор, загрузчик и конвейер по конфигурации.
func NewPipelineFromConfig(
	cfg config.BackupConfig,
	store storage.ObjectStorage,
	snapshotter Snapshotter,
	m metrics.BackupMetrics,
	logger *logrus.Logger,
) *Pipeline {
	return NewPipeline(PipelineConfig{
		Packer:       NewArchiver(cfg.DataDir, cfg.BackupDir, logger),
		Uploader:     NewUploader(store, cfg.SimpleUploadLimit, logger),
		Snapshotter:  snapshotter,
		RemoteFolder: cfg.RemoteFolder,
		Metrics:      m,
		Logger:       logger,
	})
}
