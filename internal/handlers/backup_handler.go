package handlers

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/maynagashev/kvkeeper/internal/backup"
	"github.com/maynagashev/kvkeeper/models"
)

// MaxTailChars - максимальная длина хвостов журнала в ответе на неудачный бэкап.
const MaxTailChars = 4000

// BackupRunner запускает резервное копирование.
type BackupRunner interface {
	Run(ctx context.Context) (*backup.Result, error)
}

// BackupHandler обрабатывает запуск резервного копирования.
type BackupHandler struct {
	runner BackupRunner
	logger *logrus.Entry
}

// NewBackupHandler создает новый экземпляр BackupHandler.
func NewBackupHandler(runner BackupRunner, logger *logrus.Logger) *BackupHandler {
	return &BackupHandler{runner: runner, logger: logger.WithField("component", "backup_handler")}
}

// Trigger обрабатывает POST /backup. Запуск синхронный: ответ отправляется после загрузки.
func (h *BackupHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	log := loggerFor(r, h.logger)
	log.Info("Запуск резервного копирования")

	// Обрыв соединения клиентом не прерывает уже начатый запуск
	result, err := h.runner.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		var transcript []string
		if result != nil {
			transcript = result.Transcript
		}
		writeJSON(w, log, http.StatusInternalServerError, models.BackupFailure{
			OK:         false,
			Kind:       string(backup.KindOf(err)),
			Message:    "резервное копирование не выполнено",
			StdoutTail: tail(strings.Join(transcript, "\n"), MaxTailChars),
			StderrTail: tail(err.Error(), MaxTailChars),
		})
		return
	}

	writeJSON(w, log, http.StatusOK, models.BackupResponse{
		OK:         true,
		Message:    "резервная копия создана и загружена",
		RemotePath: result.RemotePath,
		LogTail:    result.LastLine(),
	})
}

// tail возвращает последние n символов строки.
func tail(s string, n int) string {
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[count-n:])
}
