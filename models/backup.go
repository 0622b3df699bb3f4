package models

// BackupResponse представляет ответ на успешный запуск резервного копирования.
type BackupResponse struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
	RemotePath string `json:"remote_path"`
	LogTail    string `json:"log_tail"`
}

// BackupFailure представляет ответ на неудачный запуск резервного копирования.
// Хвосты журналов ограничены по длине, чтобы ответ не разрастался.
type BackupFailure struct {
	OK         bool   `json:"ok"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StdoutTail string `json:"stdout_tail"` // журнал шагов конвейера
	StderrTail string `json:"stderr_tail"` // текст ошибки
}
