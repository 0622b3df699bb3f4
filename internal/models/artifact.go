package models

import "time"

// Artifact описывает архив, созданный одним запуском резервного копирования.
// Файл остаётся на диске и после запуска (в том числе при ошибке загрузки).
type Artifact struct {
	LocalPath  string    `json:"local_path"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	CapturedAt time.Time `json:"captured_at"`
}

// RemoteObject описывает объект в удалённом хранилище после загрузки.
type RemoteObject struct {
	RemotePath string `json:"remote_path"`
	SizeBytes  int64  `json:"size_bytes"`
}
