// Package backup упаковывает каталог данных в архив и загружает его в удалённое хранилище.
package backup

import "errors"

// Kind - машиночитаемый вид ошибки резервного копирования.
type Kind string

// Виды ошибок резервного копирования.
const (
	KindIO       Kind = "io_error"
	KindTooLarge Kind = "too_large"
	KindAuth     Kind = "auth_error"
	KindTransfer Kind = "transfer_error"
	KindInternal Kind = "internal_error"
)

// KindOf определяет вид ошибки по обёрнутому в неё сигнальному значению.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, ErrTooLarge):
		return KindTooLarge
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrTransfer):
		return KindTransfer
	default:
		return KindInternal
	}
}

// Кастомные ошибки резервного копирования.
var (
	ErrIO       = errors.New("ошибка ввода-вывода")
	ErrTooLarge = errors.New("файл слишком велик для однократной загрузки, используйте загрузку по частям")
	ErrAuth     = errors.New("хранилище отклонило учётные данные")
	ErrTransfer = errors.New("ошибка передачи в хранилище")
)
