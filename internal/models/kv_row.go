package models

// KVRow - строка таблицы kv. Тэги `db` используются sqlx при сканировании.
type KVRow struct {
	Key       string `db:"k"`
	Value     string `db:"v"` // канонический JSON-текст
	UpdatedAt string `db:"updated_at"`
}

// KVSummaryRow - строка выборки списка ключей.
type KVSummaryRow struct {
	Key       string `db:"k"`
	UpdatedAt string `db:"updated_at"`
}
