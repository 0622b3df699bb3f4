package middleware

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// TraceHook добавляет trace_id в записи лога, созданные через WithContext(ctx).
type TraceHook struct{}

// Levels возвращает уровни, на которых срабатывает хук.
func (h *TraceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire дополняет запись идентификатором трассировки из контекста.
func (h *TraceHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}

	sc := trace.SpanFromContext(entry.Context).SpanContext()
	if sc.IsValid() {
		entry.Data["trace_id"] = sc.TraceID().String()
	}
	return nil
}
