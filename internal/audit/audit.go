package audit

import (
	"time"

	"go.uber.org/zap"
)

// Log writes a structured audit event. attrs are key/value pairs; pairs whose
// key is not a string are dropped. A nil logger falls back to zap.L().
func Log(logger *zap.Logger, event string, attrs ...any) {
	if logger == nil {
		logger = zap.L()
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}
