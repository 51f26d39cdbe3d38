package goCred

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// instruments bundles the ambient collaborators every component shares.
// The zero value is usable: nil metrics and audit ignore writes.
type instruments struct {
	logger  *zap.Logger
	metrics *Metrics
	audit   *auditDispatcher
	now     func() time.Time
}

func newInstruments(logger *zap.Logger, now func() time.Time) *instruments {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &instruments{logger: logger, now: now}
}

func (i *instruments) clock() time.Time {
	if i == nil || i.now == nil {
		return time.Now()
	}
	return i.now()
}

func (i *instruments) log() *zap.Logger {
	if i == nil || i.logger == nil {
		return zap.NewNop()
	}
	return i.logger
}

func (i *instruments) metricInc(id MetricID) {
	if i == nil {
		return
	}
	i.metrics.Inc(id)
}

func (i *instruments) metricObserve(id MetricID, d time.Duration) {
	if i == nil {
		return
	}
	i.metrics.Observe(id, d)
}

func (i *instruments) emitAudit(ctx context.Context, eventType string, success bool, account *Account, username string, err error, metadata map[string]string) {
	if i == nil || i.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: i.clock(),
		EventType: eventType,
		Username:  username,
		SessionID: sessionIDFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if account != nil {
		event.AccountID = account.ID
		if event.Username == "" {
			event.Username = account.Username
		}
	}
	if err != nil {
		event.Error = ErrorType(err)
	}
	i.audit.Emit(ctx, event)
}
