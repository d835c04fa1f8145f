package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/openfang-project/openfang/internal/store"
)

// AuditRecorder implements Recorder over the hash-chained audit log, so
// every dispatched message leaves a tamper-evident trail entry.
type AuditRecorder struct {
	Log *store.AuditLog
}

func NewAuditRecorder(log *store.AuditLog) *AuditRecorder {
	return &AuditRecorder{Log: log}
}

func (a *AuditRecorder) RecordOutcome(ctx context.Context, o Outcome) {
	if a.Log == nil {
		return
	}
	detail := fmt.Sprintf("channel=%s stage=%s agent=%s handled=%t duration=%s",
		o.Message.Channel, o.Stage, o.AgentID, o.Handled, o.Duration.Round(time.Millisecond))
	if o.Err != nil {
		detail += " error=" + o.Err.Error()
	}
	a.Log.Append(store.AuditMessageDispatch, o.Message.SenderID, detail)
}
