package audit

import (
	"context"

	"github.com/hamnet/relay-service/pkg/log"
)

// Audit actions for the relay.
const (
	ActionJoin       = "relay.join"
	ActionReject     = "relay.reject"
	ActionLeave      = "relay.leave"
	ActionReap       = "relay.reap"
	ActionMessage    = "relay.message"
	ActionRelayFrame = "relay.frame"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, callsign, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldCallsign, callsign).
		Msg(msg)
}

// LogWithDetail emits an audit log with an extra detail field.
func LogWithDetail(ctx context.Context, action, callsign, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldCallsign, callsign).
		Str(FieldDetail, detail).
		Msg(msg)
}
