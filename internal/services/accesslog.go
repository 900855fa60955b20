package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"secret.share/internal/logging"
	"secret.share/internal/models"
	"secret.share/internal/store"
)

const maxUserAgentLength = 512

// AccessLogRecorder appends one entry per successful disclosure. It never
// fails the caller: store errors are logged and dropped.
type AccessLogRecorder struct {
	store store.Store
	log   logging.Logger
	now   func() time.Time
}

func NewAccessLogRecorder(st store.Store, log logging.Logger) *AccessLogRecorder {
	if log == nil {
		log = logging.Nop()
	}
	return &AccessLogRecorder{store: st, log: log, now: time.Now}
}

func (r *AccessLogRecorder) Record(ctx context.Context, secretID string, caller models.CallerContext) {
	agent := caller.UserAgent
	if len(agent) > maxUserAgentLength {
		agent = strings.ToValidUTF8(agent[:maxUserAgentLength], "")
	}

	entry := &models.AccessLogEntry{
		ID:            uuid.NewString(),
		SecretID:      secretID,
		ClientAddress: caller.Address,
		ClientAgent:   agent,
		AccessedAt:    r.now().UTC(),
	}
	if err := r.store.RecordAccess(ctx, entry); err != nil {
		r.log.Warn(ctx, "failed to record secret access", "secret_id", secretID, "error", err)
	}
}
