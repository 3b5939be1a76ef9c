package api

import (
	"io"
	"log"
	"time"

	"github.com/MJE43/arcade-scoregate/internal/protocol"
)

// SecurityLogger records rejections and privileged calls. Tokens and seeds
// are only ever written as fingerprints.
type SecurityLogger struct {
	logger *log.Logger
}

// NewSecurityLogger writes to out with the [SECURITY] prefix.
func NewSecurityLogger(out io.Writer) *SecurityLogger {
	return &SecurityLogger{
		logger: log.New(out, "[SECURITY] ", log.LstdFlags|log.LUTC),
	}
}

// LogSubmission logs a submission attempt before it is judged.
func (sl *SecurityLogger) LogSubmission(requestID string, sub protocol.Submission, remoteAddr string) {
	sl.logger.Printf(
		"submit_attempt request_id=%s player=%q device_hash=%s token_hash=%s seed_hash=%s score=%d inputs=%d elapsed_ms=%d remote_addr=%s version=%s timestamp=%s",
		requestID,
		sub.PlayerIdentity,
		hashSecret(sub.PlayerDeviceID),
		hashSecret(sub.Token),
		hashSecret(sub.Trace.SeedEcho),
		sub.Score,
		len(sub.Trace.InputEvents),
		sub.Trace.ElapsedMillis,
		remoteAddr,
		Version,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogAdminCall logs an admin endpoint call and whether it was authorized.
func (sl *SecurityLogger) LogAdminCall(requestID, action string, authorized bool, remoteAddr string) {
	sl.logger.Printf(
		"admin_call request_id=%s action=%s authorized=%t remote_addr=%s version=%s timestamp=%s",
		requestID,
		action,
		authorized,
		remoteAddr,
		Version,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSecurityEvent logs rejected submissions and other suspicious activity.
func (sl *SecurityLogger) LogSecurityEvent(
	requestID string,
	eventType string,
	description string,
	context map[string]interface{},
	remoteAddr string,
) {
	sl.logger.Printf(
		"security_event request_id=%s type=%s description=%q context=%+v remote_addr=%s version=%s timestamp=%s",
		requestID,
		eventType,
		description,
		sanitizeContext(context),
		remoteAddr,
		Version,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// sanitizeContext replaces secret values with their fingerprints.
func sanitizeContext(context map[string]interface{}) map[string]interface{} {
	if len(context) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(context))
	for k, v := range context {
		switch k {
		case "token", "seed", "admin_token":
			if s, ok := v.(string); ok {
				out[k+"_hash"] = hashSecret(s)
				continue
			}
			out[k] = "[redacted]"
		default:
			out[k] = v
		}
	}
	return out
}

func hashSecret(s string) string {
	if s == "" {
		return "empty"
	}
	return protocol.Fingerprint(s)
}
