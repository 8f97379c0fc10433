package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures error reporting. An empty DSN disables it,
// which is the normal state for local development.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
}

// FlushSentry drains buffered events; call it on shutdown.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// CaptureError forwards an unexpected error to Sentry when it is
// configured. Safe to call with a nil hub.
func CaptureError(err error) {
	if err == nil {
		return
	}
	sentry.CaptureException(err)
}
