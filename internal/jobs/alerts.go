package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
)

// AlertFunc is invoked when a job has used its last attempt or panicked.
type AlertFunc func(ctx context.Context, job *rivertype.JobRow, err error)

// AlertingErrorHandler logs job failures and forwards final ones for alerting.
type AlertingErrorHandler struct {
	Logger zerolog.Logger
	Notify AlertFunc
}

func NewAlertingErrorHandler(logger zerolog.Logger, notify AlertFunc) *AlertingErrorHandler {
	return &AlertingErrorHandler{
		Logger: logger.With().Str("component", "jobs").Logger(),
		Notify: notify,
	}
}

func (h *AlertingErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	final := job.Attempt >= job.MaxAttempts
	ev := h.Logger.Warn()
	if final {
		ev = h.Logger.Error()
	}
	ev.Err(err).
		Int64("job_id", job.ID).
		Str("kind", job.Kind).
		Int("attempt", job.Attempt).
		Int("max_attempts", job.MaxAttempts).
		Msg("job failed")

	if final && h.Notify != nil {
		h.Notify(ctx, job, err)
	}
	return nil
}

func (h *AlertingErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	panicErr := fmt.Errorf("panic: %v", panicVal)
	h.Logger.Error().Err(panicErr).
		Int64("job_id", job.ID).
		Str("kind", job.Kind).
		Int("attempt", job.Attempt).
		Str("trace", trace).
		Msg("job panicked")
	if h.Notify != nil {
		h.Notify(ctx, job, panicErr)
	}
	return nil
}

// TelegramAlert returns an AlertFunc that reports failures through send.
// An alert that cannot be delivered is logged.
func TelegramAlert(logger zerolog.Logger, send func(ctx context.Context, text string) error, format func(kind string, err error) string) AlertFunc {
	return func(ctx context.Context, job *rivertype.JobRow, err error) {
		if sendErr := send(ctx, format(job.Kind, err)); sendErr != nil {
			logger.Error().Err(sendErr).
				Int64("job_id", job.ID).
				Str("kind", job.Kind).
				AnErr("job_error", err).
				Msg("job failure alert not delivered")
		}
	}
}
