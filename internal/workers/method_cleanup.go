package workers

import (
	"context"
	"time"

	"homevault/internal/activity"
	"homevault/internal/configuration"
	"homevault/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MethodBatchSize is the number of abandoned methods removed per batch.
const MethodBatchSize = 100

// MethodCleanupWorker deletes second-factor methods whose enrollment was
// started but never completed. A method that stays disabled past the cutoff
// is an abandoned ceremony; its setup material is useless and the row only
// clutters the user's method list and the per-user cap.
type MethodCleanupWorker struct {
	DB             *gorm.DB
	MaxAge         time.Duration
	RunInterval    time.Duration
	ActivityLogger activity.IActivityLogger
}

// Start begins the cleanup loop. It runs once immediately, then on the
// configured interval until the context is cancelled.
func (w *MethodCleanupWorker) Start(ctx context.Context) {
	StartPeriodicWorker(ctx, "method_cleanup", w.RunInterval, []WorkerTask{
		{Name: "methods_cleaned", Fn: w.cleanupAbandonedMethods},
	})
}

func (w *MethodCleanupWorker) cleanupAbandonedMethods(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-w.MaxAge)
	total := 0

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		var expired []models.MfaMethod
		err := w.DB.
			Where("enabled = ? AND created_at < ?", false, cutoff).
			Limit(MethodBatchSize).
			Find(&expired).Error
		if err != nil {
			return total, err
		}
		if len(expired) == 0 {
			return total, nil
		}

		deleted := 0
		for i := range expired {
			if err = w.DB.Delete(&expired[i]).Error; err != nil {
				zap.L().Error("Failed to delete abandoned method",
					zap.String("method_id", expired[i].ID.String()),
					zap.Error(err))
				continue
			}
			w.logCleanup(&expired[i])
			deleted++
		}
		total += deleted

		// A batch where nothing could be deleted would re-select the same
		// rows; stop and leave them for the next run.
		if deleted == 0 || len(expired) < MethodBatchSize {
			return total, nil
		}
	}
}

func (w *MethodCleanupWorker) logCleanup(method *models.MfaMethod) {
	action := models.Activity{
		Message: activity.UnverifiedMethodCleaned,
		Object:  method.ToActivity(),
		Filter: activity.NewLogFilter(map[string]string{
			"action":      activity.UnverifiedMethodCleaned,
			"user_id":     method.UserID.String(),
			"method_id":   method.ID.String(),
			"method_type": string(method.Type),
			"object_type": "mfa_method",
		}),
	}
	if err := w.ActivityLogger.Send(action); err != nil {
		zap.L().Error("Failed to log cleanup activity", zap.Error(err))
	}
}

// DefaultMaxAge is the cutoff derived from configuration.
func DefaultMaxAge() time.Duration {
	return time.Duration(configuration.UnverifiedMethodMaxAgeHours) * time.Hour
}
