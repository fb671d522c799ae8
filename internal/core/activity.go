package core

import (
	"homevault/internal/activity"
	"homevault/internal/models"
)

func NewActivityLogger(config models.ActivityConfiguration) activity.IActivityLogger {
	switch config.Type {
	case "filesystem":
		return activity.NewFilesystemClient(config)
	default:
		return nil
	}
}
