package domain

import (
	"errors"
	"time"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCronExpr  = errors.New("invalid cron expression")
)

// Schedule pairs a cron expression with a job definition. NextRunAt is nil
// while disabled; after every fire it is strictly in the future of the tick
// that observed it.
type Schedule struct {
	ID              string
	WorkspaceID     string
	JobDefinitionID string
	CronExpression  string
	Enabled         bool
	Name            *string
	NextRunAt       *time.Time
	LastRunAt       *time.Time
	LastRunID       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
