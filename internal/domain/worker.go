package domain

import (
	"errors"
	"time"
)

var ErrWorkerNotFound = errors.New("worker not found")

type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
)

// Worker is a registered remote executor. A worker is busy iff CurrentRunID
// points at a non-terminal run assigned to it.
type Worker struct {
	ID            string
	WorkspaceID   string
	Name          string
	Status        WorkerStatus
	Labels        map[string]string
	LastHeartbeat time.Time
	CurrentRunID  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Stale reports whether the worker's heartbeat has aged past the timeout.
func (w *Worker) Stale(now time.Time, timeout time.Duration) bool {
	return (w.Status == WorkerOnline || w.Status == WorkerBusy) &&
		w.LastHeartbeat.Before(now.Add(-timeout))
}
