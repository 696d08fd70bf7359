// Package tasks implements scheduled background tasks: queue lease sweeping
// and database maintenance.
package tasks

import (
	"log/slog"

	"kakehashi/internal/config"
	"kakehashi/internal/database"
	"kakehashi/internal/queue"
)

// TaskDeps contains the dependencies available to scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Queue  *queue.Queue
	Config *config.Config
}
