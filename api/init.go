package api

import (
	"fmt"

	"github.com/nefrols/fsedit/internal/config"
	"github.com/nefrols/fsedit/internal/task"
)

// InitRequest opens a fresh task or reactivates an existing one.
type InitRequest struct {
	TaskID string
}

// InitResponse reports the task now bound to this request thread.
type InitResponse struct {
	TaskID string
}

// HandleInit implements the `init` tool: open or reactivate a task.
func HandleInit(tasksRoot, workDir string, roots []string, req InitRequest) (*task.Task, InitResponse, error) {
	settings, err := config.Load(workDir)
	if err != nil {
		return nil, InitResponse{}, fmt.Errorf("loading settings: %w", err)
	}

	if req.TaskID != "" {
		t, err := task.Reactivate(tasksRoot, req.TaskID, roots, settings)
		if err != nil {
			return nil, InitResponse{}, fmt.Errorf("reactivating task %s: %w", req.TaskID, err)
		}
		return t, InitResponse{TaskID: t.ID}, nil
	}

	t, err := task.New(tasksRoot, workDir, roots, settings)
	if err != nil {
		return nil, InitResponse{}, fmt.Errorf("creating task: %w", err)
	}
	return t, InitResponse{TaskID: t.ID}, nil
}
