package client

// ProcessStatus represents the lifecycle state of a headless process.
type ProcessStatus string

const (
	// StatusPending indicates the process has been created but not yet started.
	StatusPending ProcessStatus = "pending"
	// StatusRunning indicates the process is active and producing events.
	StatusRunning ProcessStatus = "running"
	// StatusCompleted indicates the process finished successfully.
	StatusCompleted ProcessStatus = "completed"
	// StatusFailed indicates the process exited with an error.
	StatusFailed ProcessStatus = "failed"
	// StatusCancelled indicates the process was terminated by request.
	StatusCancelled ProcessStatus = "cancelled"
)

// IsTerminal returns true if the status represents a finished process.
func (s ProcessStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusPending, StatusRunning:
		return false
	}
	return false
}
