package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask      = "task"
	TopicScheduler = "scheduler"
)

// Event type constants
const (
	EventTypeTaskQueued      = "task.queued"
	EventTypeTaskStarted     = "task.started"
	EventTypeTaskCompleted   = "task.completed"
	EventTypeTaskFailed      = "task.failed"
	EventTypeSchedulerState  = "scheduler.state"
	EventTypeProgress        = "scheduler.progress"
	EventTypeSchedulerDone   = "scheduler.done"
	EventTypeSchedulerFailed = "scheduler.error"
)

// TaskQueuedEvent is published when a task is added to the pending queue.
type TaskQueuedEvent struct {
	ID        string
	Name      string
	Kind      string
	Timestamp time.Time
}

func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when the scheduler hands a task to Run.
type TaskStartedEvent struct {
	ID        string
	Name      string
	Kind      string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID        string
	Name      string
	Message   string
	Retries   int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task ends failed, cancelled or skipped.
type TaskFailedEvent struct {
	ID        string
	Name      string
	Status    string
	Message   string
	Err       error
	Retries   int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// SchedulerStateEvent is published on every scheduler state change.
type SchedulerStateEvent struct {
	From      string
	To        string
	Timestamp time.Time
}

func (e SchedulerStateEvent) EventType() string { return EventTypeSchedulerState }
func (e SchedulerStateEvent) TaskID() string    { return "" }

// ProgressEvent is published whenever queue membership changes.
type ProgressEvent struct {
	Total           int
	Completed       int
	Failed          int
	Running         int
	Pending         int
	PercentComplete float64
	Timestamp       time.Time
}

func (e ProgressEvent) EventType() string { return EventTypeProgress }
func (e ProgressEvent) TaskID() string    { return "" }

// SchedulerDoneEvent is published once when the run loop exits.
type SchedulerDoneEvent struct {
	Total      int
	Succeeded  int
	Failed     int
	Duration   time.Duration
	Incomplete bool
	Timestamp  time.Time
}

func (e SchedulerDoneEvent) EventType() string { return EventTypeSchedulerDone }
func (e SchedulerDoneEvent) TaskID() string    { return "" }

// SchedulerErrorEvent is published for run-level faults such as deadlock.
type SchedulerErrorEvent struct {
	Err       error
	Timestamp time.Time
}

func (e SchedulerErrorEvent) EventType() string { return EventTypeSchedulerFailed }
func (e SchedulerErrorEvent) TaskID() string    { return "" }
