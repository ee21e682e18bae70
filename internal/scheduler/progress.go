package scheduler

import (
	"encoding/json"
	"time"

	"github.com/aristath/taskpilot/internal/events"
	"github.com/aristath/taskpilot/internal/task"
)

// Progress is a point-in-time view of a run. Percentages range 0-100.
// Elapsed is encoded as elapsed_seconds.
type Progress struct {
	Total           int           `json:"total"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	Running         int           `json:"running"`
	Pending         int           `json:"pending"`
	PercentComplete float64       `json:"percent_complete"`
	SuccessRate     float64       `json:"success_rate"`
	State           State         `json:"state"`
	Elapsed         time.Duration `json:"-"`
}

func (p Progress) MarshalJSON() ([]byte, error) {
	type plain Progress
	return json.Marshal(struct {
		plain
		ElapsedSeconds float64 `json:"elapsed_seconds"`
	}{plain(p), p.Elapsed.Seconds()})
}

// Summary describes a finished run. Incomplete is set when the run ended on
// a deadlock; Stopped when Stop or the caller's context ended it. Duration is
// encoded as duration_seconds and Err as its message.
type Summary struct {
	TotalTasks     int            `json:"total_tasks"`
	SuccessCount   int            `json:"success_count"`
	FailedCount    int            `json:"failed_count"`
	Remaining      int            `json:"remaining"`
	SuccessRate    float64        `json:"success_rate"`
	Duration       time.Duration  `json:"-"`
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
	Completed      []string       `json:"completed"`
	Failed         []string       `json:"failed"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at"`
	Stopped        bool           `json:"stopped"`
	Incomplete     bool           `json:"incomplete"`
	Err            error          `json:"-"`
}

func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	out := struct {
		plain
		DurationSeconds float64 `json:"duration_seconds"`
		Error           string  `json:"error,omitempty"`
	}{plain: plain(s), DurationSeconds: s.Duration.Seconds()}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}

// Progress returns current counts. Safe to call from any goroutine.
func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Scheduler) progressLocked() Progress {
	p := Progress{
		Completed: len(s.completed),
		Failed:    len(s.failed),
		Running:   len(s.running),
		Pending:   len(s.queue),
		State:     s.state,
		Elapsed:   s.elapsedLocked(),
	}
	p.Total = p.Completed + p.Failed + p.Running + p.Pending
	if p.Total > 0 {
		p.PercentComplete = float64(p.Completed+p.Failed) / float64(p.Total) * 100
	}
	if done := p.Completed + p.Failed; done > 0 {
		p.SuccessRate = float64(p.Completed) / float64(done) * 100
	}
	return p
}

func (s *Scheduler) elapsedLocked() time.Duration {
	switch {
	case s.startedAt.IsZero():
		return 0
	case s.endedAt.IsZero():
		return time.Since(s.startedAt)
	}
	return s.endedAt.Sub(s.startedAt)
}

// summaryLocked builds the run summary from the finished sets.
func (s *Scheduler) summaryLocked() Summary {
	sum := Summary{
		SuccessCount: len(s.completed),
		FailedCount:  len(s.failed),
		Remaining:    len(s.queue) + len(s.running),
		Duration:     s.elapsedLocked(),
		Completed:    append([]string(nil), s.completedIDs...),
		Failed:       append([]string(nil), s.failedIDs...),
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
	}
	sum.TotalTasks = sum.SuccessCount + sum.FailedCount
	if sum.TotalTasks > 0 {
		sum.SuccessRate = float64(sum.SuccessCount) / float64(sum.TotalTasks) * 100
	}
	for _, id := range s.failedIDs {
		res, ok := s.failed[id].Result()
		if !ok {
			continue
		}
		if sum.FailureReasons == nil {
			sum.FailureReasons = make(map[string]int)
		}
		sum.FailureReasons[res.Message]++
	}
	return sum
}

func (s *Scheduler) publishProgress() {
	s.mu.Lock()
	p := s.progressLocked()
	s.mu.Unlock()

	s.rec.Queue(p.Pending, p.Running)
	s.bus.Emit(events.ProgressEvent{
		Total:           p.Total,
		Completed:       p.Completed,
		Failed:          p.Failed,
		Running:         p.Running,
		Pending:         p.Pending,
		PercentComplete: p.PercentComplete,
		Timestamp:       time.Now(),
	})
}

// resultOf returns the task's final result, or a failure naming msg when the
// task never reached a terminal status.
func resultOf(t *task.Task, msg string, err error) task.Result {
	if res, ok := t.Result(); ok {
		return res
	}
	return task.Fail(msg, err)
}
