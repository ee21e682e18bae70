package history

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/taskpilot/internal/task"
)

// DayActivity counts completed tasks on one UTC day.
type DayActivity struct {
	Day       string // YYYY-MM-DD
	Visits    int    // completed goto_url tasks
	Comments  int    // completed write_comment tasks
	Likes     int    // completed click_like tasks
	Completed int    // all completed tasks
}

// DailyActivity returns one entry per day for the last days days ending at
// now, newest first. Days without activity are zero.
func (s *Store) DailyActivity(ctx context.Context, days int, now time.Time) ([]DayActivity, error) {
	if days < 1 {
		days = 7
	}
	today := now.UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(completed_at, 1, 10) AS day, kind, COUNT(*)
		FROM task_outcomes
		WHERE status = ? AND completed_at >= ?
		GROUP BY day, kind
	`, task.StatusCompleted.String(), formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily activity: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]*DayActivity, days)
	out := make([]DayActivity, days)
	for i := range out {
		day := today.AddDate(0, 0, -i).Format(time.DateOnly)
		out[i].Day = day
		byDay[day] = &out[i]
	}

	for rows.Next() {
		var (
			day, kind string
			n         int
		)
		if err := rows.Scan(&day, &kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan daily activity: %w", err)
		}
		d, ok := byDay[day]
		if !ok {
			continue
		}
		d.Completed += n
		switch kind {
		case task.KindGotoURL.String():
			d.Visits += n
		case task.KindWriteComment.String():
			d.Comments += n
		case task.KindClickLike.String():
			d.Likes += n
		}
	}
	return out, rows.Err()
}

// FailureReasons counts the messages of unsuccessful tasks completed since
// the given time.
func (s *Store) FailureReasons(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(message, ''), COUNT(*)
		FROM task_outcomes
		WHERE status != ? AND status != ? AND completed_at >= ?
		GROUP BY message
	`, task.StatusCompleted.String(), task.StatusPending.String(), formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query failure reasons: %w", err)
	}
	defer rows.Close()

	reasons := make(map[string]int)
	for rows.Next() {
		var (
			msg string
			n   int
		)
		if err := rows.Scan(&msg, &n); err != nil {
			return nil, fmt.Errorf("failed to scan failure reason: %w", err)
		}
		reasons[msg] = n
	}
	return reasons, rows.Err()
}
