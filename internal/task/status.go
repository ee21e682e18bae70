package task

import "strings"

// Status represents the lifecycle state of a task.
type Status int

const (
	StatusPending   Status = iota // Queued, not started
	StatusRunning                 // Currently executing
	StatusCompleted               // Finished successfully
	StatusFailed                  // Finished after exhausting retries or failing validation
	StatusCancelled               // Interrupted by cancellation
	StatusSkipped                 // Never executed
)

var statusNames = [...]string{
	StatusPending:   "pending",
	StatusRunning:   "running",
	StatusCompleted: "completed",
	StatusFailed:    "failed",
	StatusCancelled: "cancelled",
	StatusSkipped:   "skipped",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Terminal reports whether no further transition is possible without Reset.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// canTransition encodes the forward-only lifecycle.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled || to == StatusSkipped
	case StatusRunning:
		return to.Terminal()
	}
	return false
}

// Kind identifies a built-in task kind. Kinds outside the built-in set use
// KindCustom together with a registered custom name.
type Kind int

const (
	KindLogin Kind = iota
	KindCheckPosts
	KindWriteComment
	KindClickLike
	KindScrollRead
	KindWait
	KindGotoURL
	KindCustom
)

var kindNames = [...]string{
	KindLogin:        "login",
	KindCheckPosts:   "check_posts",
	KindWriteComment: "write_comment",
	KindClickLike:    "click_like",
	KindScrollRead:   "scroll_read",
	KindWait:         "wait",
	KindGotoURL:      "goto_url",
	KindCustom:       "custom",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Kinds returns every built-in kind except KindCustom.
func Kinds() []Kind {
	return []Kind{KindLogin, KindCheckPosts, KindWriteComment, KindClickLike, KindScrollRead, KindWait, KindGotoURL}
}

// ParseKind resolves a kind name. Unknown names report false; callers treat
// them as candidates for the custom registry.
func ParseKind(name string) (Kind, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "-", "_")
	for k, s := range kindNames {
		if s == n {
			return Kind(k), true
		}
	}
	return KindCustom, false
}
