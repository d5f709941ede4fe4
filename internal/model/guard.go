package model

import "time"

// GuardTaskType names the protective workflow a task drives.
type GuardTaskType string

// GuardOnlineRisk applies blacklist + forced-play-block until the account goes offline.
const GuardOnlineRisk GuardTaskType = "online-risk-guard"

// GuardStatus is the lifecycle of a guard task.
type GuardStatus string

// Guard task statuses. Done and failed are terminal.
const (
	GuardPending  GuardStatus = "pending"
	GuardWatching GuardStatus = "watching"
	GuardDone     GuardStatus = "done"
	GuardFailed   GuardStatus = "failed"
)

var guardTransitions = map[GuardStatus][]GuardStatus{
	GuardPending:  {GuardPending, GuardWatching, GuardFailed},
	GuardWatching: {GuardWatching, GuardDone, GuardFailed},
}

// Active reports whether the task is still being worked.
func (s GuardStatus) Active() bool { return s == GuardPending || s == GuardWatching }

// Terminal reports whether the task can never change again.
func (s GuardStatus) Terminal() bool { return s == GuardDone || s == GuardFailed }

// CanTransition reports whether a task may move from s to next.
func (s GuardStatus) CanTransition(next GuardStatus) bool {
	for _, to := range guardTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// GuardTask is the retryable unit of work protecting a risky account.
type GuardTask struct {
	ID               int64
	Owner            string
	AccountID        string
	Game             string
	TaskType         GuardTaskType
	EventID          int64
	Status           GuardStatus
	RetryCount       int
	MaxRetry         int
	NextCheckAt      time.Time
	LastOnlineTag    string
	BlacklistApplied bool
	ForbiddenApplied bool
	LastError        string
	WatchCycles      int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Online tags recorded on a task after each probe.
const (
	OnlineTagOnline  = "online"
	OnlineTagOffline = "offline"
	OnlineTagUnknown = "unknown"
)
