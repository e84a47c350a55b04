// Package types contains the core domain types shared across all notifyq
// internal packages. It deliberately has zero imports of other notifyq
// packages so that both the scheduler and the delivery layer can import
// from it without creating import cycles.
package types

// StateType distinguishes a checkable's transient retry state from its
// settled state. Only Hard state changes produce notifications.
type StateType uint8

const (
	StateSoft StateType = iota
	StateHard
)

func (t StateType) String() string {
	if t == StateHard {
		return "hard"
	}
	return "soft"
}

// StateOK is the only raw state value that counts as "up"/"good" for
// notification purposes; every other value is a problem state.
const StateOK = 0

// DependencyType selects which reachability semantics a checkable is asked
// about. The scheduler only ever asks about DependencyNotification.
type DependencyType uint8

const (
	DependencyNotification DependencyType = iota
	DependencyState
)

// NotificationType enumerates the kinds of notification the scheduler (or an
// external caller) can ask a Notification to execute. Other values may exist
// in a full configuration-object system but are never produced by the
// scheduler core itself.
type NotificationType uint8

const (
	NotificationProblem NotificationType = iota
	NotificationRecovery
	NotificationFlappingStart
	NotificationFlappingEnd
	NotificationAcknowledgement
)

func (t NotificationType) String() string {
	switch t {
	case NotificationProblem:
		return "problem"
	case NotificationRecovery:
		return "recovery"
	case NotificationFlappingStart:
		return "flapping_start"
	case NotificationFlappingEnd:
		return "flapping_end"
	case NotificationAcknowledgement:
		return "acknowledgement"
	default:
		return "unknown"
	}
}

// CheckResult is the minimal slice of a check result the scheduler core
// needs: enough to decide eligibility and to hand to BeginExecute. The full
// check-result object (performance data, command line, …) lives in the
// configuration-object system this core treats as an external collaborator.
type CheckResult struct {
	State        int
	Output       string
	ExecutionEnd float64 // seconds since epoch
}

// CheckableHandle is the core's view of a monitored host or service. It is
// implemented by the configuration-object system; the scheduler never
// constructs one itself.
type CheckableHandle interface {
	Name() string
	StateType() StateType
	LastStateType() StateType
	StateRaw() int
	LastStateRaw() int
	IsReachable(dep DependencyType) bool
	IsInDowntime() bool
	IsAcknowledged() bool
	IsFlapping() bool
	IsVolatile() bool
	Notifications() []NotificationHandle
	LastCheckResult() CheckResult
}

// NotificationHandle is the core's view of a notification configuration
// object. Identity is reference equality of the concrete implementation —
// the scheduler never compares handles by value.
type NotificationHandle interface {
	Name() string
	IsActive() bool
	IsPaused() bool
	ZoneName() string
	Checkable() CheckableHandle
	LastCheckResult() CheckResult

	// NextNotificationTime / SetNextNotificationTime give the scheduler a
	// place to read and advance the renotification clock. Seconds since
	// epoch, matching CheckResult.ExecutionEnd.
	NextNotificationTime() float64
	SetNextNotificationTime(t float64)

	// Interval returns the configured renotification interval in seconds.
	// The scheduler uses it to advance NextNotificationTime when a promoted
	// notification turns out to be ineligible (see scheduler.dispatch).
	Interval() float64

	// BeginExecute triggers delivery. author/text are only meaningful for
	// NotificationAcknowledgement; pass "" otherwise. The return value is
	// intentionally void: the scheduler treats every call as fire-and-forget.
	BeginExecute(ntype NotificationType, cr CheckResult, forced, reminder bool, author, text string)
}

// ScheduleInfo pairs a notification handle with its next fire time
// (seconds since epoch, wall-clock). It is the unit stored by
// schedset.DualIndexSet.
type ScheduleInfo struct {
	Notification NotificationHandle
	NextFireTime float64
}

