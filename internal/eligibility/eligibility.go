// Package eligibility implements the single pure predicate that decides
// whether a checkable's current state warrants sending a hard-state
// notification. It has no side effects and no dependency on the scheduler.
package eligibility

import "github.com/snehjoshi/notifyq/internal/types"

// HardStateNotificationCheck reports whether a Hard-state transition on c
// should produce a notification.
//
// Rule order is observable and must not be reshuffled: the two override
// rules (suppress Soft-OK → Hard-OK, suppress volatile OK → OK) run after
// the two positive rules (Soft→Hard, non-OK→OK recovery, volatile Hard).
func HardStateNotificationCheck(c types.CheckableHandle) bool {
	if !c.IsReachable(types.DependencyNotification) {
		return false
	}
	if c.IsInDowntime() {
		return false
	}
	if c.IsAcknowledged() {
		return false
	}
	if c.IsFlapping() {
		return false
	}

	recovery := c.LastStateType() == types.StateHard &&
		c.StateType() == types.StateHard &&
		c.LastStateRaw() != types.StateOK &&
		c.StateRaw() == types.StateOK

	send := c.LastStateType() == types.StateSoft || recovery

	if c.IsVolatile() && c.StateType() == types.StateHard {
		send = true
	}

	// Override: a checkable moving from a Soft OK state into a Hard state
	// (of any kind) must not notify — it never had a problem worth hearing
	// about, it just settled.
	if c.LastStateType() == types.StateSoft && c.LastStateRaw() == types.StateOK {
		send = false
	}

	// Override: volatile checkables churning OK → OK are not interesting.
	if c.IsVolatile() && c.LastStateRaw() == types.StateOK && c.StateRaw() == types.StateOK {
		send = false
	}

	return send
}
