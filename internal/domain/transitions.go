package domain

import "fmt"

// ReturnEvent is something that can move a return request between statuses.
// Admin actions and carrier callbacks raise the same events.
type ReturnEvent string

const (
	EventApprove        ReturnEvent = "approve"
	EventReject         ReturnEvent = "reject"
	EventSchedulePickup ReturnEvent = "schedule_pickup"
	EventMarkInTransit  ReturnEvent = "mark_in_transit"
	EventMarkReceived   ReturnEvent = "mark_received"
	EventIssueCredit    ReturnEvent = "issue_credit"
	EventCancelPickup   ReturnEvent = "cancel_pickup"
)

var returnTransitions = map[ReturnStatus]map[ReturnEvent]ReturnStatus{
	ReturnStatusRequested: {
		EventApprove: ReturnStatusApproved,
		EventReject:  ReturnStatusRejected,
	},
	ReturnStatusApproved: {
		EventReject:         ReturnStatusRejected,
		EventSchedulePickup: ReturnStatusPickupScheduled,
		EventCancelPickup:   ReturnStatusCancelled,
	},
	ReturnStatusPickupScheduled: {
		EventMarkInTransit: ReturnStatusInTransit,
		EventMarkReceived:  ReturnStatusReceived,
		EventCancelPickup:  ReturnStatusCancelled,
	},
	ReturnStatusInTransit: {
		EventMarkReceived: ReturnStatusReceived,
	},
	ReturnStatusReceived: {
		EventIssueCredit: ReturnStatusCredited,
	},
}

// TransitionError reports an event that is not allowed from the current status.
type TransitionError struct {
	From  ReturnStatus
	Event ReturnEvent
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a return in status %q", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidState
}

// NextStatus looks up the status reached by applying ev to from.
func NextStatus(from ReturnStatus, ev ReturnEvent) (ReturnStatus, error) {
	if to, ok := returnTransitions[from][ev]; ok {
		return to, nil
	}
	return from, &TransitionError{From: from, Event: ev}
}

// CanApply reports whether ev is allowed from status.
func CanApply(from ReturnStatus, ev ReturnEvent) bool {
	_, ok := returnTransitions[from][ev]
	return ok
}
