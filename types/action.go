package types

// EventAction describes why an event log entry was queued for an edge.
type EventAction string

// Actions recorded in event log entries.
const (
	ActionAdded                  EventAction = "ADDED"
	ActionUpdated                EventAction = "UPDATED"
	ActionDeleted                EventAction = "DELETED"
	ActionAssignedToCustomer     EventAction = "ASSIGNED_TO_CUSTOMER"
	ActionUnassignedFromCustomer EventAction = "UNASSIGNED_FROM_CUSTOMER"
	ActionAssignedToEdge         EventAction = "ASSIGNED_TO_EDGE"
	ActionUnassignedFromEdge     EventAction = "UNASSIGNED_FROM_EDGE"
)

// IsDelete reports whether the action produces a delete-shaped downlink
// message, built from the entity id alone without reloading state. Every
// unassignment counts: the edge must drop its copy even when the entity
// still exists centrally.
func (a EventAction) IsDelete() bool {
	return a == ActionDeleted ||
		a == ActionUnassignedFromEdge ||
		a == ActionUnassignedFromCustomer
}
