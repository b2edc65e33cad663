package cart

import "time"

const (
	OperationAdd    = "add"
	OperationRemove = "remove"
	OperationUpdate = "update"
)

// CommittedEvent is emitted after a mutation was persisted and became the current cart.
type CommittedEvent struct {
	EventID    string
	Operation  string
	ProductID  int
	Items      int
	Units      int
	OccurredAt time.Time
}

func (CommittedEvent) EventName() string { return "cart.committed" }
func (e CommittedEvent) ID() string      { return e.EventID }

func NewCommittedEvent(eventID, operation string, productID int, c Cart) CommittedEvent {
	return CommittedEvent{
		EventID:    eventID,
		Operation:  operation,
		ProductID:  productID,
		Items:      len(c),
		Units:      c.Units(),
		OccurredAt: time.Now().UTC(),
	}
}

// NotificationEvent carries a user-facing message about a failed operation.
type NotificationEvent struct {
	EventID    string
	Operation  string
	ProductID  int
	Reason     string
	Message    string
	OccurredAt time.Time
}

func (NotificationEvent) EventName() string { return "cart.notification" }
func (e NotificationEvent) ID() string      { return e.EventID }

func NewNotificationEvent(eventID, operation string, productID int, reason, message string) NotificationEvent {
	return NotificationEvent{
		EventID:    eventID,
		Operation:  operation,
		ProductID:  productID,
		Reason:     reason,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}
