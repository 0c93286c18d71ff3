package events

// Topic constants for domain events emitted by the till.
const (
	TopicBillCreated = "bill.created"
	TopicShiftOpened = "shift.opened"
	TopicShiftClosed = "shift.closed"
)

// DefaultTopics returns every topic the service emits.
func DefaultTopics() []string {
	return []string{
		TopicBillCreated,
		TopicShiftOpened,
		TopicShiftClosed,
	}
}
