package domain

import "time"

// EventType identifies the kind of event delivered through the dispatcher.
//
// Raw inbound envelopes are published under their wire type verbatim, so
// every operation echo is a valid EventType. The constants below name the
// types the library itself inspects or synthesizes.
type EventType string

const (
	// Transport-level envelope discriminators.
	EventError        EventType = "error"
	EventSuccess      EventType = "success"
	EventNotification EventType = "notification"

	// Synthesized locally on every open/close transition.
	EventConnection EventType = "connection"

	// Business events re-published by the notification router. Chat
	// passthrough deliberately reuses the operation type names so chat
	// consumers see one stream regardless of which server path produced
	// the message.
	EventPrivateMessage      EventType = "private_message"
	EventGroupMessage        EventType = "group_message"
	EventFollowRequest       EventType = "follow_request"
	EventGroupJoinRequest    EventType = "group_join_request"
	EventGroupJoinResponse   EventType = "group_join_response"
	EventGroupInvitation     EventType = "group_invitation"
	EventGroupViewInvitation EventType = "group_view_invitation"
	EventGroupEvent          EventType = "group_event"
)

// ConnectionStatus values carried by EventConnection events.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// ConnectionChange is the payload of an EventConnection event.
type ConnectionChange struct {
	Status string `json:"status"`
}

// Event is the unit delivered to dispatcher subscribers. For raw inbound
// traffic Payload is the decoded Envelope; for routed business events it
// is a *UINotification.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// Handler is a dispatcher callback. Handlers run synchronously on the
// publishing goroutine, in registration order.
type Handler func(event Event)

// Dispatcher is the typed publish/subscribe registry connecting the
// session to its consumers. Subscribe returns an unsubscribe function;
// calling it more than once is harmless.
type Dispatcher interface {
	Subscribe(eventType EventType, handler Handler) func()
	Publish(event Event)
}
