package domain

import "encoding/json"

// NotificationCase is the top-level discriminator of the notification
// sub-schema.
type NotificationCase string

const (
	CaseActionBased NotificationCase = "action_based"
	CaseGroupEvent  NotificationCase = "group_event"
)

// ActionType refines CaseActionBased notifications.
type ActionType string

const (
	ActionGroupJoinRequest    ActionType = "group_join_request"
	ActionGroupJoinAccept     ActionType = "group_join_accept"
	ActionGroupJoinDecline    ActionType = "group_join_decline"
	ActionGroupInvitation     ActionType = "group_invitation"
	ActionGroupViewInvitation ActionType = "group_view_invitation"
	ActionPrivateMessage      ActionType = "private_message"
	ActionGroupMessage        ActionType = "group_message"
	ActionFollowRequest       ActionType = "follow_request"
)

// Envelope is one decoded logical message extracted from a raw transport
// frame. A single frame may carry several envelopes; the codec package is
// responsible for splitting them.
//
// The server speaks two overlapping schemas through the same fields:
// plain envelopes discriminated by Type ("error", "success", an echo of
// an operation type), and the notification sub-schema where Type is
// "notification" and Case/ActionType select the business meaning.
type Envelope struct {
	Type       string           `json:"type"`
	Message    string           `json:"message,omitempty"`
	Case       NotificationCase `json:"case,omitempty"`
	ActionType ActionType       `json:"action_type,omitempty"`
	Data       json.RawMessage  `json:"data,omitempty"`
}

// IsNotification reports whether the envelope belongs to the
// notification sub-schema.
func (e Envelope) IsNotification() bool { return e.Type == string(EventNotification) }
