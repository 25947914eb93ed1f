package domain

// Operation is a client-initiated wire operation type.
type Operation string

// Known operations. The wire form of every send is
// {"type": <operation>, "data": {...}}.
const (
	OpPrivateMessage          Operation = "private_message"
	OpGroupMessage            Operation = "group_message"
	OpLoadPrivateMessages     Operation = "load_private_messages"
	OpLoadGroupMessages       Operation = "load_group_messages"
	OpFollowRequest           Operation = "follow_request"
	OpRespondFollowRequest    Operation = "respond_follow_request"
	OpCancelFollowRequest     Operation = "cancel_follow_request"
	OpUnfollow                Operation = "unfollow"
	OpGroupJoinRequest        Operation = "group_join_request"
	OpRespondGroupJoinRequest Operation = "respond_group_join_request"
	OpCancelGroupJoinRequest  Operation = "cancel_group_join_request"
	OpExitGroup               Operation = "exit_group"
	OpGroupInvitation         Operation = "group_invitation"
	OpRespondGroupInvitation  Operation = "respond_group_invitation"
	OpCancelGroupInvitation   Operation = "cancel_group_invitation"
	OpProposeMemberInvitation Operation = "propose_member_invitation"
	OpReadNotification        Operation = "read_notification"
	OpReadPrivateMessage      Operation = "read_private_message"
	OpDeleteNotification      Operation = "delete_notification"
	OpAddEvent                Operation = "add_event"
)

// DispatchMode selects how a Call awaits the server for an operation.
type DispatchMode int

const (
	// ModeAcknowledged operations expect an explicit success or error
	// envelope; absence of both within the deadline is a timeout.
	ModeAcknowledged DispatchMode = iota
	// ModeSilent operations are only ever answered on failure; a quiet
	// deadline is treated as success.
	ModeSilent
)

func (m DispatchMode) String() string {
	if m == ModeSilent {
		return "silent"
	}
	return "acknowledged"
}

// The server never positively acknowledges these operation classes; it
// only pushes an error envelope when they fail.
var silentOperations = map[Operation]struct{}{
	OpFollowRequest:    {},
	OpUnfollow:         {},
	OpGroupJoinRequest: {},
	OpExitGroup:        {},
	OpGroupInvitation:  {},
}

// Mode returns the dispatch mode of the operation. Unknown operations
// default to ModeAcknowledged.
func (o Operation) Mode() DispatchMode {
	if _, ok := silentOperations[o]; ok {
		return ModeSilent
	}
	return ModeAcknowledged
}
