// Package notify turns generic notification envelopes into
// business-level events and keeps the local inbox in sync.
package notify

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"social-rtc/internal/domain"
)

// Router subscribes to the generic notification stream, branches on the
// envelope's case and action_type, and re-publishes under the event
// name consumers actually care about. Routed notifications are also
// persisted to the inbox when one is configured.
type Router struct {
	bus    domain.Dispatcher
	inbox  domain.InboxStore
	logger *slog.Logger
	unsub  func()
}

// NewRouter creates a Router. inbox may be nil; routing then happens
// without persistence.
func NewRouter(bus domain.Dispatcher, inbox domain.InboxStore, logger *slog.Logger) *Router {
	return &Router{bus: bus, inbox: inbox, logger: logger}
}

// Start begins consuming notification envelopes. It is not re-entrant;
// call Stop before starting again.
func (r *Router) Start() {
	r.unsub = r.bus.Subscribe(domain.EventNotification, r.route)
}

// Stop detaches the router from the event stream.
func (r *Router) Stop() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

func (r *Router) route(ev domain.Event) {
	env, ok := ev.Payload.(domain.Envelope)
	if !ok {
		return
	}

	if env.Case == domain.CaseGroupEvent {
		r.routeGroupEvent(env)
		return
	}

	// Some server paths omit the case field and only carry action_type;
	// those are action_based in all observed payloads.
	switch env.ActionType {
	case domain.ActionPrivateMessage:
		r.routeChat(domain.EventPrivateMessage, env.Data)
	case domain.ActionGroupMessage:
		r.routeGroupMessage(env.Data)
	case domain.ActionFollowRequest:
		r.routeFollowRequest(env.Data)
	case domain.ActionGroupJoinRequest:
		r.routeJoinRequest(env.Data)
	case domain.ActionGroupJoinAccept, domain.ActionGroupJoinDecline:
		r.routeJoinResponse(env.ActionType, env.Data)
	case domain.ActionGroupInvitation:
		r.routeInvitation(env.Data)
	case domain.ActionGroupViewInvitation:
		r.routeViewInvitation(env.Data)
	default:
		r.logger.Warn("dropping notification with unrecognized action type",
			"case", string(env.Case),
			"action_type", string(env.ActionType),
		)
	}
}

// routeChat passes a chat payload straight through to its event name.
func (r *Router) routeChat(kind domain.EventType, data json.RawMessage) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		r.logger.Warn("dropping undecodable chat payload", "kind", string(kind), "error", err)
		return
	}
	r.publishChat(kind, msg)
}

// routeGroupMessage handles the one payload class that arrives doubly
// encoded: the server marshals the chat object to JSON bytes, and those
// bytes ride the envelope as a base64 string. Any stage failing drops
// the message; delivery is at-most-once per arrival.
func (r *Router) routeGroupMessage(data json.RawMessage) {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		// Payload was plain JSON after all.
		r.routeChat(domain.EventGroupMessage, data)
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		r.logger.Warn("dropping group message: invalid base64", "error", err)
		return
	}
	var msg domain.ChatMessage
	if err := json.Unmarshal(decoded, &msg); err != nil {
		r.logger.Warn("dropping group message: invalid inner json", "error", err)
		return
	}
	r.publishChat(domain.EventGroupMessage, msg)
}

func (r *Router) publishChat(kind domain.EventType, msg domain.ChatMessage) {
	r.bus.Publish(domain.Event{
		Type:      kind,
		Timestamp: time.Now(),
		Payload:   msg,
	})
}

// wireActor tolerates the two field spellings the server uses for user
// records in notification payloads.
type wireActor struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	Firstname string `json:"firstname"`
	LastName  string `json:"last_name"`
	Lastname  string `json:"lastname"`
	Nickname  string `json:"nickname"`
	Email     string `json:"email"`
	Avatar    string `json:"avatar"`
}

func (w *wireActor) toActor() *domain.Actor {
	if w == nil {
		return nil
	}
	a := &domain.Actor{
		ID:       w.ID,
		Nickname: w.Nickname,
		Email:    w.Email,
		Avatar:   w.Avatar,
	}
	a.FirstName = w.FirstName
	if a.FirstName == "" {
		a.FirstName = w.Firstname
	}
	a.LastName = w.LastName
	if a.LastName == "" {
		a.LastName = w.Lastname
	}
	return a
}

func (r *Router) routeFollowRequest(data json.RawMessage) {
	var payload struct {
		Actor    *wireActor `json:"actor"`
		Follower *wireActor `json:"follower"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Warn("dropping undecodable follow request", "error", err)
		return
	}
	who := payload.Actor
	if who == nil {
		who = payload.Follower
	}
	actor := who.toActor()

	r.emit(&domain.UINotification{
		Kind:       domain.EventFollowRequest,
		Title:      "Follow Request",
		Body:       fmt.Sprintf("%s wants to follow you", actor.DisplayName()),
		Actor:      actor,
		Actionable: true,
		Data:       data,
	})
}

func (r *Router) routeJoinRequest(data json.RawMessage) {
	var payload struct {
		User  *wireActor `json:"user"`
		Group struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"group"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Warn("dropping undecodable join request", "error", err)
		return
	}
	actor := payload.User.toActor()

	r.emit(&domain.UINotification{
		Kind:       domain.EventGroupJoinRequest,
		Title:      "New Join Request",
		Body:       fmt.Sprintf("%s requested to join your group", actor.DisplayName()),
		Actor:      actor,
		GroupID:    payload.Group.ID,
		Actionable: true,
		Data:       data,
	})
}

func (r *Router) routeJoinResponse(action domain.ActionType, data json.RawMessage) {
	var payload struct {
		Group struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"group"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Warn("dropping undecodable join response", "error", err)
		return
	}

	accepted := action == domain.ActionGroupJoinAccept
	title := "Request Declined"
	body := "Your request to join the group was declined"
	if accepted {
		title = "Request Accepted!"
		body = "Your request to join the group was accepted"
	}

	r.emit(&domain.UINotification{
		Kind:       domain.EventGroupJoinResponse,
		Title:      title,
		Body:       body,
		GroupID:    payload.Group.ID,
		Actionable: accepted,
		Data:       data,
	})
}

func (r *Router) routeInvitation(data json.RawMessage) {
	var payload struct {
		Actor     *wireActor `json:"actor"`
		GroupID   string     `json:"group_id"`
		GroupName string     `json:"group_name"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Warn("dropping undecodable group invitation", "error", err)
		return
	}
	actor := payload.Actor.toActor()

	r.emit(&domain.UINotification{
		Kind:       domain.EventGroupInvitation,
		Title:      "Group Invitation",
		Body:       fmt.Sprintf("%s invited you to join a group", actor.DisplayName()),
		Actor:      actor,
		GroupID:    payload.GroupID,
		Actionable: true,
		Data:       data,
	})
}

func (r *Router) routeViewInvitation(data json.RawMessage) {
	var payload struct {
		GroupID    string `json:"group_id"`
		GroupTitle string `json:"group_title"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		r.logger.Warn("dropping undecodable group suggestion", "error", err)
		return
	}

	r.emit(&domain.UINotification{
		Kind:       domain.EventGroupViewInvitation,
		Title:      "Group Suggestion",
		Body:       fmt.Sprintf("Someone suggested you check out %q", payload.GroupTitle),
		GroupID:    payload.GroupID,
		Actionable: true,
		Data:       data,
	})
}

func (r *Router) routeGroupEvent(env domain.Envelope) {
	var event domain.GroupEvent
	if err := json.Unmarshal(env.Data, &event); err != nil {
		r.logger.Warn("dropping undecodable group event", "error", err)
		return
	}

	r.emit(&domain.UINotification{
		Kind:  domain.EventGroupEvent,
		Title: "New Event Created",
		Body:  fmt.Sprintf("Event %q has been created", event.Title),
		Data:  env.Data,
	})
}

// emit stamps, persists, and publishes a routed notification.
func (r *Router) emit(n *domain.UINotification) {
	n.ID = newNotificationID()
	n.CreatedAt = time.Now()

	if r.inbox != nil {
		if err := r.inbox.Insert(n); err != nil {
			r.logger.Warn("failed to persist notification", "id", n.ID, "error", err)
		}
	}

	r.bus.Publish(domain.Event{
		Type:      n.Kind,
		Timestamp: n.CreatedAt,
		Payload:   n,
	})
}

func newNotificationID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
