package ws

import (
	"context"
	"errors"

	"chat-server/internal/chat"
	"chat-server/internal/presence"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client operation names.
const (
	OpSendPrivate   = "send_private"
	OpSendGroup     = "send_group"
	OpSendBroadcast = "send_broadcast"
	OpJoinGroup     = "join_group"
	OpLeaveGroup    = "leave_group"
	OpTypingStart   = "typing_start"
	OpTypingStop    = "typing_stop"
	OpMarkRead      = "mark_read"
	OpSetStatus     = "set_status"
)

// ClientOp is one inbound operation. The session's authenticated identity
// is always the sender for authorization purposes; a client-supplied "from"
// is never trusted.
type ClientOp struct {
	Op        string `json:"op"`
	To        string `json:"to,omitempty"`
	Body      string `json:"body,omitempty"`
	GroupID   uint   `json:"group_id,omitempty"`
	MessageID uint   `json:"message_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// readLoop takes one operation at a time off the wire and calls the router
// synchronously. A dispatch already in flight finishes even if the
// connection drops mid-call.
func (h *Hub) readLoop(c *Client) {
	for {
		var op ClientOp
		if err := wsjson.Read(c.ctx, c.conn, &op); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && c.ctx.Err() == nil {
				h.log.Debug("read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		h.dispatch(c, op)
	}
}

func (h *Hub) dispatch(c *Client, op ClientOp) {
	ctx := context.Background()

	var err error
	switch op.Op {
	case OpSendPrivate:
		err = h.router.SendPrivate(ctx, c.username, op.To, op.Body)
	case OpSendGroup:
		err = h.router.SendGroup(ctx, op.GroupID, c.username, op.Body)
	case OpSendBroadcast:
		err = h.router.SendBroadcast(ctx, c.username, op.Body)
	case OpJoinGroup:
		err = h.router.JoinGroupRoom(ctx, op.GroupID, c.username)
	case OpLeaveGroup:
		err = h.router.LeaveGroupRoom(ctx, op.GroupID, c.username)
	case OpTypingStart:
		err = h.router.StartTyping(ctx, c.username, op.To)
	case OpTypingStop:
		err = h.router.StopTyping(ctx, c.username, op.To)
	case OpMarkRead:
		err = h.router.MarkRead(ctx, op.MessageID, c.username)
	case OpSetStatus:
		err = h.setStatus(c, op.Status)
	default:
		err = chat.ErrValidation
	}

	if err != nil {
		// Failures go back to the originating connection only, as a typed
		// error event, never broadcast.
		c.Send(chat.Event{Type: chat.EventError, Data: chat.ErrorPayload{
			Op:      op.Op,
			Message: safeMessage(err),
		}})
	}
}

func (h *Hub) setStatus(c *Client, status string) error {
	switch presence.Status(status) {
	case presence.Online, presence.Offline, presence.Busy, presence.Away:
		return h.registry.SetStatus(c.username, presence.Status(status))
	default:
		return chat.ErrValidation
	}
}

// safeMessage keeps internal failure detail out of client-visible errors.
func safeMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrValidation),
		errors.Is(err, chat.ErrSenderNotFound),
		errors.Is(err, chat.ErrRecipientNotFound),
		errors.Is(err, chat.ErrNotAMember),
		errors.Is(err, chat.ErrNotAnAdmin),
		errors.Is(err, chat.ErrDeliveryFailed):
		return err.Error()
	case errors.Is(err, chat.ErrPersistence):
		// Storage detail stays server-side.
		return chat.ErrPersistence.Error()
	case errors.Is(err, presence.ErrInvalidState):
		return "invalid status change"
	default:
		return "internal error"
	}
}
