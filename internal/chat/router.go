package chat

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"chat-server/internal/models"
	"chat-server/internal/presence"
)

// MaxMessageLength bounds the plaintext body of a live chat message. The
// stored column is wider to absorb encryption and base64 growth.
const MaxMessageLength = 500

// UserDirectory resolves identities. A nil user with a nil error means the
// user does not exist.
type UserDirectory interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

type BlockStore interface {
	// BlockedEither reports whether either user has blocked the other.
	BlockedEither(ctx context.Context, userID, otherID uint) (bool, error)
}

// GroupStore is the membership oracle plus the group message append path.
type GroupStore interface {
	IsMember(ctx context.Context, groupID, userID uint) (bool, error)
	IsAdmin(ctx context.Context, groupID, userID uint) (bool, error)
	ActiveMemberIDs(ctx context.Context, groupID uint) ([]uint, error)
	AppendMessage(ctx context.Context, groupID, fromUserID uint, encryptedBody string) (*models.ChatMessage, error)
	Messages(ctx context.Context, groupID uint, limit int) ([]models.ChatMessage, error)
}

type MessageStore interface {
	// Append assigns the message id and the persistence-time UTC timestamp.
	Append(ctx context.Context, msg *models.ChatMessage) error
	Conversation(ctx context.Context, userA, userB uint) ([]models.ChatMessage, error)
	PublicHistory(ctx context.Context, limit int) ([]models.ChatMessage, error)
	Find(ctx context.Context, id uint) (*models.ChatMessage, error)
	MarkRead(ctx context.Context, id uint) error
}

type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Publisher is the outbound pub/sub seam. Failures are logged, never
// surfaced to the sender: the message is already durably stored.
type Publisher interface {
	PublishMessage(ctx context.Context, routingKey string, msg *models.ChatMessage) error
	PublishPresence(ctx context.Context, username, status string) error
}

// Router is the single authorized path through which any message enters the
// system. It holds no per-call mutable state; every dispatch is a complete
// validate→authorize→persist→fan-out transaction and dispatches for
// unrelated conversations never serialize on each other.
type Router struct {
	users    UserDirectory
	groups   GroupStore
	blocks   BlockStore
	messages MessageStore
	cipher   Cipher
	registry *presence.Registry
	pub      Publisher
	log      *slog.Logger
}

func NewRouter(
	users UserDirectory,
	groups GroupStore,
	blocks BlockStore,
	messages MessageStore,
	cipher Cipher,
	registry *presence.Registry,
	pub Publisher,
	log *slog.Logger,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		users:    users,
		groups:   groups,
		blocks:   blocks,
		messages: messages,
		cipher:   cipher,
		registry: registry,
		pub:      pub,
		log:      log,
	}
}

// SendPrivate runs the full dispatch for a direct message. Persistence
// happens before any fan-out; if the store append fails nothing is pushed.
func (r *Router) SendPrivate(ctx context.Context, from, to, body string) error {
	if err := validateBody(from, to, body); err != nil {
		return err
	}

	fromUser, err := r.users.FindByUsername(ctx, from)
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}
	if fromUser == nil {
		return ErrSenderNotFound
	}
	toUser, err := r.users.FindByUsername(ctx, to)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if toUser == nil {
		return ErrRecipientNotFound
	}

	blocked, err := r.blocks.BlockedEither(ctx, fromUser.ID, toUser.ID)
	if err != nil {
		return fmt.Errorf("block check: %w", err)
	}
	if blocked {
		// Generic failure on purpose: the sender must not learn a block
		// exists. Nothing is persisted.
		r.log.Debug("private send suppressed by block", "from", from, "to", to)
		return ErrDeliveryFailed
	}

	encrypted, err := r.cipher.Encrypt(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	msg := &models.ChatMessage{
		FromUserID:  fromUser.ID,
		ToUserID:    &toUser.ID,
		From:        from,
		To:          to,
		Body:        encrypted,
		MessageType: models.MessagePrivate,
	}
	if err := r.messages.Append(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	payload := MessagePayload{
		MessageID:       msg.ID,
		From:            from,
		To:              to,
		Body:            body, // plaintext, live display only
		Timestamp:       msg.Timestamp,
		MessageType:     models.MessagePrivate,
		ProfileImageURL: fromUser.ProfileImageURL,
	}
	r.push(r.registry.Resolve(to), Event{Type: EventMessageReceived, Data: payload})
	// Sender's other devices see a send confirmation.
	r.push(r.registry.Resolve(from), Event{Type: EventMessageSent, Data: payload})

	r.publish(ctx, to, msg)
	r.log.Info("private message delivered", "from", from, "to", to, "message_id", msg.ID)
	return nil
}

// SendBroadcast persists under the synthetic general-chat identity and
// pushes to every live connection. Broadcast has no membership check.
func (r *Router) SendBroadcast(ctx context.Context, from, body string) error {
	if err := validateBody(from, from, body); err != nil {
		return err
	}

	fromUser, err := r.users.FindByUsername(ctx, from)
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}
	if fromUser == nil {
		return ErrSenderNotFound
	}

	encrypted, err := r.cipher.Encrypt(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	generalID := uint(models.GeneralChatUserID)
	msg := &models.ChatMessage{
		FromUserID:  fromUser.ID,
		ToUserID:    &generalID,
		From:        from,
		To:          models.GeneralChatUsername,
		Body:        encrypted,
		MessageType: models.MessagePublic,
		IsRead:      true, // public messages count as read on arrival
	}
	if err := r.messages.Append(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	r.push(r.registry.All(), Event{Type: EventBroadcastReceived, Data: MessagePayload{
		MessageID:       msg.ID,
		From:            from,
		Body:            body,
		Timestamp:       msg.Timestamp,
		MessageType:     models.MessagePublic,
		ProfileImageURL: fromUser.ProfileImageURL,
	}})

	r.publish(ctx, "broadcast", msg)
	r.log.Info("broadcast delivered", "from", from, "message_id", msg.ID)
	return nil
}

// SendGroup dispatches a message into a group. Membership is resolved
// through the group store on every send, so an admin removal takes effect
// for the removed user's very next message.
func (r *Router) SendGroup(ctx context.Context, groupID uint, from, body string) error {
	if err := validateBody(from, from, body); err != nil {
		return err
	}

	fromUser, err := r.users.FindByUsername(ctx, from)
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}
	if fromUser == nil {
		return ErrSenderNotFound
	}

	member, err := r.groups.IsMember(ctx, groupID, fromUser.ID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return ErrNotAMember
	}

	encrypted, err := r.cipher.Encrypt(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	msg, err := r.groups.AppendMessage(ctx, groupID, fromUser.ID, encrypted)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	displayName := fromUser.DisplayName
	if displayName == "" {
		displayName = fromUser.Username
	}
	ev := Event{Type: EventGroupMessage, Data: GroupMessagePayload{
		MessageID:       msg.ID,
		GroupID:         groupID,
		FromUserID:      fromUser.ID,
		FromUsername:    fromUser.Username,
		FromDisplayName: displayName,
		ProfileImageURL: fromUser.ProfileImageURL,
		Body:            body,
		Timestamp:       msg.Timestamp,
	}}
	r.pushToGroup(ctx, groupID, ev)

	r.publish(ctx, fmt.Sprintf("group.%d", groupID), msg)
	r.log.Info("group message delivered", "group_id", groupID, "from", from, "message_id", msg.ID)
	return nil
}

// JoinGroupRoom announces a member's arrival panel-side. Membership-gated;
// there is no separate transport room state to mutate, fan-out always
// resolves current membership.
func (r *Router) JoinGroupRoom(ctx context.Context, groupID uint, username string) error {
	user, err := r.users.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	if user == nil {
		return ErrSenderNotFound
	}

	member, err := r.groups.IsMember(ctx, groupID, user.ID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return ErrNotAMember
	}

	r.pushToGroup(ctx, groupID, Event{Type: EventGroupUserJoined, Data: RoomPayload{
		GroupID:  groupID,
		UserID:   user.ID,
		Username: username,
	}})
	return nil
}

func (r *Router) LeaveGroupRoom(ctx context.Context, groupID uint, username string) error {
	user, err := r.users.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("resolve user: %w", err)
	}
	if user == nil {
		return ErrSenderNotFound
	}

	r.pushToGroup(ctx, groupID, Event{Type: EventGroupUserLeft, Data: RoomPayload{
		GroupID:  groupID,
		UserID:   user.ID,
		Username: username,
	}})
	return nil
}

// NotifyMemberAdded pushes the roster change to current members. Only
// admins may drive it; the store mutation itself is admin-gated too.
func (r *Router) NotifyMemberAdded(ctx context.Context, groupID uint, actor string, memberID uint) error {
	actorUser, err := r.users.FindByUsername(ctx, actor)
	if err != nil {
		return fmt.Errorf("resolve actor: %w", err)
	}
	if actorUser == nil {
		return ErrSenderNotFound
	}
	admin, err := r.groups.IsAdmin(ctx, groupID, actorUser.ID)
	if err != nil {
		return fmt.Errorf("admin check: %w", err)
	}
	if !admin {
		return ErrNotAnAdmin
	}

	member, err := r.users.FindByID(ctx, memberID)
	if err != nil {
		return fmt.Errorf("resolve member: %w", err)
	}
	if member == nil {
		return ErrRecipientNotFound
	}

	displayName := member.DisplayName
	if displayName == "" {
		displayName = member.Username
	}
	r.pushToGroup(ctx, groupID, Event{Type: EventGroupMemberAdded, Data: MemberPayload{
		GroupID:           groupID,
		MemberID:          memberID,
		MemberUsername:    member.Username,
		MemberDisplayName: displayName,
		ActorID:           actorUser.ID,
	}})
	return nil
}

// NotifyMemberRemoved pushes the roster change to the remaining members
// after the store has dropped the row. The removed user no longer resolves
// through the group fan-out set, so their own devices get a direct push.
func (r *Router) NotifyMemberRemoved(ctx context.Context, groupID uint, actor string, memberID uint) error {
	actorUser, err := r.users.FindByUsername(ctx, actor)
	if err != nil {
		return fmt.Errorf("resolve actor: %w", err)
	}
	if actorUser == nil {
		return ErrSenderNotFound
	}
	admin, err := r.groups.IsAdmin(ctx, groupID, actorUser.ID)
	if err != nil {
		return fmt.Errorf("admin check: %w", err)
	}
	if !admin && actorUser.ID != memberID {
		return ErrNotAnAdmin
	}

	member, err := r.users.FindByID(ctx, memberID)
	if err != nil {
		return fmt.Errorf("resolve member: %w", err)
	}
	username := ""
	if member != nil {
		username = member.Username
	}

	ev := Event{Type: EventGroupMemberRemoved, Data: MemberPayload{
		GroupID:        groupID,
		MemberID:       memberID,
		MemberUsername: username,
		ActorID:        actorUser.ID,
	}}
	r.pushToGroup(ctx, groupID, ev)
	// The removed user's own devices learn about it too.
	if username != "" {
		r.push(r.registry.Resolve(username), ev)
	}
	return nil
}

func (r *Router) NotifyGroupUpdated(ctx context.Context, groupID uint, actor, name, description string) error {
	actorUser, err := r.users.FindByUsername(ctx, actor)
	if err != nil {
		return fmt.Errorf("resolve actor: %w", err)
	}
	if actorUser == nil {
		return ErrSenderNotFound
	}
	admin, err := r.groups.IsAdmin(ctx, groupID, actorUser.ID)
	if err != nil {
		return fmt.Errorf("admin check: %w", err)
	}
	if !admin {
		return ErrNotAnAdmin
	}

	r.pushToGroup(ctx, groupID, Event{Type: EventGroupUpdated, Data: GroupUpdatedPayload{
		GroupID:     groupID,
		Name:        name,
		Description: description,
		ActorID:     actorUser.ID,
	}})
	return nil
}

// StartTyping is fire-and-forget: no authorization beyond both identities
// resolving, no persistence, loss is not an error.
func (r *Router) StartTyping(ctx context.Context, from, to string) error {
	return r.typing(ctx, from, to, EventTypingStarted)
}

func (r *Router) StopTyping(ctx context.Context, from, to string) error {
	return r.typing(ctx, from, to, EventTypingStopped)
}

func (r *Router) typing(ctx context.Context, from, to, eventType string) error {
	if from == "" || to == "" {
		return ErrValidation
	}
	fromUser, err := r.users.FindByUsername(ctx, from)
	if err != nil {
		return fmt.Errorf("resolve sender: %w", err)
	}
	if fromUser == nil {
		return ErrSenderNotFound
	}
	toUser, err := r.users.FindByUsername(ctx, to)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if toUser == nil {
		return ErrRecipientNotFound
	}

	r.push(r.registry.Resolve(to), Event{Type: eventType, Data: TypingPayload{From: from, To: to}})
	return nil
}

// MarkRead flips the read flag and tells the sender's devices. Unlike
// every other operation it can return success without having done
// anything: a message that does not exist or was not addressed to the
// caller is ignored, so callers cannot probe which message ids exist.
func (r *Router) MarkRead(ctx context.Context, messageID uint, byUsername string) error {
	msg, err := r.messages.Find(ctx, messageID)
	if err != nil {
		return fmt.Errorf("find message: %w", err)
	}
	if msg == nil || msg.To != byUsername {
		return nil
	}
	if err := r.messages.MarkRead(ctx, messageID); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	r.push(r.registry.Resolve(msg.From), Event{Type: EventMessageRead, Data: ReadPayload{
		MessageID: messageID,
		ReadBy:    byUsername,
	}})
	return nil
}

// PresenceChanged fans a status transition out to everyone and mirrors it
// to the pub/sub seam. Wired as the registry's change callback.
func (r *Router) PresenceChanged(username string, status presence.Status) {
	r.push(r.registry.All(), Event{Type: EventPresenceChanged, Data: PresencePayload{
		Username: username,
		Status:   string(status),
	}})
	if r.pub != nil {
		if err := r.pub.PublishPresence(context.Background(), username, string(status)); err != nil {
			r.log.Warn("presence publish failed", "username", username, "error", err)
		}
	}
}

// PrivateHistory returns the conversation with bodies decrypted. A record
// that fails to decrypt comes back with an empty body rather than aborting
// the batch.
func (r *Router) PrivateHistory(ctx context.Context, userA, userB string) ([]MessagePayload, error) {
	a, err := r.users.FindByUsername(ctx, userA)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if a == nil {
		return nil, ErrSenderNotFound
	}
	b, err := r.users.FindByUsername(ctx, userB)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if b == nil {
		return nil, ErrRecipientNotFound
	}

	msgs, err := r.messages.Conversation(ctx, a.ID, b.ID)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return r.decryptAll(msgs), nil
}

func (r *Router) PublicHistory(ctx context.Context, limit int) ([]MessagePayload, error) {
	msgs, err := r.messages.PublicHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query public history: %w", err)
	}
	return r.decryptAll(msgs), nil
}

func (r *Router) GroupHistory(ctx context.Context, groupID uint, username string, limit int) ([]MessagePayload, error) {
	user, err := r.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if user == nil {
		return nil, ErrSenderNotFound
	}
	member, err := r.groups.IsMember(ctx, groupID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return nil, ErrNotAMember
	}

	msgs, err := r.groups.Messages(ctx, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("query group history: %w", err)
	}
	return r.decryptAll(msgs), nil
}

func (r *Router) decryptAll(msgs []models.ChatMessage) []MessagePayload {
	out := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		body, err := r.cipher.Decrypt(m.Body)
		if err != nil {
			r.log.Warn("undecryptable message body", "message_id", m.ID)
			body = ""
		}
		out = append(out, MessagePayload{
			MessageID:   m.ID,
			From:        m.From,
			To:          m.To,
			Body:        body,
			Timestamp:   m.Timestamp,
			MessageType: m.MessageType,
		})
	}
	return out
}

// pushToGroup resolves the current active member set and pushes to every
// member's connections, sender included.
func (r *Router) pushToGroup(ctx context.Context, groupID uint, ev Event) {
	memberIDs, err := r.groups.ActiveMemberIDs(ctx, groupID)
	if err != nil {
		r.log.Warn("group fan-out member lookup failed", "group_id", groupID, "error", err)
		return
	}
	for _, id := range memberIDs {
		user, err := r.users.FindByID(ctx, id)
		if err != nil || user == nil {
			continue
		}
		r.push(r.registry.Resolve(user.Username), ev)
	}
}

// push delivers best-effort. A dead or saturated connection is a delivery
// miss, not an error: the message is already in history.
func (r *Router) push(conns []presence.Conn, ev Event) {
	for _, c := range conns {
		if !c.Send(ev) {
			r.log.Debug("push dropped", "conn_id", c.ID(), "event", ev.Type)
		}
	}
}

func (r *Router) publish(ctx context.Context, routingKey string, msg *models.ChatMessage) {
	if r.pub == nil {
		return
	}
	if err := r.pub.PublishMessage(ctx, routingKey, msg); err != nil {
		r.log.Warn("message publish failed", "routing_key", routingKey, "error", err)
	}
}

func validateBody(from, to, body string) error {
	if from == "" || to == "" || body == "" {
		return ErrValidation
	}
	if utf8.RuneCountInString(body) > MaxMessageLength {
		return ErrValidation
	}
	return nil
}
