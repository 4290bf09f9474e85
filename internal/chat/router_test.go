package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chat-server/internal/crypto"
	"chat-server/internal/models"
	"chat-server/internal/presence"
)

type stubUsers struct {
	byName map[string]*models.User
}

func (s *stubUsers) FindByUsername(_ context.Context, username string) (*models.User, error) {
	return s.byName[username], nil
}

func (s *stubUsers) FindByID(_ context.Context, id uint) (*models.User, error) {
	for _, u := range s.byName {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

type stubBlocks struct {
	pairs map[[2]uint]bool
}

func (s *stubBlocks) BlockedEither(_ context.Context, a, b uint) (bool, error) {
	return s.pairs[[2]uint{a, b}] || s.pairs[[2]uint{b, a}], nil
}

type stubGroups struct {
	mu       sync.Mutex
	members  map[uint][]uint // groupID → active member ids
	admins   map[uint][]uint
	appended []models.ChatMessage
	nextID   uint
}

func (s *stubGroups) IsMember(_ context.Context, groupID, userID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.members[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubGroups) IsAdmin(_ context.Context, groupID, userID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.admins[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubGroups) ActiveMemberIDs(_ context.Context, groupID uint) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint(nil), s.members[groupID]...), nil
}

func (s *stubGroups) AppendMessage(_ context.Context, groupID, fromUserID uint, body string) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg := models.ChatMessage{
		ID:          s.nextID,
		FromUserID:  fromUserID,
		Body:        body,
		Timestamp:   time.Now().UTC(),
		MessageType: models.MessageGroup,
		GroupID:     &groupID,
	}
	s.appended = append(s.appended, msg)
	return &msg, nil
}

func (s *stubGroups) Messages(_ context.Context, groupID uint, _ int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range s.appended {
		if m.GroupID != nil && *m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubGroups) removeMember(groupID, userID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.members[groupID][:0]
	for _, id := range s.members[groupID] {
		if id != userID {
			kept = append(kept, id)
		}
	}
	s.members[groupID] = kept
}

type stubMessages struct {
	mu     sync.Mutex
	stored []models.ChatMessage
	nextID uint
	delay  time.Duration
	fail   bool
}

func (s *stubMessages) Append(_ context.Context, msg *models.ChatMessage) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store down")
	}
	s.nextID++
	msg.ID = s.nextID
	msg.Timestamp = time.Now().UTC()
	s.stored = append(s.stored, *msg)
	return nil
}

func (s *stubMessages) Conversation(_ context.Context, a, b uint) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range s.stored {
		if m.ToUserID == nil {
			continue
		}
		if (m.FromUserID == a && *m.ToUserID == b) || (m.FromUserID == b && *m.ToUserID == a) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubMessages) PublicHistory(_ context.Context, _ int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range s.stored {
		if m.MessageType == models.MessagePublic {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubMessages) Find(_ context.Context, id uint) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.stored {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubMessages) MarkRead(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.stored {
		if s.stored[i].ID == id {
			s.stored[i].IsRead = true
		}
	}
	return nil
}

func (s *stubMessages) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

type fakeConn struct {
	mu   sync.Mutex
	id   string
	evts []Event
}

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Send(v any) bool {
	ev, ok := v.(Event)
	if !ok {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evts = append(f.evts, ev)
	return true
}

func (f *fakeConn) events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.evts...)
}

func (f *fakeConn) eventTypes() []string {
	var out []string
	for _, ev := range f.events() {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	router   *Router
	registry *presence.Registry
	users    *stubUsers
	groups   *stubGroups
	blocks   *stubBlocks
	messages *stubMessages
	cipher   *crypto.Cipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cipher, err := crypto.New("router-test-key")
	if err != nil {
		t.Fatal(err)
	}

	users := &stubUsers{byName: map[string]*models.User{
		"alice": {ID: 1, Username: "alice"},
		"bob":   {ID: 2, Username: "bob"},
		"carol": {ID: 3, Username: "carol"},
	}}
	groups := &stubGroups{
		members: map[uint][]uint{10: {1, 2}},
		admins:  map[uint][]uint{10: {1}},
	}
	blocks := &stubBlocks{pairs: map[[2]uint]bool{}}
	messages := &stubMessages{}
	registry := presence.NewRegistry(nil)

	router := NewRouter(users, groups, blocks, messages, cipher, registry, nil, nil)
	return &fixture{
		router:   router,
		registry: registry,
		users:    users,
		groups:   groups,
		blocks:   blocks,
		messages: messages,
		cipher:   cipher,
	}
}

func (f *fixture) connect(t *testing.T, username, connID string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: connID}
	f.registry.Register(username, c)
	return c
}

func TestSendPrivateDeliversAndPersists(t *testing.T) {
	f := newFixture(t)
	ca := f.connect(t, "alice", "ca")
	cb := f.connect(t, "bob", "cb")

	if err := f.router.SendPrivate(context.Background(), "alice", "bob", "hello"); err != nil {
		t.Fatal(err)
	}

	if got := f.messages.count(); got != 1 {
		t.Fatalf("expected 1 stored message, got %d", got)
	}
	stored := f.messages.stored[0]
	if stored.Body == "hello" {
		t.Fatal("stored body must be encrypted, found plaintext")
	}
	plain, err := f.cipher.Decrypt(stored.Body)
	if err != nil || plain != "hello" {
		t.Fatalf("expected stored body to decrypt to hello, got %q err %v", plain, err)
	}

	// Recipient gets the message, sender's devices get a confirmation,
	// both with the plaintext body.
	bobEvents := cb.events()
	if len(bobEvents) != 1 || bobEvents[0].Type != EventMessageReceived {
		t.Fatalf("expected one message:received for bob, got %v", cb.eventTypes())
	}
	if p := bobEvents[0].Data.(MessagePayload); p.Body != "hello" || p.From != "alice" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	aliceEvents := ca.events()
	if len(aliceEvents) != 1 || aliceEvents[0].Type != EventMessageSent {
		t.Fatalf("expected one message:sent for alice, got %v", ca.eventTypes())
	}
}

func TestSendPrivateOfflineRecipientStillPersists(t *testing.T) {
	f := newFixture(t)

	if err := f.router.SendPrivate(context.Background(), "alice", "bob", "hi"); err != nil {
		t.Fatal(err)
	}
	if got := f.messages.count(); got != 1 {
		t.Fatalf("persist-and-drop: expected 1 stored message, got %d", got)
	}
}

func TestSendPrivateUnknownRecipient(t *testing.T) {
	f := newFixture(t)

	err := f.router.SendPrivate(context.Background(), "alice", "ghost", "hi")
	if !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
	if got := f.messages.count(); got != 0 {
		t.Fatalf("store must not be touched, found %d records", got)
	}
}

func TestSendPrivateUnknownSender(t *testing.T) {
	f := newFixture(t)

	err := f.router.SendPrivate(context.Background(), "ghost", "bob", "hi")
	if !errors.Is(err, ErrSenderNotFound) {
		t.Fatalf("expected ErrSenderNotFound, got %v", err)
	}
	if got := f.messages.count(); got != 0 {
		t.Fatalf("store must not be touched, found %d records", got)
	}
}

func TestSendPrivateTooLong(t *testing.T) {
	f := newFixture(t)

	body := strings.Repeat("x", MaxMessageLength+1)
	err := f.router.SendPrivate(context.Background(), "alice", "bob", body)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if got := f.messages.count(); got != 0 {
		t.Fatalf("store must not be touched, found %d records", got)
	}

	// Exactly at the limit is fine.
	if err := f.router.SendPrivate(context.Background(), "alice", "bob", strings.Repeat("x", MaxMessageLength)); err != nil {
		t.Fatalf("expected max-length body to pass, got %v", err)
	}
}

func TestSendPrivateBlockedPairFailsGenerically(t *testing.T) {
	f := newFixture(t)
	cb := f.connect(t, "bob", "cb")

	f.blocks.pairs[[2]uint{2, 1}] = true // bob blocked alice

	err := f.router.SendPrivate(context.Background(), "alice", "bob", "hi")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected generic ErrDeliveryFailed, got %v", err)
	}
	if got := f.messages.count(); got != 0 {
		t.Fatalf("blocked send must not persist, found %d records", got)
	}
	if got := len(cb.events()); got != 0 {
		t.Fatalf("blocked send must not push, got %d events", got)
	}
}

func TestPersistenceFailureStopsFanout(t *testing.T) {
	f := newFixture(t)
	cb := f.connect(t, "bob", "cb")

	f.messages.fail = true
	err := f.router.SendPrivate(context.Background(), "alice", "bob", "hi")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if got := len(cb.events()); got != 0 {
		t.Fatalf("no fan-out after failed persist, got %d events", got)
	}
}

func TestSendGroupFanoutIncludesSender(t *testing.T) {
	f := newFixture(t)
	ca := f.connect(t, "alice", "ca")
	cb := f.connect(t, "bob", "cb")
	cc := f.connect(t, "carol", "cc") // not a member of group 10

	if err := f.router.SendGroup(context.Background(), 10, "alice", "hey group"); err != nil {
		t.Fatal(err)
	}

	for name, conn := range map[string]*fakeConn{"alice": ca, "bob": cb} {
		evts := conn.events()
		if len(evts) != 1 || evts[0].Type != EventGroupMessage {
			t.Fatalf("expected group:message for %s, got %v", name, conn.eventTypes())
		}
		if p := evts[0].Data.(GroupMessagePayload); p.Body != "hey group" || p.GroupID != 10 {
			t.Fatalf("unexpected payload for %s: %+v", name, p)
		}
	}
	if got := len(cc.events()); got != 0 {
		t.Fatalf("non-member must not receive group messages, got %d", got)
	}

	if got := len(f.groups.appended); got != 1 {
		t.Fatalf("expected 1 group message stored, got %d", got)
	}
	if plain, err := f.cipher.Decrypt(f.groups.appended[0].Body); err != nil || plain != "hey group" {
		t.Fatalf("stored group body must decrypt, got %q err %v", plain, err)
	}
}

func TestSendGroupNonMember(t *testing.T) {
	f := newFixture(t)

	err := f.router.SendGroup(context.Background(), 10, "carol", "let me in")
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	if got := len(f.groups.appended); got != 0 {
		t.Fatalf("store must not be touched, found %d records", got)
	}
}

func TestSendGroupAfterRemoval(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "bob", "cb")

	if err := f.router.SendGroup(context.Background(), 10, "bob", "first"); err != nil {
		t.Fatal(err)
	}

	// Admin removes bob; bob's connection never dropped, but the very next
	// send must fail the membership gate.
	f.groups.removeMember(10, 2)

	err := f.router.SendGroup(context.Background(), 10, "bob", "second")
	if !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember after removal, got %v", err)
	}
	if got := len(f.groups.appended); got != 1 {
		t.Fatalf("expected only the first message stored, got %d", got)
	}
}

func TestSendBroadcast(t *testing.T) {
	f := newFixture(t)
	ca := f.connect(t, "alice", "ca")
	cc := f.connect(t, "carol", "cc")

	if err := f.router.SendBroadcast(context.Background(), "alice", "hello everyone"); err != nil {
		t.Fatal(err)
	}

	for name, conn := range map[string]*fakeConn{"alice": ca, "carol": cc} {
		evts := conn.events()
		if len(evts) != 1 || evts[0].Type != EventBroadcastReceived {
			t.Fatalf("expected broadcast for %s, got %v", name, conn.eventTypes())
		}
	}

	if got := f.messages.count(); got != 1 {
		t.Fatalf("expected 1 stored broadcast, got %d", got)
	}
	stored := f.messages.stored[0]
	if stored.To != models.GeneralChatUsername || !stored.IsRead {
		t.Fatalf("broadcast must store under the general identity as read, got %+v", stored)
	}
}

func TestTypingIsEphemeral(t *testing.T) {
	f := newFixture(t)
	ca := f.connect(t, "alice", "ca")
	cb := f.connect(t, "bob", "cb")

	if err := f.router.StartTyping(context.Background(), "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if err := f.router.StopTyping(context.Background(), "alice", "bob"); err != nil {
		t.Fatal(err)
	}

	types := cb.eventTypes()
	if len(types) != 2 || types[0] != EventTypingStarted || types[1] != EventTypingStopped {
		t.Fatalf("expected typing start+stop for bob, got %v", types)
	}
	if got := len(ca.events()); got != 0 {
		t.Fatalf("typing must only reach the target, sender got %d events", got)
	}
	if got := f.messages.count(); got != 0 {
		t.Fatalf("typing must not persist, found %d records", got)
	}

	if err := f.router.StartTyping(context.Background(), "alice", "ghost"); !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ca := f.connect(t, "alice", "ca")

	if err := f.router.SendPrivate(context.Background(), "alice", "bob", "read me"); err != nil {
		t.Fatal(err)
	}
	msgID := f.messages.stored[0].ID
	ca.mu.Lock()
	ca.evts = nil
	ca.mu.Unlock()

	// Only the addressee may mark it; others are silently ignored.
	if err := f.router.MarkRead(context.Background(), msgID, "carol"); err != nil {
		t.Fatal(err)
	}
	if f.messages.stored[0].IsRead {
		t.Fatal("non-addressee must not flip the read flag")
	}

	if err := f.router.MarkRead(context.Background(), msgID, "bob"); err != nil {
		t.Fatal(err)
	}
	if !f.messages.stored[0].IsRead {
		t.Fatal("expected message marked read")
	}

	types := ca.eventTypes()
	if len(types) != 1 || types[0] != EventMessageRead {
		t.Fatalf("expected message:read for sender, got %v", types)
	}
}

func TestMemberNotificationsAdminGated(t *testing.T) {
	f := newFixture(t)
	cb := f.connect(t, "bob", "cb")

	err := f.router.NotifyMemberAdded(context.Background(), 10, "bob", 3)
	if !errors.Is(err, ErrNotAnAdmin) {
		t.Fatalf("expected ErrNotAnAdmin, got %v", err)
	}

	if err := f.router.NotifyMemberAdded(context.Background(), 10, "alice", 3); err != nil {
		t.Fatal(err)
	}
	types := cb.eventTypes()
	if len(types) != 1 || types[0] != EventGroupMemberAdded {
		t.Fatalf("expected group:member_added, got %v", types)
	}
}

func TestJoinGroupRoomRequiresMembership(t *testing.T) {
	f := newFixture(t)
	cb := f.connect(t, "bob", "cb")

	if err := f.router.JoinGroupRoom(context.Background(), 10, "carol"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}

	if err := f.router.JoinGroupRoom(context.Background(), 10, "alice"); err != nil {
		t.Fatal(err)
	}
	types := cb.eventTypes()
	if len(types) != 1 || types[0] != EventGroupUserJoined {
		t.Fatalf("expected group:user_joined, got %v", types)
	}
}

func TestPrivateHistoryDecryptsAndToleratesGarbage(t *testing.T) {
	f := newFixture(t)

	if err := f.router.SendPrivate(context.Background(), "alice", "bob", "first"); err != nil {
		t.Fatal(err)
	}

	// A corrupted row must come back with an empty body, not abort the
	// batch.
	bobID := uint(2)
	f.messages.stored = append(f.messages.stored, models.ChatMessage{
		ID:          99,
		FromUserID:  1,
		ToUserID:    &bobID,
		From:        "alice",
		To:          "bob",
		Body:        "not-a-ciphertext",
		MessageType: models.MessagePrivate,
	})

	msgs, err := f.router.PrivateHistory(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(msgs))
	}
	if msgs[0].Body != "first" {
		t.Fatalf("expected decrypted body, got %q", msgs[0].Body)
	}
	if msgs[1].Body != "" {
		t.Fatalf("expected empty body for corrupted record, got %q", msgs[1].Body)
	}
}

// Two senders into two different conversations must overlap in the store:
// with a per-append delay, serialized dispatches would take at least twice
// the delay.
func TestConcurrentDispatchesDoNotSerialize(t *testing.T) {
	f := newFixture(t)
	f.messages.delay = 150 * time.Millisecond

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = f.router.SendPrivate(context.Background(), "alice", "bob", "a→b")
	}()
	go func() {
		defer wg.Done()
		errs[1] = f.router.SendPrivate(context.Background(), "carol", "alice", "c→a")
	}()
	wg.Wait()
	elapsed := time.Since(start)

	for i, err := range errs {
		if err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if got := f.messages.count(); got != 2 {
		t.Fatalf("expected both messages persisted, got %d", got)
	}
	if elapsed >= 280*time.Millisecond {
		t.Fatalf("dispatches appear serialized: took %v", elapsed)
	}
}
