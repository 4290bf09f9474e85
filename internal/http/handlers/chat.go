package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"chat-server/internal/chat"
	"chat-server/internal/http/middleware"
	"chat-server/internal/presence"
	"chat-server/internal/store"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	Users    *store.Users
	Groups   *store.Groups
	Blocks   *store.Blocks
	Messages *store.Messages
	Router   *chat.Router
	Registry *presence.Registry
}

// ListUsers backs the contact picker: every account, with live status
// overlaid from the registry rather than the persisted column.
func (h *ChatHandler) ListUsers(c *gin.Context) {
	users, err := h.Users.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	for i := range users {
		users[i].IsOnline = h.Registry.IsOnline(users[i].Username)
		users[i].UserStatus = string(h.Registry.Status(users[i].Username))
	}
	c.JSON(http.StatusOK, gin.H{"data": users})
}

// GetUnreadCount returns the caller's unread private message count, for
// the badge shown before any conversation is opened.
func (h *ChatHandler) GetUnreadCount(c *gin.Context) {
	username := middleware.MustUsername(c)

	n, err := h.Messages.UnreadCount(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// ListConversationMessages returns the decrypted private history between
// the caller and another user.
func (h *ChatHandler) ListConversationMessages(c *gin.Context) {
	username := middleware.MustUsername(c)
	other := c.Param("username")

	msgs, err := h.Router.PrivateHistory(c.Request.Context(), username, other)
	if err != nil {
		if errors.Is(err, chat.ErrRecipientNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

func (h *ChatHandler) ListPublicMessages(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 && x <= 200 {
			limit = x
		}
	}

	msgs, err := h.Router.PublicHistory(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

type createGroupReq struct {
	Name        string `json:"name" binding:"required,min=3,max=100"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
	MemberIDs   []uint `json:"member_ids"`
	IsPrivate   bool   `json:"is_private"`
}

func (h *ChatHandler) CreateGroup(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req createGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body", "error": err.Error()})
		return
	}

	group, err := h.Groups.Create(c.Request.Context(), req.Name, req.Description, req.ImageURL, userID, req.MemberIDs, req.IsPrivate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed create group", "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": group})
}

func (h *ChatHandler) ListGroups(c *gin.Context) {
	userID := middleware.MustUserID(c)

	groups, err := h.Groups.ForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": groups})
}

func (h *ChatHandler) GetGroup(c *gin.Context) {
	groupID := paramUint(c, "id")

	group, err := h.Groups.GetByID(c.Request.Context(), groupID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "group not found"})
		return
	}

	members, err := h.Groups.Members(c.Request.Context(), groupID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": group, "members": members})
}

func (h *ChatHandler) ListGroupMessages(c *gin.Context) {
	username := middleware.MustUsername(c)
	groupID := paramUint(c, "id")

	limit := 50
	if v := c.Query("limit"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 && x <= 200 {
			limit = x
		}
	}

	msgs, err := h.Router.GroupHistory(c.Request.Context(), groupID, username, limit)
	if err != nil {
		if errors.Is(err, chat.ErrNotAMember) {
			// Same answer for "no such group" and "not a member".
			c.JSON(http.StatusForbidden, gin.H{"message": "not a group member"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

type addMemberReq struct {
	UserID uint `json:"user_id" binding:"required"`
}

func (h *ChatHandler) AddGroupMember(c *gin.Context) {
	userID := middleware.MustUserID(c)
	username := middleware.MustUsername(c)
	groupID := paramUint(c, "id")

	var req addMemberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body", "error": err.Error()})
		return
	}

	if err := h.Groups.AddMember(c.Request.Context(), groupID, req.UserID, userID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotAllowed):
			c.JSON(http.StatusForbidden, gin.H{"message": "admin only"})
		case errors.Is(err, store.ErrAlreadyMember):
			c.JSON(http.StatusConflict, gin.H{"message": "already a member"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		}
		return
	}

	// Live roster update for connected members; REST result stands even if
	// nobody is online to see the push.
	_ = h.Router.NotifyMemberAdded(c.Request.Context(), groupID, username, req.UserID)

	c.JSON(http.StatusOK, gin.H{"message": "member added"})
}

func (h *ChatHandler) RemoveGroupMember(c *gin.Context) {
	userID := middleware.MustUserID(c)
	username := middleware.MustUsername(c)
	groupID := paramUint(c, "id")
	memberID := paramUint(c, "userId")

	if err := h.Groups.RemoveMember(c.Request.Context(), groupID, memberID, userID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotAllowed):
			c.JSON(http.StatusForbidden, gin.H{"message": "not allowed"})
		case errors.Is(err, store.ErrCreatorRemoval):
			c.JSON(http.StatusForbidden, gin.H{"message": "creator cannot be removed"})
		case errors.Is(err, store.ErrGroupNotFound):
			c.JSON(http.StatusNotFound, gin.H{"message": "group not found"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		}
		return
	}

	// Only after the store accepted the removal: a rejected removal must not
	// broadcast a roster change. The removed user is already outside the
	// fan-out set; the router pushes to their devices directly.
	_ = h.Router.NotifyMemberRemoved(c.Request.Context(), groupID, username, memberID)

	c.JSON(http.StatusOK, gin.H{"message": "member removed"})
}

type updateGroupReq struct {
	Name        string `json:"name" binding:"required,min=3,max=100"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

func (h *ChatHandler) UpdateGroup(c *gin.Context) {
	userID := middleware.MustUserID(c)
	username := middleware.MustUsername(c)
	groupID := paramUint(c, "id")

	var req updateGroupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body", "error": err.Error()})
		return
	}

	if err := h.Groups.Update(c.Request.Context(), groupID, req.Name, req.Description, req.ImageURL, userID); err != nil {
		switch {
		case errors.Is(err, store.ErrNotAllowed):
			c.JSON(http.StatusForbidden, gin.H{"message": "admin only"})
		case errors.Is(err, store.ErrGroupNotFound):
			c.JSON(http.StatusNotFound, gin.H{"message": "group not found"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		}
		return
	}

	_ = h.Router.NotifyGroupUpdated(c.Request.Context(), groupID, username, req.Name, req.Description)

	c.JSON(http.StatusOK, gin.H{"message": "group updated"})
}

type blockReq struct {
	UserID uint   `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

func (h *ChatHandler) BlockUser(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req blockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body", "error": err.Error()})
		return
	}

	if err := h.Blocks.Block(c.Request.Context(), userID, req.UserID, req.Reason); err != nil {
		if errors.Is(err, store.ErrSelfBlock) {
			c.JSON(http.StatusBadRequest, gin.H{"message": "cannot block yourself"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "blocked"})
}

func (h *ChatHandler) UnblockUser(c *gin.Context) {
	userID := middleware.MustUserID(c)
	blockedID := paramUint(c, "userId")

	if err := h.Blocks.Unblock(c.Request.Context(), userID, blockedID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unblocked"})
}

func (h *ChatHandler) ListBlocked(c *gin.Context) {
	userID := middleware.MustUserID(c)

	rows, err := h.Blocks.ListBlocked(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

type reportReq struct {
	UserID   uint   `json:"user_id" binding:"required"`
	Reason   string `json:"reason" binding:"required,max=500"`
	Category string `json:"category"`
}

func (h *ChatHandler) ReportUser(c *gin.Context) {
	userID := middleware.MustUserID(c)

	var req reportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body", "error": err.Error()})
		return
	}

	if err := h.Blocks.Report(c.Request.Context(), userID, req.UserID, req.Reason, req.Category); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "reported"})
}

// ListOnlineUsers serves the UI's "who is online" panel straight from the
// registry, no database round trip.
func (h *ChatHandler) ListOnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.Registry.OnlineUsers()})
}

func (h *ChatHandler) GetPresence(c *gin.Context) {
	username := c.Param("username")
	c.JSON(http.StatusOK, gin.H{
		"username": username,
		"online":   h.Registry.IsOnline(username),
		"status":   string(h.Registry.Status(username)),
	})
}

func paramUint(c *gin.Context, name string) uint {
	v, _ := strconv.ParseUint(c.Param(name), 10, 64)
	return uint(v)
}
