package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"chat-server/internal/chat"
	"chat-server/internal/config"
	"chat-server/internal/crypto"
	"chat-server/internal/database"
	"chat-server/internal/events"
	"chat-server/internal/http/handlers"
	"chat-server/internal/http/middleware"
	"chat-server/internal/models"
	"chat-server/internal/presence"
	"chat-server/internal/store"
	"chat-server/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if cfg.DBDSN == "" || cfg.JWTSecret == "" {
		log.Fatal("DB_DSN and JWT_SECRET must be set")
	}
	if cfg.EncryptionKey == "" {
		log.Fatal("ENCRYPTION_KEY must be set")
	}

	logger := slog.Default()

	db, err := database.ConnectMySQL(cfg.DBDSN)
	if err != nil {
		log.Fatal("failed connect db:", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.ChatMessage{},
		&models.Group{},
		&models.GroupMember{},
		&models.BlockedUser{},
		&models.UserReport{},
	); err != nil {
		log.Fatal("failed migrate:", err)
	}

	cipher, err := crypto.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal("failed init cipher:", err)
	}

	users := store.NewUsers(db)
	groups := store.NewGroups(db)
	blocks := store.NewBlocks(db)
	messages := store.NewMessages(db)

	var pub events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, logger)
		if err != nil {
			log.Fatal("failed connect amqp:", err)
		}
		defer amqpPub.Close()
		pub = amqpPub
	}

	// The registry is the single injected presence instance; status
	// transitions are mirrored to the users table and fanned out live.
	var router *chat.Router
	registry := presence.NewRegistry(func(username string, status presence.Status) {
		ctx := context.Background()
		if u, err := users.FindByUsername(ctx, username); err == nil && u != nil {
			switch status {
			case presence.Online:
				_ = users.SetOnline(ctx, u.ID)
			case presence.Offline:
				_ = users.SetOffline(ctx, u.ID)
			default:
				_ = users.SetStatus(ctx, u.ID, string(status))
			}
		}
		if router != nil {
			router.PresenceChanged(username, status)
		}
	})

	router = chat.NewRouter(users, groups, blocks, messages, cipher, registry, pub, logger)
	hub := ws.NewHub(registry, router, logger)

	r := gin.Default()

	authH := &handlers.AuthHandler{Users: users, JWTSecret: cfg.JWTSecret}
	r.POST("/api/v1/auth/register", authH.Register)
	r.POST("/api/v1/auth/login", authH.Login)

	wsH := &handlers.WSHandler{
		Hub:                  hub,
		Users:                users,
		JWTSecret:            cfg.JWTSecret,
		WSInsecureSkipVerify: cfg.WSInsecureSkipVerify,
	}
	r.GET("/ws", wsH.Handle)

	authed := r.Group("/api/v1")
	authed.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	chatH := &handlers.ChatHandler{
		Users:    users,
		Groups:   groups,
		Blocks:   blocks,
		Messages: messages,
		Router:   router,
		Registry: registry,
	}
	authed.GET("/users", chatH.ListUsers)
	authed.GET("/conversations/:username/messages", chatH.ListConversationMessages)
	authed.GET("/public/messages", chatH.ListPublicMessages)
	authed.GET("/messages/unread", chatH.GetUnreadCount)

	authed.POST("/groups", chatH.CreateGroup)
	authed.GET("/groups", chatH.ListGroups)
	authed.GET("/groups/:id", chatH.GetGroup)
	authed.GET("/groups/:id/messages", chatH.ListGroupMessages)
	authed.POST("/groups/:id/members", chatH.AddGroupMember)
	authed.DELETE("/groups/:id/members/:userId", chatH.RemoveGroupMember)
	authed.PUT("/groups/:id", chatH.UpdateGroup)

	authed.POST("/blocks", chatH.BlockUser)
	authed.DELETE("/blocks/:userId", chatH.UnblockUser)
	authed.GET("/blocks", chatH.ListBlocked)
	authed.POST("/reports", chatH.ReportUser)

	authed.GET("/presence/online", chatH.ListOnlineUsers)
	authed.GET("/presence/:username", chatH.GetPresence)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Println("listening on", addr)
	log.Fatal(r.Run(addr))
}
