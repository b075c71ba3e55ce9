package router

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/handlers"
	chat_handlers "github.com/sahilchouksey/school-connect/handlers/chat"
	feed_handlers "github.com/sahilchouksey/school-connect/handlers/feed"
	grades_handlers "github.com/sahilchouksey/school-connect/handlers/grades"
	session_handlers "github.com/sahilchouksey/school-connect/handlers/session"
	textbook_handlers "github.com/sahilchouksey/school-connect/handlers/textbook"
	"github.com/sahilchouksey/school-connect/model"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/utils"
	"github.com/sahilchouksey/school-connect/utils/auth"
	"github.com/sahilchouksey/school-connect/utils/middleware"
)

// Deps are the collaborators the routes are built from
type Deps struct {
	Store     database.DocumentStore
	Registry  *services.SessionRegistry
	JWT       *auth.JWTManager
	Blacklist *auth.BlacklistService

	AllowedOrigins string
	// RateLimitRequests per minute per IP, 0 disables the limiter
	RateLimitRequests int
	SkipLogging       bool
}

func SetupRoutes(app *fiber.App, deps Deps) {
	// Initialize auth middleware with the Redis blacklist, if any
	authMiddleware := middleware.NewAuthMiddleware(deps.JWT, deps.Blacklist)
	sessionMiddleware := middleware.Session(deps.Registry)

	chatHandler := chat_handlers.NewChatHandler(deps.Registry)
	feedHandler := feed_handlers.NewFeedHandler()
	textbookHandler := textbook_handlers.NewTextbookHandler(services.NewTextbookService(deps.Store))
	gradesHandler := grades_handlers.NewGradesHandler(services.NewGradeService(deps.Store))
	sessionHandler := session_handlers.NewSessionHandler(deps.Registry, deps.Blacklist)

	// Apply security middleware
	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    deps.AllowedOrigins,
		RateLimitRequests: deps.RateLimitRequests,
		RateLimitWindow:   1 * time.Minute,
		SkipLogging:       deps.SkipLogging,
	})

	// Public endpoints
	app.Get("/ping", utils.MakeHTTPHandleFunc(handlers.HandleCheckHealth, deps.Store))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 group; every route needs a token and runs inside the device session
	api := app.Group("/api/v1", authMiddleware.Required(), sessionMiddleware)

	api.Get("/me", sessionHandler.Me)
	api.Post("/session/logout", sessionHandler.Logout)

	// Chat
	chat := api.Group("/chat")
	chat.Get("/contacts", chatHandler.ListContacts)
	chat.Get("/contacts/cached", chatHandler.CachedContacts)
	chat.Post("/conversations", chatHandler.LocateConversation)
	chat.Get("/conversations/:peerId/messages", chatHandler.GetMessages)
	chat.Delete("/conversations/:peerId", chatHandler.CloseConversation)
	chat.Post("/conversations/:peerId/messages", chatHandler.SendMessage)
	chat.Post("/conversations/:peerId/images", chatHandler.SendImage)
	chat.Get("/conversations/:peerId/stream", chat_handlers.RequireUpgrade, websocket.New(chatHandler.Stream))

	// Announcement feed
	feed := api.Group("/feed")
	feed.Get("/", feedHandler.GetFeed)
	feed.Get("/stream", feedHandler.Stream)
	feed.Post("/more", feedHandler.LoadMore)
	feed.Post("/posts/:postId/like", feedHandler.ToggleLike)

	// Library and offline chapters
	textbooks := api.Group("/textbooks")
	textbooks.Get("/", textbookHandler.ListTextbooks)
	textbooks.Get("/downloads", textbookHandler.ListDownloads)
	textbooks.Get("/:id/chapters", textbookHandler.ListChapters)
	textbooks.Post("/chapters/:id/download", textbookHandler.StartDownload)
	textbooks.Delete("/chapters/:id/download", textbookHandler.DeleteDownload)
	textbooks.Get("/chapters/:id/download/progress", textbookHandler.StreamProgress)

	// Gradebook (students only)
	api.Get("/grades", authMiddleware.RequireRole(model.RoleStudent), gradesHandler.ReportCard)
}
