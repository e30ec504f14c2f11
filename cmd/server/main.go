package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"studiolink/internal/chat"
	"studiolink/internal/db"
	portalMiddleware "studiolink/internal/middleware"
	"studiolink/internal/project"
	"studiolink/internal/user"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", ":8080", "http service address")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("❌ DB_DSN is not set")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("❌ JWT_SECRET is not set")
	}

	// 2. Connect to Database
	database, err := db.NewDatabase(dsn)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	// 3. Connect to Redis. Optional: without it the hub fans out locally,
	// which is fine for a single instance.
	var redisClient *redis.Client
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: redisAddr,
		})
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatalf("❌ Failed to connect to Redis: %v", err)
		}
		log.Println("✅ Connected to Redis")
	} else {
		log.Println("⚠️  REDIS_ADDR not set, running single-instance fan-out")
	}

	// 4. Initialize User Feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, jwtSecret)
	userHandler := user.NewHandler(userService)

	// 5. Initialize Chat Feature
	chatRepo := chat.NewRepository(database.Conn)
	hub := chat.NewHub(redisClient)

	go hub.Run()
	go hub.SubscribeToRedis()

	chatHandler := chat.NewHandler(hub, chatRepo)

	projectRepo := project.NewRepository(database.Conn)
	projectHandler := project.NewHandler(projectRepo)

	authMiddleware := portalMiddleware.NewAuthMiddleware(userService, user.AuthCookieName)

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	// Logout stays public: a client with an expired token still has to be
	// able to finish its teardown.
	r.Post("/api/auth/logout", userHandler.Logout)

	// Protected Routes (Require JWT via cookie, header or query token)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/auth/user", userHandler.CurrentUser)

		// WebSocket (Real-time)
		r.Get("/ws", chatHandler.ServeWs)

		// Client projects
		r.Get("/api/projects", projectHandler.ListProjects)
		r.Post("/api/projects", projectHandler.CreateProject)

		// Durable message history
		r.Get("/api/project-messages", chatHandler.GetProjectMessages)
		r.Post("/api/project-messages", chatHandler.CreateProjectMessage)
	})

	log.Printf("🚀 Server starting on %s", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.Fatal(err)
	}
}
