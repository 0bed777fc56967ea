package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron"

	config "postpilot/configs"
	"postpilot/internal/api/handlers"
	"postpilot/internal/api/middleware"
	job "postpilot/internal/jobs"
	"postpilot/internal/platform"
	"postpilot/internal/queue"
	"postpilot/internal/repository"
	"postpilot/internal/scheduler"
	"postpilot/internal/service"
	"postpilot/pkg/backoff"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := fiber.New(fiber.Config{
		ReadTimeout:  1 * time.Minute,
		WriteTimeout: 1 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOriginsFunc: func(origin string) bool {
			return origin == cfg.FrontendURL
		},
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	postRepo := repository.NewPostRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	accountRepo := repository.NewLinkedAccountRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	postMediaRepo := repository.NewPostMediaRepository(db)

	registry := platform.NewRegistry(
		platform.NewTiktokAdapter(*cfg),
		platform.NewInstagramAdapter(*cfg),
		platform.NewYoutubeAdapter(*cfg),
	)

	mediaService, err := service.NewMediaService(*cfg)
	if err != nil {
		log.Fatalf("Failed to set up media service: %v", err)
	}
	credService := service.NewCredentialService(*cfg, accountRepo, registry)
	postService := service.NewPostService(db, postRepo, taskRepo, accountRepo, mediaAssetRepo, postMediaRepo)

	notifier := queue.NewNotifier(client)
	retryPolicy := backoff.NewExponential(cfg.Pipeline.BackoffBase, cfg.Pipeline.BackoffCap, cfg.Pipeline.BackoffJitter)
	publisher := service.NewPublisher(cfg.Pipeline, taskRepo, postRepo, postMediaRepo, mediaAssetRepo,
		mediaService, credService, registry, notifier, retryPolicy)

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(postService)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/cancel", post.CancelPost)

	account := handlers.NewAccountHandler(accountRepo)
	api.Get("/accounts", account.ListLinkedAccounts)

	// background pipeline
	sched := scheduler.New(cfg.Pipeline, taskRepo, publisher)
	sched.Start(context.Background())

	watchdogJob := job.NewWatchdogJob(cfg.Pipeline, taskRepo)
	refreshTokenJob := job.NewTokenRefreshJob(accountRepo, credService)

	c := cron.New()
	c.AddFunc("@every 00h01m00s", watchdogJob.Sweep)
	c.AddFunc("@every 00h10m00s", refreshTokenJob.RefreshTokens)
	c.Start()

	go func() {
		server := asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 10,
		})

		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypeNotifyFailure, queue.NewWorker(cfg.NotifierURL).HandleNotifyFailureTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":3000"); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Println("Server is running on http://localhost:3000")

	gracefulShutdown(app, sched, c, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, sched *scheduler.Scheduler, c *cron.Cron, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	c.Stop()
	sched.Stop()

	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}

	closeDB(db)
	log.Println("Server shutdown complete.")
}
