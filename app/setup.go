package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sahilchouksey/school-connect/api"
	"github.com/sahilchouksey/school-connect/config"
	"github.com/sahilchouksey/school-connect/database"
	"github.com/sahilchouksey/school-connect/router"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/services/cron"
	"github.com/sahilchouksey/school-connect/services/realtime"
	"github.com/sahilchouksey/school-connect/services/storage"
	"github.com/sahilchouksey/school-connect/utils/auth"
	"github.com/sahilchouksey/school-connect/utils/cache"
	"gorm.io/gorm"
)

// memoryRedisURL starts an in-process Redis instead of dialing one
const memoryRedisURL = "memory"

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	if getEnv.JWT_SECRET == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	ctx := context.Background()

	// Redis backs the device store, the token blacklist and optionally the realtime hub
	redisCache, stopRedis, err := openRedis(getEnv.REDIS_URL)
	if err != nil {
		print("Check whether Redis is running or not\n")
		print("Set REDIS_URL=memory to run with an in-process Redis\n")
		return err
	}
	defer stopRedis()

	hub, err := openHub(ctx, getEnv, redisCache.GetClient())
	if err != nil {
		return err
	}
	defer hub.Close()

	store, db, err := openStore(ctx, getEnv, hub)
	if err != nil {
		return err
	}
	defer store.Close()

	// Image messages need object storage; without it they fail with a retryable error
	var blobs services.BlobUploader
	if getEnv.SPACES_BUCKET != "" {
		spaces, err := storage.NewSpacesClient(storage.SpacesConfig{
			AccessKey: getEnv.SPACES_KEY,
			SecretKey: getEnv.SPACES_SECRET,
			Bucket:    getEnv.SPACES_BUCKET,
			Region:    getEnv.SPACES_REGION,
			Endpoint:  getEnv.SPACES_ENDPOINT,
		})
		if err != nil {
			return err
		}
		blobs = spaces
	} else {
		log.Println("Warning: SPACES_BUCKET not set, image messages are disabled")
	}

	registry := services.NewSessionRegistry(services.SessionDeps{
		Store:          store,
		Hub:            hub,
		Cache:          redisCache,
		Blobs:          blobs,
		Location:       time.Local,
		DownloadDir:    getEnv.DOWNLOAD_DIR,
		ReconcileDelay: getEnv.CHAT_RECONCILE_DELAY,
		FeedPageSize:   getEnv.FEED_PAGE_SIZE,
		IdleTimeout:    getEnv.SESSION_IDLE_TIMEOUT,
	})
	defer registry.CloseAll()

	// Initialize Cron Manager (only if enabled via environment variable)
	var cronManager *cron.CronManager
	if getEnv.CRON_ENABLED {
		cronManager = cron.NewCronManager(db, registry)
		if err := cronManager.Start(); err != nil {
			print("Warning: Failed to start cron jobs\n")
			print("Error: ", err.Error(), "\n")
			// Don't fail the app, just log the warning
			cronManager = nil
		}
	}
	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
	}()

	// Init API
	server := api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	app := server.GetEngine()

	// Setup Routes
	router.SetupRoutes(app, router.Deps{
		Store:     store,
		Registry:  registry,
		Blacklist: auth.NewBlacklistService(redisCache),
		JWT: auth.NewJWTManager(auth.JWTConfig{
			Secret: getEnv.JWT_SECRET,
			Issuer: getEnv.JWT_ISSUER,
		}),
		AllowedOrigins:    getEnv.ALLOWED_ORIGINS,
		RateLimitRequests: 300,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error: shutdown: %v", err)
		}
	}()

	// Get the PORT & Start the Server
	return server.Run()
}

func openRedis(url string) (*cache.RedisCache, func(), error) {
	if url != memoryRedisURL {
		c, err := cache.NewRedisCache(url)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	log.Printf("Started in-process Redis on %s", mr.Addr())
	c := cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return c, func() {
		c.Close()
		mr.Close()
	}, nil
}

func openHub(ctx context.Context, env *config.EnviornmentVariable, client *redis.Client) (realtime.Hub, error) {
	switch env.REALTIME_DRIVER {
	case "redis":
		return realtime.NewRedisHub(ctx, client)
	case "postgres":
		return realtime.NewPostgresHub(env.PostgresDSN())
	case "", "local":
		return realtime.NewLocalHub(), nil
	default:
		return nil, fmt.Errorf("unknown REALTIME_DRIVER %q", env.REALTIME_DRIVER)
	}
}

// openStore returns the document store and, for postgres, the GORM handle used by the job log
func openStore(ctx context.Context, env *config.EnviornmentVariable, hub realtime.Hub) (database.DocumentStore, *gorm.DB, error) {
	switch env.STORE_DRIVER {
	case "memory":
		store := database.NewMemoryStore(hub)
		if err := database.NewSeeder(store).SeedAll(ctx); err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "", "postgres":
		// Initialize GORM database connection
		store, err := database.StartGORM(hub)
		if err != nil {
			print("Check whether the Postgres is running or not\n")
			print("Or set STORE_DRIVER=memory to run with seeded in-process data\n")
			return nil, nil, err
		}

		if err := store.Init(); err != nil {
			print("Failed to initialize database tables\n")
			print("Error running migrations:\n")
			store.Close()
			return nil, nil, err
		}
		return store, store.GetDB(), nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", env.STORE_DRIVER)
	}
}
