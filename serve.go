package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"github.com/yourusername/gearmarket/db"
	"github.com/yourusername/gearmarket/handlers"
	"github.com/yourusername/gearmarket/middleware"
	"github.com/yourusername/gearmarket/models"
	"github.com/yourusername/gearmarket/services"
)

// ServeCommand registers the serve cli command.
var ServeCommand = cli.Command{
	Name:   "serve",
	Usage:  "Starts the HTTP API",
	Action: serveAction,
}

// MigrateCommand registers the migrate cli command.
var MigrateCommand = cli.Command{
	Name:   "migrate",
	Usage:  "Creates or updates the database schema",
	Action: migrateAction,
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// loadConfig reads the config named by the global flag and applies its
// log settings.
func loadConfig(ctx *cli.Context) (*services.Config, error) {
	config, err := services.LoadConfig(ctx.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	services.ConfigureLogger(config.Log)
	return config, nil
}

func migrateAction(ctx *cli.Context) error {
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if err := db.Connect(config.Database.URL); err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	log.Info("database schema is up to date")
	return nil
}

func serveAction(ctx *cli.Context) error {
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blocklist, err := services.LoadBlockList(runCtx, config.Nickname, config.Storage.S3())
	if err != nil {
		return err
	}
	policy := services.NewNicknamePolicy(blocklist, config.Nickname)

	storage, err := services.NewStorage(config.Storage)
	if err != nil {
		return err
	}

	if err := db.Connect(config.Database.URL); err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	auth := middleware.NewAuth(config.Auth.JWTSecret, config.Auth.TokenTTL)
	if auth.UsesDevSecret() {
		log.Warn("JWT_SECRET is not set, using the development secret")
	}

	userRepo := models.NewUserRepository(db.DB)
	authHandler := handlers.NewAuthHandler(userRepo, policy, auth)
	nicknameHandler := handlers.NewNicknameHandler(userRepo, policy)
	userHandler := handlers.NewUserHandler(userRepo, policy, auth, services.NewAvatarProcessor(config.Avatar), storage)
	healthHandler := handlers.NewHealthHandler(blocklist, func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.Ping(pingCtx)
	})

	nicknameLimiter := services.NewRateLimiter(config.RateLimiting)
	authLimiter := services.NewRateLimiter(config.RateLimiting)

	app := fiber.New(fiber.Config{
		BodyLimit:    config.Server.BodyLimit,
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{AllowOrigins: strings.Join(config.Server.CORSOrigins, ",")}))
	app.Use(services.SecurityHeaders(config.Security))

	if storage.IsLocal() {
		app.Static("/uploads", config.Storage.LocalDir(), fiber.Static{
			Compress:      true,
			CacheDuration: 24 * time.Hour,
		})
	}

	api := app.Group("/api")
	api.Get("/health", healthHandler.Health)
	api.Post("/nickname/sanitize", nicknameHandler.Sanitize)

	dbRequired := middleware.DBPing(db.Ping)

	authGroup := api.Group("/auth", dbRequired)
	authGroup.Get("/nickname",
		nicknameLimiter.Middleware(config.RateLimiting.NicknameCheckCapacity, config.RateLimiting.NicknameCheckWindow),
		nicknameHandler.CheckAvailability)
	authGroup.Post("/signup",
		authLimiter.Middleware(config.RateLimiting.AuthCapacity, config.RateLimiting.AuthWindow),
		authHandler.Signup)
	authGroup.Post("/signin",
		authLimiter.Middleware(config.RateLimiting.AuthCapacity, config.RateLimiting.AuthWindow),
		authHandler.Signin)

	user := api.Group("/user", dbRequired)
	user.Get("/profile", auth.Protected(), userHandler.GetMyProfile)
	user.Get("/profile/:id", userHandler.GetProfile)
	user.Patch("/nickname", auth.Protected(), userHandler.UpdateNickname)
	user.Post("/profile/image", auth.Protected(), userHandler.UploadProfileImage)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	go func() {
		<-runCtx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown")
		}
	}()

	log.WithFields(logrus.Fields{
		"port":      config.Server.Port,
		"blocklist": humanize.Comma(int64(blocklist.Len())),
		"storage":   config.Storage.Provider,
	}).Info("server starting")

	if err := app.Listen(":" + config.Server.Port); err != nil {
		return err
	}

	for name, rl := range map[string]*services.RateLimiter{"nickname": nicknameLimiter, "auth": authLimiter} {
		stats := rl.GetStats()
		log.WithFields(logrus.Fields{
			"limiter": name,
			"denied":  humanize.Comma(stats.DeniedCount),
			"evicted": humanize.Comma(stats.EvictedCount),
		}).Info("rate limiter stats")
	}
	return nil
}
