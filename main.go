package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/frankiekoifi/gamestake/handlers"
	"github.com/frankiekoifi/gamestake/services"
	"github.com/frankiekoifi/gamestake/store"
	"github.com/frankiekoifi/gamestake/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024, // 20MB, proof screenshots only
	})

	// CORS configuration; origins loaded from environment
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitStorage(); err != nil {
		log.Fatal("failed to initialize storage client:", err)
	}

	// TranslateError makes unique violations surface as gorm.ErrDuplicatedKey,
	// which the store maps to its duplicate sentinel.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	st := store.NewPostgres(db)
	if err := st.AutoMigrate(); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	feeRate := decimal.NewFromInt(10)
	if v := os.Getenv("PLATFORM_FEE_PERCENTAGE"); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil || parsed.IsNegative() {
			log.Fatal("PLATFORM_FEE_PERCENTAGE must be a non-negative number")
		}
		feeRate = parsed
	}

	webhookToken := os.Getenv("PAYMENT_WEBHOOK_TOKEN")
	if webhookToken == "" {
		log.Fatal("PAYMENT_WEBHOOK_TOKEN environment variable not set")
	}

	notifier := services.LogNotifier{}
	gateway := services.NewGatewayClient()
	walletService := services.NewWalletService(st, gateway, notifier)
	matchService := services.NewMatchService(st, walletService, notifier, feeRate)
	tournamentService := services.NewTournamentService(st, walletService, notifier, feeRate)

	sched := matchService.StartSweepScheduler()

	handlers.SetupWalletRoutes(app, walletService, webhookToken)
	handlers.SetupMatchRoutes(app, matchService)
	handlers.SetupTournamentRoutes(app, tournamentService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Match sweeps running (every minute)")
	log.Printf("✅ Platform fee rate: %s%%", feeRate)
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = sched.Shutdown()
	_ = app.Shutdown()
}
