package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/swapmarket/backend/docs"
	"github.com/swapmarket/backend/internal/database"
	"github.com/swapmarket/backend/internal/handlers"
	"github.com/swapmarket/backend/internal/ledger"
	mW "github.com/swapmarket/backend/internal/middleware"
	"github.com/swapmarket/backend/internal/notify"
	"github.com/swapmarket/backend/internal/services"
)

// @title SwapMarket Wallet API
// @version 1.0
// @description Wallet ledger and transaction engine for the SwapMarket marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("platform.fee_account_id", "PLATFORM_FEE_ACCOUNT_ID")
	viper.BindEnv("platform.bank", "PLATFORM_BANK")
	viper.BindEnv("platform.bank_name", "PLATFORM_BANK_NAME")
	viper.BindEnv("platform.bank_account", "PLATFORM_BANK_ACCOUNT")
	viper.BindEnv("fees.transfer_bps", "FEES_TRANSFER_BPS")
	viper.BindEnv("fees.transfer_fixed", "FEES_TRANSFER_FIXED")
	viper.BindEnv("ledger.lock_timeout_ms", "LEDGER_LOCK_TIMEOUT_MS")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "SwapMarket Wallet API"
	docs.SwaggerInfo.Description = "Wallet ledger and transaction engine for the SwapMarket marketplace"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	notifier := notify.NewNotifier(redisClient)
	ledgerService := ledger.NewService(db)
	transactionService := services.NewTransactionService(db)
	manualService := services.NewManualTransactionService(ledgerService)
	topupService := services.NewTopUpService(db, ledgerService, notifier)
	walletService := services.NewWalletService(db, ledgerService, notifier)
	instructionService := services.NewTopUpInstructionService(redisClient)
	instructionHandler := handlers.NewTopUpInstructionHandler(instructionService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Static file server for top-up receipt images
	r.Handle("/static/receipts/*", http.StripPrefix("/static/receipts/",
		mW.StaticFileServer("./static/receipts")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// User endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet", walletService.GetWallet)
			r.Post("/wallet/transfer", walletService.Transfer)
			r.Post("/topup-requests", topupService.SubmitTopUp)
			r.Post("/topup-requests/instructions", instructionHandler.GenerateInstructions)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Use(mW.RequireAdmin)

			r.Get("/transactions", transactionService.ListTransactions)
			r.Post("/transactions", manualService.CreateManualTransaction)
			r.Post("/fees", manualService.ChargeFee)
			r.Post("/vouchers/redeem", walletService.RedeemVoucher)
			r.Get("/topup-requests", topupService.ListTopUpRequests)
			r.Put("/topup-requests/{id}", topupService.ProcessTopUp)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
