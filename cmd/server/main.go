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
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/franchisepay/backend/internal/config"
	"github.com/franchisepay/backend/internal/database"
	"github.com/franchisepay/backend/internal/handlers"
	mW "github.com/franchisepay/backend/internal/middleware"
	"github.com/franchisepay/backend/internal/services"
)

// @title Franchise Ledger Backend API
// @version 1.0
// @description Double-entry ledger, payment allocation and franchise payment forwarding
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	config.Load()

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Explicit construction: every engine gets its collaborators injected.
	ledgerService := services.NewLedgerService(db)
	organizationService := services.NewOrganizationService(db)
	paymentService := services.NewPaymentService(db, ledgerService, organizationService)
	remittanceService := services.NewRemittanceService()
	forwardingService := services.NewForwardingService(db, ledgerService, organizationService, remittanceService)
	listingService := services.NewListingService(db)
	countersService := services.NewCountersService(redisClient, listingService)
	countersHandler := handlers.NewCountersHandler(countersService)
	qrService := services.NewQRService(db, redisClient)
	qrHandler := handlers.NewQRHandler(qrService)

	mW.InitAuthMiddleware(redisClient)

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

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			// Payment allocation
			r.Post("/payments/direct-deposit", paymentService.CreateDirectDepositPayment)
			r.Post("/payments/credit-note", paymentService.CreateCreditNotePayment)
			r.Post("/payments/credit-card", paymentService.CreateCreditCardPayment)

			// Forwarding
			r.Post("/payments/forward", forwardingService.ForwardPayments)
			r.Get("/payments/unforwarded", forwardingService.GetUnforwarded)

			// Ledger queries
			r.Get("/gl-accounts/{accountId}/balance", ledgerService.GetAccountBalance)
			r.Get("/gl-accounts/{accountId}/records", ledgerService.GetAccountRecords)

			// Dashboard counters
			r.Get("/counters", countersHandler.GetCounters)
			r.Post("/counters/recalculate", countersHandler.RecalculateCounters)

			// Invoice pay codes
			r.Post("/qr/generate", qrHandler.GenerateQR)
			r.Post("/qr/process", qrHandler.ProcessQR)
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
