/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Early Risk Alerts server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env / .env), then apply flag overrides
  2. Initialize SQLite store
  3. Pick notification transports from the configured credentials
  4. Wire the weekly cycle, API handler, and router
  5. Start the scheduler and the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides RISK_PORT)
  -db      SQLite database path (overrides RISK_DBPATH)
           Use ":memory:" for in-memory database

TRANSPORT SELECTION:
  Email goes through SendGrid when RISK_SENDGRIDKEY is set, otherwise to the
  console. SMS goes through Twilio when the three RISK_TWILIO* variables are
  set, otherwise the channel is disabled.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/risk.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Environment configuration
  - api/server.go: Router configuration
  - api/scheduler.go: Weekly cycle scheduler
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/risk-engine/api"
	"github.com/warp/risk-engine/config"
	"github.com/warp/risk-engine/notify"
	"github.com/warp/risk-engine/report"
	"github.com/warp/risk-engine/risk"
	"github.com/warp/risk-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags override the environment
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Notification transports
	var email notify.EmailSender = notify.Console{}
	if cfg.SendGridKey != "" {
		email = notify.NewSendGrid(cfg.SendGridKey, cfg.AppName, cfg.DefaultFromEmail)
		log.Println("Email transport: sendgrid")
	} else {
		log.Println("Email transport: console (no SendGrid key configured)")
	}

	var sms notify.SmsSender
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		sms = notify.NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
		log.Println("SMS transport: twilio")
	} else {
		log.Println("SMS transport: disabled (no Twilio credentials configured)")
	}

	// Weekly cycle and handler
	cycle := report.NewCycle(store, risk.NewRecomputer(store), email, sms)
	handler := api.NewHandler(store, cycle)

	// Scheduler
	scheduler := api.NewWeeklyScheduler(cycle)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
