package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/calvinwijaya/blackjack-env/internal/api"
	"github.com/calvinwijaya/blackjack-env/internal/config"
	"github.com/calvinwijaya/blackjack-env/internal/db"
	"github.com/calvinwijaya/blackjack-env/internal/game"
	"github.com/calvinwijaya/blackjack-env/internal/store"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

var CLI struct {
	Config   string   `short:"c" default:"blackjack.hcl" env:"BLACKJACK_CONFIG" help:"Path to HCL configuration file"`
	Addr     string   `short:"a" env:"BLACKJACK_ADDR" help:"Listen address (overrides config)"`
	LogLevel string   `short:"l" env:"BLACKJACK_LOG_LEVEL" help:"Log level (overrides config)"`
	DBDriver string   `name:"db-driver" env:"BLACKJACK_DB_DRIVER" help:"Database driver (overrides config)"`
	DBDSN    string   `name:"db" env:"BLACKJACK_DB" help:"Database DSN or sqlite path (overrides config)"`
	NoDB     bool     `name:"no-db" help:"Run without persistence"`
	Frontend []string `env:"BLACKJACK_FRONTEND" help:"Frontend URLs allowed by CORS (overrides config)"`
}

func main() {
	// A .env file is optional
	_ = godotenv.Load()

	ctx := kong.Parse(&CLI,
		kong.Name("blackjack-server"),
		kong.Description("Blackjack environment server"),
	)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		log.Error("Failed to load config", "path", CLI.Config, "err", err)
		ctx.Exit(1)
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "err", err)
		ctx.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           cfg.Level(),
		ReportTimestamp: true,
		Prefix:          "blackjack",
	})

	ttl, _ := cfg.TTL()
	clock := quartz.NewReal()

	// Initialize the store
	memStore := store.NewMemoryStore(clock)
	var sessionStore store.Store = memStore

	// Initialize the database
	var database *db.Database
	if !CLI.NoDB && cfg.Database.DSN != "" {
		database, err = openDatabase(*cfg.Database)
		if err != nil {
			logger.Warn("Failed to initialize database, continuing without persistence", "err", err)
			database = nil
		} else {
			logger.Info("Database initialized", "driver", cfg.Database.Driver)
			defer database.Close()
			sessionStore = store.NewDatabaseStore(memStore, database)
		}
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize WebSocket hub
	hub := api.NewHub(logger)
	rules := game.Rules{Natural: cfg.Rules.Natural, SAB: cfg.Rules.SAB}
	handlers := api.NewHandlers(sessionStore, database, hub, clock, logger, rules)
	go hub.Run(runCtx)

	// Expire idle sessions
	go memStore.RunReaper(runCtx, ttl, reapInterval(ttl), func(ids []string) {
		for _, id := range ids {
			hub.BroadcastToSession(id, api.Message{Type: "sessionExpired", SessionID: id})
		}
		logger.Info("Reaped idle sessions", "count", len(ids))
	})

	// Set up router
	r := mux.NewRouter()
	handlers.RegisterRoutes(r)

	// Add middleware for logging
	httpLog := logger.WithPrefix("http")
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			httpLog.Debug("Request", "method", r.Method, "uri", r.RequestURI, "took", time.Since(start))
		})
	})

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Create server
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      c.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "addr", cfg.Server.Address, "natural", rules.Natural, "sab", rules.SAB, "sessionTTL", ttl)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			cancel()
		}
	}()

	// Block until we receive a termination signal
	<-runCtx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "err", err)
	}
}

func applyOverrides(cfg *config.Config) {
	if CLI.Addr != "" {
		cfg.Server.Address = CLI.Addr
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
	if CLI.DBDriver != "" {
		cfg.Database.Driver = CLI.DBDriver
	}
	if CLI.DBDSN != "" {
		cfg.Database.DSN = CLI.DBDSN
	}
	if len(CLI.Frontend) > 0 {
		cfg.Server.CORSOrigins = CLI.Frontend
	}
}

func openDatabase(s config.DatabaseSettings) (*db.Database, error) {
	if s.Driver == "sqlite3" && s.DSN != ":memory:" {
		// Create data directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(s.DSN), 0755); err != nil {
			return nil, err
		}
	}
	return db.NewDatabase(s.Driver, s.DSN)
}

// reapInterval checks for idle sessions a few times per TTL
func reapInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
