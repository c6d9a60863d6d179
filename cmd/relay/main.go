package main

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/pysugar/gemini-relay/internal/accounts"
	"github.com/pysugar/gemini-relay/internal/assets"
	"github.com/pysugar/gemini-relay/internal/config"
	"github.com/pysugar/gemini-relay/internal/db"
	"github.com/pysugar/gemini-relay/internal/proxy/handlers"
	"github.com/pysugar/gemini-relay/internal/proxy/middleware"
	"github.com/pysugar/gemini-relay/internal/store/supabase"
	"github.com/pysugar/gemini-relay/internal/upstream"
)

func main() {
	// Local .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️ Failed to load .env: %v", err)
	}

	cfg, err := config.Load(os.Getenv("RELAY_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize credential store: %v", err)
	}
	mgr := accounts.NewManager(store)

	assetStore, err := assets.NewStore(cfg.AssetDir, cfg.AssetExpiry)
	if err != nil {
		log.Fatalf("Failed to initialize asset store: %v", err)
	}
	if err := assetStore.StartSweep(cfg.SweepSpec); err != nil {
		log.Fatalf("Failed to schedule asset sweep: %v", err)
	}
	defer assetStore.Stop()

	opener := upstream.NewGatewayOpener(cfg.UpstreamURL)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// ============================================
	// Public Routes (No Auth Required)
	// ============================================

	r.Get("/", handlers.RootHandler(cfg))

	// Credential ingestion and pool administration
	r.Route("/api", func(r chi.Router) {
		r.Post("/cookies", handlers.CookiesHandler(store))
		r.Get("/accounts", handlers.AccountsListHandler(store))
		r.Post("/accounts/reset", handlers.ResetCountersHandler(mgr))
	})

	// Hosted generated images
	r.Handle("/static/images/*", http.StripPrefix("/static/images/",
		http.FileServer(http.Dir(assetStore.Dir()))))

	// ============================================
	// Protected Routes (API Key Required)
	// ============================================

	// OpenAI-compatible API
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKey))
		r.Post("/chat/completions", handlers.ChatHandler(cfg, mgr, opener, assetStore))
		r.Post("/images/generations", handlers.ImageGenerationHandler(cfg, mgr, opener, assetStore))
		r.Post("/images/edits", handlers.ImageEditHandler(cfg, mgr, opener, assetStore))
		r.Post("/images/edits/multi", handlers.ImageMultiEditHandler(cfg, mgr, opener, assetStore))
		r.Get("/models", handlers.ModelsHandler())
	})

	log.Printf("🔹 gemini-relay listening on %s (store: %s, gateway: %s)", cfg.Listen, cfg.Store.Driver, cfg.UpstreamURL)
	if err := http.ListenAndServe(cfg.Listen, r); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// openStore selects the credential backend: local sqlite by default,
// Supabase when its coordinates are configured.
func openStore(cfg *config.Config) (accounts.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverSupabase:
		return supabase.NewStore(cfg.Store.SupabaseURL, cfg.Store.SupabaseKey), nil
	default:
		database, err := db.InitDB(cfg.Store.DBPath)
		if err != nil {
			return nil, err
		}
		return db.NewStore(database), nil
	}
}
