package api

import (
	"crypto/rand"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/susu3304/warikanbot/internal/config"
	"github.com/susu3304/warikanbot/internal/ledger"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type API struct {
	router      *mux.Router
	ledger      *ledger.Service
	config      *config.Config
	logger      *zap.Logger
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	random      io.Reader

	// guildAccess reports whether the token's user belongs to the guild.
	guildAccess func(accessToken, guildID string) bool
}

func New(cfg *config.Config, svc *ledger.Service, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &API{
		router:    mux.NewRouter(),
		ledger:    svc,
		config:    cfg,
		logger:    logger,
		jwtSecret: []byte(cfg.JWTSecret),
		random:    rand.Reader,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify", "guilds"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
	}
	api.guildAccess = api.userHasGuildAccess

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Protected endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/groups", a.handleCreateGroup).Methods("POST")
	protected.HandleFunc("/groups/{group_id}", a.handleGetGroup).Methods("GET")
	protected.HandleFunc("/groups/{group_id}", a.handleDeleteGroup).Methods("DELETE")
	protected.HandleFunc("/groups/{group_id}/balances", a.handleBalances).Methods("GET")
	protected.HandleFunc("/groups/{group_id}/history", a.handleHistory).Methods("GET")
	protected.HandleFunc("/groups/{group_id}/expenses", a.handleAddExpenses).Methods("POST")
	protected.HandleFunc("/groups/{group_id}/expenses/{expense_id}", a.handleEditExpense).Methods("PUT")
	protected.HandleFunc("/groups/{group_id}/expenses/{expense_id}", a.handleDeleteExpense).Methods("DELETE")
	protected.HandleFunc("/groups/{group_id}/resolve", a.handleResolve).Methods("POST")
}

// Handler returns the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	// When AllowedOrigins is "*", AllowCredentials must stay false
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Server returns an http.Server bound to the configured address.
func (a *API) Server() *http.Server {
	return &http.Server{
		Addr:              a.config.WebBind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
