// Command pierre runs the Pierre MCP/OAuth/A2A broker server: it wires
// together tenant-scoped OAuth 2.1 issuance, the fitness provider OAuth
// clients, the MCP tool registry and dispatcher, and every transport
// (stdio, HTTP+SSE, WebSocket, A2A) behind one shared authentication
// middleware stack.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/pierre-mcp/pierre/pkg/a2a"
	"github.com/pierre-mcp/pierre/pkg/api"
	"github.com/pierre-mcp/pierre/pkg/audit"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/config"
	"github.com/pierre-mcp/pierre/pkg/credentials"
	"github.com/pierre-mcp/pierre/pkg/dispatch"
	"github.com/pierre-mcp/pierre/pkg/identity"
	"github.com/pierre-mcp/pierre/pkg/kms"
	"github.com/pierre-mcp/pierre/pkg/mcpserver"
	"github.com/pierre-mcp/pierre/pkg/oauthserver"
	"github.com/pierre-mcp/pierre/pkg/observability"
	"github.com/pierre-mcp/pierre/pkg/provider"
	"github.com/pierre-mcp/pierre/pkg/registry"
	"github.com/pierre-mcp/pierre/pkg/store"
	"github.com/pierre-mcp/pierre/pkg/tools"
	"github.com/pierre-mcp/pierre/pkg/users"
)

func main() {
	stdio := flag.Bool("stdio", false, "serve a single MCP session over stdin/stdout instead of starting the HTTP listener")
	stdioToken := flag.String("stdio-token", "", "bearer access token identifying the stdio session's principal (required with -stdio)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("pierre: %v", err)
	}

	deps, err := build(context.Background(), cfg)
	if err != nil {
		log.Fatalf("pierre: %v", err)
	}
	defer deps.Close()

	if *stdio {
		if err := runStdio(deps, *stdioToken); err != nil {
			log.Fatalf("pierre: stdio session: %v", err)
		}
		return
	}

	runServer(cfg, deps)
}

// deps bundles every constructed dependency main needs after build
// returns, so runServer and runStdio don't have to repeat the wiring.
type deps struct {
	db          *sql.DB
	redis       *redis.Client
	tokens      *identity.TokenManager
	obs         *observability.Provider
	engine      *mcpserver.Engine
	oauth       *oauthserver.Handlers
	a2a         *a2a.Handler
	oauthSrv    *oauthserver.Server
	users       *users.Handlers
	cors        []string
	idempotency *api.PostgresIdempotencyStore
	catalogRec  *registry.PostgresCatalog

	providers map[string]*provider.Client
	stateTTL  time.Duration
}

func (d *deps) Close() {
	if d.obs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.obs.Shutdown(ctx); err != nil {
			slog.Error("observability shutdown", "error", err)
		}
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

func build(ctx context.Context, cfg *config.Config) (*deps, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if applied, err := store.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	} else if applied > 0 {
		slog.Info("applied migrations", "count", applied)
	}

	masterKey, err := kms.NewMasterKeyManager(cfg.MasterKeyB64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("master key: %w", err)
	}

	keySet, err := identity.NewInMemoryKeySet()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("key set: %w", err)
	}
	tokens := identity.NewTokenManager(keySet, cfg.IssuerURL)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
	}

	var states provider.StateStore
	if rdb != nil {
		states = provider.NewRedisStateStore(rdb)
	} else {
		states = provider.NewInMemoryStateStore()
		slog.Warn("REDIS_URL not set, provider authorize state is in-process only")
	}

	credStore := credentials.NewSQLStore(db, masterKey)

	providers, stravaClient, err := buildProviderClients(cfg, credStore, states)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	catalog := registry.NewInMemoryCatalog()
	if err := tools.RegisterAll(catalog, tools.Deps{
		Strava:    stravaClient,
		Providers: providers,
		Creds:     credStore,
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	catalogRecord := registry.NewPostgresCatalog(db)
	if err := catalogRecord.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init tool catalog record: %w", err)
	}
	for _, entry := range catalog.List(registry.Filter{}) {
		if err := catalogRecord.Record(ctx, entry); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("record tool catalog entry %q: %w", entry.Descriptor.Name, err)
		}
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Environment = envOr("PIERRE_ENV", "production")
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("observability: %w", err)
	}

	auditLogger := audit.NewStoreLogger(store.NewAuditStore())
	dispatcher := dispatch.New(catalog, auditLogger, obs)
	engine := mcpserver.New(dispatcher, catalog, "pierre", "1.0.0")

	userStore := users.NewPostgresStore(db)
	userHandlers := users.NewHandlers(userStore)

	oauthSrv := oauthserver.New(db, tokens, oauthserver.Config{
		IssuerURL:       cfg.IssuerURL,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		AuthCodeTTL:     cfg.AuthCodeTTL,
	}, userStore)
	oauthHandlers := oauthserver.NewHandlers(oauthSrv, principalFromBearer(tokens))

	a2aHandler := a2a.NewHandler(dispatcher)

	idempotencyStore := api.NewPostgresIdempotencyStore(db, 24*time.Hour)
	go runIdempotencyCleanup(ctx, idempotencyStore)

	return &deps{
		db:          db,
		redis:       rdb,
		tokens:      tokens,
		obs:         obs,
		engine:      engine,
		oauth:       oauthHandlers,
		a2a:         a2aHandler,
		oauthSrv:    oauthSrv,
		users:       userHandlers,
		cors:        cfg.CORSOrigins,
		providers:   providers,
		stateTTL:    cfg.ProviderStateTTL,
		idempotency: idempotencyStore,
		catalogRec:  catalogRecord,
	}, nil
}

// buildProviderClients constructs one provider.Client per provider the
// deployment has credentials for (cfg.ProviderCredentials), plus the
// Strava-specific wrapper when "strava" is among them.
func buildProviderClients(cfg *config.Config, creds credentials.Store, states provider.StateStore) (map[string]*provider.Client, *provider.StravaClient, error) {
	clients := make(map[string]*provider.Client, len(cfg.ProviderCredentials))
	var strava *provider.StravaClient

	for name, pc := range cfg.ProviderCredentials {
		descriptor, ok := provider.Lookup(name)
		if !ok {
			return nil, nil, fmt.Errorf("config: unknown provider %q in credentials", name)
		}
		redirectURI := strings.TrimRight(cfg.BaseURL, "/") + "/providers/" + name + "/callback"

		if name == "strava" {
			client, err := provider.NewStravaClient(pc.ClientID, pc.ClientSecret, redirectURI, creds, states)
			if err != nil {
				return nil, nil, fmt.Errorf("build strava client: %w", err)
			}
			strava = client
			clients[name] = client.Client
			continue
		}

		clients[name] = provider.NewClient(descriptor, pc.ClientID, pc.ClientSecret, redirectURI, creds, states)
	}

	return clients, strava, nil
}

// runIdempotencyCleanup periodically purges expired idempotency_keys rows
// until ctx is cancelled, mirroring MemoryIdempotencyStore's own background
// sweep for the Postgres-backed store used in production.
func runIdempotencyCleanup(ctx context.Context, store *api.PostgresIdempotencyStore) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Cleanup()
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// principalFromBearer builds the tenantFromRequest resolver the OAuth
// registration and authorize endpoints use: both act on behalf of an
// already-authenticated caller (an app or an admin's own session token),
// authenticated the same way the regular middleware would, just applied
// only to these two paths since NewMiddleware treats them as public.
func principalFromBearer(tokens *identity.TokenManager) func(r *http.Request) (auth.Principal, bool) {
	return func(r *http.Request) (auth.Principal, bool) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return nil, false
		}
		claims, err := tokens.ValidateToken(parts[1])
		if err != nil || claims.Subject == "" || claims.TenantID == "" {
			return nil, false
		}
		return &auth.BasePrincipal{
			ID:       claims.Subject,
			TenantID: claims.TenantID,
			ClientID: claims.ClientID,
			Role:     auth.Role(claims.Role),
			Scopes:   claims.Scopes,
		}, true
	}
}

func runStdio(d *deps, token string) error {
	if token == "" {
		return errors.New("-stdio-token is required in -stdio mode")
	}
	claims, err := d.tokens.ValidateToken(token)
	if err != nil {
		return fmt.Errorf("invalid stdio token: %w", err)
	}
	principal := &auth.BasePrincipal{
		ID:       claims.Subject,
		TenantID: claims.TenantID,
		ClientID: claims.ClientID,
		Role:     auth.Role(claims.Role),
		Scopes:   claims.Scopes,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return transportServeStdio(ctx, d.engine, principal)
}

func runServer(cfg *config.Config, d *deps) {
	mux := buildMux(cfg, d)

	publicLimiter := api.NewGlobalRateLimiter(20, 40)
	var tenantLimiter *auth.TenantRateLimiter
	if d.redis != nil {
		tenantLimiter = auth.NewTenantRateLimiter(d.redis, 600, time.Minute)
	}

	handler := withMiddleware(mux, d, publicLimiter, tenantLimiter)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("pierre listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("pierre: listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("pierre shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// withMiddleware assembles the request pipeline outside-in: request id
// and CORS apply to everything first, then the pre-auth public-endpoint
// limiter, then the Session & Token Authenticator (which resolves the
// Principal every later stage depends on), then the per-tenant limiter
// that keys off that Principal, and finally the mux itself.
func withMiddleware(mux http.Handler, d *deps, publicLimiter *api.GlobalRateLimiter, tenantLimiter *auth.TenantRateLimiter) http.Handler {
	h := mux

	if tenantLimiter != nil {
		h = auth.RateLimitMiddleware(tenantLimiter)(h)
	}

	authMiddleware := auth.NewMiddleware(d.tokens, d.oauthSrv, d.oauthSrv.ClientScopes, nil)
	h = authMiddleware(h)

	h = publicLimiter.Middleware(h)
	h = auth.CORSMiddleware(d.cors)(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

func buildMux(cfg *config.Config, d *deps) *http.ServeMux {
	mux := http.NewServeMux()

	httpTransport := newHTTPTransport(d.engine)
	wsTransport := newWSTransport(d.engine, cfg.CORSOrigins)
	mux.Handle("/mcp", httpTransport)
	mux.Handle("/mcp/ws", wsTransport)

	mux.Handle("/a2a/invoke", d.a2a)

	oauthMux := http.NewServeMux()
	d.oauth.Mount(oauthMux)
	mux.Handle("/oauth/", api.IdempotencyMiddleware(d.idempotency)(oauthMux))
	mux.HandleFunc("/.well-known/oauth-authorization-server", d.oauth.Discovery)

	mux.HandleFunc("/providers/", providerHandler(d))

	mux.HandleFunc("/users/register", d.users.Register)
	mux.HandleFunc("/admin/users/", d.users.AdminUsers)
	mux.HandleFunc("/admin/users", d.users.AdminUsers)

	mux.HandleFunc("/tools", toolCatalogHandler(d))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

// toolCatalogHandler serves GET /tools: the durably recorded descriptor
// list from registry.PostgresCatalog, not the live InMemoryCatalog the
// dispatcher calls, so it reflects what has ever been exposed rather
// than only what this particular process has registered.
func toolCatalogHandler(d *deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			api.WriteMethodNotAllowed(w)
			return
		}
		descriptors, err := d.catalogRec.ListDescriptors(r.Context())
		if err != nil {
			api.WriteInternal(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("["))
		for i, raw := range descriptors {
			if i > 0 {
				_, _ = w.Write([]byte(","))
			}
			_, _ = w.Write(raw)
		}
		_, _ = w.Write([]byte("]"))
	}
}
