package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"filippo.io/csrf"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/fableden/fableden/internal/assets"
	"github.com/fableden/fableden/internal/auth"
	"github.com/fableden/fableden/internal/client"
	"github.com/fableden/fableden/internal/httpx"
	"github.com/fableden/fableden/internal/logger"
	"github.com/fableden/fableden/internal/login"
	"github.com/fableden/fableden/internal/narration"
	"github.com/fableden/fableden/internal/routeguard"
	"github.com/fableden/fableden/internal/server"
	"github.com/fableden/fableden/internal/session"
	"github.com/fableden/fableden/internal/store"
	memorystore "github.com/fableden/fableden/internal/store/memory"
	postgresstore "github.com/fableden/fableden/internal/store/postgres"
	redisstore "github.com/fableden/fableden/internal/store/redis"
	"github.com/fableden/fableden/internal/telemetry"
	"github.com/fableden/fableden/internal/website"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:443" env:"FABLEDEN_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"FABLEDEN_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"FABLEDEN_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"FABLEDEN_CORS_ORIGINS"`

	// Session configuration
	CookieSecret     string        `help:"secret for HMAC signing of session cookies (min 32 bytes)" env:"FABLEDEN_COOKIE_SECRET"`
	SessionTTL       time.Duration `help:"hard session expiry" default:"168h" env:"FABLEDEN_SESSION_TTL"`
	IdleWindow       time.Duration `help:"inactivity window before forced logout" default:"30m" env:"FABLEDEN_IDLE_WINDOW"`
	WarningLead      time.Duration `help:"warning shown this long before idle logout" default:"5m" env:"FABLEDEN_WARNING_LEAD"`
	ActivityThrottle time.Duration `help:"minimum interval between activity timer resets" default:"1s" env:"FABLEDEN_ACTIVITY_THROTTLE"`

	// API token configuration
	JWTSigningKey string        `help:"path to PEM-encoded ECDSA private key for API tokens" env:"FABLEDEN_JWT_SIGNING_KEY"`
	JWTTokenTTL   time.Duration `help:"API token lifetime" default:"1h" env:"FABLEDEN_JWT_TOKEN_TTL"`

	// Google OAuth configuration (optional; all three or none)
	GoogleClientID     string `help:"Google OAuth client ID" default:"" env:"FABLEDEN_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `help:"Google OAuth client secret" default:"" env:"FABLEDEN_GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `help:"Google OAuth callback URL" default:"" env:"FABLEDEN_GOOGLE_CALLBACK_URL"`

	// Narration object store configuration
	NarrationBaseURL  string        `help:"base URL of the external narration object store" default:"" env:"FABLEDEN_NARRATION_BASE_URL"`
	NarrationSecret   string        `help:"secret for signing narration playback URLs (min 32 bytes)" env:"FABLEDEN_NARRATION_SECRET"`
	NarrationURLTTL   time.Duration `help:"signed playback URL lifetime" default:"15m" env:"FABLEDEN_NARRATION_URL_TTL"`
	NarrationCacheDir string        `help:"disk cache directory for narration metadata requests" default:"" env:"FABLEDEN_NARRATION_CACHE_DIR"`

	// Route guard configuration
	RoutePolicy string `help:"path to a YAML route policy file (defaults built in)" default:"" env:"FABLEDEN_ROUTE_POLICY"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"FABLEDEN_TRACING"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"FABLEDEN_STORE_TYPE" enum:"memory,postgres"`
	RedisSessions string             `help:"Redis address for session storage (empty uses the main store)" default:"" env:"FABLEDEN_REDIS_SESSIONS"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := context.Background()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if len(c.CookieSecret) < 32 {
		return errors.New("cookie secret must be at least 32 bytes (--cookie-secret or FABLEDEN_COOKIE_SECRET)")
	}

	// Setup telemetry if enabled
	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "fableden-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Create stores based on store type
	var (
		userStore    store.UserStore
		familyStore  store.FamilyStore
		storyStore   store.StoryStore
		sessionStore store.SessionStore
	)

	switch c.StoreType {
	case "postgres":
		if err := c.PostgresStore.Validate(); err != nil {
			return fmt.Errorf("failed to validate postgres flags: %w", err)
		}
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create store pool: %w", err)
		}
		defer pool.Close()
		userStore = postgresstore.NewUserStore(pool)
		familyStore = postgresstore.NewFamilyStore(pool)
		storyStore = postgresstore.NewStoryStore(pool)
		sessionStore = postgresstore.NewSessionStore(pool)
		log.Info().Msg("Using PostgreSQL stores")

	default:
		userStore = memorystore.NewUserStore()
		familyStore = memorystore.NewFamilyStore()
		storyStore = memorystore.NewStoryStore()
		sessionStore = memorystore.NewSessionStore()
		log.Info().Msg("Using in-memory stores")
	}

	// Sessions can live in Redis independently of the document stores, so
	// the TTL handles hard expiry and restarts don't sign everyone out.
	if c.RedisSessions != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisSessions})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		defer rdb.Close() //nolint:errcheck
		sessionStore = redisstore.NewSessionStore(rdb)
		log.Info().Str("addr", c.RedisSessions).Msg("Using Redis session store")
	}

	// Cookie codec and login manager
	codec, err := auth.NewCookieCodec([]byte(c.CookieSecret), true)
	if err != nil {
		return err
	}

	stores := login.Stores{
		Users:    userStore,
		Families: familyStore,
		Sessions: sessionStore,
	}
	manager, err := login.NewManager(codec, stores, login.Config{
		SessionTTL:         c.SessionTTL,
		GoogleClientID:     c.GoogleClientID,
		GoogleClientSecret: c.GoogleClientSecret,
		GoogleCallbackURL:  c.GoogleCallbackURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize login manager: %w", err)
	}

	// Idle guard wired to the login manager's logout callbacks
	guard := session.NewGuard(session.Config{
		IdleWindow:       c.IdleWindow,
		WarningLead:      c.WarningLead,
		ActivityThrottle: c.ActivityThrottle,
	}, manager.IdleCallbacks(), log)
	manager.AttachGuard(guard)
	defer guard.StopAll()

	// Narration service with a caching client for object store reads
	var narrationSvc *narration.Service
	if c.NarrationBaseURL != "" {
		narrationSvc, err = narration.NewService(
			c.NarrationBaseURL,
			[]byte(c.NarrationSecret),
			c.NarrationURLTTL,
			client.NewCachingHTTPClient(c.NarrationCacheDir),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize narration service: %w", err)
		}
		log.Info().Str("base_url", c.NarrationBaseURL).Msg("Narration service initialized")
	}

	// API token issuer and verifier share the same key pair
	if c.JWTSigningKey == "" {
		return errors.New("JWT signing key is required (--jwt-signing-key or FABLEDEN_JWT_SIGNING_KEY)")
	}
	keyPEM, err := os.ReadFile(c.JWTSigningKey)
	if err != nil {
		return fmt.Errorf("failed to read JWT signing key: %w", err)
	}
	issuer, err := auth.NewJWTIssuer(string(keyPEM), c.JWTTokenTTL)
	if err != nil {
		return err
	}
	verifier := auth.NewJWTVerifierForIssuer(issuer)

	// API router behind dual auth (JWT or session cookie)
	apiServer := server.New(server.Stores{
		Users:    userStore,
		Families: familyStore,
		Stories:  storyStore,
		Sessions: sessionStore,
	}, narrationSvc, guard, manager, issuer)
	apiHandler := withCORS(c.CORSOrigins, apiServer.Router(auth.DualAuthMiddleware(verifier, manager)))

	// Build assets for the UI pages
	pipeline, err := assets.NewWithTemplate(assets.DefaultConfig(), "ui/templates/index.html")
	if err != nil {
		return fmt.Errorf("failed to load assets pipeline: %w", err)
	}
	if err = pipeline.Build(); err != nil {
		return fmt.Errorf("failed to build js assets: %w", err)
	}

	pageMux, err := website.NewMux(pipeline, func(ctx context.Context) any {
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to build page mux: %w", err)
	}
	pageMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Route guard in front of the pages, CSRF behind it
	policy := routeguard.DefaultPolicy()
	if c.RoutePolicy != "" {
		policy, err = routeguard.LoadPolicy(c.RoutePolicy)
		if err != nil {
			return err
		}
		log.Info().Str("path", c.RoutePolicy).Msg("Loaded route policy")
	}

	protection := csrf.New()
	pages := routeguard.Middleware(policy, manager.Visitor)(protection.Handler(pageMux))

	// API routes get CORS, HTML routes get the route guard and CSRF
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			apiHandler.ServeHTTP(w, r)
		} else {
			pages.ServeHTTP(w, r)
		}
	})

	handler := httpx.ClientIPMiddleware()(
		httpx.RequestLogMiddleware(log)(
			httpx.GzipMiddleware()(root)))

	// Expired-session sweeper; Redis-backed sessions expire on their own
	// and report zero here.
	sweeperCtx, cancelSweeper := context.WithCancel(ctx)
	defer cancelSweeper()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := sessionStore.DeleteExpired(sweeperCtx); err != nil {
					log.Error().Err(err).Msg("Failed to sweep expired sessions")
				}
			case <-sweeperCtx.Done():
				return
			}
		}
	}()

	srv := configureHTTPServer(c.Listen, handler)

	if c.Cert != "" && c.Key != "" {
		if _, err := os.Stat(c.Cert); err != nil {
			return fmt.Errorf("TLS certificate not found at %s: %w", c.Cert, err)
		}
		if _, err := os.Stat(c.Key); err != nil {
			return fmt.Errorf("TLS key not found at %s: %w", c.Key, err)
		}
		log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
		return srv.ListenAndServeTLS(c.Cert, c.Key)
	}

	log.Warn().Msg("TLS disabled; session cookies require HTTPS in production")
	log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
	return srv.ListenAndServe()
}

// withCORS adds CORS support for the SPA's API requests.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return middleware.Handler(h)
}
