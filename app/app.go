package studyroom

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/putto11262002/studyroom/core"
	"github.com/putto11262002/studyroom/migrations"
	"github.com/putto11262002/studyroom/pkg/logger"
	"github.com/putto11262002/studyroom/pkg/proto"
	"github.com/putto11262002/studyroom/pkg/router"
	"github.com/putto11262002/studyroom/pkg/server"
)

const nameCacheTTL = 5 * time.Minute

type App struct {
	config  *Config
	context context.Context
	logger  *slog.Logger
	now     func() time.Time

	db       *core.DB
	notifier core.Notifier
	store    *core.SQLStore

	tokens   core.TokenValidator
	names    *core.NameCache
	registry *core.Registry
	typing   *core.TypingSet
	presence *core.PresenceTracker
	manager  *core.ConnManager
	broker   *core.Broker

	router   *router.Router
	server   *server.Server
	upgrader websocket.Upgrader

	roomHandler   *RoomHandler
	userHandler   *UserHandler
	healthHandler *HealthHandler

	// wg tracks the websocket pumps.
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*App)

func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.logger = l
	}
}

// WithClock replaces the time source of the broker and presence tracker.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		a.now = now
	}
}

// New wires the server. ctx bounds the lifetime of background work such as
// websocket pumps and the redis change feed.
func New(ctx context.Context, config *Config, opts ...Option) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%s", FormatValidationErrors(err))
	}
	app := &App{config: config, context: ctx, now: time.Now}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		l, err := logger.New(os.Stdout, config.LogLevel, config.LogFormat)
		if err != nil {
			return nil, err
		}
		app.logger = l
	}

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}

	app.tokens = core.NewJWTValidator(config.AuthSecret)
	app.names = core.NewNameCache(app.store, nameCacheTTL, app.logger)
	app.registry = core.NewRegistry(app.logger)
	app.typing = core.NewTypingSet()
	app.presence = core.NewPresenceTracker(
		core.WithStaleAfter(config.PresenceStaleAfter),
		core.WithPresenceStore(app.store),
		core.WithPresenceClock(app.now),
		core.WithPresenceLogger(app.logger))

	app.manager = core.NewConnManager(app.registry, app.tokens, app.typing,
		core.WithLogger(app.logger),
		core.WithMaxConnections(config.MaxConnections),
		core.WithSendBuffer(config.SendBufferSize),
		core.WithNameResolver(app.names))

	brokerOpts := []core.BrokerOption{
		core.WithBrokerLogger(app.logger),
		core.WithBrokerClock(app.now),
		core.WithRateLimit(config.RateLimitMax, config.RateLimitWindow()),
		core.WithHeartbeater(app.presence),
	}
	if len(config.BannedWords) > 0 {
		brokerOpts = append(brokerOpts, core.WithSanitizer(core.NewSanitizer(config.BannedWords)))
	}
	if config.RedisURL != "" {
		brokerOpts = append(brokerOpts, core.WithStoreFanout())
	}
	app.broker = core.NewBroker(app.registry, app.store, app.typing, brokerOpts...)

	app.manager.OnRegistered(app.onRegistered)
	app.manager.OnUnregistered(app.onUnregistered)
	app.manager.OnRoomOpened(app.broker.WatchRoom)
	app.manager.OnRoomClosed(app.broker.UnwatchRoom)
	app.presence.OnChange(app.onPresenceChange)

	app.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     app.checkOrigin,
	}

	app.roomHandler = NewRoomHandler(app.store, app.broker, app.presence)
	app.userHandler = NewUserHandler(app.names)
	app.healthHandler = NewHealthHandler(app.registry, app.now)
	app.routes()

	app.server = &server.Server{
		Server: &http.Server{
			Addr:              config.Addr(),
			Handler:           app.router.Router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Logger: app.logger,
	}
	app.server.AddCleanupFunc(app.Close)
	return app, nil
}

func (app *App) openStore(ctx context.Context) error {
	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
		BusyTimeout: 5000,
	}
	db, err := core.OpenDB(ctx, app.config.DatabaseURL, sqliteOptions)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(migrations.FS); err != nil {
		db.Close()
		return fmt.Errorf("migrate database: %w", err)
	}
	app.db = db

	if app.config.RedisURL != "" {
		n, err := core.NewRedisNotifier(ctx, app.config.RedisURL, app.logger)
		if err != nil {
			db.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		app.notifier = n
	} else {
		app.notifier = core.NewLocalNotifier(app.logger)
	}
	app.store = core.NewSQLStore(db, app.notifier, app.logger)
	return nil
}

func (app *App) routes() {
	app.router = router.New(router.WithLogger(app.logger))
	app.router.RegisterErrorMapper(proto.ErrValidation,
		router.MapKind(http.StatusBadRequest, string(proto.CodeValidation)))
	app.router.RegisterErrorMapper(proto.ErrRateLimited,
		router.MapKind(http.StatusTooManyRequests, string(proto.CodeRateLimited)))
	app.router.RegisterErrorMapper(proto.ErrAuth,
		router.MapKind(http.StatusUnauthorized, string(proto.CodeAuth)))
	app.router.RegisterErrorMapper(proto.ErrStoreUnavailable, func(error) router.JsonError {
		return router.NewJsonError(http.StatusServiceUnavailable, proto.ErrStoreUnavailable.Error()).
			WithKind(string(proto.CodeStoreUnavailable))
	})

	app.router.Router.Use(middleware.RequestID)
	app.router.Router.Use(middleware.RealIP)
	app.router.Router.Use(middleware.Recoverer)
	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	app.router.Get("/health", app.healthHandler.HealthHandler)
	app.router.Router.Get("/ws", app.handleWS)

	authMiddleware := core.TokenMiddleware(app.tokens)
	app.router.Route("/api", func(api *router.Router) {
		api.Use(authMiddleware)
		api.Get("/rooms/{roomID}/messages", app.roomHandler.GetMessagesHandler)
		api.Post("/rooms/{roomID}/messages", app.roomHandler.PostMessageHandler)
		api.Get("/rooms/{roomID}/presence", app.roomHandler.GetPresenceHandler)
		api.Get("/users/names", app.userHandler.GetNamesHandler)
	})
}

// Handler is the root http handler of the app.
func (app *App) Handler() http.Handler {
	return app.router.Router
}

// Run serves until the app context is done, then shuts down gracefully.
func (app *App) Run() error {
	l, err := app.listen()
	if err != nil {
		return err
	}
	return app.Serve(l)
}

// Serve is Run on an existing listener.
func (app *App) Serve(l net.Listener) error {
	if app.config.PresenceSweepInterval > 0 {
		go app.presence.Run(app.context, app.config.PresenceSweepInterval, app.broker.Prune)
	}
	app.logger.Info("studyroom listening",
		slog.String("addr", l.Addr().String()),
		slog.String("database", string(app.db.Dialect)),
		slog.Bool("redis", app.config.RedisURL != ""),
		slog.Bool("tls", app.config.TLSCertFile != ""))
	return app.server.Run(app.context, l)
}

// Close disconnects every client and releases the store. It is safe to call
// more than once.
func (app *App) Close(ctx context.Context) {
	app.closeOnce.Do(func() {
		app.manager.Close(ctx)
		app.broker.Close()

		done := make(chan struct{})
		go func() {
			app.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			app.logger.Warn("websocket pumps did not stop in time")
		}

		if err := app.store.Close(); err != nil {
			app.logger.Error("close notifier", slog.String("err", err.Error()))
		}
		if err := app.db.Close(); err != nil {
			app.logger.Error("close database", slog.String("err", err.Error()))
		}
	})
}
