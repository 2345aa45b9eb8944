package main

import (
	"boardsync/access"
	"boardsync/config"
	"boardsync/core"
	"boardsync/engine"
	"boardsync/handlers/api/boards"
	roomsapi "boardsync/handlers/api/rooms"
	"boardsync/handlers/presence"
	"boardsync/handlers/websocket"
	authMiddleware "boardsync/middleware"
	"boardsync/persistence"
	"boardsync/rooms"
	"boardsync/stores"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const shutdownTimeout = 30 * time.Second

type server struct {
	cfg      *config.Config
	store    stores.Store
	gate     *access.Gate
	gateway  *persistence.Gateway
	registry *rooms.Registry
	tracker  *presence.Tracker
}

// originAllowed accepts configured origins and requests without an Origin
// header, which come from non-browser clients.
func (s *server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.cfg.AllowedOrigins, origin) {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return parsed.Host == r.Host
}

func (s *server) setupRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authMiddleware.AccessLog)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/ws/boards/{boardID}", websocket.NewHandler(s.gate, s.registry, websocket.Options{
		SendQueueSize:  s.cfg.SendQueueSize,
		WriteTimeout:   s.cfg.WriteTimeout,
		MaxMessageSize: s.cfg.MaxMessageSize,
		CheckOrigin:    s.originAllowed,
	}).ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.With(authMiddleware.AuthJWT(s.gate)).Get("/rooms", roomsapi.HandleList(s.registry, s.tracker))

		r.Route("/boards/{boardID}/state", func(r chi.Router) {
			r.With(authMiddleware.RequireBoardAccess(s.gate, access.ActionReadState, core.PermissionView)).
				Get("/", boards.HandleGetState(s.registry, s.gateway))
			r.With(authMiddleware.RequireBoardAccess(s.gate, access.ActionDeleteState, core.PermissionEdit)).
				Delete("/", boards.HandleDeleteState(s.registry))
		})
	})

	return r
}

// seedDemo creates a demo user owning a public board and logs a token for it.
func (s *server) seedDemo(ctx context.Context) error {
	admin, ok := stores.AdminOf(s.store)
	if !ok {
		return fmt.Errorf("storage type %s does not support seeding", s.cfg.StorageType)
	}

	user := &core.User{Username: "demo"}
	if err := admin.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create demo user: %w", err)
	}
	board := &core.Board{OwnerID: user.ID, Title: "Demo board", IsPublic: true}
	if err := admin.CreateBoard(ctx, board); err != nil {
		return fmt.Errorf("failed to create demo board: %w", err)
	}
	if err := admin.GrantPermission(ctx, board.ID, "", core.PermissionView); err != nil {
		return fmt.Errorf("failed to grant public access: %w", err)
	}

	token, err := s.gate.IssueToken(user)
	if err != nil {
		return fmt.Errorf("failed to issue demo token: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"board_id": board.ID,
		"token":    token,
	}).Warn("Seeded demo board")
	return nil
}

func jwtSecret(cfg *config.Config) []byte {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logrus.WithError(err).Fatal("Failed to generate JWT secret")
	}
	logrus.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	return []byte(hex.EncodeToString(buf))
}

func waitForShutdown(srv *http.Server, ioo *socketio.Server, s *server, cancel context.CancelFunc) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for sig := range SignalC {
			switch sig {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")

	ctx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	ioo.Close(nil)
	cancel()

	// Sync sessions are hijacked and outlive srv.Shutdown; the registry closes
	// them after its final save.
	if err := s.registry.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to persist some boards on shutdown")
	}
	if err := s.store.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close storage")
	}
}

func main() {
	// Define a log level flag
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	seed := flag.Bool("seed-demo", false, "Create a demo user and public board and log its token")
	flag.Parse()

	// Set the log level
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	store := stores.GetStore(cfg)
	gateway := persistence.NewGateway(store, persistence.Options{
		Debounce:   cfg.SaveDebounce,
		MaxRetries: cfg.SaveMaxRetries,
	})
	registry := rooms.NewRegistry(gateway, engine.Automerge{}, rooms.Options{
		InactivityTimeout: cfg.InactivityTimeout,
		CleanupInterval:   cfg.CleanupInterval,
	})

	s := &server{
		cfg:      cfg,
		store:    store,
		gate:     access.NewGate(store, jwtSecret(cfg)),
		gateway:  gateway,
		registry: registry,
		tracker:  presence.NewTracker(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	registry.Start(ctx)

	if *seed {
		if err := s.seedDemo(ctx); err != nil {
			logrus.WithError(err).Fatal("Failed to seed demo data")
		}
	}

	r := s.setupRouter()
	ioo := presence.SetupSocketIO(s.gate, s.tracker, presence.Options{
		MaxHttpBufferSize: cfg.MaxMessageSize,
		AllowedOrigins:    cfg.AllowedOrigins,
	})
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	srv := &http.Server{Addr: *listenAddr, Handler: r}
	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, ioo, s, cancel)
}
