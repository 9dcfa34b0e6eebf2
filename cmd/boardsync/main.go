package main

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/api/stream"
	"github.com/gosuda/boardsync/internal/board"
	"github.com/gosuda/boardsync/internal/config"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/eventbus"
	"github.com/gosuda/boardsync/internal/realtime"
	"github.com/gosuda/boardsync/internal/server"
	"github.com/gosuda/boardsync/internal/store/file"
	"github.com/gosuda/boardsync/internal/store/postgres"
	redisstore "github.com/gosuda/boardsync/internal/store/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

// backend is the storage triple the board service runs on.
type backend struct {
	boards domain.BoardStore
	locker domain.BoardLocker
	users  domain.UserDirectory
	close  func()
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("BOARDSYNC_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("BOARDSYNC_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := eventbus.New()

	// Saves fan out through Redis when configured so every instance's
	// subscribers hear them; otherwise straight to the local bus.
	var broadcaster board.Broadcaster = bus
	if cfg.Redis.Enabled() {
		relay, relayErr := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, bus)
		if relayErr != nil {
			return relayErr
		}
		defer relay.Close()

		// Run resubscribes on its own; an error here means the relay is gone
		// for good, so take the server down with it.
		go func() {
			if runErr := relay.Run(ctx); runErr != nil {
				log.Error().Err(runErr).Msg("redis relay stopped, shutting down")
				cancel()
			}
		}()
		broadcaster = relay
		log.Info().Str("addr", cfg.Redis.Addr).Str("origin", relay.Origin()).Msg("redis relay enabled")
	}

	svc := board.NewService(be.boards, be.locker, be.users, broadcaster)

	if cfg.SeedDemo {
		n, seedErr := board.SeedDemo(ctx, be.boards)
		if seedErr != nil {
			return seedErr
		}
		log.Info().Int("boards", n).Msg("demo boards seeded")
	}

	streams := stream.NewHandler(bus, svc, stream.Options{
		Session: realtime.Options{
			Heartbeat: cfg.Stream.Heartbeat,
			Buffer:    cfg.Stream.Buffer,
		},
		OriginPatterns: originHosts(cfg.Server.CORSOrigins),
	})

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, svc, streams)

	// Start server in background goroutine.
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store.Driver).Msg("starting server")
		if startErr := srv.Start(ctx); startErr != nil {
			log.Error().Err(startErr).Msg("server error")
			cancel()
		}
	}()

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
			return nil, fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
		}

		// Connect to PostgreSQL.
		store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return &backend{
			boards: store.Boards(),
			locker: store.Locker(),
			users:  store.Users(),
			close:  store.Close,
		}, nil

	default:
		boards, err := file.New(cfg.Store.DataDir)
		if err != nil {
			return nil, err
		}
		users, err := file.LoadUsers(cfg.Store.UsersFile)
		if err != nil {
			return nil, err
		}
		log.Info().Str("dir", boards.Dir()).Int("users", users.Len()).Msg("file store ready")
		return &backend{
			boards: boards,
			locker: board.NewKeyedMutex(),
			users:  users,
			close:  func() {},
		}, nil
	}
}

// originHosts turns CORS origins into the host patterns the WebSocket
// handshake matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			hosts = append(hosts, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			log.Warn().Str("origin", o).Msg("ignoring malformed CORS origin for websocket")
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}
