// Command boardwatch follows one board and logs every change the server
// pushes for it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/boardsync/internal/auth"
	"github.com/gosuda/boardsync/internal/client"
	"github.com/gosuda/boardsync/internal/domain"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("boardwatch failed")
	}
}

func run() error {
	baseURL := flag.String("url", "http://localhost:8080", "boardsync server base URL")
	boardID := flag.String("board", "", "board id to follow")
	token := flag.String("token", os.Getenv("BOARDSYNC_TOKEN"), "session token")
	userID := flag.String("user", "", "mint a token for this user id with BOARDSYNC_JWT_SECRET")
	email := flag.String("email", "", "email for a minted token")
	debug := flag.Bool("debug", false, "log stream details")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *boardID == "" {
		return errors.New("-board is required")
	}

	if *token == "" && *userID != "" {
		secret := os.Getenv("BOARDSYNC_JWT_SECRET")
		if secret == "" {
			return errors.New("-user needs BOARDSYNC_JWT_SECRET")
		}
		minted, err := auth.IssueToken(secret, *userID, *email, time.Hour)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		*token = minted
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s := client.New(client.Options{
		BaseURL: *baseURL,
		BoardID: *boardID,
		Token:   *token,
		OnUpdate: func(b *domain.Board) {
			log.Info().
				Str("board_id", b.ID).
				Str("name", b.Summary().Name).
				Int("version", b.Version).
				Int("members", len(b.Content)).
				Msg("board updated")
		},
		OnDeleted: func() {
			log.Warn().Str("board_id", *boardID).Msg("board deleted")
		},
	})

	log.Info().Str("board_id", *boardID).Str("client_id", s.ClientID()).Msg("watching")

	err := s.Run(ctx)
	if errors.Is(err, client.ErrBoardDeleted) {
		return nil
	}
	return err
}
