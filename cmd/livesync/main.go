package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cosolive/livesync/internal/channel"
	"github.com/cosolive/livesync/internal/config"
	"github.com/cosolive/livesync/internal/countdown"
	"github.com/cosolive/livesync/internal/draw"
	"github.com/cosolive/livesync/internal/engine"
	"github.com/cosolive/livesync/internal/snapshots"
	"github.com/cosolive/livesync/internal/vote"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	profile := flag.String("config", "", "optional YAML profile overlaying env settings")
	room := flag.String("room", "", "room to observe (repeatable via LIVESYNC_ROOM)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg := config.NewConfigFromEnv()
	if *profile != "" {
		if err := cfg.LoadProfile(*profile); err != nil {
			log.Fatal().Err(err).Str("path", *profile).Msg("failed to load config profile")
		}
	}
	if *room != "" {
		cfg.Rooms = append(cfg.Rooms, *room)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ch := buildChannel(cfg)

	fetcher := snapshots.NewClient(cfg.SnapshotBaseURL)
	if cfg.AuthToken != "" {
		fetcher.SetHeader("Authorization", "Bearer "+cfg.AuthToken)
	}

	eng := engine.New(ch, fetcher, clockwork.NewRealClock(), engine.Config{
		Identity:      cfg.Identity(),
		TickInterval:  cfg.TickInterval,
		ActionTimeout: cfg.ActionTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info().
		Str("transport", cfg.Transport).
		Str("user_id", cfg.UserID).
		Strs("rooms", cfg.Rooms).
		Msg("starting livesync engine")

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine")
	}

	for _, roomID := range cfg.Rooms {
		openRoom(ctx, eng, fetcher, roomID)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	eng.Shutdown()
	log.Info().Msg("livesync shutdown complete")
}

func buildChannel(cfg config.Config) channel.Channel {
	switch cfg.Transport {
	case config.TransportNATS:
		return channel.NewNATSChannel(cfg.NATS)
	default:
		return channel.NewWebsocketChannel(cfg.Websocket)
	}
}

// openRoom opens a session with logging callbacks and seeds it with the
// votes already active in the room.
func openRoom(ctx context.Context, eng *engine.Engine, fetcher *snapshots.Client, roomID string) {
	session := eng.OpenSession(roomID, engine.Events{
		OnVoteChanged: func(v *vote.Activity) {
			log.Info().
				Int("activity_id", v.ID).
				Str("status", string(v.Status())).
				Bool("has_acted", v.HasActed()).
				Msg("vote updated")
		},
		OnDrawChanged: func(d *draw.Activity) {
			log.Info().
				Int("activity_id", d.ID).
				Str("round_id", d.RoundID()).
				Str("round_status", string(d.RoundStatus())).
				Str("participation", string(d.Participation())).
				Int("participants", d.ParticipantCount()).
				Int("drawn", d.CurrentCount()).
				Bool("winner", d.IsWinner()).
				Msg("draw updated")
		},
		OnCountdown: func(activityID int, snap countdown.Snapshot) {
			log.Debug().
				Int("activity_id", activityID).
				Int("until_start", snap.SecondsUntilStart).
				Int("remaining", snap.SecondsRemaining).
				Msg("countdown tick")
		},
		OnActionError: func(activityID int, message string) {
			log.Warn().
				Int("activity_id", activityID).
				Str("message", message).
				Msg("action rejected by server")
		},
		OnConnectivity: func(connected bool) {
			log.Info().Bool("connected", connected).Str("room_id", roomID).Msg("connectivity changed")
		},
	})

	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	votes, err := fetcher.ListActiveVotes(listCtx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("could not list active votes")
	}
	for _, snap := range votes {
		session.ObserveVote(snap.ID)
	}

	draws, err := fetcher.ListActiveDraws(listCtx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("could not list active draws")
	}
	for _, d := range draws {
		session.ObserveDraw(d.ActivityID)
	}
}
