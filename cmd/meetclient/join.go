package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/dkeye/meetclient/internal/app/orch"
	"github.com/dkeye/meetclient/internal/config"
	"github.com/dkeye/meetclient/internal/domain"
	"github.com/dkeye/meetclient/internal/identity"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// joinCmd represents the join command
var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Joins a room headlessly and stays until interrupted",
	Long: `Joins a room with the configured media source, calls every participant
already present, answers everyone who arrives later and logs roster changes.
Leaves the room on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		user, err := callUser(cfg)
		if err != nil {
			return err
		}
		lobby, err := newLobby(cfg)
		if err != nil {
			return err
		}
		defer lobby.Close()

		coord, err := lobby.Join(ctx, domain.RoomID(cfg.Call.Room), *user, cfg.Call.Token)
		if err != nil {
			log.Error().Str("module", "main").Str("room", cfg.Call.Room).Err(err).Msg("join failed")
			return err
		}

		snaps, unsubscribe := coord.Subscribe()
		defer unsubscribe()
		watchRoster(ctx.Done(), snaps)

		log.Info().Str("module", "main").Str("room", cfg.Call.Room).Msg("leaving")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().String("room", "", "room to join")
	joinCmd.Flags().String("user", "", "user id, taken from the token when empty")
	joinCmd.Flags().String("name", "", "display name, defaults to the token name or the user id")
	joinCmd.Flags().String("token", "", "bearer credential for the signaling service")
	for _, name := range []string{"room", "user", "name", "token"} {
		_ = settings.BindPFlag("call."+name, joinCmd.Flags().Lookup(name))
	}
}

// callUser resolves the local identity from flags, falling back to the token claims.
func callUser(cfg *config.Config) (*domain.User, error) {
	if cfg.Call.Room == "" {
		return nil, errors.New("--room is required")
	}
	var fromToken *domain.User
	if cfg.Call.Token != "" {
		u, err := identity.FromToken(cfg.Call.Token, cfg.Identity.JWTSecret)
		if err != nil && cfg.Call.User == "" {
			return nil, err
		}
		fromToken = u
	}

	id, name := cfg.Call.User, cfg.Call.Name
	if fromToken != nil {
		if id == "" {
			id = string(fromToken.ID)
		}
		if name == "" {
			name = fromToken.Name
		}
	}
	if name == "" {
		name = id
	}
	return domain.NewUser(id, name)
}

// watchRoster logs every change of phase, roster size or error until done.
func watchRoster(done <-chan struct{}, snaps <-chan orch.Snapshot) {
	var last orch.Snapshot
	for {
		select {
		case <-done:
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if snap.Phase != last.Phase || len(snap.Participants) != len(last.Participants) || snap.Error != last.Error {
				ev := log.Info().Str("module", "main").Str("room", string(snap.RoomID)).Str("phase", snap.Phase).Int("participants", len(snap.Participants))
				if snap.Error != "" {
					ev = ev.Str("error", snap.Error)
				}
				ev.Msg("call state")
				for _, m := range snap.Participants {
					log.Debug().Str("module", "main").Str("socket_id", string(m.SocketID)).Str("peer", string(m.PeerID)).
						Str("name", m.DisplayName).Bool("stream", m.Stream != nil).Msg("participant")
				}
			}
			last = snap
		}
	}
}
