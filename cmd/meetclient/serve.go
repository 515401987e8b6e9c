package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	router "github.com/dkeye/meetclient/internal/adapters/http"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the local control API for one call session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		lobby, err := newLobby(cfg)
		if err != nil {
			return err
		}
		defer lobby.Close()

		r := router.SetupRouter(cfg, lobby)
		addr := fmt.Sprintf(":%d", cfg.Port)
		srv := &http.Server{
			Addr:    addr,
			Handler: r,
		}

		go func() {
			log.Info().Str("addr", addr).Msg("meetclient control API started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("server error")
				cancel()
			}
		}()

		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		log.Info().Msg("Server exited gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "port of the control API")
	_ = settings.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}
