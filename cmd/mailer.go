/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/eims-app/apiserver/config"
	"github.com/eims-app/apiserver/internal/db"
	"github.com/eims-app/apiserver/internal/logger"
	"github.com/eims-app/apiserver/internal/mail"
	"github.com/eims-app/apiserver/internal/metrics"
	"github.com/eims-app/apiserver/internal/mq"
	"github.com/eims-app/apiserver/internal/store"
	"github.com/spf13/cobra"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Delivers queued emails",
	Long: `Consumes the mail channel and delivers each message through
MAIL_DELIVERY_TRANSPORT. Usage:

	eims mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := logger.Init(cfg.Log.Level, cfg.Log.Format)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer queue.Close()

		// Abandoned reset emails clear the pending reset they carried.
		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer dbConn.Close()

		transport, err := mail.NewTransport(cfg.Mail.DeliveryTransport, cfg.Mail)
		if err != nil {
			return err
		}

		m := metrics.New()
		if cfg.Mail.MetricsAddr != "" {
			ln, err := net.Listen("tcp", cfg.Mail.MetricsAddr)
			if err != nil {
				return fmt.Errorf("listen metrics: %w", err)
			}
			go func() {
				if err := m.Serve(ctx, ln); err != nil {
					log.Error().Err(err).Msg("metrics server stopped")
				}
			}()
			log.Info().Str("addr", ln.Addr().String()).Msg("serving mailer metrics")
		}

		worker := mail.NewWorker(
			mail.NewMailer(transport, cfg.Auth.ResetTokenTTL),
			queue,
			store.NewUserRepository(dbConn),
			cfg.Mail.Channel,
			log,
			m,
		)
		log.Info().Str("transport", transport.Name()).Msg("delivering queued email")
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
