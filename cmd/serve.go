// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/browser/tab"
	"github.com/xkilldash9x/scalpel-pilot/internal/observability"
	"github.com/xkilldash9x/scalpel-pilot/internal/pilot"
	"github.com/xkilldash9x/scalpel-pilot/internal/pilot/bus"
)

// busBuffer is the per-subscriber queue depth.
const busBuffer = 64

func newServeCmd() *cobra.Command {
	var pages []string
	serveCmd := &cobra.Command{
		Use:   "serve --page <file|url> [--page ...]",
		Short: "Polls the pilot server and runs its DOM actions against the loaded pages",
		Long: `Polls the pilot server's /sync endpoint and runs every dom_action command
against the loaded pages. Pages become tabs 1..n; tab 0 in a command means
the active tab, which is the first page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			reg, err := openRegistry(cmd.Context(), cfg, pages, logger)
			if err != nil {
				return err
			}
			defer reg.Close()

			b := bus.New(logger, busBuffer)
			defer b.Close()

			svc := pilot.NewService(newDispatcher(cfg, reg, logger), b, serviceSettings(cfg.Pilot()), logger)
			client := pilot.NewSyncClient(syncSettings(cfg.Pilot()), b, logger,
				pilot.WithStateProvider(trackedState(reg)))

			logger.Info("Pilot serving.",
				zap.String("server", cfg.Pilot().ServerURL),
				zap.String("session_id", client.SessionID()),
				zap.Ints("tabs", reg.IDs()))

			err = runPilot(cmd.Context(), svc, client, b, logger)
			if errors.Is(err, context.Canceled) {
				logger.Info("Pilot stopped.")
				return nil
			}
			return err
		},
	}
	fl := serveCmd.Flags()
	fl.StringArrayVarP(&pages, "page", "p", nil, "page to load as a tab (repeatable)")
	fl.String("server", "", "override pilot.server_url")
	fl.String("session", "", "override pilot.session_id")
	fl.Int("max-flight", 0, "override pilot.max_in_flight")
	fl.Duration("poll", 0, "override pilot.poll_interval")
	fl.Bool("headless", true, "run Chrome headless for live pages")
	_ = serveCmd.MarkFlagRequired("page")
	return serveCmd
}

// runPilot runs the service, the sync loop and the toast log until ctx
// ends or one of them fails.
func runPilot(ctx context.Context, svc *pilot.Service, client *pilot.SyncClient, b *bus.Bus, logger *zap.Logger) error {
	toasts, unsubscribe := b.Subscribe(bus.TopicToast)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error {
		logToasts(gctx, toasts, b, logger.Named("toast"))
		return nil
	})
	return g.Wait()
}

// logToasts stands in for the on-page toast overlay.
func logToasts(ctx context.Context, toasts <-chan bus.Message, b *bus.Bus, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-toasts:
			if !ok {
				return
			}
			if t, ok := msg.Payload.(pilot.Toast); ok {
				logger.Info(t.Text,
					zap.Int("tab_id", t.TabID),
					zap.String("kind", string(t.Kind)),
					zap.String("detail", t.Detail))
			}
			b.Ack(msg)
		}
	}
}

// trackedState reports the active tab on every sync.
func trackedState(reg *tab.Registry) func() schemas.SyncSettings {
	return func() schemas.SyncSettings {
		st := schemas.SyncSettings{PilotEnabled: true, TrackingEnabled: true}
		if t, err := reg.Tab(0); err == nil {
			st.TrackedTabID = t.ID()
			st.TrackedTabURL = t.URL()
			st.TrackedTabTitle = t.Title()
		}
		return st
	}
}
