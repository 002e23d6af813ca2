package cmds

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/helpers"
	"github.com/go-go-golems/sectionstream/pkg/inference"
	"github.com/go-go-golems/sectionstream/pkg/inference/session"
	"github.com/go-go-golems/sectionstream/pkg/metrics"
	"github.com/go-go-golems/sectionstream/pkg/server"
	"github.com/go-go-golems/sectionstream/pkg/settings"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func NewServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve turns over HTTP as Server-Sent Events",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(v)
			if err != nil {
				return err
			}
			dumpEvents, _ := cmd.Flags().GetBool("dump-events")
			return serve(cmd.Context(), s, dumpEvents, v.GetBool("verbose"))
		},
	}
	cmd.Flags().String("address", "", "Listen address (default :8080)")
	cmd.Flags().Bool("dump-events", false, "Log every event of every turn")
	cobra.CheckErr(v.BindPFlag("server.address", cmd.Flags().Lookup("address")))
	return cmd
}

func serve(ctx context.Context, s *settings.Settings, dumpEvents bool, verbose bool) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return err
	}

	a, err := newApp(s, m)
	if err != nil {
		return err
	}

	routerOptions := []events.EventRouterOption{
		events.WithLogger(helpers.NewWatermill(log.Logger)),
	}
	if verbose {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return errors.Wrap(err, "failed to create event router")
	}
	defer func() {
		_ = router.Close()
	}()
	if dumpEvents {
		router.AddHandler("dump", s.Server.Topic, router.DumpRawEvents(os.Stderr))
	}

	options := []server.Option{server.WithMetrics(reg)}
	if dumpEvents {
		options = append(options, server.WithMirror(inference.NewWatermillSink(router.Publisher, s.Server.Topic)))
	}
	srv := server.New(session.NewStore(a.builder, a.rules), a.table, options...)
	httpServer := srv.NewHTTPServer(s.Server.Address)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		<-router.Running()
		log.Info().Str("address", s.Server.Address).Str("provider", s.Provider).Msg("serving turns")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
