package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ultravideo/kvazzup/internal/config"
	"github.com/ultravideo/kvazzup/internal/id"
	"github.com/ultravideo/kvazzup/internal/metrics"
	"github.com/ultravideo/kvazzup/sdp"
	"github.com/ultravideo/kvazzup/sip"
	"github.com/ultravideo/kvazzup/ua"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file, overridden by KVAZZUP_ env vars")
	debflag := flag.Bool("debug", false, "")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05.000",
	}).With().Timestamp().Logger().Level(zerolog.InfoLevel)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		log.Logger = log.Logger.Level(lvl)
	}
	if *debflag {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	if cfg.Username == "" {
		cfg.Username = id.NewAnonymousUser()
		log.Info().Str("username", cfg.Username).Msg("no username configured, generated an anonymous one")
	}

	uaCfg := ua.Config{
		DisplayName: cfg.Username,
		LocalURI:    sip.URI{Scheme: sip.SchemeSIP, User: cfg.Username, Host: cfg.ListenIP, Port: cfg.ListenPort},
		Contact:     sip.URI{Scheme: sip.SchemeSIP, User: cfg.Username, Host: cfg.ListenIP, Port: cfg.ListenPort},
		Transport:   sip.ProtoUDP,
		ListenPort:  cfg.ListenPort,
		LocalIP:     cfg.ListenIP,
		MediaSpecs:  defaultMediaSpecs(cfg.Media.PortRangeStart),
	}

	tu := &loggingTU{log: log.Logger.With().Str("component", "tu").Logger()}

	coord, err := ua.NewCoordinator(uaCfg, tu, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct coordinator")
	}

	registry := metrics.NewRegistry(prometheus.DefaultRegisterer)
	coord.SetMetricsHook(registry)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := coord.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start sip transport")
	}
	log.Info().Str("addr", coord.ListenAddr()).Msg("kvazzupd listening")

	if cfg.Registrar != "" {
		registrar, err := sip.ParseURI(cfg.Registrar)
		if err != nil {
			log.Error().Err(err).Str("registrar", cfg.Registrar).Msg("invalid registrar uri, skipping registration")
		} else if err := coord.RegisterToServer(ctx, registrar, cfg.Username); err != nil {
			log.Error().Err(err).Msg("initial registration failed")
		}
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Listen, cfg.Metrics.Path, coord, registry)
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	coord.Shutdown()
}

// defaultMediaSpecs declares one mandatory PCMU audio stream, the
// narrowband codec the original client always offers alongside whatever
// wideband codec is negotiable; transcoding and wideband codecs are out
// of this demo binary's scope (media itself is an external collaborator).
func defaultMediaSpecs(rtpPort int) []sdp.MediaSpec {
	return []sdp.MediaSpec{
		{
			Kind:      sdp.Audio,
			Port:      rtpPort,
			Mandatory: true,
			Codecs:    []sdp.Codec{{PayloadType: 0, Name: "PCMU", ClockRate: 8000}},
		},
	}
}

// loggingTU is the demo binary's transaction-user: it only logs events,
// since kvazzupd has no UI to drive accept/reject decisions. A real
// application would implement ua.TU itself and call back into
// AcceptCall/RejectCall/EndCall from its own event loop.
type loggingTU struct {
	log zerolog.Logger
}

func (t *loggingTU) OnUAEvent(e ua.Event) {
	t.log.Info().Interface("event", e).Msg("ua event")
}

// metricsUpdateInterval is how often the gauge metrics are refreshed from
// the coordinator's live tables; the counters (sent/received) update
// themselves inline via the transport.MetricsHook.
const metricsUpdateInterval = 5 * time.Second

func serveMetrics(addr, path string, coord *ua.Coordinator, registry *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Alive"))
	})

	go func() {
		ticker := time.NewTicker(metricsUpdateInterval)
		defer ticker.Stop()
		for range ticker.C {
			registry.ActiveDialogs.Set(float64(coord.DialogCount()))
			registry.ActiveTransactions.Set(float64(coord.TransactionCount()))
		}
	}()

	log.Info().Str("addr", addr).Str("path", path).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server failed")
	}
}
