package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Plag0/Soundproof-Walls-sub002/internal/channel"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/config"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/discovery"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/mesh"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/metrics"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/natsbus"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/relay"
	"github.com/Plag0/Soundproof-Walls-sub002/internal/transport"
)

type closer interface {
	channel.Transport
	Close() error
}

func main() {
	cfgPath := flag.String("config", "", "TOML config file (optional)")
	addr := flag.String("addr", "", "listen address (overrides server.listen)")
	kind := flag.String("transport", "", "quic | nats (overrides transport.kind)")
	natsURL := flag.String("nats", "", "NATS url (overrides transport.nats_url)")
	metricsAddr := flag.String("metrics", "", "metrics listen address (overrides metrics.listen)")
	noDiscovery := flag.Bool("no-discovery", false, "disable mDNS advertisement")
	echo := flag.Bool("echo", false, "also forward messages back to their sender")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Server.Listen = *addr
	}
	if *kind != "" {
		cfg.Transport.Kind = *kind
	}
	if *natsURL != "" {
		cfg.Transport.NATSURL = *natsURL
	}
	if *metricsAddr != "" {
		cfg.Metrics.Listen = *metricsAddr
	}
	if *noDiscovery {
		cfg.Discovery.Enabled = false
	}
	if *echo {
		cfg.Relay.Echo = true
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("relay failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	tr, port, err := openTransport(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer tr.Close()

	r, err := relay.New(tr,
		relay.WithChannels(cfg.Channels),
		relay.WithLogger(log),
		relay.WithEcho(cfg.Relay.Echo),
	)
	if err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}
	defer r.Stop()

	if cfg.Discovery.Enabled && port > 0 {
		adv, err := discovery.Advertise(cfg.Discovery.Instance, port)
		if err != nil {
			log.Warn("mDNS advertisement disabled", "err", err)
		} else {
			defer adv.Close()
			log.Info("advertising relay", "instance", cfg.Discovery.Instance, "port", port)
		}
	}

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metrics.NewRouter(r.Healthy),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	<-ctx.Done()
	log.Info("relay shutting down")
	return nil
}

// openTransport returns the configured transport and, for QUIC, the bound port.
func openTransport(ctx context.Context, cfg *config.Config, log *slog.Logger) (closer, int, error) {
	switch cfg.Transport.Kind {
	case config.TransportNATS:
		t, err := natsbus.Connect(cfg.Transport.NATSURL, cfg.Transport.NATSPrefix, channel.PeerID(cfg.Server.NodeID), log)
		if err != nil {
			return nil, 0, err
		}
		log.Info("relay on nats", "url", cfg.Transport.NATSURL, "prefix", cfg.Transport.NATSPrefix)
		return t, 0, nil
	default:
		tlsCfg, err := transport.ServerTLSConfig(cfg.Server.CertFile, cfg.Server.KeyFile)
		if err != nil {
			return nil, 0, err
		}
		s, err := mesh.Listen(ctx, cfg.Server.Listen, mesh.WithTLS(tlsCfg), mesh.WithServerLogger(log))
		if err != nil {
			return nil, 0, err
		}
		return s, s.Port(), nil
	}
}
