package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"taskmate/internal/certs"
	"taskmate/internal/config"
	"taskmate/internal/crypto"
	"taskmate/internal/files"
	"taskmate/internal/gateway"
	"taskmate/internal/push"
	"taskmate/internal/session"
	"taskmate/internal/tour"
	"taskmate/internal/utils"
	"taskmate/internal/view"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Path to the client config file")
	serverFlag := flag.String("server", "", "Override server base URL (e.g. https://tasks.example.com)")
	metricsAddr := flag.String("metrics-addr", "", "Serve client metrics on this address (e.g. :9100)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error")
	runTour := flag.Bool("tour", false, "Run the guided demo tour after start-up")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	if *serverFlag != "" {
		cfg.SetServerURL(*serverFlag)
		if err := cfg.Validate(); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := run(cfg, *runTour); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, runTour bool) error {
	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Component("client")

	tokens, err := openTokenStore(cfg)
	if err != nil {
		return fmt.Errorf("token store: %w", err)
	}

	tlsCfg, err := tlsConfig(cfg.CACertDir)
	if err != nil {
		return fmt.Errorf("load CA certificates: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg

	reg := prometheus.NewRegistry()
	client := gateway.New(cfg.ServerURL,
		gateway.WithHTTPClient(&http.Client{Transport: transport}),
		gateway.WithTimeout(cfg.RequestTimeout.Duration),
		gateway.WithMetrics(gateway.NewMetrics(reg)),
		gateway.WithLogger(logger.Component("gateway")),
	)
	store := session.New(client, tokens, session.WithLogger(logger.Component("session")))
	client.SetTokenSource(store)

	channel := push.New(cfg.PushURL,
		push.WithDialer(&websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			TLSClientConfig:  tlsCfg,
		}),
		push.WithTokenSource(store),
		push.WithReconnect(cfg.Reconnect),
		push.WithMetrics(push.NewMetrics(reg)),
		push.WithLogger(logger.Component("push")),
	)

	sh := newShell(os.Stdin, os.Stdout, client)
	ctl := view.New(store, client,
		view.WithPush(channel),
		view.WithNotifier(view.NotifierFunc(sh.notify)),
		view.WithOnChange(sh.redraw),
		view.WithLogger(logger.Component("view")),
	)
	defer ctl.Close()
	sh.ctl = ctl
	sh.tour = tour.NewRunner(client, ctl,
		tour.WithProgress(sh.progress),
		tour.WithLogger(logger.Component("tour")),
	)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("server", cfg.ServerURL).Info("client starting")
	sh.report(ctl.Start(ctx))
	if runTour {
		sh.runTour(ctx)
	}
	return sh.loop(ctx)
}

// openTokenStore returns the file slot, sealed with the configured key or a
// device-derived key when sealing is on.
func openTokenStore(cfg *config.Config) (*files.FileTokenStore, error) {
	if err := utils.EnsureDir(filepath.Dir(cfg.TokenPath)); err != nil {
		return nil, err
	}
	if !cfg.SealToken {
		return files.NewFileTokenStore(cfg.TokenPath, nil)
	}
	key, err := crypto.ReadKey(cfg.KeyFile)
	if err != nil {
		fp, fpErr := utils.DeviceFingerprint()
		if fpErr != nil {
			return nil, fmt.Errorf("no token key (%v) and no device fingerprint: %w", err, fpErr)
		}
		if key, err = crypto.DeriveTokenKey(fp); err != nil {
			return nil, err
		}
	}
	return files.NewFileTokenStore(cfg.TokenPath, key)
}

func tlsConfig(caDir string) (*tls.Config, error) {
	if caDir == "" {
		return nil, nil
	}
	pool, err := certs.NewCertManager(caDir).Pool()
	if err != nil {
		return nil, err
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logrus.Entry) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics server stopped")
	}
}
