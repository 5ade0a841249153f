package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"taskmate/internal/api"
	"taskmate/internal/utils"
)

// Development backend: in-memory users and tasks, JWT auth and a STOMP hub
// on /ws. State is lost on restart.
func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	secret := flag.String("secret", "", "JWT signing secret (default: TASKMATE_JWT_SECRET or a dev secret)")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of issued tokens")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error")
	flag.Parse()

	logger, err := utils.NewLogger(*logLevel, "")
	if err != nil {
		logrus.WithError(err).Fatal("logger setup failed")
	}
	defer logger.Close()
	log := logger.Component("server")

	if *secret == "" {
		*secret = os.Getenv("TASKMATE_JWT_SECRET")
	}
	opts := []api.Option{api.WithTokenTTL(*tokenTTL), api.WithLogger(logger.Component("api"))}
	if *secret != "" {
		opts = append(opts, api.WithSecret([]byte(*secret)))
	} else {
		log.Warn("using the built-in development JWT secret")
	}
	backend := api.NewServer(opts...)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.NewRouter(backend),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		backend.Hub().Close()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", *addr).Info("server running")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server failed")
	}
}
