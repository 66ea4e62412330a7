package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appcfg "chessduel/internal/config"
	"chessduel/internal/gateway"
	"chessduel/internal/ident"
	"chessduel/internal/msgcat"
	"chessduel/internal/obslog"
	"chessduel/internal/record"
	"chessduel/internal/router"
	"chessduel/internal/rules"
	"chessduel/internal/session"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	cat, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		logger.Fatal("message catalog init failed", zap.Error(err))
	}

	// optional persistence backends
	var mirror *record.Mirror
	if cfg.RedisURL != "" {
		mirror, err = record.NewMirror(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis mirror init failed", zap.Error(err))
		}
	}
	var archive *record.Archive
	if cfg.DatabaseURL != "" {
		archive, err = record.NewArchive(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres archive init failed", zap.Error(err))
		}
	}
	rec := record.NewRecorder(mirror, archive)

	mgr := session.NewManager(rules.NewEngine(), ident.NewGenerator(), cfg.GracePeriod, cfg.MaxRooms)
	rt := router.New(mgr, nil, rec, cat)
	gw := gateway.NewServer(rt)
	rt.SetEmitter(gw)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Duration("grace_period", cfg.GracePeriod),
			zap.Int("max_rooms", cfg.MaxRooms),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = gw.Close(ctx)
	_ = mirror.Close()
	_ = archive.Close()
	_ = logger.Sync()
}
