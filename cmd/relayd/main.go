package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/relay/pkg/config"
	"github.com/tokmz/relay/pkg/hub"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/server"
	"github.com/tokmz/relay/pkg/store"
	"github.com/tokmz/relay/pkg/sweeper"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（默认查找当前目录 relay.yaml）")
	flag.Parse()

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}

	log, level, err := logger.New(&cfg.Log)
	if err != nil {
		fatalf("failed to init logger: %v", err)
	}
	defer log.Sync()

	// 配置热更新：目前只应用日志级别
	config.Watch(v, func(next *config.Config) {
		level.SetLevel(logger.ParseLevel(next.Log.Level))
		log.Info("config reloaded", zap.String("log_level", next.Log.Level))
	})

	st, err := store.New(&cfg.Store)
	if err != nil {
		fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	opts := []hub.Option{
		hub.WithAuthTimeout(cfg.Hub.AuthTimeout),
		hub.WithHeartbeat(cfg.Hub.HeartbeatInterval, cfg.Hub.HeartbeatTimeout),
		hub.WithMaxClientsPerRoom(cfg.Hub.MaxClientsPerRoom),
		hub.WithMaxHistory(cfg.Hub.MaxHistory),
		hub.WithEmptyRoomGrace(cfg.Hub.EmptyRoomGrace),
	}
	if cfg.Hub.AllowAllOrigins {
		opts = append(opts, hub.WithAllowAllOrigins())
	}

	h, err := hub.New(log, st, opts...)
	if err != nil {
		fatalf("failed to init hub: %v", err)
	}

	sw := sweeper.New(st, h.Registry(), cfg.Sweeper.Interval, cfg.Sweeper.Retention, cfg.Hub.EmptyRoomGrace, log)
	if err := sw.Start(); err != nil {
		fatalf("failed to start sweeper: %v", err)
	}

	srv := server.New(h, st, log, cfg.Server.Mode)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("relay server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sw.Stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		if err := h.Shutdown(shutdownCtx); err != nil {
			log.Warn("hub shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

// fatalf logger 尚未就绪时的启动失败出口
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "relayd: "+format+"\n", args...)
	os.Exit(1)
}
