package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-pairtrack/internal/config"
	"agent-pairtrack/internal/db"
	"agent-pairtrack/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig   func() config.Config
	openKV       func(context.Context, config.Config) (db.KV, error)
	connectRedis func(config.Config) *redis.Client
	notify       func(chan<- os.Signal, ...os.Signal)
	run          func(context.Context, config.Config, db.KV, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:   config.Load,
		openKV:       db.OpenKV,
		connectRedis: db.ConnectRedis,
		notify:       signal.Notify,
		run:          Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	kv, err := deps.openKV(context.Background(), cfg)
	if err != nil {
		log.Printf("kv open failed: %v", err)
		return
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, kv, rdb, signals, nil); err != nil {
		log.Printf("agent exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the agent and waits for termination signals. On the way out it
// drains the capture loop and flushes any pending timeline write before the
// stores close.
func Run(ctx context.Context, cfg config.Config, kv db.KV, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	srv := server.NewServer(cfg, kv, rdb)

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()

	srv.Loop.Start()
	if srv.Channel != nil {
		go srv.Channel.MonitorReachability(monitorCtx, 2*time.Second)
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}

	cancelMonitor()
	srv.Loop.Stop()
	srv.Source.Close()

	if err := srv.Store.Flush(shutdownCtx); err != nil {
		log.Printf("timeline flush failed: %v", err)
	}

	if srv.Channel != nil {
		_ = srv.Channel.Close()
	}
	if kv != nil {
		_ = kv.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
