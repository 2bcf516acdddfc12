package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pigeon/internal/domain"
	"pigeon/internal/gateway"
	"pigeon/internal/services/broker"
	"pigeon/internal/services/relation"
	"pigeon/internal/services/session"
	"pigeon/internal/store"
)

func main() {
	_ = godotenv.Load()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	addr := os.Getenv("PIGEON_ADDR")
	if addr == "" {
		addr = ":8970"
	}

	var (
		users     domain.UserStore
		relations domain.RelationStore
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		ctx := context.Background()
		pg, err := store.ConnectPostgres(ctx, dsn)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		users, relations = pg, pg
		log.Info("using postgres store")
	} else {
		mem := store.NewMemory()
		users, relations = mem, mem
		log.Info("using in-memory store")
	}

	sessions := session.New()
	registry := gateway.NewRegistry(log)
	relationSvc := relation.New(relations, registry, log)
	registry.SetSessionHooks(relationSvc.HandleConnect, relationSvc.HandleDisconnect)
	brokerSvc := broker.New(relations, registry, log)

	server := gateway.New(gateway.Config{Addr: addr}, users, sessions, relationSvc, brokerSvc, registry, log)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info("shutting down")
		_ = server.Shutdown()
	}()

	return server.Listen()
}
