package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"redisync/internal/config"
	"redisync/internal/logging"
	"redisync/internal/server"
)

var log = logging.Named("main")

func main() {
	var (
		port      uint16
		replicaOf string
	)

	root := &cobra.Command{
		Use:   "redisync-server",
		Short: "A RESP-speaking, single-node key/value store with primary/replica replication",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(port, replicaOf)
		},
	}

	root.Flags().Uint16Var(&port, "port", config.DefaultPort, "port to listen on")
	root.Flags().StringVar(&replicaOf, "replicaof", "", "\"<host> <port>\" of the primary to replicate from")

	if err := root.Execute(); err != nil {
		log.Error("fatal startup error", "error", err.Error())
		os.Exit(1)
	}
}

func run(port uint16, replicaOf string) error {
	cfg := config.Default()
	cfg.Port = port

	if replicaOf != "" {
		addr, err := config.ParseReplicaOf(replicaOf)
		if err != nil {
			return err
		}
		cfg.ReplicaOf = &addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
		srv.Shutdown()
	}()

	return srv.Start(ctx)
}
