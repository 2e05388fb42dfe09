package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheerbytes/tftp/internal/config"
	"github.com/sheerbytes/tftp/internal/logging"
	"github.com/sheerbytes/tftp/internal/server"
)

func main() {
	cfg := config.ParseServerConfig()
	logger := logging.New("tftpd", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
	logger.Info("server stopped")
}
