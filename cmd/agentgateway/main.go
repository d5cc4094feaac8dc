// Command agentgateway is the entry point for the gateway data plane.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentgateway/agentgateway/cmd/agentgateway/app"
	"github.com/agentgateway/agentgateway/pkg/logger"
)

func main() {
	logger.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("error executing command: %v", err)
		os.Exit(1)
	}
}
