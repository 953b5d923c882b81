package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ghiac/agentize"
	"github.com/ghiac/agentize/config"
)

const serverShutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("agentize: load config: %v", err)
	}

	ag, err := agentize.New(ctx, cfg)
	if err != nil {
		stdlog.Fatalf("agentize: wire components: %v", err)
	}
	defer ag.Close(context.Background())

	ag.Start(ctx)

	if !cfg.HTTP.Enabled {
		stdlog.Println("agentize: HTTP server disabled (AGENTIZE_HTTP_ENABLED=false); running library-mode until signaled")
		<-ctx.Done()
		return
	}

	router := gin.Default()
	ag.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.GetAddress(), Handler: router}
	go func() {
		stdlog.Printf("agentize: listening on %s", cfg.GetAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stdlog.Fatalf("agentize: http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		stdlog.Printf("agentize: http server shutdown: %v", err)
	}
}
