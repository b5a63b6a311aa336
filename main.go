package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaoyuanzhu-com/claude-agent-go/api"
	"github.com/xiaoyuanzhu-com/claude-agent-go/config"
	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
	"github.com/xiaoyuanzhu-com/claude-agent-go/server"
)

func main() {
	cfg := config.Get()
	log.SetLevel(cfg.LogLevel)

	srv := server.New(server.FromAppConfig(cfg))
	api.SetupRoutes(srv.Router(), api.NewHandlers(srv))

	go func() {
		printNetworkAddresses(cfg.Port)

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Each CLI gets an interrupt grace period before it is killed.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}

func printNetworkAddresses(port int) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					log.Info().Str("url", fmt.Sprintf("http://%s:%d", ip4.String(), port)).Msg("network")
				}
			}
		}
	}
}
