package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"roomchat/internal/util"
	"roomchat/services/chatroom/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the room API and live room stream",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.Close()

	trusted, err := util.NewTrustedProxies(rt.cfg.TrustedProxies)
	if err != nil {
		return err
	}
	httpServer := server.New(server.Config{
		App:            rt.app,
		CORSOrigins:    rt.cfg.CORSOrigins,
		TrustedProxies: trusted,
		Logger:         rt.log,
	})
	srv := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.log.Info("chatroom server listening", "addr", srv.Addr, "mode", rt.app.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.log.Error("shutdown failed", "err", err)
		}
		// hijacked websocket connections are not tracked by Shutdown
		httpServer.CloseStreams()
		rt.log.Info("chatroom server stopped")
		return nil
	})
	return g.Wait()
}
