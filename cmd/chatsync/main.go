package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vule/chatsync/internal/api"
	"github.com/vule/chatsync/internal/config"
	"github.com/vule/chatsync/internal/engine"
	"github.com/vule/chatsync/internal/identity"
	"github.com/vule/chatsync/internal/transport"
	"github.com/vule/chatsync/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	username := flag.String("user", os.Getenv("CHATSYNC_USERNAME"), "login username")
	password := flag.String("pass", os.Getenv("CHATSYNC_PASSWORD"), "login password")
	flag.Parse()

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
		logger.Debugf("config: server=%s socket=%s", cfg.ServerURL, cfg.SocketPath)
	}
	if *username == "" || *password == "" {
		return fmt.Errorf("credentials required (-user/-pass or CHATSYNC_USERNAME/CHATSYNC_PASSWORD)")
	}

	ctx := context.Background()

	// Login with a throwaway client, then rebuild everything session-owned
	// from the resulting identity.
	login := api.NewClient(cfg.ServerURL, func() (string, error) { return "", nil })
	token, err := login.Login(ctx, *username, *password)
	_ = login.Close()
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	session, err := identity.FromToken(*username, token)
	if err != nil {
		return err
	}
	logger.Infof("logged in as %s (session %s)", session.Username, session.SessionID)

	credentials := func() (string, error) { return session.Credential(), nil }
	apiClient := api.NewClient(cfg.ServerURL, credentials)
	defer apiClient.Close()

	channel := transport.NewManager(transport.Options{
		ServerURL:        cfg.ServerURL,
		SocketPath:       cfg.SocketPath,
		SessionID:        session.SessionID,
		Username:         session.Username,
		Credential:       credentials,
		ReconnectBase:    cfg.ReconnectBase,
		ReconnectCap:     cfg.ReconnectCap,
		ReconnectRetries: cfg.ReconnectRetries,
	})

	eng := engine.New(engine.Options{
		Session:  session,
		Channel:  channel,
		Fetcher:  apiClient,
		Uploader: apiClient,
		PageSize: cfg.PageSize,
	})
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	defer eng.Stop()

	for _, conv := range eng.GetConversations() {
		marker := " "
		if conv.Counterpart != nil && conv.Counterpart.Online {
			marker = "*"
		}
		fmt.Printf("%s %-30s %s\n", marker, conv.Title, conv.LastMessageSummary)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Infof("shutting down")
	return nil
}
