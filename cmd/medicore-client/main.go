// Copyright 2026 The MediCore Authors
// SPDX-License-Identifier: Apache-2.0

// medicore-client joins one collaboration room and streams its
// real-time events to stdout. It is the reference consumer of the
// client core: it logs in (or resumes a stored session), starts the
// credential manager, connects the room session, and prints every
// domain event until interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/its-amann/MediCore-Ai-Platform--sub001/api"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/auth"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/event"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/room"
	"github.com/its-amann/MediCore-Ai-Platform--sub001/transport"
)

// config is the yaml configuration file, overridden field by field by
// command-line flags.
type config struct {
	ServerURL    string `yaml:"server_url"`
	WebsocketURL string `yaml:"websocket_url"`
	Email        string `yaml:"email"`
	TokenFile    string `yaml:"token_file"`
	LogLevel     string `yaml:"log_level"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		roomID     string
		password   string
	)
	flags := pflag.NewFlagSet("medicore-client", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to yaml config file")
	flags.StringVar(&roomID, "room", "", "room ID to join (required)")
	flags.StringVar(&password, "password", "", "password for login (omit to resume a stored session)")

	cfg := config{
		ServerURL: "http://localhost:8000",
		LogLevel:  "info",
	}
	serverURL := flags.String("server", "", "REST base URL (overrides config)")
	websocketURL := flags.String("websocket", "", "websocket base URL (overrides config)")
	email := flags.String("email", "", "login email (overrides config)")
	tokenFile := flags.String("token-file", "", "token store path (overrides config)")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn, error")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if roomID == "" {
		return fmt.Errorf("--room is required")
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("reading config %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}
	if *serverURL != "" {
		cfg.ServerURL = *serverURL
	}
	if *websocketURL != "" {
		cfg.WebsocketURL = *websocketURL
	}
	if *email != "" {
		cfg.Email = *email
	}
	if *tokenFile != "" {
		cfg.TokenFile = *tokenFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if cfg.WebsocketURL == "" {
		cfg.WebsocketURL = "ws" + cfg.ServerURL[len("http"):]
	}
	if cfg.TokenFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.TokenFile = filepath.Join(home, ".medicore", "tokens.json")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := api.NewClient(api.ClientConfig{BaseURL: cfg.ServerURL, Logger: logger})
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	manager, err := auth.NewManager(auth.ManagerConfig{
		Refresh: func(ctx context.Context, refreshToken string) (auth.Credential, error) {
			response, err := client.Refresh(ctx, refreshToken)
			if err != nil {
				return auth.Credential{}, err
			}
			return auth.Credential{
				AccessToken:  response.AccessToken,
				RefreshToken: response.RefreshToken,
				ExpiresAt:    response.ExpiresAt,
			}, nil
		},
		Store:  auth.NewFileStore(cfg.TokenFile),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	userID, err := authenticate(ctx, client, manager, cfg.Email, password)
	if err != nil {
		return err
	}
	manager.Start()
	defer manager.Stop()

	meta, err := client.GetRoom(ctx, mustToken(manager), roomID)
	if err != nil {
		return fmt.Errorf("resolving room %s: %w", roomID, err)
	}
	fmt.Printf("joining %s (%s) as %s\n", meta.Name, meta.RoomType, userID)

	session, err := room.NewSession(room.SessionConfig{
		RoomID:      roomID,
		UserID:      userID,
		Credentials: manager,
		ServerURL:   cfg.WebsocketURL,
		MaxViewers:  meta.MaxViewers,
		Logger:      logger,
		OnStateChange: func(state transport.State) {
			fmt.Printf("-- connection %s\n", state)
		},
		OnTyping: func(typingUserID string, typing bool) {
			if typing {
				fmt.Printf("-- %s is typing\n", typingUserID)
			}
		},
		OnPeerDown: func(peerID string) {
			fmt.Printf("-- media connection to %s lost\n", peerID)
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	for _, kind := range []event.Kind{
		event.KindMessage, event.KindReaction, event.KindPresence,
		event.KindScreenShare, event.KindAI, event.KindSystem,
	} {
		session.Subscribe(kind, printEvent)
	}

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to room %s: %w", roomID, err)
	}

	// The session closes itself on terminal credential expiry; the
	// signal context covers interrupts.
	<-ctx.Done()
	fmt.Println("-- shutting down")
	return nil
}

// authenticate logs in when a password is given, otherwise resumes the
// stored session. Returns the user id events refer to this client by.
func authenticate(ctx context.Context, client *api.Client, manager *auth.Manager, email, password string) (string, error) {
	if password != "" {
		response, err := client.Login(ctx, email, password)
		if err != nil {
			return "", err
		}
		manager.SetCredential(auth.Credential{
			AccessToken:  response.AccessToken,
			RefreshToken: response.RefreshToken,
			ExpiresAt:    response.ExpiresAt,
		})
		return response.UserID, nil
	}

	loaded, err := manager.LoadStored()
	if err != nil {
		return "", fmt.Errorf("loading stored session: %w", err)
	}
	if !loaded {
		return "", fmt.Errorf("no stored session; log in with --email and --password")
	}
	profile, err := client.GetProfile(ctx, mustToken(manager), "me")
	if err != nil {
		return "", fmt.Errorf("resolving own profile: %w", err)
	}
	return profile.ID, nil
}

func mustToken(manager *auth.Manager) string {
	token, _ := manager.Token()
	return token
}

func printEvent(ev event.Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Printf("%s %s\n", ev.Type, line)
}
