package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// ServerURL is the base URL of the chat backend API.
	ServerURL string
	// SocketPath is the Socket.IO endpoint path on the server.
	SocketPath string

	// PageSize is the number of messages fetched per history page.
	PageSize int

	// ReconnectBase is the first reconnection backoff delay.
	ReconnectBase time.Duration
	// ReconnectCap bounds a single backoff delay.
	ReconnectCap time.Duration
	// ReconnectRetries is the number of reconnection attempts before the
	// engine gives up and enters degraded mode.
	ReconnectRetries int

	// Debug enables verbose logging.
	Debug bool
}

// Load loads configuration from environment and defaults.
func Load() (*Config, error) {
	serverURL := os.Getenv("CHATSYNC_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080/chatapp"
	}

	socketPath := os.Getenv("CHATSYNC_SOCKET_PATH")
	if socketPath == "" {
		socketPath = "/ws"
	}

	pageSize := 20
	if raw := os.Getenv("CHATSYNC_PAGE_SIZE"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid CHATSYNC_PAGE_SIZE %q", raw)
		}
		pageSize = parsed
	}

	debug := os.Getenv("CHATSYNC_DEBUG") == "true" || os.Getenv("CHATSYNC_DEBUG") == "1"

	return &Config{
		ServerURL:        serverURL,
		SocketPath:       socketPath,
		PageSize:         pageSize,
		ReconnectBase:    2 * time.Second,
		ReconnectCap:     30 * time.Second,
		ReconnectRetries: 5,
		Debug:            debug,
	}, nil
}
