// Package identity holds the authenticated user's identity for one engine
// session and implements the single sender-identity comparison used everywhere
// a message is materialized.
package identity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Session is the identity and credential of one authenticated engine session.
//
// Exactly one Session is active per authenticated user context. Two sessions
// never share a SessionID or credential; the engine constructs everything it
// owns (transport, subscriptions) from one Session and tears it down with it.
type Session struct {
	// SessionID is an opaque id unique to this session, regenerated per login.
	SessionID string
	// UserID is the server-assigned stable user id.
	UserID string
	// Username is the user's login name.
	Username string

	mu         sync.RWMutex
	credential string
}

// NewSession creates a Session with a fresh session id.
func NewSession(userID, username, credential string) *Session {
	return &Session{
		SessionID:  uuid.NewString(),
		UserID:     userID,
		Username:   username,
		credential: credential,
	}
}

// FromToken builds a Session from a bearer token, reading the user id and
// username from the JWT claims when present.
//
// The token is parsed without signature verification: the server remains the
// sole verifier, the client only needs the identity claims it embeds.
func FromToken(username, token string) (*Session, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}

	userID := firstStringClaim(claims, "id", "userId", "sub")
	if claimed := firstStringClaim(claims, "username"); claimed != "" {
		username = claimed
	}
	if username == "" {
		return nil, fmt.Errorf("credential carries no username")
	}

	return NewSession(userID, username, token), nil
}

// Credential returns the current bearer credential.
//
// Callers must re-read this at every connect/request rather than caching it,
// so a refreshed credential takes effect on the next reconnect.
func (s *Session) Credential() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// SetCredential replaces the bearer credential after a refresh.
func (s *Session) SetCredential(credential string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = credential
}

// IsOwn reports whether a message sender is this session's user.
//
// The server-assigned user id is the canonical comparison key. The
// case-insensitive username fallback only applies when either side has no id,
// since display names are not guaranteed unique. The answer is the same for a
// given sender regardless of which transport delivered the message.
func (s *Session) IsOwn(senderID, senderUsername string) bool {
	if s == nil {
		return false
	}
	if senderID != "" && s.UserID != "" {
		return senderID == s.UserID
	}
	if senderUsername == "" {
		return false
	}
	return strings.EqualFold(senderUsername, s.Username)
}

func firstStringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key]; ok {
			switch value := v.(type) {
			case string:
				if value != "" {
					return value
				}
			case float64:
				return fmt.Sprintf("%.0f", value)
			}
		}
	}
	return ""
}
