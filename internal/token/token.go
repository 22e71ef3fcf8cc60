package token

import (
	"context"
	"time"
)

// Credential is a short-lived signaling secret issued for one workspace (or one
// video room). The endpoint stays registered only while it holds a live one.
type Credential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Age reports how long ago the credential was issued.
func (c Credential) Age(now time.Time) time.Duration {
	return now.Sub(c.IssuedAt)
}

// Source issues signaling credentials. Implementations must be safe for
// repeated, idempotent calls; every request mints a fresh credential.
type Source interface {
	SignalingToken(ctx context.Context, workspaceID string) (Credential, error)
	RoomToken(ctx context.Context, roomName, identity string) (Credential, error)
}
