package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	GrantSignaling = "signaling"
	GrantRoom      = "room"
)

// Claims carried by minted signaling tokens.
type Claims struct {
	jwt.RegisteredClaims
	Grant       string `json:"grant"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Room        string `json:"room,omitempty"`
	Identity    string `json:"identity,omitempty"`
}

// Service mints HS256 signaling tokens locally, the way the CRM backend issues
// provider access tokens on behalf of the browser SDK.
type Service struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

func NewService(secret, issuer, audience string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
	}, nil
}

func (s *Service) SignalingToken(ctx context.Context, workspaceID string) (Credential, error) {
	if workspaceID == "" {
		return Credential{}, errors.New("token: workspace id is required")
	}
	return s.mint(ctx, Claims{
		Grant:       GrantSignaling,
		WorkspaceID: workspaceID,
	})
}

func (s *Service) RoomToken(ctx context.Context, roomName, identity string) (Credential, error) {
	if roomName == "" {
		return Credential{}, errors.New("token: room name is required")
	}
	if identity == "" {
		return Credential{}, errors.New("token: identity is required")
	}
	return s.mint(ctx, Claims{
		Grant:    GrantRoom,
		Room:     roomName,
		Identity: identity,
	})
}

func (s *Service) mint(ctx context.Context, claims Claims) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Audience:  audienceOrNil(s.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Credential{}, fmt.Errorf("token: sign failed: %w", err)
	}
	return Credential{
		Token:     signed,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}, nil
}

// Verify parses and validates a minted token. The telephony core never calls
// this; it exists for the gateway handshake and for tests.
func (s *Service) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}); err != nil {
		return Claims{}, err
	}

	switch claims.Grant {
	case GrantSignaling:
		if claims.WorkspaceID == "" {
			return Claims{}, errors.New("token: workspace_id missing")
		}
	case GrantRoom:
		if claims.Room == "" || claims.Identity == "" {
			return Claims{}, errors.New("token: room grant incomplete")
		}
	default:
		return Claims{}, fmt.Errorf("token: unknown grant %q", claims.Grant)
	}
	return claims, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
