package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"roomchat/pkg/domain"
)

const defaultIssuer = "roomchat"

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionRevoked = errors.New("session ended")
)

type sessionClaims struct {
	Name   string      `json:"name"`
	Role   domain.Role `json:"role"`
	RoomID string      `json:"roomId,omitempty"`
	jwt.RegisteredClaims
}

// SessionIssuer signs HS256 tokens that carry a chat session. Leaving a room
// revokes the token by its jti until it would have expired anyway.
type SessionIssuer struct {
	secret  []byte
	ttl     time.Duration
	leeway  time.Duration
	revoker TokenRevoker
}

func NewSessionIssuer(secret string, ttl time.Duration, revoker TokenRevoker) (*SessionIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret required")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if revoker == nil {
		revoker = NewMemoryTokenRevoker()
	}
	return &SessionIssuer{
		secret:  []byte(secret),
		ttl:     ttl,
		leeway:  30 * time.Second,
		revoker: revoker,
	}, nil
}

// Issue signs a token for sess.
func (s *SessionIssuer) Issue(sess domain.Session) (string, error) {
	if strings.TrimSpace(sess.Name) == "" {
		return "", errors.New("session name required")
	}
	now := time.Now().UTC()
	claims := sessionClaims{
		Name:   sess.Name,
		Role:   sess.Role,
		RoomID: sess.RoomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.Name,
			Issuer:    defaultIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify returns the session carried by token.
func (s *SessionIssuer) Verify(token string) (domain.Session, error) {
	claims, err := s.parse(token)
	if err != nil {
		return domain.Session{}, err
	}
	revoked, err := s.revoker.IsRevoked(claims.ID)
	if err != nil {
		return domain.Session{}, err
	}
	if revoked {
		return domain.Session{}, ErrSessionRevoked
	}
	return domain.Session{Name: claims.Name, Role: claims.Role, RoomID: claims.RoomID}, nil
}

// Revoke ends the session. Invalid tokens are ignored.
func (s *SessionIssuer) Revoke(token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}

func (s *SessionIssuer) parse(token string) (*sessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSession
	}
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(defaultIssuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("token not valid")
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if claims.ID == "" || claims.Name == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidSession)
	}
	return claims, nil
}
