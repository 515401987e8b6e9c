package identity

import (
	"errors"
	"fmt"

	"github.com/dkeye/meetclient/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims accepts both the snake_case ids of the meeting backend and plain sub/name tokens.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) user() (*domain.User, error) {
	id := c.UserID
	if id == "" {
		id = c.Subject
	}
	name := c.Name
	if name == "" {
		name = c.Username
	}
	if name == "" {
		name = id
	}
	return domain.NewUser(id, name)
}

// FromToken extracts the local user from a bearer credential. With an empty
// secret the signature is not checked; the signaling service does that anyway.
func FromToken(token, secret string) (*domain.User, error) {
	claims := &Claims{}
	if secret == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	} else {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return nil, ErrExpiredToken
			}
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if !parsed.Valid {
			return nil, ErrInvalidToken
		}
	}

	u, err := claims.user()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return u, nil
}
