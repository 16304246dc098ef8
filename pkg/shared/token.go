package helpers

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid bridge token")

// IssueBridgeToken signs an HS256 token naming the client
func IssueBridgeToken(secret, client string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("no bridge secret configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"client": client,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseBridgeToken checks the signature and expiry and returns the client name
func ParseBridgeToken(secret, token string) (string, error) {
	parsedToken, err := jwt.ParseWithClaims(token, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: could not parse claims", ErrInvalidToken)
	}
	client, _ := claims["client"].(string)
	if client == "" {
		return "", fmt.Errorf("%w: no client in token", ErrInvalidToken)
	}
	return client, nil
}
