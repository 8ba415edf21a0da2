package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenExpiry = 1 * time.Hour
	BcryptCost  = 12
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// Claims is the JWT payload for an authenticated API client.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// TokenResponse is returned from the token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Service exchanges a pre-shared API key for short-lived bearer tokens.
// When no API key hash is configured, authentication is disabled and every
// request passes; that mode is for local development only.
type Service struct {
	jwtSecret  []byte
	apiKeyHash string
}

// NewService creates an auth service. apiKeyHash is a bcrypt hash of the
// deployment's API key; empty disables auth.
func NewService(jwtSecret, apiKeyHash string) *Service {
	return &Service{
		jwtSecret:  []byte(jwtSecret),
		apiKeyHash: apiKeyHash,
	}
}

// Enabled reports whether the service enforces authentication.
func (s *Service) Enabled() bool {
	return s.apiKeyHash != ""
}

// ExchangeAPIKey validates the presented key against the configured hash
// and issues a bearer token.
func (s *Service) ExchangeAPIKey(apiKey string) (*TokenResponse, error) {
	if !s.Enabled() {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.apiKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidCredentials
	}

	claims := &Claims{
		ClientID: uuid.New().String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "streamvault",
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(TokenExpiry.Seconds()),
	}, nil
}

// ValidateToken parses and verifies a bearer token.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashAPIKey produces the bcrypt hash to configure for a raw API key.
// Exposed for the key-generation admin path.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
