package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/platform/ctxutil"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

// JWTClaims is what the identity service puts in a bearer token.
type JWTClaims struct {
	Name  string `json:"name"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// AuthService verifies bearer tokens minted elsewhere. Accounts are not
// managed here.
type AuthService interface {
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	// IssueToken signs a token with the shared secret, for tooling and tests.
	IssueToken(userID uuid.UUID, username string, admin bool, ttl time.Duration) (string, error)
}

type authService struct {
	log          *logger.Logger
	jwtSecretKey string
}

func NewAuthService(log *logger.Logger, jwtSecretKey string) AuthService {
	return &authService{log: log.With("service", "AuthService"), jwtSecretKey: jwtSecretKey}
}

func (as *authService) IssueToken(userID uuid.UUID, username string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		Name:  username,
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.jwtSecretKey))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if strings.TrimSpace(tokenString) == "" {
		return ctx, errors.New("missing token")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ctx, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid {
		return ctx, errors.New("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, fmt.Errorf("invalid user id in token: %w", err)
	}
	rd := &ctxutil.RequestData{
		UserID:   userID,
		Username: claims.Name,
		IsAdmin:  claims.Admin,
	}
	if claims.ID != "" {
		if sid, err := uuid.Parse(claims.ID); err == nil {
			rd.SessionID = sid
		}
	}
	return ctxutil.WithRequestData(ctx, rd), nil
}
