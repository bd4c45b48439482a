package services

import (
	"fmt"
	"parley/internal/core/domain"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secretKey: []byte(secret),
		issuer:    "parley",
		ttl:       ttl,
	}
}

// GenerateToken issues a token for userID. Tokens are normally minted by the
// account service; this exists for local tooling and tests.
func (s *TokenService) GenerateToken(userID int64, email string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"userId": userID,
		"sub":    strconv.FormatInt(userID, 10),
		"email":  email,
		"iat":    now.Unix(),
		"exp":    now.Add(s.ttl).Unix(),
		"iss":    s.issuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// Verify parses and validates the JWT string and resolves it to an identity.
func (s *TokenService) Verify(tokenStr string) (*domain.Identity, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", domain.ErrInvalidToken)
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		// Ensure signing method is HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims", domain.ErrInvalidToken)
	}
	userID, ok := userIDClaim(claims)
	if !ok || userID <= 0 {
		return nil, fmt.Errorf("%w: user id not found in token", domain.ErrInvalidToken)
	}
	email, _ := claims["email"].(string)
	return &domain.Identity{UserID: userID, Email: email}, nil
}

// userIDClaim reads "userId", falling back to "sub". Either may be a number or
// a numeric string.
func userIDClaim(claims jwt.MapClaims) (int64, bool) {
	for _, key := range []string{"userId", "sub"} {
		switch v := claims[key].(type) {
		case float64:
			return int64(v), true
		case string:
			id, err := strconv.ParseInt(v, 10, 64)
			if err == nil {
				return id, true
			}
		}
	}
	return 0, false
}
