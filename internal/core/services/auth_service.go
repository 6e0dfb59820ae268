package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService issues and checks the bearer tokens of control API operators.
type AuthService interface {
	GenerateToken(operator string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

const tokenIssuer = "meetjoin"

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
}

// NewAuthService signs tokens with HS256. A zero ttl issues tokens without
// expiry.
func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(operator string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if s.accessTokenTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.accessTokenTTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Operator != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
