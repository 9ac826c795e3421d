package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/apperr"
)

// token types carried in the token_type claim
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrInvalidToken = apperr.Unauthenticated("Given token not valid for any token type")
	ErrMissingToken = apperr.Unauthenticated("Authentication credentials were not provided.")
)

// Claims is the payload of access and refresh tokens.
type Claims struct {
	UserID    UserIDClaim `json:"user_id"`
	TokenType string      `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

// UserIDClaim accepts the user id as a JSON number or a numeric string.
type UserIDClaim int64

func (c *UserIDClaim) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*c = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*c = UserIDClaim(v)
	return nil
}

// Pair is the result of a token obtain.
type Pair struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

// TokenService issues and verifies HS256 tokens signed with a shared secret.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IssuePair returns a fresh refresh and access token for userID.
func (s *TokenService) IssuePair(userID int64) (Pair, error) {
	refresh, err := s.sign(userID, TypeRefresh, s.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	access, err := s.sign(userID, TypeAccess, s.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Refresh: refresh, Access: access}, nil
}

// IssueAccess returns a new access token for userID.
func (s *TokenService) IssueAccess(userID int64) (string, error) {
	return s.sign(userID, TypeAccess, s.accessTTL)
}

func (s *TokenService) sign(userID int64, typ string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:    UserIDClaim(userID),
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks an access token and returns its user id. Tokens without a
// token_type are accepted; refresh tokens are not.
func (s *TokenService) Verify(raw string) (int64, error) {
	c, err := s.parse(raw)
	if err != nil {
		return 0, err
	}
	if c.TokenType != "" && c.TokenType != TypeAccess {
		return 0, fmt.Errorf("%w: token type %q", ErrInvalidToken, c.TokenType)
	}
	return int64(c.UserID), nil
}

// VerifyRefresh checks a refresh token and returns its user id.
func (s *TokenService) VerifyRefresh(raw string) (int64, error) {
	c, err := s.parse(raw)
	if err != nil {
		return 0, err
	}
	if c.TokenType != TypeRefresh {
		return 0, fmt.Errorf("%w: token type %q", ErrInvalidToken, c.TokenType)
	}
	return int64(c.UserID), nil
}

func (s *TokenService) parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if c.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return &c, nil
}
