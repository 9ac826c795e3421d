package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/apperr"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// UserService covers registration, password authentication and user lookups.
type UserService struct {
	repo   *userrepo.UserRepo
	hasher PasswordHasher
}

func NewUserService(db *sqlx.DB, r *userrepo.UserRepo, hasher PasswordHasher) *UserService {
	if r == nil {
		r = userrepo.NewUserRepo(db)
	}
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &UserService{repo: r, hasher: hasher}
}

var ErrBadCredentials = apperr.Unauthenticated("No active account found with the given credentials")

// RegisterInput is the payload accepted by Register.
type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an active user with a hashed password.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	fields := map[string]string{}
	if username == "" {
		fields["username"] = "This field is required."
	} else if len(username) > 150 {
		fields["username"] = "Ensure this field has no more than 150 characters."
	}
	if email == "" {
		fields["email"] = "This field is required."
	} else if !strings.Contains(email, "@") {
		fields["email"] = "Enter a valid email address."
	}
	if in.Password == "" {
		fields["password"] = "This field is required."
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid registration", fields)
	}

	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return nil, apperr.Validation("invalid registration", map[string]string{
			"username": "A user with that username already exists.",
		})
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		DateJoined:   time.Now().UTC(),
	}
	if _, err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks username and password of an active user.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*entity.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrBadCredentials
	}
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		// same error as a wrong password, so usernames cannot be probed
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if !u.IsActive || !s.hasher.Verify(u.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	return u, nil
}

// IsActive reports whether id names an active user; used when refreshing tokens.
func (s *UserService) IsActive(ctx context.Context, id int64) (bool, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return u.IsActive, nil
}

// ListOthers returns active users except the caller.
func (s *UserService) ListOthers(ctx context.Context, callerID int64) ([]entity.Summary, error) {
	return s.repo.ListActiveExcept(ctx, callerID)
}
