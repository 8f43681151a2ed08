// Package auth implements first-party authentication: tenant registration,
// login, and bearer-token verification for both services.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/pkg/models"
)

const tokenTTL = 24 * time.Hour

// Identity is what a verified token asserts about the caller.
type Identity struct {
	UserID   string
	TenantID string
	Role     models.Role
}

type claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type Service struct {
	tenants repository.TenantStore
	users   repository.UserStore
	secret  []byte
	now     func() time.Time
}

func NewService(tenants repository.TenantStore, users repository.UserStore, secret string) *Service {
	return &Service{
		tenants: tenants,
		users:   users,
		secret:  []byte(secret),
		now:     time.Now,
	}
}

// Register creates a tenant with its admin user and returns a signed token.
func (s *Service) Register(ctx context.Context, tenantName, email, password string) (*models.User, string, error) {
	if err := validateCredentials(email, password); err != nil {
		return nil, "", err
	}
	if tenantName == "" {
		return nil, "", models.NewValidationError("invalid registration",
			models.FieldError{Path: "tenantName", Message: "tenant name is required"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	tenant := &models.Tenant{
		ID:        uuid.New().String(),
		Name:      tenantName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tenants.CreateTenant(ctx, tenant); err != nil {
		return nil, "", err
	}

	user := &models.User{
		ID:           uuid.New().String(),
		TenantID:     tenant.ID,
		Email:        email,
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies the password and returns a fresh token. Unknown emails
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, "", models.ErrUnauthorized
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", models.ErrUnauthorized
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) issueToken(user *models.User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		TenantID: user.TenantID,
		Role:     string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token.
func (s *Service) Verify(tokenString string) (*Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, models.ErrUnauthorized
	}
	if c.Subject == "" || c.TenantID == "" {
		return nil, models.ErrUnauthorized
	}
	return &Identity{
		UserID:   c.Subject,
		TenantID: c.TenantID,
		Role:     models.Role(c.Role),
	}, nil
}

func validateCredentials(email, password string) error {
	var fields []models.FieldError
	if email == "" || !looksLikeEmail(email) {
		fields = append(fields, models.FieldError{Path: "email", Message: "a valid email is required"})
	}
	if len(password) < 8 {
		fields = append(fields, models.FieldError{Path: "password", Message: "password must be at least 8 characters"})
	}
	if len(fields) > 0 {
		return models.NewValidationError("invalid credentials", fields...)
	}
	return nil
}

func looksLikeEmail(s string) bool {
	at := -1
	for i, ch := range s {
		if ch == '@' {
			if at >= 0 {
				return false
			}
			at = i
		}
	}
	return at > 0 && at < len(s)-1
}

var ErrNoToken = errors.New("no bearer token")
