// Package auth implements Register and Login: workspace creation, user
// creation, password hashing and JWT issuance.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	pkgauth "github.com/planpilot/planpilot/pkg/auth"
	"github.com/planpilot/planpilot/pkg/uuid"
)

// ErrInvalidCredentials is returned by Login when email or password is
// incorrect. A single error for both cases avoids leaking whether an email
// exists.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrEmailAlreadyExists is returned by Register when the email is taken.
var ErrEmailAlreadyExists = errors.New("email already registered")

// RegisterInput holds the data needed to create a new workspace and user.
// WorkspaceName creates the tenant; Email is the unique login identifier.
type RegisterInput struct {
	Email         string
	Password      string
	DisplayName   string
	WorkspaceName string
}

// LoginInput holds the credentials for authentication.
type LoginInput struct {
	Email    string
	Password string
}

// AuthResult is returned after successful Register or Login. Token is a
// signed JWT containing UserID and WorkspaceID claims.
//
//nolint:revive // stable domain API
type AuthResult struct {
	Token       string
	UserID      string
	WorkspaceID string
}

// AuthService defines the authentication business operations.
//
//nolint:revive // stable public interface of the auth module
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*AuthResult, error)
	Login(ctx context.Context, input LoginInput) (*AuthResult, error)
}

type authService struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewAuthService creates a new AuthService backed by the provided DB.
func NewAuthService(db *sql.DB, log *logrus.Logger) AuthService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &authService{db: db, log: log}
}

// Register creates a new workspace and user atomically, then returns a JWT.
// The password is hashed with bcrypt before storage; plaintext is never
// stored.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	hash, err := pkgauth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	workspaceID := uuid.NewV7().String()
	userID := uuid.NewV7().String()

	if err := s.insertWorkspaceAndUser(ctx, insertParams{
		workspaceID:   workspaceID,
		userID:        userID,
		workspaceName: input.WorkspaceName,
		email:         input.Email,
		passwordHash:  hash,
		displayName:   input.DisplayName,
	}); err != nil {
		return nil, err
	}

	token, err := pkgauth.GenerateJWT(userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}

	return &AuthResult{Token: token, UserID: userID, WorkspaceID: workspaceID}, nil
}

// insertParams bundles the data needed for atomic workspace + user creation.
type insertParams struct {
	workspaceID   string
	userID        string
	workspaceName string
	email         string
	passwordHash  string
	displayName   string
}

func (s *authService) insertWorkspaceAndUser(ctx context.Context, p insertParams) error {
	now := time.Now().UTC().Format(time.RFC3339)
	slug := generateSlug(p.workspaceName, p.workspaceID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace (id, name, slug, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.workspaceID, p.workspaceName, slug, now, now)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_account (id, workspace_id, email, password_hash, display_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?, ?)
	`, p.userID, p.workspaceID, p.email, p.passwordHash, p.displayName, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return tx.Commit()
}

// Login verifies credentials and returns a JWT. Always returns
// ErrInvalidCredentials for any lookup or verification failure so responses
// never reveal whether the email exists.
func (s *authService) Login(ctx context.Context, input LoginInput) (*AuthResult, error) {
	var userID, workspaceID string
	var passwordHash sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, password_hash
		FROM user_account
		WHERE email = ? AND status = 'active'
		LIMIT 1
	`, input.Email).Scan(&userID, &workspaceID, &passwordHash)
	if err != nil {
		s.logAuthFailure("unknown", "login", "user_not_found_or_query_error")
		return nil, ErrInvalidCredentials
	}

	// Account exists but has no password hash (externally provisioned).
	if !passwordHash.Valid || passwordHash.String == "" {
		s.logAuthFailure(userID, "login", "missing_password_hash")
		return nil, ErrInvalidCredentials
	}

	if !pkgauth.VerifyPassword(passwordHash.String, input.Password) {
		s.logAuthFailure(userID, "login", "invalid_password")
		return nil, ErrInvalidCredentials
	}

	token, err := pkgauth.GenerateJWT(userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}

	return &AuthResult{
		Token:       token,
		UserID:      userID,
		WorkspaceID: workspaceID,
	}, nil
}

// slugChar maps one rune to its slug representation: lowercase letters and
// digits pass through, spaces and dashes become '-', everything else drops.
func slugChar(c rune) rune {
	switch {
	case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return c
	case c >= 'A' && c <= 'Z':
		return c + 32 // to lower
	case c == ' ', c == '-':
		return '-'
	default:
		return -1 // skip
	}
}

// generateSlug creates a URL-safe workspace slug. The full workspace ID is
// the suffix: UUID v7 timestamps collide within a millisecond, so a
// truncated suffix would break the UNIQUE constraint for identical names.
func generateSlug(name, id string) string {
	slug := strings.Map(slugChar, name)
	return slug + "-" + id
}

// isUniqueViolation checks if an SQLite error is a UNIQUE constraint
// violation. SQLite surfaces this only in the error message text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *authService) logAuthFailure(userID, action, reason string) {
	s.log.WithFields(logrus.Fields{
		"userId": userID,
		"action": action,
		"reason": reason,
	}).Warn("auth failure")
}
