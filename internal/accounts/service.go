package accounts

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	defaultSessionTTL     = 7 * 24 * time.Hour
	minimumPasswordLength = 8
	sessionTokenBytes     = 32
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrEmailTaken indicates the email already has an account.
	ErrEmailTaken = errors.New("accounts: email already registered")
	// ErrInvalidCredentials indicates a failed email/password check.
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	// ErrInvalidSession indicates an unknown, malformed, or expired bearer token.
	ErrInvalidSession = errors.New("accounts: invalid session")
	// ErrInvalidEmail indicates a missing or malformed email address.
	ErrInvalidEmail = errors.New("accounts: invalid email")
	// ErrWeakPassword indicates a password below the minimum length.
	ErrWeakPassword = errors.New("accounts: password too short")
)

// ServiceError wraps an account failure with a dot-separated operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "accounts.service.new"
	opRegister   = "accounts.register"
	opLogin      = "accounts.login"
	opLogout     = "accounts.logout"
	opResolve    = "accounts.resolve"
	opSweep      = "accounts.sweep"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new user rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	SessionTTL time.Duration
	BcryptCost int
}

// Service registers users and resolves bearer credentials to user ids.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	sessionTTL time.Duration
	bcryptCost int
}

// NewService constructs the accounts service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	cost := cfg.BcryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		sessionTTL: ttl,
		bcryptCost: cost,
	}, nil
}

// Credentials reports a freshly issued session alongside the account.
type Credentials struct {
	User  User
	Token string
}

// Register creates an account and issues its first session.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (Credentials, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return Credentials{}, ErrInvalidEmail
	}
	if len(password) < minimumPasswordLength {
		return Credentials{}, ErrWeakPassword
	}

	var existing User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return Credentials{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "user_select_failed", err)
		return Credentials{}, newServiceError(opRegister, "user_select_failed", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		s.logError(opRegister, "hash_failed", err)
		return Credentials{}, newServiceError(opRegister, "hash_failed", err)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, "id_generation_failed", err)
		return Credentials{}, newServiceError(opRegister, "id_generation_failed", err)
	}

	user := User{
		UserID:           userID,
		Email:            email,
		PasswordHash:     string(hash),
		DisplayName:      strings.TrimSpace(displayName),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		s.logError(opRegister, "user_insert_failed", err)
		return Credentials{}, newServiceError(opRegister, "user_insert_failed", err)
	}

	token, err := s.issueSession(ctx, user.UserID)
	if err != nil {
		s.logError(opRegister, "session_issue_failed", err)
		return Credentials{}, newServiceError(opRegister, "session_issue_failed", err)
	}

	return Credentials{User: user, Token: token}, nil
}

// Login verifies the password and issues a new session.
func (s *Service) Login(ctx context.Context, email, password string) (Credentials, error) {
	email = normalizeEmail(email)

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Credentials{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opLogin, "user_select_failed", err)
		return Credentials{}, newServiceError(opLogin, "user_select_failed", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Credentials{}, ErrInvalidCredentials
	}

	token, err := s.issueSession(ctx, user.UserID)
	if err != nil {
		s.logError(opLogin, "session_issue_failed", err)
		return Credentials{}, newServiceError(opLogin, "session_issue_failed", err)
	}

	return Credentials{User: user, Token: token}, nil
}

// Logout deletes the session row for the bearer token. Unknown tokens are a
// no-op so logout stays idempotent.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).
		Where("token_hash = ?", hashToken(token)).
		Delete(&Session{}).Error; err != nil {
		s.logError(opLogout, "session_delete_failed", err)
		return newServiceError(opLogout, "session_delete_failed", err)
	}
	return nil
}

// Resolve maps a bearer token to its user id, rejecting unknown and expired
// sessions with ErrInvalidSession.
func (s *Service) Resolve(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidSession
	}

	var session Session
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", hashToken(token)).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrInvalidSession
	}
	if err != nil {
		s.logError(opResolve, "session_select_failed", err)
		return "", newServiceError(opResolve, "session_select_failed", err)
	}

	if session.ExpiresAtSeconds <= s.clock().UTC().Unix() {
		return "", ErrInvalidSession
	}
	return session.UserID, nil
}

// SweepExpired removes sessions past their expiry and returns how many rows
// were deleted.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at_s <= ?", s.clock().UTC().Unix()).
		Delete(&Session{})
	if result.Error != nil {
		s.logError(opSweep, "session_delete_failed", result.Error)
		return 0, newServiceError(opSweep, "session_delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Service) issueSession(ctx context.Context, userID string) (string, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	now := s.clock().UTC()
	session := Session{
		TokenHash:        hashToken(token),
		UserID:           userID,
		ExpiresAtSeconds: now.Add(s.sessionTTL).Unix(),
		CreatedAtSeconds: now.Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return "", err
	}
	return token, nil
}

func hashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("accounts service error", attrs...)
}
