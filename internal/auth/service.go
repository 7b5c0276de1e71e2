package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/creditgate/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that
// already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials covers unknown email, wrong password, and
// disabled accounts; callers must not distinguish them.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountStore is the minimal account repository interface for auth.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// Service is the identity collaborator: it verifies credentials and issues
// signed tokens. The redemption core never re-implements any of this.
type Service struct {
	accounts   AccountStore
	secret     []byte
	sessionTTL time.Duration
	tokenTTL   time.Duration
}

func NewService(accounts AccountStore, secret []byte, sessionTTL, tokenTTL time.Duration) *Service {
	return &Service{accounts: accounts, secret: secret, sessionTTL: sessionTTL, tokenTTL: tokenTTL}
}

type claims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Scope string `json:"scope"`
}

const (
	scopeSession     = "session"
	scopeProvisioned = "provisioned"
)

// Register creates a standard, active account with a zero balance.
func (s *Service) Register(ctx context.Context, email, password, name string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         models.RoleStandard,
		Balance:      0,
		IsActive:     true,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return acc, nil
}

// Login verifies credentials and returns a session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	acc, err := s.accounts.GetByEmail(ctx, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if !acc.Usable(time.Now()) {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issue(acc.ID, acc.Role, scopeSession, s.sessionTTL)
}

// ValidateSession parses a session token and returns the account it names.
func (s *Service) ValidateSession(ctx context.Context, token string) (*models.Account, error) {
	c, err := s.parse(token)
	if err != nil {
		return nil, err
	}
	if c.Scope != scopeSession {
		return nil, errors.New("not a session token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, err
	}
	acc, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acc.Usable(time.Now()) {
		return nil, ErrInvalidCredentials
	}
	return acc, nil
}

// MintProvisionedToken issues the short-lived token an account buys with
// its credit balance. The caller debits the balance first.
func (s *Service) MintProvisionedToken(accountID uuid.UUID, role string) (token string, expiresAt time.Time, err error) {
	expiresAt = time.Now().Add(s.tokenTTL)
	token, err = s.issue(accountID, role, scopeProvisioned, s.tokenTTL)
	return token, expiresAt, err
}

func (s *Service) issue(id uuid.UUID, role, scope string, ttl time.Duration) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role:  role,
		Scope: scope,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *Service) parse(token string) (*claims, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return c, nil
}
