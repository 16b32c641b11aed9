package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/blockgate/hosting/internal/events"
	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/pkg/config"
	"github.com/blockgate/hosting/pkg/logger"
)

// tokenLifetime is how long an issued bearer token stays valid.
const tokenLifetime = 24 * time.Hour

const tokenIssuer = "blockgate"

// AccountStore is the slice of the user repository the auth service
// needs.
type AccountStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Claims is the JWT payload attached to every authenticated request.
type Claims struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// AuthService issues and validates the bearer tokens of the HTTP API.
type AuthService struct {
	users AccountStore
	cfg   *config.Config
}

func NewAuthService(users AccountStore, cfg *config.Config) *AuthService {
	return &AuthService{users: users, cfg: cfg}
}

// Register creates an account with the default quota and no port
// reservations. The email stays claimed even after a soft delete, so a
// re-registration under a deleted address is rejected like any other
// duplicate.
func (s *AuthService) Register(ctx context.Context, email, password string) (*models.User, error) {
	user := &models.User{
		Email:      models.NormalizeEmail(email),
		MaxServers: models.DefaultMaxServers,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	events.PublishUserRegistered(user.Email)
	logger.Info("Account registered", map[string]interface{}{"email": user.Email})
	return user, nil
}

// Login verifies the credentials and returns a signed token. Unknown
// accounts and wrong passwords both come back as ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return "", nil, models.ErrInvalidCredentials
		}
		return "", nil, err
	}

	if !user.CheckPassword(password) {
		return "", nil, models.ErrInvalidCredentials
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// GenerateToken signs a fresh token for the user.
func (s *AuthService) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:  user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ValidateToken parses and verifies a token and returns its claims.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GetUserByID loads the account behind a validated token.
func (s *AuthService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	return s.users.FindByID(ctx, userID)
}
