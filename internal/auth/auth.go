package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ukydev/fleet-insights/internal/models"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmptySecret        = errors.New("jwt secret is empty")
)

// Service handles authentication operations
type Service struct {
	jwtSecret []byte
	tokenExp  time.Duration
	now       func() time.Time
}

// NewService creates a new authentication service
func NewService(secret string, tokenExp time.Duration) (*Service, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if tokenExp <= 0 {
		tokenExp = 24 * time.Hour
	}
	return &Service{
		jwtSecret: []byte(secret),
		tokenExp:  tokenExp,
		now:       time.Now,
	}, nil
}

// HashPassword returns the bcrypt hash of password.
func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword reports whether password matches hash.
func (s *Service) CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// tokenClaims is the JWT payload. Carrier and driver ids are set only for
// scoped users.
type tokenClaims struct {
	UserID    string      `json:"user_id"`
	Username  string      `json:"username"`
	Role      models.Role `json:"role"`
	CarrierID string      `json:"carrier_id,omitempty"`
	DriverID  string      `json:"driver_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for user valid for the configured expiry.
func (s *Service) GenerateToken(user *models.User) (string, error) {
	now := s.now()
	claims := tokenClaims{
		UserID:   user.ID.Hex(),
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExp)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if user.CarrierID != nil {
		claims.CarrierID = user.CarrierID.Hex()
	}
	if user.DriverID != nil {
		claims.DriverID = user.DriverID.Hex()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// ValidateToken checks signature, expiry and role, and returns the claims.
// A "Bearer " prefix is ignored.
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(strings.TrimPrefix(tokenString, "Bearer "), &claims,
		func(*jwt.Token) (interface{}, error) { return s.jwtSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" || claims.Username == "" || !models.IsValidRole(claims.Role) {
		return nil, ErrInvalidToken
	}

	return &models.Claims{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Role:      claims.Role,
		CarrierID: claims.CarrierID,
		DriverID:  claims.DriverID,
		Exp:       claims.ExpiresAt.Unix(),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func (s *Service) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || scheme != "Bearer" || token == "" || strings.Contains(token, " ") {
		return "", ErrInvalidToken
	}
	return token, nil
}

// ValidatePassword enforces the minimum password length.
func (s *Service) ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters long")
	}
	return nil
}

// ValidateEmail validates email format
func (s *Service) ValidateEmail(email string) error {
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return errors.New("invalid email format")
	}
	return nil
}

// ValidateUsername validates username format
func (s *Service) ValidateUsername(username string) error {
	if len(username) < 3 {
		return errors.New("username must be at least 3 characters long")
	}
	if len(username) > 50 {
		return errors.New("username must be less than 50 characters")
	}
	return nil
}

// ValidateRegistration checks a registration form field by field.
func (s *Service) ValidateRegistration(req models.RegisterRequest) error {
	v := &models.ValidationError{}
	if err := s.ValidateUsername(req.Username); err != nil {
		v.Add("username", err.Error())
	}
	if err := s.ValidateEmail(req.Email); err != nil {
		v.Add("email", err.Error())
	}
	if err := s.ValidatePassword(req.Password); err != nil {
		v.Add("password", err.Error())
	}
	if req.Role != "" && !models.IsValidRole(req.Role) {
		v.Add("role", "invalid role")
	}
	if (req.Role == models.RoleManager || req.Role == models.RoleDriver) && req.CarrierID == "" {
		v.Add("carrier", "carrier is required for managers and drivers")
	}
	return v.OrNil()
}
