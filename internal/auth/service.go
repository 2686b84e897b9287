package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"
)

type Role string

const (
	// RoleOperator may do everything: connect, stream, jog, zero, home.
	RoleOperator Role = "operator"

	// RolePendant is for the physical jog pendant: jogging, status and
	// the emergency stop, but no program streaming.
	RolePendant Role = "pendant"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Service authenticates the single configured operator account and the
// static pendant tokens. There is no user database: this daemon runs on
// the machine itself and the credential set lives in its config.
type Service struct {
	logger        *zap.Logger
	jwtHandler    *JWTHandler
	hasher        *PasswordHasher
	operatorUser  string
	operatorHash  string
	pendantTokens []string
}

func NewService(logger *zap.Logger, secret string, accessTTL time.Duration, operatorUser, operatorHash string, pendantTokens []string) *Service {
	return &Service{
		logger:        logger,
		jwtHandler:    NewJWTHandler(secret, accessTTL),
		hasher:        NewPasswordHasher(),
		operatorUser:  operatorUser,
		operatorHash:  operatorHash,
		pendantTokens: pendantTokens,
	}
}

// Login verifies the operator credentials and issues an access token.
func (s *Service) Login(username, password string) (string, error) {
	if username != s.operatorUser || s.operatorHash == "" {
		s.logger.Warn("Login rejected", zap.String("username", username))
		return "", ErrInvalidCredentials
	}

	ok, err := s.hasher.VerifyPassword(password, s.operatorHash)
	if err != nil {
		return "", err
	}
	if !ok {
		s.logger.Warn("Login rejected", zap.String("username", username))
		return "", ErrInvalidCredentials
	}

	token, err := s.jwtHandler.GenerateAccessToken(username, RoleOperator)
	if err != nil {
		return "", err
	}

	s.logger.Info("Operator logged in", zap.String("username", username))
	return token, nil
}

// ValidateToken accepts either an operator JWT or a static pendant
// token and returns the caller's role.
func (s *Service) ValidateToken(token string) (Role, error) {
	if claims, err := s.jwtHandler.ValidateAccessToken(token); err == nil {
		return claims.Role, nil
	}

	for _, pt := range s.pendantTokens {
		if subtle.ConstantTimeCompare([]byte(pt), []byte(token)) == 1 {
			return RolePendant, nil
		}
	}

	return "", errors.New("invalid or expired token")
}
