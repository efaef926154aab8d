package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/purchase-core/internal"
)

var ErrOperatorNotFound = errors.New("operator not found")

type RepositoryAPI interface {
	GetCredentials(ctx context.Context, email string) (*Credentials, error)
	GetOperatorWithPermissions(ctx context.Context, operatorID int64) (*internal.Operator, error)
}

type ServiceAPI interface {
	Authenticate(ctx context.Context, dto LoginDTO) (AuthTokens, error)
	RefreshTokens(ctx context.Context, refreshToken string) (AuthTokens, error)
	Authorize(ctx context.Context, accessToken string) (*internal.Operator, error)
}

type Service struct {
	repo       RepositoryAPI
	tokens     TokenGenerator
	bcryptCost int
	logger     *slog.Logger
}

func NewService(repo RepositoryAPI, tokens TokenGenerator, bcryptCost int, logger *slog.Logger) *Service {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:       repo,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// Authenticate validates credentials and returns tokens
func (s *Service) Authenticate(ctx context.Context, dto LoginDTO) (AuthTokens, error) {
	if err := dto.Validate(); err != nil {
		return AuthTokens{}, err
	}

	creds, err := s.repo.GetCredentials(ctx, dto.Email)
	if err != nil {
		if !errors.Is(err, ErrOperatorNotFound) {
			s.logger.Error("failed to load operator credentials", "error", err)
		}
		return AuthTokens{}, internal.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(dto.Password)); err != nil {
		return AuthTokens{}, internal.ErrInvalidCredentials
	}
	if !creds.IsActive {
		return AuthTokens{}, internal.ErrUserInactive
	}

	return s.issue(strconv.FormatInt(creds.OperatorID, 10), dto.Email)
}

// RefreshTokens trades a valid refresh token for a new pair.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (AuthTokens, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return AuthTokens{}, err
	}

	// re-check the operator so deactivated accounts cannot refresh
	if _, err := s.operator(ctx, claims); err != nil {
		return AuthTokens{}, err
	}
	return s.issue(claims.OperatorID, claims.Email)
}

// Authorize resolves a bearer token to the operator and their permissions.
func (s *Service) Authorize(ctx context.Context, accessToken string) (*internal.Operator, error) {
	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	return s.operator(ctx, claims)
}

func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *Service) operator(ctx context.Context, claims *Claims) (*internal.Operator, error) {
	id, err := strconv.ParseInt(claims.OperatorID, 10, 64)
	if err != nil {
		return nil, internal.ErrInvalidToken
	}

	op, err := s.repo.GetOperatorWithPermissions(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			return nil, internal.ErrUserInactive
		}
		s.logger.Error("failed to load operator permissions", "operator_id", id, "error", err)
		return nil, internal.NewInternalError("failed to load operator", err)
	}
	return op, nil
}

func (s *Service) issue(operatorID, email string) (AuthTokens, error) {
	access, expiresAt, err := s.tokens.GenerateAccessToken(operatorID, email)
	if err != nil {
		return AuthTokens{}, internal.NewInternalError("failed to sign token", err)
	}
	refresh, err := s.tokens.GenerateRefreshToken(operatorID, email)
	if err != nil {
		return AuthTokens{}, internal.NewInternalError("failed to sign token", err)
	}
	return AuthTokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}, nil
}
