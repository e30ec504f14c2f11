package user

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"studiolink/internal/middleware"
)

type Service struct {
	repo      *Repository
	jwtSecret string
}

type PortalClaims struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TeamRole string `json:"teamRole,omitempty"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = "client"
	}

	u := &User{
		Email:    req.Email,
		Password: string(hashedPwd),
		Role:     role,
		TeamRole: req.TeamRole,
	}

	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return u, nil
}

// Login verifies credentials and mints the session token. The response
// carries the role so the client can pick its redirect without waiting
// for an identity refetch.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, PortalClaims{
		ID:       u.ID,
		Email:    u.Email,
		Role:     u.Role,
		TeamRole: u.TeamRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "studiolink",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})

	ss, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		TeamRole:    u.TeamRole,
	}, nil
}

func (s *Service) ValidateToken(tokenString string) (*PortalClaims, error) {
	claims := &PortalClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}

	return claims, nil
}

// ValidateClaims adapts ValidateToken to the shape the auth middleware
// wants.
func (s *Service) ValidateClaims(tokenString string) (*middleware.Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		ID:       claims.ID,
		Email:    claims.Email,
		Role:     claims.Role,
		TeamRole: claims.TeamRole,
	}, nil
}

func (s *Service) GetUser(ctx context.Context, id int) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}
