package auth

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"ms-events/internal/apperr"
	"ms-events/internal/logger"
	"ms-events/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the persistence the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SetUserActive(ctx context.Context, id string, active bool, now time.Time) (*models.User, error)
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthResult struct {
	User      models.AuthUser `json:"user"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

type Service struct {
	Users      UserStore
	Tokens     *TokenService
	Logger     *logger.Logger
	BcryptCost int
	validate   *validator.Validate
	now        func() time.Time
}

func NewService(users UserStore, tokens *TokenService, log *logger.Logger) *Service {
	return &Service{
		Users:      users,
		Tokens:     tokens,
		Logger:     log,
		BcryptCost: bcrypt.DefaultCost,
		validate:   newValidator(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if len(req.Password) > MaxPasswordBytes {
		return nil, apperr.ValidationFields(
			fmt.Sprintf("Password cannot be longer than %d bytes", MaxPasswordBytes), "password")
	}

	if _, err := s.Users.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, apperr.EmailTaken()
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, apperr.Internal("Failed to register user", err)
	}

	hash, err := HashPassword(req.Password, s.BcryptCost)
	if err != nil {
		return nil, apperr.Internal("Failed to register user", err)
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Users.CreateUser(ctx, user); err != nil {
		if apperr.IsCode(err, apperr.CodeEmailTaken) {
			return nil, err
		}
		return nil, apperr.Internal("Failed to register user", err)
	}

	s.Logger.Info("AUTH", fmt.Sprintf("Registered user %s", user.ID))
	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	user, err := s.Users.GetUserByEmail(ctx, req.Email)
	if apperr.KindOf(err) == apperr.KindNotFound {
		s.Logger.LogSecurity("LOGIN_FAILED", "unknown email")
		return nil, apperr.InvalidCredentials()
	}
	if err != nil {
		return nil, apperr.Internal("Failed to log in", err)
	}
	if !CheckPassword(user.PasswordHash, req.Password) {
		s.Logger.LogSecurity("LOGIN_FAILED", fmt.Sprintf("wrong password for user %s", user.ID))
		return nil, apperr.InvalidCredentials()
	}
	if !user.IsActive {
		return nil, apperr.Unauthorized("User account is deactivated")
	}

	return s.issue(user)
}

// SetUserActive toggles whether a user may authenticate. Admin only.
func (s *Service) SetUserActive(ctx context.Context, userID string, active bool) (*models.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, apperr.InvalidID("Invalid user id")
	}
	user, err := s.Users.SetUserActive(ctx, userID, active, s.now())
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Internal("Failed to update user", err)
	}
	s.Logger.LogSecurity("USER_ACTIVE_CHANGED", fmt.Sprintf("user %s active=%t", userID, active))
	return user, nil
}

func (s *Service) issue(user *models.User) (*AuthResult, error) {
	token, expiresAt, err := s.Tokens.Issue(user.ID)
	if err != nil {
		return nil, apperr.Internal("Failed to issue token", err)
	}
	return &AuthResult{User: user.AuthView(), Token: token, ExpiresAt: expiresAt}, nil
}

func (s *Service) validateStruct(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(err.Error())
	}
	fields := make([]string, 0, len(verrs))
	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
		messages = append(messages, describe(fe))
	}
	return apperr.ValidationFields(strings.Join(messages, "; "), fields...)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
