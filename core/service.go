package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// RepositoryAuthService checks credentials against the account store and issues tokens.
type RepositoryAuthService struct {
	accounts AccountRepository
	hasher   *PasswordHasher
	tokens   *TokenService
	metrics  *Metrics
}

func NewRepositoryAuthService(accounts AccountRepository, hasher *PasswordHasher, tokens *TokenService, metrics *Metrics) *RepositoryAuthService {
	return &RepositoryAuthService{accounts: accounts, hasher: hasher, tokens: tokens, metrics: metrics}
}

// Login returns a signed access token for username. Unknown users, wrong
// passwords and unreadable hashes all fail with ErrInvalidCredentials; a
// disabled account fails with ErrInactive once the password has been verified.
func (s *RepositoryAuthService) Login(ctx context.Context, username, password string) (string, *Account, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		s.metrics.loginAttempt("invalid")
		return "", nil, ErrInvalidCredentials
	}

	a, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.loginAttempt("invalid")
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	ok, err := s.hasher.Verify(password, a.PasswordHash)
	if err != nil {
		slog.Error("stored password hash unreadable", "username", a.Username, "error", err)
		s.metrics.loginAttempt("invalid")
		return "", nil, ErrInvalidCredentials
	}
	if !ok {
		s.metrics.loginAttempt("invalid")
		return "", nil, ErrInvalidCredentials
	}
	if a.Disabled {
		s.metrics.loginAttempt("inactive")
		return "", nil, ErrInactive
	}

	token, err := s.tokens.Issue(a.Username, 0)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	s.metrics.loginAttempt("success")
	return token, a, nil
}

// CreateAccountInput is an admin request to create an account with its face image.
type CreateAccountInput struct {
	Username        string `validate:"required,max=64"`
	Password        string `validate:"required,max=256"`
	Role            string `validate:"required"`
	FaceImage       []byte `validate:"required,min=1"`
	FaceContentType string
}

// UpdateAccountInput carries optional changes; nil fields and an empty image are left alone.
type UpdateAccountInput struct {
	Username        *string
	Role            *string
	Disabled        *bool
	FaceImage       []byte
	FaceContentType string
}

// AccountService manages accounts and their face images.
type AccountService struct {
	accounts AccountRepository
	hasher   *PasswordHasher
	images   FaceImageStore
	sync     FaceSyncScheduler
}

// NewAccountService wires the service. sync may be nil when gallery sync is off.
func NewAccountService(accounts AccountRepository, hasher *PasswordHasher, images FaceImageStore, sync FaceSyncScheduler) *AccountService {
	return &AccountService{accounts: accounts, hasher: hasher, images: images, sync: sync}
}

func (s *AccountService) Get(ctx context.Context, userID string) (*Account, error) {
	return s.accounts.FindByUserID(ctx, userID)
}

func (s *AccountService) List(ctx context.Context, page, perPage int) ([]Account, int, error) {
	return s.accounts.List(ctx, page, perPage)
}

// Create stores a new account and its face image. The image is normalized
// before anything is written; if storing it fails the account is removed again.
func (s *AccountService) Create(ctx context.Context, in CreateAccountInput) (*Account, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	jpeg, err := NormalizeJPEG(in.FaceImage, in.FaceContentType)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	a := &Account{
		Username:     in.Username,
		Role:         role,
		UserID:       NewUserID(),
		PasswordHash: hash,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, err
	}
	if err := s.images.Put(ctx, a.UserID, jpeg); err != nil {
		if delErr := s.accounts.Delete(ctx, a); delErr != nil {
			slog.Error("rollback account after image failure", "user_id", a.UserID, "error", delErr)
		}
		return nil, err
	}
	s.schedule(ctx, FaceSyncEnroll, a.UserID)
	slog.Info("account created", "username", a.Username, "user_id", a.UserID, "role", a.Role)
	return a, nil
}

// Update applies in to the account identified by userID. The user id itself never changes.
func (s *AccountService) Update(ctx context.Context, userID string, in UpdateAccountInput) (*Account, error) {
	a, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		name := strings.TrimSpace(*in.Username)
		if name == "" || len(name) > 64 {
			return nil, fmt.Errorf("%w: username must be 1-64 characters", ErrInvalidInput)
		}
		if name != a.Username {
			taken, err := s.accounts.UsernameExists(ctx, name)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, ErrDuplicate
			}
			a.Username = name
		}
	}
	if in.Role != nil {
		role, err := ParseRole(*in.Role)
		if err != nil {
			return nil, err
		}
		a.Role = role
	}
	if in.Disabled != nil {
		a.Disabled = *in.Disabled
	}
	var jpeg []byte
	if len(in.FaceImage) > 0 {
		if jpeg, err = NormalizeJPEG(in.FaceImage, in.FaceContentType); err != nil {
			return nil, err
		}
	}

	if err := s.accounts.Save(ctx, a); err != nil {
		return nil, err
	}
	if jpeg != nil {
		if err := s.images.Put(ctx, a.UserID, jpeg); err != nil {
			return nil, err
		}
		s.schedule(ctx, FaceSyncEnroll, a.UserID)
	}
	return a, nil
}

// ChangePassword replaces the password of a after verifying oldPassword.
func (s *AccountService) ChangePassword(ctx context.Context, a *Account, oldPassword, newPassword string) error {
	if newPassword == "" || len(newPassword) > 256 {
		return fmt.Errorf("%w: new_password must be 1-256 characters", ErrInvalidInput)
	}
	ok, err := s.hasher.Verify(oldPassword, a.PasswordHash)
	if err != nil {
		slog.Error("stored password hash unreadable", "username", a.Username, "error", err)
		return ErrPermissionDenied
	}
	if !ok {
		return ErrPermissionDenied
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return s.accounts.Save(ctx, a)
}

// ChangePasswordByUserID is ChangePassword for the account identified by userID.
func (s *AccountService) ChangePasswordByUserID(ctx context.Context, userID, oldPassword, newPassword string) (*Account, error) {
	a, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.ChangePassword(ctx, a, oldPassword, newPassword); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete removes the account and its face image and schedules the gallery removal.
func (s *AccountService) Delete(ctx context.Context, userID string) (*Account, error) {
	a, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.accounts.Delete(ctx, a); err != nil {
		return nil, err
	}
	if err := s.images.Delete(ctx, a.UserID); err != nil {
		slog.Error("delete face image", "user_id", a.UserID, "error", err)
	}
	s.schedule(ctx, FaceSyncRemove, a.UserID)
	slog.Info("account deleted", "username", a.Username, "user_id", a.UserID)
	return a, nil
}

// FaceImage returns the stored JPEG of userID.
func (s *AccountService) FaceImage(ctx context.Context, userID string) ([]byte, error) {
	return s.images.Get(ctx, userID)
}

// schedule queues a gallery change. A failure is logged; the image store
// stays the source of truth and the next change resyncs the gallery.
func (s *AccountService) schedule(ctx context.Context, op FaceSyncOp, userID string) {
	if s.sync == nil {
		return
	}
	if err := s.sync.Schedule(ctx, op, userID); err != nil {
		slog.Error("schedule face sync", "op", op, "user_id", userID, "error", err)
	}
}
