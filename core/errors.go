package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the gate, services and handlers.
// Handlers translate these into status codes in respondServiceError.
var (
	ErrUnauthorized = errors.New("could not validate credentials")
	// ErrInvalidCredentials is returned when username/password is wrong.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	ErrInactive           = errors.New("inactive user")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
	ErrDuplicate          = errors.New("username already exists")
	ErrInvalidHashFormat  = errors.New("invalid password hash format")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUnsupportedImage   = errors.New("unsupported file type, only support jpeg or png")
	ErrInvalidInput       = errors.New("invalid input")

	ErrTaskNotFound  = fmt.Errorf("task id not found: %w", ErrNotFound)
	ErrDuplicateTask = fmt.Errorf("task id already exists: %w", ErrDuplicate)
)
