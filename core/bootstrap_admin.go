package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	bootstrapUsernameLength = 5
	bootstrapPasswordLength = 16
)

// BootstrapCredentials is the one-time record written for the operator.
type BootstrapCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BootstrapAdmin creates an initial admin account when none exists.
// It is idempotent: if an admin already exists, it does nothing. It must run
// before the HTTP listener starts; any error should abort startup.
func BootstrapAdmin(ctx context.Context, repo AccountRepository, hasher *PasswordHasher, cfg Config) (*Account, error) {
	if !cfg.BootstrapAdminEnabled {
		return nil, nil
	}

	has, err := repo.HasAdmin(ctx)
	if err != nil {
		return nil, fmt.Errorf("check admin: %w", err)
	}
	if has {
		slog.Info("database already initialized")
		return nil, nil
	}

	username, err := GeneratePassword(bootstrapUsernameLength)
	if err != nil {
		return nil, err
	}
	password, err := GeneratePassword(bootstrapPasswordLength)
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	admin := &Account{
		Username:     username,
		Role:         RoleAdmin,
		UserID:       NewUserID(),
		PasswordHash: hash,
	}
	// Record first, insert second; the record is removed if the insert fails.
	creds := BootstrapCredentials{Username: username, Password: password}
	if cfg.InitialAdminCredentialsPath != "" {
		if err := writeBootstrapCredentials(cfg.InitialAdminCredentialsPath, creds); err != nil {
			return nil, err
		}
	}
	if err := repo.Create(ctx, admin); err != nil {
		if cfg.InitialAdminCredentialsPath != "" {
			_ = os.Remove(cfg.InitialAdminCredentialsPath)
		}
		return nil, fmt.Errorf("create admin: %w", err)
	}

	if cfg.InitialAdminCredentialsPath != "" {
		slog.Warn("initial admin created; credentials written to file, the database keeps only the hash",
			"path", cfg.InitialAdminCredentialsPath, "username", username)
	} else {
		slog.Warn("initial admin created", "username", username, "password", password)
	}
	return admin, nil
}

func writeBootstrapCredentials(path string, creds BootstrapCredentials) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create credentials dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(creds, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write credentials %s: %w", path, err)
	}
	return nil
}
