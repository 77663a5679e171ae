package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role determines what a user may do beyond their own account.
type Role string

const (
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
)

// UserStatus is a soft lifecycle state. Users are never hard-deleted.
type UserStatus string

const (
	UserStatusActive      UserStatus = "ACTIVE"
	UserStatusSuspended   UserStatus = "SUSPENDED"
	UserStatusDeactivated UserStatus = "DEACTIVATED"
)

// User is a platform account.
type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	Role          Role       `json:"role"`
	Status        UserStatus `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	MFAEnabled    bool       `json:"mfa_enabled"`
	MFASecretEnc  *string    `json:"-"`          // AES-256-GCM encrypted TOTP secret
	BackupCodes   []string   `json:"-"`          // SHA-256 hashes, each removed on use
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsActive reports whether the account may log in.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}
