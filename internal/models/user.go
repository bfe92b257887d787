package models

import "regexp"

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusApproved UserStatus = "approved"
)

type User struct {
	BaseModel
	Username     string     `json:"username" gorm:"type:varchar(32);uniqueIndex;not null"`
	PasswordHash string     `json:"-" gorm:"type:text;not null"`
	Role         UserRole   `json:"role" gorm:"type:varchar(20);not null;default:'user'"`
	Status       UserStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`

	// TrustedUploader and AutoShare feed the share registry's
	// auto-approval rule; admins always auto-approve.
	TrustedUploader bool `json:"trustedUploader" gorm:"not null;default:false"`
	AutoShare       bool `json:"autoShare" gorm:"not null;default:false"`

	// StorageUsed is the recursive byte sum of the user's tree,
	// recomputed after every mutating operation. Eventually consistent.
	StorageUsed int64 `json:"storageUsed" gorm:"not null;default:0"`
}

func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidUsername enforces the storage-namespace rules: usernames name
// directories directly, so only word characters are allowed.
func ValidUsername(username string) bool {
	if len(username) < 3 || len(username) > 32 {
		return false
	}
	return usernamePattern.MatchString(username)
}
