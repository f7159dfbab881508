package models

import "time"

// TwoFactorEnrollment holds a user's TOTP secret and remaining backup codes.
// Backup codes are single-use; consuming one removes it from the set.
type TwoFactorEnrollment struct {
	UserID      string    `json:"user_id"`
	Secret      string    `json:"-"`
	BackupCodes []string  `json:"-"`
	Confirmed   bool      `json:"confirmed"`
	CreatedAt   time.Time `json:"created_at"`
}
