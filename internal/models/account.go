package models

import "time"

// Role is the closed set of account roles. The role is fixed at signup and
// embedded verbatim in issued access tokens; nothing in this service mutates
// it afterwards.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEmployer Role = "EMPLOYER"
	RoleEmployee Role = "EMPLOYEE"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleEmployer, RoleEmployee:
		return true
	}
	return false
}

type Account struct {
	AccountBucket int        `db:"account_bucket"`
	AccountID     string     `db:"account_id"`
	Email         string     `db:"email"`
	PasswordHash  string     `db:"password_hash"`
	Role          Role       `db:"role"`
	IsVerified    bool       `db:"is_verified"`
	CreatedAt     time.Time  `db:"created_at"`
	VerifiedAt    *time.Time `db:"verified_at"`
}
