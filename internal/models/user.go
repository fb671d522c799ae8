package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is the account record. Application data (files, notes, photos) lives
// in its own tables and never touches this package.
type User struct {
	ID             uuid.UUID      `gorm:"type:uuid;primarykey;default:gen_random_uuid()" json:"id"`
	Email          string         `gorm:"type:varchar(254);not null;uniqueIndex"         json:"email"`
	DisplayName    string         `gorm:"type:varchar(100)"                              json:"display_name"`
	HashedPassword string         `gorm:"not null"                                       json:"-"`
	Role           Role           `gorm:"type:varchar(16);not null;default:'user'"       json:"role"`
	MfaMethods     []MfaMethod    `gorm:"foreignKey:UserID"                              json:"-"`
	CreatedAt      time.Time      `                                                      json:"created_at"`
	UpdatedAt      time.Time      `                                                      json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index"                                          json:"-"`
}

// GetEnabledMethods returns methods usable for login, in enrollment order.
func (u *User) GetEnabledMethods() []MfaMethod {
	var enabled []MfaMethod
	for _, method := range u.MfaMethods {
		if method.Enabled {
			enabled = append(enabled, method)
		}
	}
	return enabled
}

// HasMFAEnabled reports whether at least one method is enabled.
func (u *User) HasMFAEnabled() bool {
	return len(u.GetEnabledMethods()) > 0
}

// GetMethodByID finds a loaded method by its id, enabled or not.
func (u *User) GetMethodByID(id uuid.UUID) *MfaMethod {
	for i := range u.MfaMethods {
		if u.MfaMethods[i].ID == id {
			return &u.MfaMethods[i]
		}
	}
	return nil
}

func (u *User) ToActivity() UserActivity {
	return UserActivity{ID: u.ID, Email: u.Email}
}

type UserActivity struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

type UserClaimKey struct{}

// UserClaims is the JWT payload for every token this server signs.
// Aud distinguishes full sessions from the restricted elevation state.
type UserClaims struct {
	Email  string    `json:"email"`
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
	Aud    string    `json:"aud_scope"`
	Issuer string    `json:"iss_name"`
	MFA    bool      `json:"mfa"`
	jwt.RegisteredClaims
}
