package models

import (
	"strings"
	"time"
)

type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
)

// Role is the access-level tag that gates which rows a user may query.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTransferz Role = "transferz"
	RolePartner   Role = "partner"
	RoleDefault   Role = "default"
)

var Roles = []Role{RoleAdmin, RoleTransferz, RolePartner, RoleDefault}

// ParseRole maps unknown or empty values to RoleDefault.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleTransferz, RolePartner:
		return r
	}
	return RoleDefault
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTransferz, RolePartner, RoleDefault:
		return true
	}
	return false
}

type User struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name         string     `gorm:"size:200" json:"name"`
	PasswordHash string     `gorm:"size:255" json:"-"`
	Role         Role       `gorm:"size:20;default:default" json:"role"`
	PartnerID    string     `gorm:"size:100;index" json:"partner_id"`
	Status       UserStatus `gorm:"size:16;default:active" json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DisplayName falls back to the email when no name is set.
func (u User) DisplayName() string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Email
}

// Tables lists the relational models for AutoMigrate.
func Tables() []any {
	return []any{&User{}, &AuditLog{}}
}
