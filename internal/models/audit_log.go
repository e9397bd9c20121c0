package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditLog struct {
	ID            int64          `gorm:"primaryKey" json:"id"`
	UserID        int64          `gorm:"index" json:"user_id"`                   // zero for system actions
	PartnerID     string         `gorm:"size:100;index" json:"partner_id"`       // scope of the touched row, if any
	Action        string         `gorm:"size:200;not null" json:"action"`        // e.g. "partner.update", "documents.upload"
	ResourceType  string         `gorm:"size:100" json:"resource_type"`          // e.g. "partner", "templates"
	ResourceID    string         `gorm:"size:100;index" json:"resource_id"`
	Metadata      datatypes.JSON `gorm:"type:json" json:"metadata"`
	IP            string         `gorm:"size:64" json:"ip"`
	InitiatorName string         `gorm:"size:255" json:"initiator_name"`
	UserAgent     string         `gorm:"size:255" json:"user_agent"`
	CreatedAt     time.Time      `json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}
