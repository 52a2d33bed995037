package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeAdmin      ActorType = "admin"
	ActorTypeTechnician ActorType = "technician"
	ActorTypeSystem     ActorType = "system"
)

// AuditLog records an explicit, usually destructive, payroll action.
type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	TechnicianID *snowflake.ID     `gorm:"index" json:"technician_id,omitempty"`
	ActorType    string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID      *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action       string            `gorm:"type:text;not null;index" json:"action"`
	TargetType   string            `gorm:"type:text;not null" json:"target_type"`
	TargetID     *string           `gorm:"type:text" json:"target_id,omitempty"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	RequestID    *string           `gorm:"type:text" json:"request_id,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	TechnicianID *snowflake.ID
	Action       string
	TargetType   string
	TargetID     string
	StartAt      *time.Time
	EndAt        *time.Time
	Limit        int

	// Rows strictly older than (BeforeCreatedAt, BeforeID).
	BeforeCreatedAt *time.Time
	BeforeID        snowflake.ID
}
