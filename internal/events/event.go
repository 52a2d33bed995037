package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderDeleted       EventType = "order.deleted"
	EventAdjustmentCreated  EventType = "adjustment.created"
	EventAdjustmentDeferred EventType = "adjustment.deferred"
	EventAdjustmentDeleted  EventType = "adjustment.deleted"
	EventReturnsSettled     EventType = "returns.settled"
	EventSettlementRecorded EventType = "settlement.recorded"
)

// Event is a domain fact observed by read models and other screens.
type Event struct {
	ID           snowflake.ID   `json:"id"`
	Type         EventType      `json:"type"`
	TechnicianID snowflake.ID   `json:"technician_id"`
	SubjectID    snowflake.ID   `json:"subject_id"`
	Payload      map[string]any `json:"payload"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Publisher fans an event out to subscribers after the originating write has committed.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Handler observes published events. Handlers must not block.
type Handler func(ctx context.Context, evt Event)

// Record is the durable outbox row for an event.
type Record struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	EventType    EventType         `gorm:"type:text;not null;index"`
	TechnicianID snowflake.ID      `gorm:"not null;index"`
	SubjectID    snowflake.ID      `gorm:"not null"`
	Payload      datatypes.JSONMap `gorm:"not null"`
	Published    bool              `gorm:"not null;default:false"`
	OccurredAt   time.Time         `gorm:"not null"`
	CreatedAt    time.Time         `gorm:"not null"`
}

func (Record) TableName() string { return "payroll_events" }

// Event rebuilds the domain event stored in r.
func (r Record) Event() Event {
	payload := make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		payload[k] = v
	}
	return Event{
		ID:           r.ID,
		Type:         r.EventType,
		TechnicianID: r.TechnicianID,
		SubjectID:    r.SubjectID,
		Payload:      payload,
		OccurredAt:   r.OccurredAt,
	}
}
