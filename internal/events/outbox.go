package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/repairpay/pkg/telemetry/correlation"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outbox persists events in the same transaction as the write that produced them.
type Outbox struct {
	genID *snowflake.Node
}

func NewOutbox(genID *snowflake.Node) *Outbox {
	return &Outbox{genID: genID}
}

// PublishTx stores evt using tx and returns it with its id assigned.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, evt Event) (Event, error) {
	if o == nil {
		return evt, nil
	}
	if evt.ID == 0 {
		evt.ID = o.genID.Generate()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	payload := datatypes.JSONMap{}
	for k, v := range evt.Payload {
		payload[k] = v
	}
	correlation.AnnotatePayload(ctx, payload)

	record := Record{
		ID:           evt.ID,
		EventType:    evt.Type,
		TechnicianID: evt.TechnicianID,
		SubjectID:    evt.SubjectID,
		Payload:      payload,
		OccurredAt:   evt.OccurredAt.UTC(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		return evt, err
	}
	return evt, nil
}

// ListUnpublished returns outbox rows not yet relayed, oldest first.
func (o *Outbox) ListUnpublished(ctx context.Context, db *gorm.DB, limit int) ([]Record, error) {
	var records []Record
	stmt := db.WithContext(ctx).
		Where("published = ?", false).
		Order("occurred_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MarkPublished flags the given rows as relayed.
func (o *Outbox) MarkPublished(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&Record{}).
		Where("id IN ?", ids).
		Update("published", true).Error
}

// Relay hands committed events to pub and marks their outbox rows as published.
// A failure to mark leaves the rows for a later ListUnpublished sweep.
func (o *Outbox) Relay(ctx context.Context, db *gorm.DB, pub Publisher, evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}
	ids := make([]snowflake.ID, 0, len(evts))
	for _, evt := range evts {
		if pub != nil {
			pub.Publish(ctx, evt)
		}
		ids = append(ids, evt.ID)
	}
	if o == nil {
		return nil
	}
	return o.MarkPublished(ctx, db, ids)
}
