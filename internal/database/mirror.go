package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"realty/server/internal/models"
)

const mirrorBatchSize = 100

// ReplaceMirror swaps the mirrored listing set for properties inside tx
func ReplaceMirror(tx *gorm.DB, properties []models.Property) error {
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&MirroredProperty{}).Error; err != nil {
		return fmt.Errorf("failed to clear mirror: %w", err)
	}
	if len(properties) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([]MirroredProperty, 0, len(properties))
	for _, p := range properties {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to encode property %s: %w", p.ID, err)
		}
		rows = append(rows, MirroredProperty{
			ID:        p.ID,
			Number:    p.Number,
			Payload:   string(payload),
			CreatedAt: p.CreatedAt,
			SyncedAt:  now,
		})
	}

	if err := tx.CreateInBatches(rows, mirrorBatchSize).Error; err != nil {
		return fmt.Errorf("failed to write mirror: %w", err)
	}
	return nil
}

// LoadMirror returns the mirrored listings, newest first
func (d *Database) LoadMirror(ctx context.Context) ([]models.Property, error) {
	var rows []MirroredProperty
	if err := d.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read mirror: %w", err)
	}

	properties := make([]models.Property, 0, len(rows))
	for _, row := range rows {
		var p models.Property
		if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
			d.logger.WithError(err).WithField("property_id", row.ID).Warn("Skipping unreadable mirrored property")
			continue
		}
		properties = append(properties, p)
	}
	return properties, nil
}

// MirrorCount returns how many listings are mirrored
func (d *Database) MirrorCount(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&MirroredProperty{}).Count(&count).Error
	return count, err
}
