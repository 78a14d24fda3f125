package view

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"realty/server/internal/models"
)

// Mutation is an optimistic change to the collection and its inverse.
// Forward may capture state that Rollback needs, so a Mutation is used once.
type Mutation struct {
	Name     string
	ID       string
	Forward  func(items []models.Property) ([]models.Property, error)
	Rollback func(items []models.Property) []models.Property
}

// TogglePublished flips the published flag of one record. Rollback restores the
// previous value only while the record still holds the flipped one, so a collection
// reloaded during the remote call is left as loaded.
func TogglePublished(id string) Mutation {
	var before bool
	applied := false

	return Mutation{
		Name: "toggle-published",
		ID:   id,
		Forward: func(items []models.Property) ([]models.Property, error) {
			i := indexOf(items, id)
			if i < 0 {
				return items, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			before = items[i].IsPublished
			items[i].IsPublished = !before
			applied = true
			return items, nil
		},
		Rollback: func(items []models.Property) []models.Property {
			i := indexOf(items, id)
			if !applied || i < 0 || items[i].IsPublished != !before {
				return items
			}
			items[i].IsPublished = before
			return items
		},
	}
}

// Remove deletes one record and restores it at its old position on rollback
func Remove(id string) Mutation {
	var removed models.Property
	position := -1

	return Mutation{
		Name: "delete",
		ID:   id,
		Forward: func(items []models.Property) ([]models.Property, error) {
			i := indexOf(items, id)
			if i < 0 {
				return items, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			removed = items[i]
			position = i
			return append(items[:i:i], items[i+1:]...), nil
		},
		Rollback: func(items []models.Property) []models.Property {
			if position < 0 || indexOf(items, id) >= 0 {
				return items
			}
			at := position
			if at > len(items) {
				at = len(items)
			}
			restored := make([]models.Property, 0, len(items)+1)
			restored = append(restored, items[:at]...)
			restored = append(restored, removed)
			return append(restored, items[at:]...)
		},
	}
}

// Apply runs m.Forward on the collection, renders, then asks confirm to persist it.
// When confirm fails the change is rolled back and the error returned.
func (e *Engine) Apply(ctx context.Context, m Mutation, confirm func(ctx context.Context) error) error {
	e.mu.Lock()
	items, err := m.Forward(e.all)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.all = items
	e.commit()

	if confirm == nil {
		return nil
	}
	if err := confirm(ctx); err != nil {
		e.mu.Lock()
		e.all = m.Rollback(e.all)
		e.commit()

		e.logger.WithError(err).WithFields(logrus.Fields{
			"mutation": m.Name,
			"id":       m.ID,
		}).Warn("Remote confirm failed, rolled back local change")
		return fmt.Errorf("failed to apply %s to property %s: %w", m.Name, m.ID, err)
	}
	return nil
}

func indexOf(items []models.Property, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
