package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"realty/server/internal/remote"
)

var ErrDuplicateNumber = errors.New("generated property number already exists")

// numberPrefixes maps a room type onto its property number prefix
var numberPrefixes = map[string]string{
	"2-room":       "A",
	"3-room":       "B",
	"4-room":       "C",
	"suite":        "S",
	"duplex-house": "D",
	"villa":        "V",
	"storefront":   "F",
}

const (
	defaultNumberPrefix = "P"
	numberDigits        = 4
)

// NumberPrefix returns the number prefix used for a room type
func NumberPrefix(roomType string) string {
	if prefix, ok := numberPrefixes[roomType]; ok {
		return prefix
	}
	return defaultNumberPrefix
}

// GeneratePropertyNumber proposes the next free number for a room type, e.g. B0042.
// The candidate is checked against the store again after generation; if another
// writer took it in the meantime ErrDuplicateNumber is returned and nothing is written.
func (l *Loader) GeneratePropertyNumber(ctx context.Context, roomType string) (string, error) {
	prefix := NumberPrefix(roomType)

	rows, err := l.store.Select(ctx, remote.Query{
		Table:   l.opts.Table,
		Columns: []string{"number"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to read property numbers: %w", err)
	}

	highest := 0
	for _, row := range rows {
		seq, ok := numberSequence(row, prefix)
		if ok && seq > highest {
			highest = seq
		}
	}
	candidate := fmt.Sprintf("%s%0*d", prefix, numberDigits, highest+1)

	existing, err := l.store.Select(ctx, remote.Query{
		Table:   l.opts.Table,
		Columns: []string{"id"},
		Eq:      map[string]interface{}{"number": candidate},
		Limit:   1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to verify property number %s: %w", candidate, err)
	}
	if len(existing) > 0 {
		l.logger.WithField("number", candidate).Warn("Generated property number is already taken")
		return "", fmt.Errorf("%w: %s", ErrDuplicateNumber, candidate)
	}
	return candidate, nil
}

func numberSequence(row json.RawMessage, prefix string) (int, bool) {
	var record struct {
		Number *string `json:"number"`
	}
	if err := json.Unmarshal(row, &record); err != nil || record.Number == nil {
		return 0, false
	}
	number := strings.TrimSpace(*record.Number)
	if !strings.HasPrefix(number, prefix) {
		return 0, false
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(number, prefix))
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}
