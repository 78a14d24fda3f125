package listing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"realty/server/config"
	"realty/server/internal/models"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize turns one wire record into a fully defaulted Property and masks its address.
// A malformed field falls back to its empty value; the rest of the record is kept.
func Normalize(raw models.RawProperty) models.Property {
	p := models.Property{
		ID:                text(raw, "id"),
		Number:            optionalText(raw, "number"),
		Title:             text(raw, "title"),
		Type:              text(raw, "type"),
		BuildingType:      text(raw, "buildingType", "building_type"),
		Address:           text(raw, "address"),
		Community:         text(raw, "community", "communityName", "community_name"),
		Price:             text(raw, "price"),
		Layout:            text(raw, "layout"),
		Areas:             decodeAreas(lookup(raw, "areas")),
		Age:               text(raw, "age"),
		Floor:             text(raw, "floor"),
		Orientation:       text(raw, "orientation"),
		Management:        text(raw, "management", "managementFee", "management_fee"),
		Parking:           text(raw, "parking", "parkingType", "parking_type"),
		IsPublished:       flag(raw, "isPublished", "is_published"),
		Status:            optionalText(raw, "status"),
		StatusText:        text(raw, "statusText", "status_text"),
		IsExternal:        flag(raw, "isExternal", "is_external"),
		Images:            decodeImages(lookup(raw, "images")),
		Transportation:    decodeTransportation(lookup(raw, "transportation")),
		Features:          decodeStrings(lookup(raw, "features")),
		HideAddressNumber: flag(raw, "hideAddressNumber", "hide_address_number"),
		CreatedAt:         timestamp(raw, "createdAt", "created_at"),
		UpdatedAt:         timestamp(raw, "updatedAt", "updated_at"),
	}

	if strings.TrimSpace(p.BuildingType) == "" {
		p.BuildingType = config.BaselineBuildingType
	}
	if ShouldMaskAddress(p) {
		p.Address = MaskAddress(p.Address)
	}
	return p
}

// NormalizeRows decodes a JSON array response. Rows that are not objects are skipped.
func NormalizeRows(rows []json.RawMessage) ([]models.Property, int) {
	properties := make([]models.Property, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		var raw models.RawProperty
		if err := json.Unmarshal(row, &raw); err != nil || raw == nil {
			skipped++
			continue
		}
		properties = append(properties, Normalize(raw))
	}
	return properties, skipped
}

// ShouldMaskAddress reports whether the house number must be hidden for p
func ShouldMaskAddress(p models.Property) bool {
	return p.HideAddressNumber || config.IsMaskedRoomType(p.Type)
}

func lookup(raw models.RawProperty, keys ...string) interface{} {
	for _, key := range keys {
		if value, ok := raw[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

func text(raw models.RawProperty, keys ...string) string {
	return toText(lookup(raw, keys...))
}

func toText(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func optionalText(raw models.RawProperty, keys ...string) *string {
	value := strings.TrimSpace(text(raw, keys...))
	if value == "" {
		return nil
	}
	return &value
}

func flag(raw models.RawProperty, keys ...string) bool {
	switch v := lookup(raw, keys...).(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && parsed
	case float64:
		return v != 0
	default:
		return false
	}
}

func timestamp(raw models.RawProperty, keys ...string) time.Time {
	value := strings.TrimSpace(text(raw, keys...))
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// unwrap decodes fields that arrive as JSON encoded strings.
// ok is false when a string is not valid JSON.
func unwrap(value interface{}) (interface{}, bool) {
	s, isString := value.(string)
	if !isString {
		return value, true
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

func decodeImages(value interface{}) []string {
	images := []string{}
	decoded, ok := unwrap(value)
	if !ok {
		return images
	}
	items, ok := decoded.([]interface{})
	if !ok {
		return images
	}

	for _, item := range items {
		var url string
		switch v := item.(type) {
		case string:
			url = v
		case map[string]interface{}:
			url = toText(v["url"])
		}
		if url = strings.TrimSpace(url); url != "" {
			images = append(images, url)
		}
	}
	return images
}

func decodeStrings(value interface{}) []string {
	values := []string{}
	decoded, ok := unwrap(value)
	if !ok {
		return values
	}
	return appendStrings(values, decoded)
}

func appendStrings(values []string, decoded interface{}) []string {
	switch v := decoded.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			values = append(values, s)
		}
	case []interface{}:
		for _, item := range v {
			switch entry := item.(type) {
			case map[string]interface{}:
				if name := strings.TrimSpace(toText(firstOf(entry, "name", "title", "text"))); name != "" {
					values = append(values, name)
				}
			case nil:
			default:
				if s := strings.TrimSpace(toText(entry)); s != "" {
					values = append(values, s)
				}
			}
		}
	}
	return values
}

func firstOf(m map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if value, ok := m[key]; ok && value != nil {
			return value
		}
	}
	return nil
}

func decodeTransportation(value interface{}) models.Transportation {
	t := models.Transportation{
		Facilities: []string{},
		Transit:    []string{},
		Schools:    []string{},
		Markets:    []string{},
		Parks:      []string{},
	}
	decoded, ok := unwrap(value)
	if !ok {
		return t
	}
	m, ok := decoded.(map[string]interface{})
	if !ok {
		return t
	}

	t.Facilities = appendStrings(t.Facilities, firstOf(m, "facilities", "facility"))
	t.Transit = appendStrings(t.Transit, firstOf(m, "transit", "transportation", "mrt"))
	t.Schools = appendStrings(t.Schools, firstOf(m, "schools", "school"))
	t.Markets = appendStrings(t.Markets, firstOf(m, "markets", "market"))
	t.Parks = appendStrings(t.Parks, firstOf(m, "parks", "park"))
	return t
}

func decodeAreas(value interface{}) models.Areas {
	decoded, ok := unwrap(value)
	if !ok {
		return models.Areas{}
	}
	m, ok := decoded.(map[string]interface{})
	if !ok {
		return models.Areas{}
	}
	return models.Areas{
		Total:     toText(firstOf(m, "total")),
		Main:      toText(firstOf(m, "main")),
		Auxiliary: toText(firstOf(m, "auxiliary")),
		Common:    toText(firstOf(m, "common")),
		Land:      toText(firstOf(m, "land")),
		Parking:   toText(firstOf(m, "parking")),
	}
}
