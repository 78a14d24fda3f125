package config

import (
	"strings"
	"sync"
)

const (
	// FilterAll disables a filter axis
	FilterAll = "all"

	// BaselineBuildingType is assumed for records without a building type
	BaselineBuildingType = "walk-up"
)

// BuildingCategory collapses several raw building-type labels into one filter tag
type BuildingCategory struct {
	Tag     string   `json:"tag"`
	Label   string   `json:"label"`
	Aliases []string `json:"aliases"`
}

// BuildingCategories is the ordered list of building-type filter tags
var BuildingCategories = []BuildingCategory{
	{
		Tag:     "high-rise",
		Label:   "High-rise",
		Aliases: []string{"high-rise", "elevator-building", "elevator building", "tower", "mansion", "residential-tower"},
	},
	{
		Tag:     BaselineBuildingType,
		Label:   "Walk-up apartment",
		Aliases: []string{"walk-up", "apartment", "walk-up apartment", "low-rise-apartment"},
	},
	{
		Tag:     "low-rise-house",
		Label:   "House",
		Aliases: []string{"low-rise-house", "duplex", "duplex-house", "villa", "townhouse", "detached"},
	},
	{
		Tag:     "commercial",
		Label:   "Commercial",
		Aliases: []string{"commercial", "storefront", "shop", "office"},
	},
	// Add more categories here as needed
}

// RoomTypes is the fixed vocabulary of the record type field
var RoomTypes = []string{"2-room", "3-room", "4-room", "suite", "duplex-house", "villa", "storefront"}

// maskedRoomTypes always have their address truncated to district and road
var maskedRoomTypes = map[string]bool{
	"duplex-house": true,
	"villa":        true,
	"storefront":   true,
}

var (
	categoriesLock     sync.RWMutex
	buildingAliasIndex = indexAliases(BuildingCategories)
)

func indexAliases(categories []BuildingCategory) map[string]string {
	index := make(map[string]string)
	for _, category := range categories {
		index[normalizeLabel(category.Tag)] = category.Tag
		for _, alias := range category.Aliases {
			index[normalizeLabel(alias)] = category.Tag
		}
	}
	return index
}

// GetBuildingTags returns the building filter tags in display order
func GetBuildingTags() []string {
	categoriesLock.RLock()
	defer categoriesLock.RUnlock()

	tags := make([]string, len(BuildingCategories))
	for i, category := range BuildingCategories {
		tags[i] = category.Tag
	}
	return tags
}

// CollapseBuildingType maps a raw building type onto its filter tag.
// Unknown labels keep their normalized form so they can still be matched exactly.
func CollapseBuildingType(raw string) string {
	normalized := normalizeLabel(raw)
	if normalized == "" {
		return BaselineBuildingType
	}
	categoriesLock.RLock()
	defer categoriesLock.RUnlock()
	if tag, ok := buildingAliasIndex[normalized]; ok {
		return tag
	}
	return normalized
}

// IsMaskedRoomType reports whether a room type hides the house number regardless of the record flag
func IsMaskedRoomType(roomType string) bool {
	return maskedRoomTypes[roomType]
}

// IsKnownRoomType reports whether the value belongs to the room type vocabulary
func IsKnownRoomType(roomType string) bool {
	categoriesLock.RLock()
	defer categoriesLock.RUnlock()

	for _, known := range RoomTypes {
		if known == roomType {
			return true
		}
	}
	return false
}

// GetRoomTypes returns the room type vocabulary in display order
func GetRoomTypes() []string {
	categoriesLock.RLock()
	defer categoriesLock.RUnlock()
	return append([]string(nil), RoomTypes...)
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.Join(strings.Fields(label), " ")
}
