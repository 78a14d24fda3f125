package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CategoryFile overrides the built-in building categories and room types
type CategoryFile struct {
	BuildingCategories []BuildingCategory `json:"building_categories"`
	RoomTypes          []string           `json:"room_types"`
}

// LoadCategories replaces the category tables with the contents of a JSON file.
// An empty path keeps the built-in tables. Sections missing from the file are kept too.
func LoadCategories(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to read category file: %w", err)
	}

	var file CategoryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse category file: %w", err)
	}
	if err := file.validate(); err != nil {
		return err
	}

	categoriesLock.Lock()
	defer categoriesLock.Unlock()

	if len(file.BuildingCategories) > 0 {
		BuildingCategories = file.BuildingCategories
		buildingAliasIndex = indexAliases(BuildingCategories)
	}
	if len(file.RoomTypes) > 0 {
		RoomTypes = file.RoomTypes
	}
	return nil
}

func (f CategoryFile) validate() error {
	seen := make(map[string]bool)
	baseline := len(f.BuildingCategories) == 0
	for _, category := range f.BuildingCategories {
		tag := strings.TrimSpace(category.Tag)
		if tag == "" {
			return errors.New("building category without tag")
		}
		if tag == FilterAll {
			return fmt.Errorf("building category tag %q is reserved", FilterAll)
		}
		if seen[tag] {
			return fmt.Errorf("duplicate building category %q", tag)
		}
		seen[tag] = true
		if tag == BaselineBuildingType {
			baseline = true
		}
	}
	// records without a building type fall back to the baseline tag
	if !baseline {
		return fmt.Errorf("building categories must include %q", BaselineBuildingType)
	}

	for _, roomType := range f.RoomTypes {
		if strings.TrimSpace(roomType) == "" || roomType == FilterAll {
			return fmt.Errorf("invalid room type %q", roomType)
		}
	}
	return nil
}
