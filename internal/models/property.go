package models

import "time"

// StatusSold marks a listing that moved to the sold partition
const StatusSold = "sold"

type Areas struct {
	Total     string `json:"total"`
	Main      string `json:"main"`
	Auxiliary string `json:"auxiliary"`
	Common    string `json:"common"`
	Land      string `json:"land"`
	Parking   string `json:"parking"`
}

type Transportation struct {
	Facilities []string `json:"facilities"`
	Transit    []string `json:"transit"`
	Schools    []string `json:"schools"`
	Markets    []string `json:"markets"`
	Parks      []string `json:"parks"`
}

// Property is a fully defaulted listing. Only the sync adapter builds it from wire data.
type Property struct {
	ID                string         `json:"id"`
	Number            *string        `json:"number"`
	Title             string         `json:"title"`
	Type              string         `json:"type"`
	BuildingType      string         `json:"buildingType"`
	Address           string         `json:"address"`
	Community         string         `json:"community"`
	Price             string         `json:"price"`
	Layout            string         `json:"layout"`
	Areas             Areas          `json:"areas"`
	Age               string         `json:"age"`
	Floor             string         `json:"floor"`
	Orientation       string         `json:"orientation"`
	Management        string         `json:"management"`
	Parking           string         `json:"parking"`
	IsPublished       bool           `json:"isPublished"`
	Status            *string        `json:"status"`
	StatusText        string         `json:"statusText"`
	IsExternal        bool           `json:"isExternal"`
	Images            []string       `json:"images"`
	Transportation    Transportation `json:"transportation"`
	Features          []string       `json:"features"`
	HideAddressNumber bool           `json:"hideAddressNumber"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// RawProperty is a record as returned by the remote store, before normalization
type RawProperty map[string]interface{}

// Thumbnail returns the representative image, the first one in order
func (p *Property) Thumbnail() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// IsSold reports whether the listing belongs to the sold partition
func (p *Property) IsSold() bool {
	return p.Status != nil && *p.Status == StatusSold
}

// HasStatusBadge reports whether both status and its display label are set
func (p *Property) HasStatusBadge() bool {
	return p.Status != nil && *p.Status != "" && p.StatusText != ""
}

// NumberValue returns the human readable code or an empty string
func (p *Property) NumberValue() string {
	if p.Number == nil {
		return ""
	}
	return *p.Number
}

// Clone returns a deep copy so callers can mutate it without touching shared state
func (p Property) Clone() Property {
	clone := p
	if p.Number != nil {
		number := *p.Number
		clone.Number = &number
	}
	if p.Status != nil {
		status := *p.Status
		clone.Status = &status
	}
	clone.Images = cloneStrings(p.Images)
	clone.Features = cloneStrings(p.Features)
	clone.Transportation = Transportation{
		Facilities: cloneStrings(p.Transportation.Facilities),
		Transit:    cloneStrings(p.Transportation.Transit),
		Schools:    cloneStrings(p.Transportation.Schools),
		Markets:    cloneStrings(p.Transportation.Markets),
		Parks:      cloneStrings(p.Transportation.Parks),
	}
	return clone
}

// cloneStrings never returns nil so lists serialize as [] rather than null
func cloneStrings(src []string) []string {
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

// CollectionLoaded is published once per completed load
type CollectionLoaded struct {
	Properties []Property `json:"properties"`
	Count      int        `json:"count"`
	Timestamp  string     `json:"timestamp"`
}

type FilterCounts struct {
	Building map[string]int `json:"building"`
	Room     map[string]int `json:"room"`
}
