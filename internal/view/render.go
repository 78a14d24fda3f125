package view

import (
	"hash/fnv"
	"strconv"
	"strings"

	"realty/server/internal/models"
)

// Card is the presentational unit built for one record
type Card struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	Title        string `json:"title"`
	Address      string `json:"address"`
	Community    string `json:"community"`
	Price        string `json:"price"`
	Layout       string `json:"layout"`
	Type         string `json:"type"`
	BuildingType string `json:"buildingType"`
	TotalArea    string `json:"totalArea"`
	Thumbnail    string `json:"thumbnail"`
	ImageCount   int    `json:"imageCount"`
	Badge        string `json:"badge,omitempty"`
	Sold         bool   `json:"sold"`
	External     bool   `json:"external"`
	Published    bool   `json:"published"`
}

type cachedCard struct {
	hash uint64
	card Card
}

// BuildCard renders a record. It has no side effects.
func BuildCard(p models.Property) Card {
	card := Card{
		ID:           p.ID,
		Number:       p.NumberValue(),
		Title:        p.Title,
		Address:      p.Address,
		Community:    p.Community,
		Price:        p.Price,
		Layout:       p.Layout,
		Type:         p.Type,
		BuildingType: p.BuildingType,
		TotalArea:    p.Areas.Total,
		Thumbnail:    p.Thumbnail(),
		ImageCount:   len(p.Images),
		Sold:         p.IsSold(),
		External:     p.IsExternal,
		Published:    p.IsPublished,
	}
	if p.HasStatusBadge() {
		card.Badge = p.StatusText
	}
	return card
}

// contentHash covers every field BuildCard reads
func contentHash(p models.Property) uint64 {
	status := ""
	if p.Status != nil {
		status = *p.Status
	}
	h := fnv.New64a()
	h.Write([]byte(strings.Join([]string{
		p.ID,
		p.NumberValue(),
		p.Title,
		p.Address,
		p.Community,
		p.Price,
		p.Layout,
		p.Type,
		p.BuildingType,
		p.Areas.Total,
		p.Thumbnail(),
		strconv.Itoa(len(p.Images)),
		status,
		p.StatusText,
		strconv.FormatBool(p.IsExternal),
		strconv.FormatBool(p.IsPublished),
	}, "\x1f")))
	return h.Sum64()
}

// cardFor returns the memoized card while the record's content is unchanged.
// Callers hold e.mu.
func (e *Engine) cardFor(p models.Property) Card {
	hash := contentHash(p)
	if cached, ok := e.cards[p.ID]; ok && cached.hash == hash {
		return cached.card
	}
	card := BuildCard(p)
	e.cards[p.ID] = cachedCard{hash: hash, card: card}
	e.cardBuilds++
	return card
}

// EvictCard drops the memoized card of one record
func (e *Engine) EvictCard(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cards, id)
}

// CardBuilds counts the cards rendered since the engine was created
func (e *Engine) CardBuilds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cardBuilds
}

// pruneCards drops cards of records no longer in the collection. Callers hold e.mu.
func (e *Engine) pruneCards() {
	present := make(map[string]bool, len(e.all))
	for i := range e.all {
		present[e.all[i].ID] = true
	}
	for id := range e.cards {
		if !present[id] {
			delete(e.cards, id)
		}
	}
}
