package view

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realty/server/config"
	"realty/server/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func listing(id, title, buildingType, roomType string) models.Property {
	return models.Property{
		ID:           id,
		Title:        title,
		BuildingType: buildingType,
		Type:         roomType,
		IsPublished:  true,
	}
}

func sold(p models.Property) models.Property {
	status := models.StatusSold
	p.Status = &status
	p.StatusText = "Sold"
	return p
}

func badge(p models.Property, text string) models.Property {
	status := "featured"
	p.Status = &status
	p.StatusText = text
	return p
}

func makeProperties(active, soldCount int) []models.Property {
	properties := make([]models.Property, 0, active+soldCount)
	for i := 1; i <= active; i++ {
		properties = append(properties, listing(fmt.Sprintf("a%d", i), fmt.Sprintf("Listing %d", i), "walk-up", "2-room"))
	}
	for i := 1; i <= soldCount; i++ {
		properties = append(properties, sold(listing(fmt.Sprintf("s%d", i), fmt.Sprintf("Sold %d", i), "walk-up", "2-room")))
	}
	return properties
}

func ids(properties []models.Property) []string {
	result := make([]string, len(properties))
	for i, p := range properties {
		result[i] = p.ID
	}
	return result
}

func TestEngine_ActiveListingsArePaginated(t *testing.T) {
	e := New(makeProperties(10, 2), Options{ItemsPerPage: 4}, testLogger())

	page := e.FilteredPage()
	require.Len(t, page, 4)
	for _, p := range page {
		assert.False(t, p.IsSold())
	}
	assert.Equal(t, 3, e.TotalPages())
	assert.Equal(t, 1, e.CurrentPage())
}

func TestEngine_SearchMatchesCommunity(t *testing.T) {
	p := listing("1", "Sunny corner flat", "walk-up", "3-room")
	p.Address = "Da'an Dist., Zhongxiao E. Rd."
	p.Community = "Lin Yuan"
	other := listing("2", "Quiet suite", "walk-up", "suite")

	e := New([]models.Property{p, other}, Options{ItemsPerPage: 10}, testLogger())

	tests := []struct {
		term     string
		expected []string
	}{
		{term: "Lin", expected: []string{"1"}},
		{term: "lin yuan", expected: []string{"1"}},
		{term: "  QUIET ", expected: []string{"2"}},
		{term: "zhongxiao", expected: []string{"1"}},
		{term: "nowhere", expected: []string{}},
		{term: "", expected: []string{"1", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			e.SetSearch(tt.term)
			assert.Equal(t, tt.expected, ids(e.Filtered()))
		})
	}
}

func TestEngine_FilterAxesAreIndependent(t *testing.T) {
	e := New([]models.Property{
		listing("1", "A", "tower", "2-room"),
		listing("2", "B", "apartment", "2-room"),
		listing("3", "C", "elevator-building", "3-room"),
	}, Options{ItemsPerPage: 10}, testLogger())

	e.SetBuildingFilter("high-rise")
	e.SetRoomFilter("2-room")
	assert.Equal(t, []string{"1"}, ids(e.Filtered()))

	e.SetBuildingFilter(config.FilterAll)
	assert.Equal(t, "2-room", e.Filters().Room)
	assert.Equal(t, []string{"1", "2"}, ids(e.Filtered()))
}

func TestEngine_BuildingCategoriesCollapse(t *testing.T) {
	e := New([]models.Property{
		listing("1", "A", "elevator-building", "2-room"),
		listing("2", "B", "Tower", "3-room"),
		listing("3", "C", "duplex", "duplex-house"),
		listing("4", "D", "villa", "villa"),
		listing("5", "E", "", "suite"),
		listing("6", "F", "storefront", "storefront"),
	}, Options{ItemsPerPage: 10}, testLogger())

	tests := []struct {
		tag      string
		expected []string
	}{
		{tag: "high-rise", expected: []string{"1", "2"}},
		{tag: "low-rise-house", expected: []string{"3", "4"}},
		{tag: config.BaselineBuildingType, expected: []string{"5"}},
		{tag: "commercial", expected: []string{"6"}},
		{tag: "", expected: []string{"1", "2", "3", "4", "5", "6"}},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			e.SetBuildingFilter(tt.tag)
			assert.Equal(t, tt.expected, ids(e.Filtered()))
		})
	}
}

func TestEngine_BadgedRecordsSortFirstStably(t *testing.T) {
	e := New([]models.Property{
		listing("1", "A", "walk-up", "2-room"),
		badge(listing("2", "B", "walk-up", "2-room"), "New"),
		listing("3", "C", "walk-up", "2-room"),
		badge(listing("4", "D", "walk-up", "2-room"), "Price cut"),
		// status without a label gets no priority
		func() models.Property {
			p := listing("5", "E", "walk-up", "2-room")
			status := "featured"
			p.Status = &status
			return p
		}(),
	}, Options{ItemsPerPage: 10}, testLogger())

	assert.Equal(t, []string{"2", "4", "1", "3", "5"}, ids(e.Filtered()))
}

func TestEngine_FilteringIsIdempotent(t *testing.T) {
	e := New(makeProperties(20, 3), Options{ItemsPerPage: 5}, testLogger())
	tuple := models.FilterTuple{Building: "walk-up", Room: "2-room", Search: "Listing 1"}

	assert.True(t, e.SetFilters(tuple))
	first := e.Filtered()
	computed := e.computations

	assert.False(t, e.SetFilters(tuple), "same tuple is a no-op")
	second := e.Filtered()
	e.Page()
	e.GoToPage(2)

	assert.Equal(t, first, second)
	assert.Equal(t, computed, e.computations, "memo hit, no recomputation")

	// explicit setters always invalidate
	e.SetRoomFilter("2-room")
	assert.Equal(t, computed+1, e.computations)
	assert.Equal(t, first, e.Filtered())
}

func TestEngine_PartitionsAreComplete(t *testing.T) {
	properties := makeProperties(7, 4)
	e := New(properties, Options{ItemsPerPage: 3}, testLogger())

	active := e.Active()
	soldItems := e.Sold()
	assert.Len(t, active, 7)
	assert.Len(t, soldItems, 4)

	seen := make(map[string]int)
	for _, p := range active {
		assert.False(t, p.IsSold())
		seen[p.ID]++
	}
	for _, p := range soldItems {
		assert.True(t, p.IsSold())
		seen[p.ID]++
	}
	assert.Len(t, seen, len(properties))
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestEngine_PagesCoverFilteredListExactlyOnce(t *testing.T) {
	properties := makeProperties(11, 2)
	properties = append(properties, listing("x1", "Tower flat", "tower", "3-room"), badge(listing("x2", "Tower loft", "tower", "2-room"), "Hot"))

	tuples := []models.FilterTuple{
		{},
		{Building: "walk-up"},
		{Room: "2-room"},
		{Building: "high-rise", Search: "tower"},
		{Search: "no match at all"},
	}
	for _, perPage := range []int{1, 3, 4, 20} {
		for _, tuple := range tuples {
			t.Run(fmt.Sprintf("%d/%s|%s|%s", perPage, tuple.Building, tuple.Room, tuple.Search), func(t *testing.T) {
				e := New(properties, Options{ItemsPerPage: perPage}, testLogger())
				e.SetFilters(tuple)

				var pages []models.Property
				for n := 1; n <= e.TotalPages(); n++ {
					require.True(t, e.GoToPage(n))
					pages = append(pages, e.FilteredPage()...)
				}
				filtered := e.Filtered()
				if len(filtered) == 0 {
					assert.Empty(t, pages)
					assert.Equal(t, 0, e.TotalPages())
					return
				}
				assert.Equal(t, filtered, pages)

				current := e.CurrentPage()
				assert.False(t, e.GoToPage(0))
				assert.False(t, e.GoToPage(e.TotalPages()+1))
				assert.False(t, e.GoToPage(-3))
				assert.Equal(t, current, e.CurrentPage())
			})
		}
	}
}

func TestEngine_FilterCountsAreCrossFiltered(t *testing.T) {
	e := New([]models.Property{
		listing("a", "A", "elevator-building", "2-room"),
		listing("b", "B", "tower", "3-room"),
		listing("c", "C", "apartment", "2-room"),
		listing("d", "D", "villa", "villa"),
		sold(listing("e", "E", "tower", "2-room")),
	}, Options{ItemsPerPage: 10}, testLogger())

	e.SetRoomFilter("2-room")
	counts := e.FilterCounts()
	assert.Equal(t, 2, counts.Building[config.FilterAll])
	assert.Equal(t, 1, counts.Building["high-rise"])
	assert.Equal(t, 1, counts.Building["walk-up"])
	assert.Equal(t, 0, counts.Building["low-rise-house"])
	assert.Equal(t, 0, counts.Building["commercial"])

	// room counts ignore the room axis itself
	assert.Equal(t, 4, counts.Room[config.FilterAll])
	assert.Equal(t, 2, counts.Room["2-room"])
	assert.Equal(t, 1, counts.Room["3-room"])
	assert.Equal(t, 1, counts.Room["villa"])
	assert.Equal(t, 0, counts.Room["4-room"])

	e.SetBuildingFilter("high-rise")
	counts = e.FilterCounts()
	assert.Equal(t, 2, counts.Room[config.FilterAll])
	assert.Equal(t, 1, counts.Room["2-room"])
	assert.Equal(t, 1, counts.Room["3-room"])
	assert.Equal(t, 0, counts.Room["villa"])
	assert.Equal(t, 1, counts.Building["high-rise"])

	e.SetSearch("B")
	counts = e.FilterCounts()
	assert.Equal(t, 1, counts.Room["3-room"])
	assert.Equal(t, 0, counts.Room["2-room"])
}

func TestEngine_EmptyCollection(t *testing.T) {
	e := New(nil, Options{ItemsPerPage: 4}, testLogger())

	assert.NotNil(t, e.FilteredPage())
	assert.Empty(t, e.FilteredPage())
	assert.Equal(t, 0, e.TotalPages())
	assert.False(t, e.GoToPage(1))

	e.SetBuildingFilter("high-rise")
	e.SetSearch("anything")
	page := e.Page()
	assert.True(t, page.Empty)
	assert.NotEmpty(t, page.EmptyMessage)
	assert.Equal(t, 0, page.TotalPages)
	assert.Equal(t, 1, page.Page)

	counts := e.FilterCounts()
	assert.Equal(t, 0, counts.Building["high-rise"])
	assert.Equal(t, 0, counts.Room["2-room"])
}

func TestEngine_ReplaceCollection(t *testing.T) {
	e := New(makeProperties(12, 0), Options{ItemsPerPage: 4}, testLogger())
	require.True(t, e.GoToPage(3))

	// shrinking the collection clamps the current page
	e.ReplaceCollection(makeProperties(5, 1))
	assert.Equal(t, 2, e.TotalPages())
	assert.Equal(t, 2, e.CurrentPage())

	e.ReplaceCollection([]models.Property{})
	assert.Equal(t, 0, e.TotalPages())
	assert.Equal(t, 1, e.CurrentPage())
	assert.Empty(t, e.FilteredPage())
}

func TestEngine_OwnsItsCopy(t *testing.T) {
	properties := makeProperties(2, 0)
	e := New(properties, Options{ItemsPerPage: 4}, testLogger())

	properties[0].Title = "changed outside"
	assert.Equal(t, "Listing 1", e.Filtered()[0].Title)

	page := e.FilteredPage()
	page[1].Title = "changed by caller"
	assert.Equal(t, "Listing 2", e.Filtered()[1].Title)
}

func TestEngine_IngestIgnoresReplays(t *testing.T) {
	e := New(nil, Options{ItemsPerPage: 4}, testLogger())

	first := models.CollectionLoaded{Properties: makeProperties(3, 0), Count: 3, Timestamp: "2024-01-15T10:30:00Z"}
	assert.True(t, e.Ingest(first))
	assert.Equal(t, 3, e.Len())

	duplicate := models.CollectionLoaded{Properties: makeProperties(1, 0), Count: 1, Timestamp: "2024-01-15T10:30:00Z"}
	assert.False(t, e.Ingest(duplicate))
	assert.Equal(t, 3, e.Len())

	older := models.CollectionLoaded{Properties: nil, Count: 0, Timestamp: "2024-01-15T10:29:00Z"}
	assert.False(t, e.Ingest(older))
	assert.Equal(t, 3, e.Len())

	newer := models.CollectionLoaded{Properties: makeProperties(5, 0), Count: 5, Timestamp: "2024-01-15T10:30:00.000000001Z"}
	assert.True(t, e.Ingest(newer))
	assert.Equal(t, 5, e.Len())
}

func TestEngine_RendersAfterEveryChange(t *testing.T) {
	var mu sync.Mutex
	var rendered []Page
	e := New(makeProperties(6, 0), Options{
		ItemsPerPage: 2,
		Render: func(page Page) {
			mu.Lock()
			rendered = append(rendered, page)
			mu.Unlock()
		},
	}, testLogger())

	e.GoToPage(2)
	e.GoToPage(9)
	e.SetRoomFilter("2-room")
	e.ReplaceCollection(makeProperties(1, 0))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, rendered, 3, "ignored page requests do not render")
	assert.Equal(t, 2, rendered[0].Page)
	assert.Equal(t, []string{"a3", "a4"}, ids(rendered[0].Items))
	assert.Len(t, rendered[0].Cards, 2)
	assert.Equal(t, 1, rendered[1].Page)
	assert.Equal(t, 1, rendered[2].TotalItems)
	assert.Equal(t, 1, rendered[2].TotalPages)
}

func TestEngine_SearchDebounceAppliesLastTerm(t *testing.T) {
	var mu sync.Mutex
	var searches []string
	p := listing("1", "Riverside", "walk-up", "2-room")
	p.Community = "Lin Yuan"

	e := New([]models.Property{p}, Options{
		ItemsPerPage:   4,
		SearchDebounce: 20 * time.Millisecond,
		Render: func(page Page) {
			mu.Lock()
			searches = append(searches, page.Filters.Search)
			mu.Unlock()
		},
	}, testLogger())
	defer e.Close()

	e.SetSearchDebounced("L")
	e.SetSearchDebounced("Li")
	e.SetSearchDebounced("Lin")
	assert.Equal(t, "", e.Filters().Search, "nothing applied before the delay")

	assert.Eventually(t, func() bool {
		return e.Filters().Search == "Lin"
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Lin"}, searches)
}

func TestEngine_ImmediateSearchCancelsPendingDebounce(t *testing.T) {
	e := New(nil, Options{SearchDebounce: 10 * time.Millisecond}, testLogger())
	defer e.Close()

	e.SetSearchDebounced("old")
	e.SetSearch("new")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, "new", e.Filters().Search)
}

func TestEngine_GetFindsBothPartitions(t *testing.T) {
	e := New(makeProperties(2, 1), Options{ItemsPerPage: 12}, testLogger())

	p, ok := e.Get("s1")
	require.True(t, ok)
	assert.True(t, p.IsSold())

	p.Title = "changed"
	again, _ := e.Get("s1")
	assert.Equal(t, "Sold 1", again.Title)

	_, ok = e.Get("missing")
	assert.False(t, ok)
}
