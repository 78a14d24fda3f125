package listing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realty/server/internal/cache"
	"realty/server/internal/models"
	"realty/server/internal/query"
	"realty/server/internal/remote"
	"realty/server/internal/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.CollectionLoaded
}

func (p *recordingPublisher) Push(event models.CollectionLoaded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []models.CollectionLoaded {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.CollectionLoaded(nil), p.events...)
}

var activeQuery = remote.Query{
	Table:   "properties",
	Eq:      map[string]interface{}{"isPublished": true},
	OrderBy: "createdAt",
	Desc:    true,
}

type loaderFixture struct {
	loader    *Loader
	store     *testutil.MockStore
	queries   *query.Client
	details   *cache.KeyValueCache
	publisher *recordingPublisher
	clock     *testutil.StubClock
}

func newLoaderFixture(t *testing.T, fallback Fallback) *loaderFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	clk := testutil.FixedClock()
	store := &testutil.MockStore{}
	queries := query.NewClient(nil, query.ClientOptions{Namespace: "q:", Clock: clk}, logger)
	details := cache.NewKeyValueCache(nil, cache.Options{Namespace: "kv:", DefaultTTL: time.Hour, Clock: clk}, logger)
	publisher := &recordingPublisher{}

	loader := NewLoader(store, queries, details, publisher, Options{
		Table:       "properties",
		MinInterval: 2 * time.Second,
		Query:       query.Options{StaleTime: time.Minute, GCTime: time.Hour},
		Fallback:    fallback,
		Clock:       clk,
	}, logger)

	return &loaderFixture{
		loader:    loader,
		store:     store,
		queries:   queries,
		details:   details,
		publisher: publisher,
		clock:     clk,
	}
}

func TestLoadActiveListings_PublishesNormalizedCollection(t *testing.T) {
	f := newLoaderFixture(t, nil)
	f.store.On("Select", mock.Anything, activeQuery).Return(testutil.Rows(
		`{"id":"1","title":"Villa","type":"villa","address":"台北市大安區忠孝東路四段123巷4弄5號","isPublished":true}`,
		`{"id":"2","title":"Flat","features":"[\"lift\"]","isPublished":true}`,
	), nil)

	properties, err := f.loader.LoadActiveListings(context.Background())
	require.NoError(t, err)
	require.Len(t, properties, 2)
	assert.Equal(t, "大安區忠孝東路四段", properties[0].Address)
	assert.Equal(t, []string{"lift"}, properties[1].Features)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Count)
	assert.Equal(t, "2024-01-15T10:30:00Z", events[0].Timestamp)
	assert.Equal(t, properties, f.loader.Current())
	f.store.AssertExpectations(t)
}

func TestLoadActiveListings_FailureUsesFallback(t *testing.T) {
	mirrored := []models.Property{{ID: "m1", Title: "From mirror"}}
	f := newLoaderFixture(t, func(ctx context.Context) ([]models.Property, error) {
		return mirrored, nil
	})
	f.store.On("Select", mock.Anything, activeQuery).Return(nil, errors.New("connection refused"))

	properties, err := f.loader.LoadActiveListings(context.Background())
	assert.Error(t, err)
	assert.Equal(t, mirrored, properties)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Count)
}

func TestLoadActiveListings_FailureWithoutFallbackPublishesEmpty(t *testing.T) {
	tests := []struct {
		name     string
		fallback Fallback
	}{
		{name: "No fallback"},
		{name: "Fallback fails", fallback: func(ctx context.Context) ([]models.Property, error) {
			return nil, errors.New("mirror empty")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLoaderFixture(t, tt.fallback)
			f.store.On("Select", mock.Anything, activeQuery).Return(nil, errors.New("timeout"))

			properties, err := f.loader.LoadActiveListings(context.Background())
			assert.Error(t, err)
			assert.NotNil(t, properties)
			assert.Empty(t, properties)

			events := f.publisher.Events()
			require.Len(t, events, 1)
			assert.Equal(t, 0, events[0].Count)
			assert.NotNil(t, events[0].Properties)
		})
	}
}

func TestLoadActiveListings_MinIntervalShortCircuits(t *testing.T) {
	f := newLoaderFixture(t, nil)
	f.store.On("Select", mock.Anything, activeQuery).Return(testutil.Rows(`{"id":"1"}`), nil).Once()

	first, err := f.loader.LoadActiveListings(context.Background())
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	second, err := f.loader.LoadActiveListings(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.publisher.Events(), 1, "a short-circuited load publishes nothing")
	f.store.AssertNumberOfCalls(t, "Select", 1)
}

func TestLoadActiveListings_BackgroundRefreshRepublishes(t *testing.T) {
	f := newLoaderFixture(t, nil)
	f.store.On("Select", mock.Anything, activeQuery).Return(testutil.Rows(`{"id":"1","title":"v1"}`), nil).Once()
	release := make(chan time.Time)
	f.store.On("Select", mock.Anything, activeQuery).Return(testutil.Rows(`{"id":"1","title":"v2"}`), nil).Once().WaitUntil(release)

	_, err := f.loader.LoadActiveListings(context.Background())
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	stale, err := f.loader.LoadActiveListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", stale[0].Title, "stale data is served immediately")

	close(release)
	f.queries.Wait()

	events := f.publisher.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "v2", events[2].Properties[0].Title)
	previous, err := time.Parse(time.RFC3339Nano, events[1].Timestamp)
	require.NoError(t, err)
	latest, err := time.Parse(time.RFC3339Nano, events[2].Timestamp)
	require.NoError(t, err)
	assert.True(t, latest.After(previous))
	assert.Equal(t, "v2", f.loader.Current()[0].Title)
}

func TestRefetch_PublishesInBackground(t *testing.T) {
	f := newLoaderFixture(t, nil)
	err := f.loader.Refetch(context.Background())
	assert.ErrorIs(t, err, query.ErrNoFetcher, "nothing to revalidate before the first load")

	f.store.On("Select", mock.Anything, activeQuery).Return(testutil.Rows(`{"id":"1","title":"v1"}`), nil).Once()
	f.store.On("Select", mock.Anything, activeQuery).Return(testutil.Rows(`{"id":"1","title":"v2"}`), nil).Once()
	_, err = f.loader.LoadActiveListings(context.Background())
	require.NoError(t, err)

	// fresh data is refetched anyway
	require.NoError(t, f.loader.Refetch(context.Background()))
	f.queries.Wait()

	events := f.publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "v2", events[1].Properties[0].Title)
	assert.Equal(t, "v2", f.loader.Current()[0].Title)
	f.store.AssertExpectations(t)
}

func TestReload_TimestampsStrictlyIncrease(t *testing.T) {
	f := newLoaderFixture(t, nil)
	f.store.On("Select", mock.Anything, activeQuery).Return(testutil.Rows(`{"id":"1"}`), nil)

	_, err := f.loader.Reload(context.Background())
	require.NoError(t, err)
	_, err = f.loader.Reload(context.Background())
	require.NoError(t, err)

	events := f.publisher.Events()
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].Timestamp, events[1].Timestamp)
	f.store.AssertNumberOfCalls(t, "Select", 2)
}

func TestGetProperty_UsesDetailCache(t *testing.T) {
	f := newLoaderFixture(t, nil)
	byID := remote.Query{Table: "properties", Eq: map[string]interface{}{"id": "7"}, Limit: 1}
	f.store.On("Select", mock.Anything, byID).Return(testutil.Rows(`{"id":"7","title":"Loft"}`), nil).Once()

	first, err := f.loader.GetProperty(context.Background(), "7")
	require.NoError(t, err)
	second, err := f.loader.GetProperty(context.Background(), "7")
	require.NoError(t, err)

	assert.Equal(t, "Loft", first.Title)
	assert.Equal(t, first.ID, second.ID)
	f.store.AssertNumberOfCalls(t, "Select", 1)
}

func TestGetProperty_NotFound(t *testing.T) {
	f := newLoaderFixture(t, nil)
	f.store.On("Select", mock.Anything, mock.Anything).Return(testutil.Rows(), nil)

	_, err := f.loader.GetProperty(context.Background(), "missing")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestSetPublished(t *testing.T) {
	f := newLoaderFixture(t, nil)
	require.NoError(t, f.details.Set(DetailKeyPrefix+"3", models.Property{ID: "3"}, 0))

	f.store.On("Update", mock.Anything, "properties", "3", mock.MatchedBy(func(patch map[string]interface{}) bool {
		return patch["isPublished"] == false
	})).Return(testutil.Rows(`{"id":"3"}`)[0], nil)

	require.NoError(t, f.loader.SetPublished(context.Background(), "3", false))
	_, cached := f.details.Get(DetailKeyPrefix + "3")
	assert.False(t, cached)
	f.store.AssertExpectations(t)
}

func TestDeleteProperty_Error(t *testing.T) {
	f := newLoaderFixture(t, nil)
	f.store.On("Delete", mock.Anything, "properties", "9").Return(remote.ErrStatus)

	err := f.loader.DeleteProperty(context.Background(), "9")
	assert.ErrorIs(t, err, remote.ErrStatus)
}
