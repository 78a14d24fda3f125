package listing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realty/server/config"
	"realty/server/internal/models"
)

func raw(t *testing.T, doc string) models.RawProperty {
	t.Helper()
	var r models.RawProperty
	require.NoError(t, json.Unmarshal([]byte(doc), &r))
	return r
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		check func(t *testing.T, p models.Property)
	}{
		{
			name: "Empty record gets defaults",
			doc:  `{"id":"1"}`,
			check: func(t *testing.T, p models.Property) {
				assert.Equal(t, "1", p.ID)
				assert.Nil(t, p.Number)
				assert.Nil(t, p.Status)
				assert.Equal(t, "", p.Title)
				assert.Equal(t, config.BaselineBuildingType, p.BuildingType)
				assert.NotNil(t, p.Images)
				assert.Empty(t, p.Images)
				assert.NotNil(t, p.Features)
				assert.NotNil(t, p.Transportation.Transit)
				assert.True(t, p.CreatedAt.IsZero())
			},
		},
		{
			name: "JSON encoded fields are decoded",
			doc: `{"id":"2",
				"images":"[\"a.jpg\",{\"url\":\"b.jpg\"}]",
				"features":"[\"balcony\",\"garden\"]",
				"transportation":"{\"transit\":[\"Red line\"],\"schools\":\"Central High\",\"parks\":[{\"name\":\"Riverside\"}]}",
				"areas":"{\"total\":\"35.2\",\"main\":20}"}`,
			check: func(t *testing.T, p models.Property) {
				assert.Equal(t, []string{"a.jpg", "b.jpg"}, p.Images)
				assert.Equal(t, "a.jpg", p.Thumbnail())
				assert.Equal(t, []string{"balcony", "garden"}, p.Features)
				assert.Equal(t, []string{"Red line"}, p.Transportation.Transit)
				assert.Equal(t, []string{"Central High"}, p.Transportation.Schools)
				assert.Equal(t, []string{"Riverside"}, p.Transportation.Parks)
				assert.Empty(t, p.Transportation.Markets)
				assert.Equal(t, "35.2", p.Areas.Total)
				assert.Equal(t, "20", p.Areas.Main)
			},
		},
		{
			name: "Malformed fields fall back to empty without dropping the record",
			doc:  `{"id":"3","title":"Sunny flat","features":"[not json","images":"{broken","areas":42}`,
			check: func(t *testing.T, p models.Property) {
				assert.Equal(t, "Sunny flat", p.Title)
				assert.Empty(t, p.Features)
				assert.Empty(t, p.Images)
				assert.Equal(t, models.Areas{}, p.Areas)
			},
		},
		{
			name: "Scalars of other types are coerced",
			doc:  `{"id":4,"price":12500000,"isPublished":"true","status":"sold","statusText":"Sold","createdAt":"2024-01-10T08:00:00Z"}`,
			check: func(t *testing.T, p models.Property) {
				assert.Equal(t, "4", p.ID)
				assert.Equal(t, "12500000", p.Price)
				assert.True(t, p.IsPublished)
				assert.True(t, p.IsSold())
				assert.True(t, p.HasStatusBadge())
				assert.Equal(t, time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), p.CreatedAt)
			},
		},
		{
			name: "Snake case wire names are accepted",
			doc:  `{"id":"5","building_type":"high-rise","is_published":true,"hide_address_number":true,"address":"Taipei City, Da'an Dist., Zhongxiao E. Rd., No. 5"}`,
			check: func(t *testing.T, p models.Property) {
				assert.Equal(t, "high-rise", p.BuildingType)
				assert.True(t, p.IsPublished)
				assert.True(t, p.HideAddressNumber)
				assert.NotContains(t, p.Address, "No. 5")
			},
		},
		{
			name: "Masked room types hide the house number without the flag",
			doc:  `{"id":"6","type":"villa","address":"台北市大安區忠孝東路四段123巷4弄5號"}`,
			check: func(t *testing.T, p models.Property) {
				assert.Equal(t, "大安區忠孝東路四段", p.Address)
			},
		},
		{
			name: "Other room types keep the full address",
			doc:  `{"id":"7","type":"3-room","address":"台北市大安區忠孝東路四段123巷4弄5號"}`,
			check: func(t *testing.T, p models.Property) {
				assert.Equal(t, "台北市大安區忠孝東路四段123巷4弄5號", p.Address)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Normalize(raw(t, tt.doc)))
		})
	}
}

func TestNormalizeRows_SkipsNonObjects(t *testing.T) {
	rows := []json.RawMessage{
		json.RawMessage(`{"id":"1"}`),
		json.RawMessage(`"oops"`),
		json.RawMessage(`null`),
		json.RawMessage(`{"id":"2"}`),
	}

	properties, skipped := NormalizeRows(rows)
	assert.Equal(t, 2, skipped)
	require.Len(t, properties, 2)
	assert.Equal(t, "2", properties[1].ID)
}
