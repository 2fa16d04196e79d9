package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muskokacottagefinder/mcf/internal/types"
)

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New(DefaultConfig())
	require.NoError(t, err)
	return n
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"123 Lake Joseph Rd", "123 lake joseph road"},
		{"123 Lake Joseph Road", "123 lake joseph road"},
		{"12 St. Andrews Rd., Port Carling", "12 saint andrews road port carling"},
		{"45 Main St", "45 main street"},
		{"1012-B Muskoka Rd 118 W", "1012 b muskoka road 118 w"},
		{"  7   Birch   Ln  ", "7 birch lane"},
		{"9 Côte Cres", "9 cote crescent"},
		{"O'Brien Lane", "obrien lane"},
		{"   ", ""},
		{"---", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.raw))
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw    string
		want   int64
		wantOK bool
	}{
		{"$1,200,000", 1_200_000, true},
		{"1200000", 1_200_000, true},
		{"$1.2M", 1_200_000, true},
		{"1.2 million", 1_200_000, true},
		{"$899K CAD", 899_000, true},
		{"CAD $2,450,000", 2_450_000, true},
		{"$1.1M - $1.3M", 1_100_000, true},
		{"$1,200,000 MLS", 1_200_000, true},
		{"$649,999.50", 650_000, true},
		{"Contact for price", 0, false},
		{"$0", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParsePrice(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBedrooms(t *testing.T) {
	tests := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{"4", 4, true},
		{"3 bed", 3, true},
		{"4+1", 5, true},
		{"4 + 2 beds", 6, true},
		{"Four", 4, true},
		{"studio", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseBedrooms(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBathrooms(t *testing.T) {
	got, ok := ParseBathrooms("2.5 baths")
	assert.True(t, ok)
	assert.Equal(t, 2.5, got)

	got, ok = ParseBathrooms("2 full 1 half")
	assert.True(t, ok)
	assert.Equal(t, 2.0, got)

	_, ok = ParseBathrooms("n/a")
	assert.False(t, ok)
}

func TestLakeMatching(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		raw  string
		want string
	}{
		{"Lake Joseph", "Lake Joseph"},
		{"LAKE JOSEPH", "Lake Joseph"},
		{"Lake Joe", "Lake Joseph"},
		{"Lake Rosseu", "Lake Rosseau"},
		{"Muskoka", "Lake Muskoka"},
		{"on beautiful Lake Rosseau near Windermere", "Lake Rosseau"},
		{"Kawagama Lake", "other:kawagama lake"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := n.Normalize(types.RawRecord{SourceURL: "https://a.example", Lake: strp(tt.raw)})
			require.NotNil(t, got.Fields.Lake)
			assert.Equal(t, tt.want, *got.Fields.Lake)
		})
	}
}

func TestNormalizeListingType(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Waterfront Cottage", "cottage"},
		{"Detached House", "house"},
		{"Vacant Land", "land"},
		{"Condo", "condo"},
		{"Marina", "commercial"},
		{"Island", "other:island"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizeListingType(tt.raw)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := newTestNormalizer(t)
	raw := types.RawRecord{
		SourceURL:   "https://broker.example/listings",
		ScrapedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Address:     strp("123 Lake Joseph Rd., Port Carling"),
		Price:       strp("$1,200,000"),
		Lake:        strp("lake joe"),
		Bedrooms:    strp("4+1"),
		Bathrooms:   strp("3.5"),
		ListingType: strp("Cottage"),
		Exclusive:   boolp(true),
		Waterfront:  boolp(true),
		Description: strp("  Sunset   views\n and a boathouse "),
	}

	first := n.Normalize(raw)
	second := n.Normalize(raw)
	assert.Equal(t, first, second)

	require.NotNil(t, first.Fields.Address)
	assert.Equal(t, "123 lake joseph road port carling", *first.Fields.Address)
	assert.Equal(t, int64(1_200_000), *first.Fields.Price)
	assert.Equal(t, "Lake Joseph", *first.Fields.Lake)
	assert.Equal(t, 5, *first.Fields.Bedrooms)
	assert.Equal(t, 3.5, *first.Fields.Bathrooms)
	assert.Equal(t, "cottage", *first.Fields.ListingType)
	assert.Equal(t, "Sunset views and a boathouse", *first.Fields.Description)
	assert.True(t, first.Fields.IsExclusive())
	assert.Equal(t, raw, *first.Raw)
}

func TestNormalizeMissingAndUnparseable(t *testing.T) {
	n := newTestNormalizer(t)

	got := n.Normalize(types.RawRecord{
		SourceURL: "https://broker.example",
		Price:     strp("Call for pricing"),
		Bedrooms:  strp("lots"),
	})

	assert.Nil(t, got.Fields.Address)
	assert.Nil(t, got.Fields.Price)
	assert.Nil(t, got.Fields.Bedrooms)
	assert.Nil(t, got.Fields.Lake)
	assert.True(t, got.Fields.Empty())

	stats := n.Stats()
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 1, stats.Unparseable[types.FieldPrice])
	assert.Equal(t, 1, stats.Unparseable[types.FieldBedrooms])
	assert.Equal(t, 0, stats.Unparseable[types.FieldAddress])
	assert.Equal(t, "records=1 bedrooms=1 price=1", stats.String())

	n.ResetStats()
	assert.Equal(t, 0, n.Stats().Records)
}

func TestConfigValidate(t *testing.T) {
	t.Run("default is valid", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})

	t.Run("empty vocabulary", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Lakes = nil
		assert.Error(t, cfg.Validate())
	})

	t.Run("blank name", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Lakes = append(cfg.Lakes, Lake{Name: "  "})
		assert.Error(t, cfg.Validate())
	})

	t.Run("alias claimed twice", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Lakes = append(cfg.Lakes, Lake{Name: "Little Lake Joseph", Aliases: []string{"Lake Joe"}})
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "claimed by both")
	})

	t.Run("threshold out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LakeThreshold = 1.5
		assert.Error(t, cfg.Validate())
	})

	t.Run("New rejects invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LakeThreshold = 0
		_, err := New(cfg)
		assert.Error(t, err)
	})
}
