package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muskokacottagefinder/mcf/internal/similarity"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }
func pricep(p int64) *int64 { return &p }

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want similarity.Address
	}{
		{
			"123 lake joseph road port carling",
			similarity.Address{Number: "123", Street: "lake joseph road", Full: "123 lake joseph road port carling"},
		},
		{
			"10 birch lane",
			similarity.Address{Number: "10", Street: "birch lane", Full: "10 birch lane"},
		},
		{
			"lake joseph road",
			similarity.Address{Street: "lake joseph road", Full: "lake joseph road"},
		},
		{
			"1012 muskoka beach",
			similarity.Address{Number: "1012", Street: "muskoka beach", Full: "1012 muskoka beach"},
		},
		{
			// a leading suffix word is part of the name, not the end of it
			"5 point ideal road",
			similarity.Address{Number: "5", Street: "point ideal road", Full: "5 point ideal road"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAddress(tt.in))
		})
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "broker.example", Domain("https://www.Broker.example/listings?page=2"))
	assert.Equal(t, "broker.example", Domain("http://broker.example"))
	assert.Equal(t, "not a url", Domain("Not A URL"))
}

func TestBuildWithAddress(t *testing.T) {
	fp := Build(types.NormalizedRecord{
		SourceURL: "https://www.broker.example/muskoka",
		Fields: types.Fields{
			Address:  strp("123 lake joseph road port carling"),
			Price:    pricep(1_200_000),
			Bedrooms: intp(4),
		},
	})

	assert.Equal(t, "broker.example|123|lake joseph road", fp.CandidateKey)
	assert.Equal(t, "broker.example", fp.Domain)
	require.NotNil(t, fp.Vector.Address)
	assert.Equal(t, "lake joseph road", fp.Vector.Address.Street)
	assert.Equal(t, int64(1_200_000), *fp.Vector.Price)
	assert.True(t, fp.Vector.Comparable())
}

func TestBuildWithoutAddress(t *testing.T) {
	t.Run("price and bedrooms", func(t *testing.T) {
		fp := Build(types.NormalizedRecord{
			SourceURL: "https://broker.example",
			Fields:    types.Fields{Price: pricep(899_000), Bedrooms: intp(3)},
		})
		assert.Equal(t, "broker.example|899000|3", fp.CandidateKey)
		assert.Nil(t, fp.Vector.Address)
	})

	t.Run("missing parts", func(t *testing.T) {
		fp := Build(types.NormalizedRecord{
			SourceURL: "https://broker.example",
			Fields:    types.Fields{Lake: strp("Lake Muskoka")},
		})
		assert.Equal(t, "broker.example|?|?", fp.CandidateKey)
		assert.True(t, fp.Vector.Comparable())
	})

	t.Run("nothing comparable", func(t *testing.T) {
		fp := Build(types.NormalizedRecord{
			SourceURL: "https://broker.example",
			Fields:    types.Fields{Description: strp("lovely")},
		})
		assert.False(t, fp.Vector.Comparable())
	})
}

func TestBuildIsDeterministic(t *testing.T) {
	rec := types.NormalizedRecord{
		SourceURL: "https://broker.example",
		Fields:    types.Fields{Address: strp("10 birch lane"), Bedrooms: intp(3)},
	}
	assert.Equal(t, Build(rec), Build(rec))
}

func TestHouseNumberSplitsBuckets(t *testing.T) {
	a := Build(types.NormalizedRecord{SourceURL: "https://b.example", Fields: types.Fields{Address: strp("10 birch lane")}})
	b := Build(types.NormalizedRecord{SourceURL: "https://b.example", Fields: types.Fields{Address: strp("12 birch lane")}})
	assert.NotEqual(t, a.CandidateKey, b.CandidateKey)
	assert.Equal(t, a.Domain, b.Domain)
}
