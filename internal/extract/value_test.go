package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractor_Extract(t *testing.T) {
	floor := NewExtractor(DefaultPolicy())

	tests := []struct {
		name    string
		segment string
		want    int
	}{
		{"single", " 280 calories", 280},
		{"hyphen range", " 100-200 calories", 150},
		{"spaced hyphen range", " 100 - 200 calories", 150},
		{"en-dash range", " 100–200 calories", 150},
		{"em-dash range", " 100—200 calories", 150},
		{"odd range floors", " 101-200 calories", 150},
		{"thousands", " approx. 1,200 calories", 1200},
		{"thousands range", " 1,200-1,500 calories", 1350},
		{"decimal keeps integer part", " 250.7 calories", 250},
		{"first run wins", " 300 calories (about 150 per slice)", 300},
		{"pair not averaged by default", " 100 200 calories", 100},
		{"zero", " 0 calories", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := floor.Extract(tt.segment)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractor_DashVariantsAgree(t *testing.T) {
	e := NewExtractor(DefaultPolicy())

	hyphen, err := e.Extract("350-425 calories")
	require.NoError(t, err)
	enDash, err := e.Extract("350–425 calories")
	require.NoError(t, err)

	assert.Equal(t, hyphen, enDash)
}

func TestExtractor_Policies(t *testing.T) {
	ceiling, err := LookupPolicy("ceiling")
	require.NoError(t, err)
	got, err := NewExtractor(ceiling).Extract("101-200 calories")
	require.NoError(t, err)
	assert.Equal(t, 151, got)

	lenient, err := LookupPolicy("lenient")
	require.NoError(t, err)
	got, err = NewExtractor(lenient).Extract("100 200 calories")
	require.NoError(t, err)
	assert.Equal(t, 150, got)

	got, err = NewExtractor(lenient).Extract("about 175 calories")
	require.NoError(t, err)
	assert.Equal(t, 175, got)
}

func TestExtractor_Failures(t *testing.T) {
	e := NewExtractor(DefaultPolicy())

	_, err := e.Extract("a handful of calories")
	assert.ErrorIs(t, err, ErrNoValue)

	_, err = e.Extract("")
	assert.ErrorIs(t, err, ErrNoValue)

	_, err = e.Extract("250000 calories")
	assert.ErrorIs(t, err, ErrValueTooLarge)

	_, err = e.Extract("99999999999999999999999999 calories")
	assert.ErrorIs(t, err, ErrValueTooLarge)

	_, err = e.Extract("100-999999 calories")
	assert.ErrorIs(t, err, ErrValueTooLarge)
}
