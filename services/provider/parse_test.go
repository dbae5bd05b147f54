package provider

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRatingsPlainArray(t *testing.T) {
	results, err := parseRatings(`[{"imageId":"img-1","filename":"a.jpg","starRating":4,"colorLabel":"green","title":"Golden hour","tags":["sunset"]}]`)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "img-1", results[0].ImageID)
	require.Equal(t, 4, results[0].StarRating)
}

func TestParseRatingsStripsFences(t *testing.T) {
	raw := "```json\n[{\"imageId\":\"img-1\",\"starRating\":9}]\n```"
	results, err := parseRatings(raw)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// Out-of-range stars clamp to the 0-5 scale.
	require.Equal(t, 5, results[0].StarRating)
}

func TestParseRatingsExtractsEmbeddedArray(t *testing.T) {
	raw := `Here are the ratings: [{"imageId":"img-2","starRating":-1}] hope that helps`
	results, err := parseRatings(raw)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 0, results[0].StarRating)
}

func TestParseRatingsRejectsGarbage(t *testing.T) {
	_, err := parseRatings("no json here")
	require.Error(t, err)

	_, err = parseRatings(`{"imageId":"not-an-array"}`)
	require.Error(t, err)
}
