package search

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler() *Handler {
	return NewHandler(nil, testSearchCfg, nil)
}

func TestValidateDefaults(t *testing.T) {
	h := newTestHandler()
	req, errMsg := h.validate(searchRequest{Query: "sunset over water"})
	require.Empty(t, errMsg)
	assert.Equal(t, "sunset over water", req.Query)
	assert.Equal(t, TypeHybrid, req.SearchType)
	assert.Equal(t, 10, req.Limit)
	assert.Equal(t, 0.1, req.Threshold)
}

func TestValidateRejections(t *testing.T) {
	h := newTestHandler()
	intp := func(n int) *int { return &n }
	floatp := func(f float64) *float64 { return &f }

	tests := []struct {
		name string
		body searchRequest
		want string
	}{
		{"empty query", searchRequest{Query: ""}, "query is required"},
		{"whitespace query", searchRequest{Query: "   "}, "query is required"},
		{"query too long", searchRequest{Query: strings.Repeat("a", 501)}, "query exceeds 500 characters"},
		{"bad search type", searchRequest{Query: "q", SearchType: "audio"}, "search_type must be visual, speech or hybrid"},
		{"limit too low", searchRequest{Query: "q", Limit: intp(0)}, "limit must be between 1 and 50"},
		{"limit too high", searchRequest{Query: "q", Limit: intp(51)}, "limit must be between 1 and 50"},
		{"threshold negative", searchRequest{Query: "q", Threshold: floatp(-0.1)}, "score_threshold must be between 0 and 1"},
		{"threshold above one", searchRequest{Query: "q", Threshold: floatp(1.1)}, "score_threshold must be between 0 and 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errMsg := h.validate(tt.body)
			assert.Equal(t, tt.want, errMsg)
		})
	}
}

func TestValidateExplicitValues(t *testing.T) {
	h := newTestHandler()
	limit := 25
	threshold := 0.35
	req, errMsg := h.validate(searchRequest{
		Query:      "a red car",
		SearchType: TypeSpeech,
		Limit:      &limit,
		Threshold:  &threshold,
	})
	require.Empty(t, errMsg)
	assert.Equal(t, TypeSpeech, req.SearchType)
	assert.Equal(t, 25, req.Limit)
	assert.Equal(t, 0.35, req.Threshold)
}

func TestValidateBoundaryLengthQuery(t *testing.T) {
	h := newTestHandler()
	_, errMsg := h.validate(searchRequest{Query: strings.Repeat("a", 500)})
	assert.Empty(t, errMsg)
}
