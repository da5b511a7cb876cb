package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Benny93/depgraph/internal/graph"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"SimpleWord", "user", []string{"user"}},
		{"CamelCase", "UserService", []string{"service", "user", "userservice"}},
		{"SnakeCase", "parse_input", []string{"input", "parse", "parse_input"}},
		{"DotNotation", "user.validate", []string{"user", "user.validate", "validate"}},
		{"MixedCase", "getURL", []string{"get", "geturl", "url"}},
		{"Digits", "parseHTTP2", []string{"2", "http2", "parse", "parsehttp", "parsehttp2"}},
		{"Empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tokenize(tt.input))
		})
	}
}

func TestRecordTokens(t *testing.T) {
	t.Parallel()

	freq := recordTokens(&Record{Name: "load_user", QualifiedName: "app.UserService.load_user"})
	assert.Equal(t, 3, freq["user"])
	assert.Equal(t, 3, freq["load"])
	assert.Equal(t, 1, freq["service"])
	assert.Equal(t, 1, freq["app"])
}

func TestSearchable(t *testing.T) {
	t.Parallel()

	assert.True(t, searchable(&Record{Kind: graph.KindFunction, Name: "f"}))
	assert.True(t, searchable(&Record{Kind: graph.KindClass, Name: "C"}))
	assert.False(t, searchable(&Record{Kind: graph.KindVariable, Name: "v"}))
	assert.False(t, searchable(&Record{Kind: graph.KindBlock, Name: "if@3"}))
	assert.False(t, searchable(&Record{Kind: graph.KindFile, Name: "a.go"}))
	assert.False(t, searchable(&Record{Kind: graph.KindFunction}))
}

func TestRankResults(t *testing.T) {
	t.Parallel()

	records := map[graph.EntityID]*Record{
		1: {ID: 1, Name: "a"},
		2: {ID: 2, Name: "b"},
		3: {ID: 3, Name: "c"},
	}
	lookup := func(id graph.EntityID) *Record { return records[id] }
	scores := map[graph.EntityID]float64{3: 2, 1: 2, 2: 5, 9: 7, 4: 0}

	results := rankResults(scores, lookup, 0)
	var ids []graph.EntityID
	for _, r := range results {
		ids = append(ids, r.Record.ID)
	}
	assert.Equal(t, []graph.EntityID{2, 1, 3}, ids)

	assert.Len(t, rankResults(scores, lookup, 2), 2)
}
