package resolve

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Benny93/depgraph/internal/graph"
)

func TestSplitChains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  []string
		want []string
	}{
		{"SingleCall", []string{"print(x)"}, []string{"print(x)"}},
		{"ChainedCalls", []string{"os.path.join(a, b).upper()"}, []string{"os.path.join(a, b)", "os.path.join(a, b).upper()"}},
		{"TrailingProperty", []string{"a().b"}, []string{"a()", "a().b"}},
		{"PropertyOnly", []string{"self.repo"}, []string{"self.repo"}},
		{"LeadingDot", []string{".join(parts)"}, []string{"join(parts)"}},
		{"DottedArgument", []string{"f(a.b)"}, []string{"f(a.b)"}},
		{"DottedArgumentThenProperty", []string{"a.b(c.d).e"}, []string{"a.b(c.d)", "a.b(c.d).e"}},
		{"Unbalanced", []string{"x(a.b"}, []string{"x(a.b"}},
		{"EmptySkipped", []string{"", "..", "f()"}, []string{"f()"}},
		{"PreservesOrder", []string{"a()", "b().c()"}, []string{"a()", "b()", "b().c()"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SplitChains(tt.raw))
		})
	}
}

func TestSplitChains_EntriesAreBalanced(t *testing.T) {
	t.Parallel()

	raw := []string{
		"self.x.y().z(f())",
		"client.get(url).json().get(key)",
		"a.b.c",
		"run(lambda: g(h(1)))",
		"cfg.load(path.join(a, b)).items()",
	}

	for _, entry := range SplitChains(raw) {
		assert.Equal(t, strings.Count(entry, "("), strings.Count(entry, ")"), entry)
	}
}

func TestReduce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entries []string
		index   int
		refs    []graph.EntityID
		want    string
	}{
		{
			name:    "ReceiverCall",
			entries: []string{"a()", "a().b()"},
			index:   1,
			refs:    []graph.EntityID{5},
			want:    "$ref5.b()",
		},
		{
			name:    "NestedArgument",
			entries: []string{"g(x)", "f(g(x))"},
			index:   1,
			refs:    []graph.EntityID{graph.NoEntity},
			want:    "f($ref-1)",
		},
		{
			name:    "TrailingProperty",
			entries: []string{"a()", "a().x"},
			index:   1,
			refs:    []graph.EntityID{5},
			want:    "$ref5.x",
		},
		{
			name:    "SingleCallUntouched",
			entries: []string{"y", "f(y)"},
			index:   1,
			refs:    []graph.EntityID{3},
			want:    "f(y)",
		},
		{
			name:    "LongestEarlierEntryWins",
			entries: []string{"a()", "a().b()", "a().b().c()"},
			index:   2,
			refs:    []graph.EntityID{5, 6},
			want:    "$ref6.c()",
		},
		{
			name:    "NoEarlierMatch",
			entries: []string{"z()", "f(g(x))"},
			index:   1,
			refs:    []graph.EntityID{1},
			want:    "f(g(x))",
		},
		{
			name:    "FirstEntry",
			entries: []string{"a().b()"},
			index:   0,
			want:    "a().b()",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Reduce(tt.entries, tt.index, tt.refs))
		})
	}
}

func TestParsePlaceholder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		id     graph.EntityID
		n      int
		wantOK bool
	}{
		{"$ref17", 17, 6, true},
		{"$ref17.run", 17, 6, true},
		{"$ref-1.run", graph.NoEntity, 6, true},
		{"$ref", graph.NoEntity, 4, false},
		{"$refx", graph.NoEntity, 4, false},
		{"$ref12abc", graph.NoEntity, 6, false},
		{"name", graph.NoEntity, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			id, n, ok := parsePlaceholder(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.n, n)
		})
	}

	assert.Equal(t, "$ref42", Placeholder(42))
	assert.Equal(t, "$ref-1", Placeholder(graph.NoEntity))
}
