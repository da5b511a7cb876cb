package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/depgraph/internal/graph"
)

func TestNormalizeTypeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Repo", "Repo"},
		{"*DB", "DB"},
		{"&Config", "Config"},
		{"pkg.Repo", "pkg.Repo"},
		{"'Repo'", "Repo"},
		{`"Optional[Repo]"`, "Repo"},
		{"Repo | None", "Repo"},
		{"List[int]", "List"},
		{"Map[K, V]", "Map"},
		{"[]string", ""},
		{"map[string]int", ""},
		{"chan int", ""},
		{"<-chan int", ""},
		{"func(int) error", ""},
		{"...int", ""},
		{"None", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, normalizeTypeName(tt.in))
		})
	}
}

func TestLink_ReexportedNames(t *testing.T) {
	t.Parallel()

	// b re-exports a name from c; a imports it from b before b is linked.
	p := parseProgram(t, "",
		src("a.py", "from b import Thing\n"),
		src("b.py", "from c import Thing\n"),
		src("c.py", "class Thing:\n    pass\n"),
	)

	thing := p.entity("c.Thing")
	id, ok := p.store.Scopes().Lookup("Thing", p.entity("a").ID)
	require.True(t, ok)
	assert.Equal(t, thing.ID, id)
	assert.Equal(t, 2, p.link.Bound)
	assert.Zero(t, p.link.Unresolved)
}

func TestLink_ClearsQueue(t *testing.T) {
	t.Parallel()

	p := parseProgram(t, "", src("a.py", "import missing\n"))
	assert.Equal(t, 1, p.link.Unresolved)

	again, err := p.builder.Link()
	require.NoError(t, err)
	assert.Zero(t, again.Imports)
}

func TestLink_PinsOnlyClasses(t *testing.T) {
	t.Parallel()

	p := parseProgram(t, "", src("m.py", `
def factory():
    pass

class Box:
    pass

a = Box()
b = factory()
`))

	a := p.entity("m.a")
	assert.True(t, a.TypeResolved)
	assert.Equal(t, p.entity("m.Box").ID, a.TypeID)

	b := p.entity("m.b")
	assert.Equal(t, "factory", b.DeclaredType)
	assert.False(t, b.TypeResolved)
	assert.Equal(t, graph.NoEntity, b.TypeID)
	assert.Equal(t, 1, p.link.Pinned)
}
