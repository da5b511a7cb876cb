package parsers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/depgraph/internal/graph"
)

const storeTypes = `package store

type Repo struct {
	db  *DB
	log Logger
	*Cache
}

type Cache struct{}

type DB struct{}

func (d *DB) Exec(q string) error { return nil }

type Logger interface {
	Info(msg string)
}

func NewRepo() *Repo {
	return &Repo{db: &DB{}}
}
`

const storeMethods = `package store

func (r *Repo) Save(name string) (err error) {
	if err := r.db.Exec(name); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		r.log.Info(fmt.Sprint(i))
	}
	return nil
}
`

const mainFile = `package main

import (
	"example.com/app/store"
	st "example.com/app/store"
	_ "example.com/app/plugins"
	"fmt"
)

func main() {
	repo := store.NewRepo()
	repo.Save("x")
	r2 := &store.Repo{}
	st.NewRepo().Save("y")
	go func() {
		r2.Save("z")
	}()
	fmt.Println([]byte("raw"))
}
`

func goProgram(t *testing.T) *program {
	t.Helper()
	return parseProgram(t, "example.com/app",
		src("store/store.go", storeTypes),
		src("store/repo.go", storeMethods),
		src("cmd/app/main.go", mainFile),
	)
}

func TestGoFrontend_Declarations(t *testing.T) {
	t.Parallel()

	p := goProgram(t)
	assert.Equal(t, 3, p.stats.Files)

	pkg := p.entity("store")
	assert.Equal(t, graph.KindPackage, pkg.Kind)
	assert.Equal(t, "go", pkg.Language)
	require.Len(t, pkg.Children, 2)
	for _, c := range pkg.Children {
		e, _ := p.store.Get(c)
		assert.Equal(t, graph.KindFile, e.Kind)
	}

	id, ok := p.builder.Package("example.com/app/store")
	require.True(t, ok)
	assert.Equal(t, pkg.ID, id)
	_, ok = p.builder.Package("example.com/app/cmd/app")
	assert.True(t, ok)

	repo := p.entity("store.Repo")
	assert.Equal(t, graph.KindClass, repo.Kind)
	assert.Equal(t, []string{"db", "log", "Cache", "Save"}, p.childNames(repo.ID))

	db := p.entity("store.Repo.db")
	assert.Equal(t, graph.KindField, db.Kind)
	assert.Equal(t, "*DB", db.DeclaredType)
	assert.True(t, db.TypeResolved)
	assert.Equal(t, p.entity("store.DB").ID, db.TypeID)

	logField := p.entity("store.Repo.log")
	assert.True(t, logField.TypeResolved)
	assert.Equal(t, p.entity("store.Logger").ID, logField.TypeID)
	assert.Equal(t, graph.KindMethod, p.entity("store.Logger.Info").Kind)

	save := p.entity("store.Repo.Save")
	assert.Equal(t, graph.KindMethod, save.Kind)
	assert.Equal(t, "store/repo.go", save.FilePath)

	recv := p.entity("store.Repo.Save.r")
	assert.True(t, recv.TypeResolved)
	assert.Equal(t, repo.ID, recv.TypeID)
	assert.Equal(t, "string", p.entity("store.Repo.Save.name").DeclaredType)
	assert.Equal(t, "error", p.entity("store.Repo.Save.err").DeclaredType)

	assert.Equal(t, graph.KindFunction, p.entity("store.NewRepo").Kind)
	assert.Equal(t, graph.KindMethod, p.entity("store.DB.Exec").Kind)
}

func TestGoFrontend_Blocks(t *testing.T) {
	t.Parallel()

	p := goProgram(t)
	save := p.entity("store.Repo.Save")
	assert.Equal(t, []string{"r", "name", "err", "if@4", "for@7"}, p.childNames(save.ID))

	var forBlock *graph.Entity
	for _, c := range save.Children {
		e, _ := p.store.Get(c)
		if e.Name == "for@7" {
			forBlock = e
		}
	}
	require.NotNil(t, forBlock)
	assert.Equal(t, graph.KindBlock, forBlock.Kind)
	assert.Equal(t, []string{"i"}, p.childNames(forBlock.ID))

	i, ok := p.store.Scopes().Lookup("i", save.ID)
	require.True(t, ok, "block locals are visible from the function")
	assert.Equal(t, forBlock.Children[0], i)
}

func TestGoFrontend_Calls(t *testing.T) {
	t.Parallel()

	p := goProgram(t)

	assert.Equal(t, []string{
		"r.db.Exec(name)",
		"fmt.Sprint(i)",
		"r.log.Info(fmt.Sprint(i))",
	}, p.entity("store.Repo.Save").Calls)

	assert.Equal(t, []string{
		"store.NewRepo()",
		`repo.Save("x")`,
		`st.NewRepo().Save("y")`,
		`r2.Save("z")`,
		`fmt.Println([]byte("raw"))`,
	}, p.entity("main.main").Calls)
}

func TestGoFrontend_Imports(t *testing.T) {
	t.Parallel()

	p := goProgram(t)
	scopes := p.store.Scopes()
	mainPkg := p.entity("main")
	storePkg := p.entity("store")

	id, ok := scopes.Lookup("store", mainPkg.ID)
	require.True(t, ok)
	assert.Equal(t, storePkg.ID, id)

	id, ok = scopes.Lookup("st", mainPkg.ID)
	require.True(t, ok)
	assert.Equal(t, storePkg.ID, id)

	_, ok = scopes.Lookup("fmt", mainPkg.ID)
	assert.False(t, ok, "standard library imports stay unbound")

	r2 := p.entity("main.main.r2")
	assert.Equal(t, "store.Repo", r2.DeclaredType)
	assert.True(t, r2.TypeResolved)
	assert.Equal(t, p.entity("store.Repo").ID, r2.TypeID)

	assert.Equal(t, 4, p.link.Imports)
	assert.Equal(t, 2, p.link.Bound)
	assert.Equal(t, 2, p.link.Unresolved)
}

func TestGoFrontend_SkipsUnparsableFiles(t *testing.T) {
	t.Parallel()

	b := NewBuilder(graph.NewStore(), nil)
	stats, err := NewGoFrontend(nil).Parse(context.Background(), b, []SourceFile{
		src("bad.go", "package"),
		src("ok.go", "package ok\n\nfunc F() {}\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Files)
	// package, file, function
	assert.Equal(t, 3, stats.Entities)
}

func TestGoFrontend_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(graph.NewStore(), nil)
	_, err := NewGoFrontend(nil).Parse(ctx, b, []SourceFile{src("ok.go", "package ok\n")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImportPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com/app", ImportPath("example.com/app", "."))
	assert.Equal(t, "example.com/app/internal/x", ImportPath("example.com/app", "internal/x"))
	assert.Equal(t, "internal/x", ImportPath("", "internal/x"))
}

func TestReceiverTypeName(t *testing.T) {
	t.Parallel()

	p := parseProgram(t, "m",
		src("gen.go", `package gen

type List[T any] struct{ items []T }

func (l *List[T]) Push(v T) { l.items = append(l.items, v) }
`))

	push := p.entity("gen.List.Push")
	assert.Equal(t, graph.KindMethod, push.Kind)
	assert.True(t, p.entity("gen.List.Push.l").TypeResolved)
	assert.Equal(t, []string{"append(l.items,v)"}, push.Calls)
}
