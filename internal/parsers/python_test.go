package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/depgraph/internal/graph"
)

func TestModuleName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path      string
		want      string
		isPackage bool
	}{
		{"main.py", "main", false},
		{"pkg/sub/mod.py", "pkg.sub.mod", false},
		{"pkg/__init__.py", "pkg", true},
		{"pkg/sub/__init__.py", "pkg.sub", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, isPackage := ModuleName(tt.path)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.isPackage, isPackage)
		})
	}
}

func TestResolveRelative(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pkg.util", resolveRelative("pkg.sub", false, 1, "util"))
	assert.Equal(t, "pkg.util", resolveRelative("pkg", true, 1, "util"))
	assert.Equal(t, "a", resolveRelative("a.b.c", false, 2, ""))
	assert.Equal(t, "pkg", resolveRelative("pkg.mod", false, 1, ""))
}

func TestPythonFrontend_Declarations(t *testing.T) {
	t.Parallel()

	p := parseProgram(t, "", src("app/models.py", `
LIMIT = 10

class User:
    kind = "user"

    def __init__(self, name: str):
        self.name = name

    @staticmethod
    def build(data):
        return User(data)

def make_user(name):
    user = User(name)
    return user
`))

	assert.Equal(t, 1, p.stats.Files)
	assert.Zero(t, p.stats.Skipped)

	mod := p.entity("app.models")
	assert.Equal(t, graph.KindModule, mod.Kind)
	assert.Equal(t, "python", mod.Language)
	assert.Equal(t, graph.KindVariable, p.entity("app.models.LIMIT").Kind)

	user := p.entity("app.models.User")
	assert.Equal(t, graph.KindClass, user.Kind)
	assert.Equal(t, []string{"kind", "__init__", "name", "build"}, p.childNames(user.ID))
	assert.Equal(t, graph.KindField, p.entity("app.models.User.kind").Kind)
	assert.Equal(t, graph.KindField, p.entity("app.models.User.name").Kind)

	initID := p.entity("app.models.User.__init__")
	assert.Equal(t, graph.KindMethod, initID.Kind)
	self := p.entity("app.models.User.__init__.self")
	assert.True(t, self.TypeResolved)
	assert.Equal(t, user.ID, self.TypeID)
	assert.Equal(t, "str", p.entity("app.models.User.__init__.name").DeclaredType)

	data := p.entity("app.models.User.build.data")
	assert.False(t, data.TypeResolved, "staticmethod parameters are not receivers")

	fn := p.entity("app.models.make_user")
	assert.Equal(t, graph.KindFunction, fn.Kind)
	local := p.entity("app.models.make_user.user")
	assert.Equal(t, "User", local.DeclaredType)
	assert.True(t, local.TypeResolved)
	assert.Equal(t, user.ID, local.TypeID)
}

func TestPythonFrontend_Calls(t *testing.T) {
	t.Parallel()

	p := parseProgram(t, "", src("svc.py", `
def run(svc, items):
    svc.load(items).save()
    print(len(items))
    value = svc.attr.method(
        items,
    )
    cached = svc.helper().value
    plain = svc.attr.name

    def inner():
        hidden()

    for item in items:
        handle(item)

run(None, [])
`))

	run := p.entity("svc.run")
	assert.Equal(t, []string{
		"svc.load(items).save()",
		"len(items)",
		"print(len(items))",
		"svc.attr.method(items,)",
		"svc.helper().value",
		"handle(item)",
	}, run.Calls)

	assert.Equal(t, []string{"hidden()"}, p.entity("svc.run.inner").Calls)
	assert.Equal(t, []string{"run(None,[])"}, p.entity("svc").Calls)
	assert.Equal(t, graph.KindVariable, p.entity("svc.run.item").Kind)
}

func TestPythonFrontend_DecoratorsAndDefaults(t *testing.T) {
	t.Parallel()

	p := parseProgram(t, "", src("web.py", `
@route("/")
def index(limit=default_limit()):
    pass
`))

	assert.Equal(t, []string{`route("/")`, "default_limit()"}, p.entity("web").Calls)
	assert.Empty(t, p.entity("web.index").Calls)
}

func TestPythonFrontend_Imports(t *testing.T) {
	t.Parallel()

	p := parseProgram(t, "",
		src("pkg/__init__.py", ""),
		src("pkg/util.py", `
def helper():
    pass

def _private():
    pass
`),
		src("pkg/sub.py", `
from .util import helper
`),
		src("app.py", `
import pkg.util
import pkg.util as u
from pkg.util import helper as h
from pkg.util import *
from os import path
`),
	)

	scopes := p.store.Scopes()
	app := p.entity("app")
	helper := p.entity("pkg.util.helper")
	util := p.entity("pkg.util")
	pkg := p.entity("pkg")

	id, ok := scopes.Lookup("pkg.util", app.ID)
	require.True(t, ok)
	assert.Equal(t, util.ID, id)

	id, ok = scopes.Lookup("pkg", app.ID)
	require.True(t, ok)
	assert.Equal(t, pkg.ID, id)

	id, ok = scopes.Lookup("u", app.ID)
	require.True(t, ok)
	assert.Equal(t, util.ID, id)

	id, ok = scopes.Lookup("h", app.ID)
	require.True(t, ok)
	assert.Equal(t, helper.ID, id)

	id, ok = scopes.Lookup("helper", app.ID)
	require.True(t, ok, "wildcard import binds public names")
	assert.Equal(t, helper.ID, id)
	_, ok = scopes.Lookup("_private", app.ID)
	assert.False(t, ok)

	id, ok = scopes.Lookup("helper", p.entity("pkg.sub").ID)
	require.True(t, ok, "relative import is bound")
	assert.Equal(t, helper.ID, id)

	assert.Equal(t, []string{"pkg.util"}, scopes.DottedNames(app.ID))
	assert.Equal(t, 6, p.link.Imports)
	assert.Equal(t, 5, p.link.Bound)
	assert.Equal(t, 1, p.link.Unresolved)
}

func TestPythonFrontend_AnnotatedParameterPinned(t *testing.T) {
	t.Parallel()

	p := parseProgram(t, "",
		src("repo.py", `
class Repo:
    def save(self):
        pass
`),
		src("service.py", `
from repo import Repo

def store(repo: Repo, other: "Optional[Repo]", many: list[Repo]):
    repo.save()
`),
	)

	repo := p.entity("repo.Repo")
	param := p.entity("service.store.repo")
	assert.True(t, param.TypeResolved)
	assert.Equal(t, repo.ID, param.TypeID)

	other := p.entity("service.store.other")
	assert.True(t, other.TypeResolved)
	assert.Equal(t, repo.ID, other.TypeID)

	assert.False(t, p.entity("service.store.many").TypeResolved)
}

func TestPythonFrontend_SyntaxErrorsAreTolerated(t *testing.T) {
	t.Parallel()

	p := parseProgram(t, "", src("broken.py", `
def ok():
    call()

def broken(:
`))

	assert.Equal(t, 1, p.stats.Files)
	assert.Zero(t, p.stats.Skipped)
	assert.Equal(t, graph.KindModule, p.entity("broken").Kind)
}
