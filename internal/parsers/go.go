package parsers

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/Benny93/depgraph/internal/graph"
)

// GoFrontend declares Go packages using the standard library's go/parser.
type GoFrontend struct {
	logger *slog.Logger
}

// NewGoFrontend creates a new Go frontend.
func NewGoFrontend(logger *slog.Logger) *GoFrontend {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoFrontend{logger: logger}
}

// Language returns the language this frontend handles.
func (p *GoFrontend) Language() string {
	return "go"
}

// Extensions returns the file extensions this frontend handles.
func (p *GoFrontend) Extensions() []string {
	return []string{".go"}
}

type goFile struct {
	path string
	src  []byte
	ast  *ast.File
	id   graph.EntityID
}

type goPackage struct {
	dir   string
	name  string
	files []*goFile
}

// Parse groups files into packages by directory and package clause, then
// declares each package in two passes: types and package variables first,
// functions and methods second, so that receivers find their type in any
// file of the package.
func (p *GoFrontend) Parse(ctx context.Context, b *Builder, files []SourceFile) (Stats, error) {
	var stats Stats
	decls, calls := b.counters()

	fset := token.NewFileSet()
	var order []*goPackage
	groups := make(map[string]*goPackage)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		file, err := parser.ParseFile(fset, f.Path, f.Content, parser.SkipObjectResolution)
		if err != nil {
			p.logger.Warn("skipping go file",
				slog.String("file", f.Path),
				slog.String("error", err.Error()))
			stats.Skipped++
			continue
		}
		dir := path.Dir(f.Path)
		key := dir + "\x00" + file.Name.Name
		pkg, ok := groups[key]
		if !ok {
			pkg = &goPackage{dir: dir, name: file.Name.Name}
			groups[key] = pkg
			order = append(order, pkg)
		}
		pkg.files = append(pkg.files, &goFile{path: f.Path, src: f.Content, ast: file})
	}

	for _, pkg := range order {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		w := &goWalker{b: b, fset: fset}
		if err := w.walkPackage(pkg); err != nil {
			return stats, err
		}
		stats.Files += len(pkg.files)
	}

	newDecls, newCalls := b.counters()
	stats.Entities = newDecls - decls
	stats.Calls = newCalls - calls
	return stats, nil
}

// ImportPath returns the import path of the package in dir.
func ImportPath(module, dir string) string {
	dir = strings.Trim(dir, "/")
	switch {
	case dir == "." || dir == "":
		return module
	case module == "":
		return dir
	default:
		return module + "/" + dir
	}
}

// goScope is the declaration context inside a function body.
type goScope struct {
	scope    graph.EntityID
	callable graph.EntityID
}

type goWalker struct {
	b    *Builder
	fset *token.FileSet
	pkg  graph.EntityID
	file *goFile
}

func (w *goWalker) walkPackage(pkg *goPackage) error {
	id, err := w.b.declare(graph.Decl{
		Kind:     graph.KindPackage,
		Name:     pkg.name,
		Parent:   graph.NoEntity,
		Language: "go",
		FilePath: pkg.dir,
	})
	if err != nil {
		return err
	}
	w.pkg = id
	if !strings.HasSuffix(pkg.name, "_test") {
		importPath := ImportPath(w.b.goModule, pkg.dir)
		if _, taken := w.b.packages[importPath]; !taken {
			w.b.packages[importPath] = id
		}
	}

	for _, f := range pkg.files {
		w.file = f
		if err := w.declareFile(f); err != nil {
			return err
		}
	}
	for _, f := range pkg.files {
		w.file = f
		for _, decl := range f.ast.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			if err := w.declareFunc(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *goWalker) line(n ast.Node) int {
	return w.fset.Position(n.Pos()).Line
}

func (w *goWalker) declare(kind graph.Kind, name string, parent graph.EntityID, n ast.Node, declType string) (graph.EntityID, error) {
	return w.b.declare(graph.Decl{
		Kind:         kind,
		Name:         name,
		Parent:       parent,
		Language:     "go",
		FilePath:     w.file.path,
		Line:         w.line(n),
		DeclaredType: declType,
	})
}

// nodeText returns the source text of n.
func (w *goWalker) nodeText(n ast.Node) string {
	if n == nil {
		return ""
	}
	start := w.fset.Position(n.Pos()).Offset
	end := w.fset.Position(n.End()).Offset
	if start >= 0 && end <= len(w.file.src) && start <= end {
		return string(w.file.src[start:end])
	}
	return ""
}

func (w *goWalker) declareFile(f *goFile) error {
	id, err := w.b.declare(graph.Decl{
		Kind:     graph.KindFile,
		Name:     path.Base(f.path),
		Parent:   w.pkg,
		Language: "go",
		FilePath: f.path,
		Line:     1,
	})
	if err != nil {
		return err
	}
	f.id = id

	for _, imp := range f.ast.Imports {
		importPath, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		alias := ""
		if imp.Name != nil {
			alias = imp.Name.Name
		}
		w.b.queueImport(pendingImport{
			language: "go",
			scope:    w.pkg,
			module:   importPath,
			alias:    alias,
			file:     f.path,
			line:     w.line(imp),
		})
	}

	for _, decl := range f.ast.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok {
			continue
		}
		switch gen.Tok {
		case token.TYPE:
			for _, spec := range gen.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					if err := w.declareType(ts); err != nil {
						return err
					}
				}
			}
		case token.VAR, token.CONST:
			for _, spec := range gen.Specs {
				if vs, ok := spec.(*ast.ValueSpec); ok {
					if err := w.declareValues(vs, f.id); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (w *goWalker) declareType(ts *ast.TypeSpec) error {
	cls, err := w.declare(graph.KindClass, ts.Name.Name, w.file.id, ts, "")
	if err != nil {
		return err
	}

	switch t := ts.Type.(type) {
	case *ast.StructType:
		for _, field := range t.Fields.List {
			typ := w.nodeText(field.Type)
			if len(field.Names) == 0 {
				if name := embeddedName(field.Type); name != "" {
					if _, err := w.declare(graph.KindField, name, cls, field, typ); err != nil {
						return err
					}
				}
				continue
			}
			for _, name := range field.Names {
				if name.Name == "_" {
					continue
				}
				if _, err := w.declare(graph.KindField, name.Name, cls, name, typ); err != nil {
					return err
				}
			}
		}
	case *ast.InterfaceType:
		for _, m := range t.Methods.List {
			if _, ok := m.Type.(*ast.FuncType); !ok {
				continue
			}
			for _, name := range m.Names {
				if _, err := w.declare(graph.KindMethod, name.Name, cls, name, ""); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// declareValues declares the names of a var or const spec under parent.
func (w *goWalker) declareValues(vs *ast.ValueSpec, parent graph.EntityID) error {
	typ := w.nodeText(vs.Type)
	for i, name := range vs.Names {
		if name.Name == "_" {
			continue
		}
		declType := typ
		if declType == "" && i < len(vs.Values) {
			declType = w.inferType(vs.Values[i])
		}
		if _, err := w.declare(graph.KindVariable, name.Name, parent, name, declType); err != nil {
			return err
		}
	}
	return nil
}

func (w *goWalker) declareFunc(fn *ast.FuncDecl) error {
	kind := graph.KindFunction
	parent := w.file.id
	cls := graph.NoEntity

	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		kind = graph.KindMethod
		if name := receiverTypeName(fn.Recv.List[0].Type); name != "" {
			if id, ok := w.b.store.Scopes().Lookup(name, w.pkg); ok {
				if e, _ := w.b.store.Get(id); e != nil && e.Kind == graph.KindClass {
					cls = id
					parent = id
				}
			}
		}
	}

	id, err := w.declare(kind, fn.Name.Name, parent, fn, "")
	if err != nil {
		return err
	}

	if kind == graph.KindMethod {
		recv := fn.Recv.List[0]
		for _, name := range recv.Names {
			if name.Name == "_" {
				continue
			}
			vid, err := w.declare(graph.KindVariable, name.Name, id, name, w.nodeText(recv.Type))
			if err != nil {
				return err
			}
			if cls != graph.NoEntity {
				if err := w.b.pin(vid, cls); err != nil {
					return err
				}
			}
		}
	}

	for _, list := range []*ast.FieldList{fn.Type.Params, fn.Type.Results} {
		if list == nil {
			continue
		}
		for _, field := range list.List {
			typ := w.nodeText(field.Type)
			for _, name := range field.Names {
				if name.Name == "_" {
					continue
				}
				if _, err := w.declare(graph.KindVariable, name.Name, id, name, typ); err != nil {
					return err
				}
			}
		}
	}

	if fn.Body == nil {
		return nil
	}
	return w.walkStmts(fn.Body.List, goScope{scope: id, callable: id})
}

func (w *goWalker) walkStmts(list []ast.Stmt, sc goScope) error {
	for _, s := range list {
		if err := w.walkStmt(s, sc); err != nil {
			return err
		}
	}
	return nil
}

func (w *goWalker) block(label string, n ast.Node, sc goScope) (goScope, error) {
	id, err := w.declare(graph.KindBlock, fmt.Sprintf("%s@%d", label, w.line(n)), sc.scope, n, "")
	if err != nil {
		return sc, err
	}
	return goScope{scope: id, callable: sc.callable}, nil
}

func (w *goWalker) walkStmt(s ast.Stmt, sc goScope) error {
	switch s := s.(type) {
	case nil:
		return nil

	case *ast.BlockStmt:
		inner, err := w.block("block", s, sc)
		if err != nil {
			return err
		}
		return w.walkStmts(s.List, inner)

	case *ast.IfStmt:
		inner, err := w.block("if", s, sc)
		if err != nil {
			return err
		}
		if err := w.walkStmt(s.Init, inner); err != nil {
			return err
		}
		if err := w.collectCalls(s.Cond, sc.callable); err != nil {
			return err
		}
		if err := w.walkStmts(s.Body.List, inner); err != nil {
			return err
		}
		switch e := s.Else.(type) {
		case *ast.IfStmt:
			return w.walkStmt(e, inner)
		case *ast.BlockStmt:
			elseScope, err := w.block("else", e, inner)
			if err != nil {
				return err
			}
			return w.walkStmts(e.List, elseScope)
		}
		return nil

	case *ast.ForStmt:
		inner, err := w.block("for", s, sc)
		if err != nil {
			return err
		}
		if err := w.walkStmt(s.Init, inner); err != nil {
			return err
		}
		if err := w.collectCalls(s.Cond, sc.callable); err != nil {
			return err
		}
		if err := w.walkStmt(s.Post, inner); err != nil {
			return err
		}
		return w.walkStmts(s.Body.List, inner)

	case *ast.RangeStmt:
		if err := w.collectCalls(s.X, sc.callable); err != nil {
			return err
		}
		inner, err := w.block("range", s, sc)
		if err != nil {
			return err
		}
		if s.Tok == token.DEFINE {
			for _, e := range []ast.Expr{s.Key, s.Value} {
				if id, ok := e.(*ast.Ident); ok {
					if err := w.declareLocal(id, "", inner); err != nil {
						return err
					}
				}
			}
		}
		return w.walkStmts(s.Body.List, inner)

	case *ast.SwitchStmt:
		inner, err := w.block("switch", s, sc)
		if err != nil {
			return err
		}
		if err := w.walkStmt(s.Init, inner); err != nil {
			return err
		}
		if err := w.collectCalls(s.Tag, sc.callable); err != nil {
			return err
		}
		return w.walkClauses(s.Body, inner)

	case *ast.TypeSwitchStmt:
		inner, err := w.block("switch", s, sc)
		if err != nil {
			return err
		}
		if err := w.walkStmt(s.Init, inner); err != nil {
			return err
		}
		if err := w.walkStmt(s.Assign, inner); err != nil {
			return err
		}
		return w.walkClauses(s.Body, inner)

	case *ast.SelectStmt:
		inner, err := w.block("select", s, sc)
		if err != nil {
			return err
		}
		return w.walkClauses(s.Body, inner)

	case *ast.LabeledStmt:
		return w.walkStmt(s.Stmt, sc)

	case *ast.AssignStmt:
		if err := w.collectCalls(s, sc.callable); err != nil {
			return err
		}
		if s.Tok != token.DEFINE {
			return nil
		}
		for i, lhs := range s.Lhs {
			id, ok := lhs.(*ast.Ident)
			if !ok {
				continue
			}
			declType := ""
			if len(s.Lhs) == len(s.Rhs) {
				declType = w.inferType(s.Rhs[i])
			}
			if err := w.declareLocal(id, declType, sc); err != nil {
				return err
			}
		}
		return nil

	case *ast.DeclStmt:
		gen, ok := s.Decl.(*ast.GenDecl)
		if !ok || (gen.Tok != token.VAR && gen.Tok != token.CONST) {
			return nil
		}
		if err := w.collectCalls(gen, sc.callable); err != nil {
			return err
		}
		for _, spec := range gen.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			typ := w.nodeText(vs.Type)
			for i, name := range vs.Names {
				declType := typ
				if declType == "" && i < len(vs.Values) {
					declType = w.inferType(vs.Values[i])
				}
				if err := w.declareLocal(name, declType, sc); err != nil {
					return err
				}
			}
		}
		return nil

	default:
		return w.collectCalls(s, sc.callable)
	}
}

// walkClauses walks the case and comm clauses of a switch or select body.
func (w *goWalker) walkClauses(body *ast.BlockStmt, sc goScope) error {
	for _, stmt := range body.List {
		switch c := stmt.(type) {
		case *ast.CaseClause:
			for _, e := range c.List {
				if err := w.collectCalls(e, sc.callable); err != nil {
					return err
				}
			}
			if err := w.walkStmts(c.Body, sc); err != nil {
				return err
			}
		case *ast.CommClause:
			if err := w.walkStmt(c.Comm, sc); err != nil {
				return err
			}
			if err := w.walkStmts(c.Body, sc); err != nil {
				return err
			}
		}
	}
	return nil
}

// declareLocal declares a function-local variable in its block and, when
// the enclosing callable does not bind the name yet, makes it visible from
// the callable scope as well. Redeclarations in the same scope are skipped.
func (w *goWalker) declareLocal(name *ast.Ident, declType string, sc goScope) error {
	if name == nil || name.Name == "_" {
		return nil
	}
	scopes := w.b.store.Scopes()
	if _, ok := scopes.Lookup(name.Name, sc.scope); ok {
		return nil
	}
	id, err := w.declare(graph.KindVariable, name.Name, sc.scope, name, declType)
	if err != nil {
		return err
	}
	if sc.scope == sc.callable {
		return nil
	}
	if _, ok := scopes.Lookup(name.Name, sc.callable); ok {
		return nil
	}
	return w.b.bind(sc.callable, name.Name, id)
}

// inferType returns the type named by a composite literal, its address, or
// a new call.
func (w *goWalker) inferType(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.CompositeLit:
		return w.nodeText(v.Type)
	case *ast.UnaryExpr:
		if lit, ok := v.X.(*ast.CompositeLit); ok && v.Op == token.AND {
			return w.nodeText(lit.Type)
		}
	case *ast.CallExpr:
		if id, ok := v.Fun.(*ast.Ident); ok && id.Name == "new" && len(v.Args) == 1 {
			return w.nodeText(v.Args[0])
		}
	}
	return ""
}

// collectCalls records, in post-order, the text of every call chain under
// root. Calls inside function literals belong to the enclosing callable.
func (w *goWalker) collectCalls(root ast.Node, callable graph.EntityID) error {
	if root == nil {
		return nil
	}
	var stack []ast.Node
	var err error
	ast.Inspect(root, func(n ast.Node) bool {
		if n != nil {
			stack = append(stack, n)
			return true
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		var parent ast.Node
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}
		if err == nil && emitsCall(top, parent) {
			if addErr := w.b.addCall(callable, w.callText(top)); addErr != nil {
				err = fmt.Errorf("%s:%d: %w", w.file.path, w.line(top), addErr)
			}
		}
		return false
	})
	return err
}

// callText returns the source of a call chain with function literal
// bodies elided.
func (w *goWalker) callText(n ast.Node) string {
	var lits []*ast.FuncLit
	ast.Inspect(n, func(c ast.Node) bool {
		if lit, ok := c.(*ast.FuncLit); ok {
			lits = append(lits, lit)
			return false
		}
		return true
	})
	if len(lits) == 0 {
		return w.nodeText(n)
	}

	base := w.fset.Position(n.Pos()).Offset
	src := w.nodeText(n)
	var sb strings.Builder
	last := 0
	for _, lit := range lits {
		start := w.fset.Position(lit.Body.Pos()).Offset - base
		end := w.fset.Position(lit.Body.End()).Offset - base
		if start < last || end > len(src) {
			continue
		}
		sb.WriteString(src[last:start])
		sb.WriteString("{}")
		last = end
	}
	sb.WriteString(src[last:])
	return sb.String()
}

// emitsCall reports whether n is the outermost link of a call chain whose
// receiver spine contains a call.
func emitsCall(n, parent ast.Node) bool {
	switch n.(type) {
	case *ast.CallExpr, *ast.SelectorExpr:
	default:
		return false
	}
	switch p := parent.(type) {
	case *ast.SelectorExpr:
		if p.X == n {
			return false
		}
	case *ast.CallExpr:
		if p.Fun == n {
			return false
		}
	}

	hasCall := false
	cur := n
	for {
		switch c := cur.(type) {
		case *ast.CallExpr:
			hasCall = true
			cur = c.Fun
			continue
		case *ast.SelectorExpr:
			cur = c.X
			continue
		case *ast.ParenExpr:
			cur = c.X
			continue
		}
		break
	}
	if !hasCall {
		return false
	}
	switch cur.(type) {
	case *ast.FuncLit, *ast.CompositeLit, *ast.ArrayType, *ast.MapType, *ast.ChanType,
		*ast.FuncType, *ast.InterfaceType, *ast.StructType, *ast.StarExpr:
		return false
	}
	return true
}

// receiverTypeName returns the base type name of a method receiver.
func receiverTypeName(e ast.Expr) string {
	for {
		switch t := e.(type) {
		case *ast.StarExpr:
			e = t.X
		case *ast.ParenExpr:
			e = t.X
		case *ast.IndexExpr:
			e = t.X
		case *ast.IndexListExpr:
			e = t.X
		case *ast.Ident:
			return t.Name
		default:
			return ""
		}
	}
}

// embeddedName returns the field name of an embedded struct field.
func embeddedName(e ast.Expr) string {
	for {
		switch t := e.(type) {
		case *ast.StarExpr:
			e = t.X
		case *ast.IndexExpr:
			e = t.X
		case *ast.IndexListExpr:
			e = t.X
		case *ast.SelectorExpr:
			return t.Sel.Name
		case *ast.Ident:
			return t.Name
		default:
			return ""
		}
	}
}
