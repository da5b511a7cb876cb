package parsers

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/Benny93/depgraph/internal/graph"
)

// PythonFrontend declares Python modules using the tree-sitter grammar.
type PythonFrontend struct {
	logger *slog.Logger
}

// NewPythonFrontend creates a new Python frontend.
func NewPythonFrontend(logger *slog.Logger) *PythonFrontend {
	if logger == nil {
		logger = slog.Default()
	}
	return &PythonFrontend{logger: logger}
}

// Language returns the language this frontend handles.
func (p *PythonFrontend) Language() string {
	return "python"
}

// Extensions returns the file extensions this frontend handles.
func (p *PythonFrontend) Extensions() []string {
	return []string{".py"}
}

// Parse declares one module per file.
func (p *PythonFrontend) Parse(ctx context.Context, b *Builder, files []SourceFile) (Stats, error) {
	var stats Stats
	decls, calls := b.counters()

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		tree, err := parser.ParseCtx(ctx, nil, f.Content)
		if err != nil {
			p.logger.Warn("skipping python file",
				slog.String("file", f.Path),
				slog.String("error", err.Error()))
			stats.Skipped++
			continue
		}
		root := tree.RootNode()
		if root.HasError() {
			p.logger.Debug("python file contains syntax errors", slog.String("file", f.Path))
		}

		w := &pyWalker{b: b, src: f.Content, file: f.Path}
		err = w.walkModule(root)
		tree.Close()
		if err != nil {
			return stats, err
		}
		stats.Files++
	}

	newDecls, newCalls := b.counters()
	stats.Entities = newDecls - decls
	stats.Calls = newCalls - calls
	return stats, nil
}

// ModuleName returns the dotted module path of a Python file and whether
// the file is a package initializer.
func ModuleName(filePath string) (string, bool) {
	p := strings.TrimSuffix(filePath, path.Ext(filePath))
	isPackage := false
	if path.Base(p) == "__init__" {
		p = path.Dir(p)
		isPackage = true
	}
	p = strings.Trim(p, "/")
	if p == "." || p == "" {
		return "__init__", isPackage
	}
	return strings.ReplaceAll(p, "/", "."), isPackage
}

// resolveRelative turns a relative from-import into an absolute module path.
func resolveRelative(module string, isPackage bool, level int, rest string) string {
	parts := strings.Split(module, ".")
	if !isPackage {
		parts = parts[:len(parts)-1]
	}
	for i := 1; i < level && len(parts) > 0; i++ {
		parts = parts[:len(parts)-1]
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, ".")
}

// pyContext describes where the walker currently declares entities.
type pyContext struct {
	// scope receives declarations.
	scope graph.EntityID
	// callable receives call expressions.
	callable graph.EntityID
	// class is set while walking a class body.
	class graph.EntityID
	// selfName and selfClass describe the receiver of the enclosing method.
	selfName  string
	selfClass graph.EntityID
}

type pyWalker struct {
	b         *Builder
	src       []byte
	file      string
	module    string
	isPackage bool
}

func (w *pyWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.src)
}

func (w *pyWalker) line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func (w *pyWalker) declare(kind graph.Kind, name string, parent graph.EntityID, n *sitter.Node, declType string) (graph.EntityID, error) {
	return w.b.declare(graph.Decl{
		Kind:         kind,
		Name:         name,
		Parent:       parent,
		Language:     "python",
		FilePath:     w.file,
		Line:         w.line(n),
		DeclaredType: declType,
	})
}

func (w *pyWalker) walkModule(root *sitter.Node) error {
	w.module, w.isPackage = ModuleName(w.file)
	mod, err := w.declare(graph.KindModule, w.module, graph.NoEntity, root, "")
	if err != nil {
		return err
	}
	w.b.modules[w.module] = mod

	return w.walkBlock(root, pyContext{
		scope:     mod,
		callable:  mod,
		class:     graph.NoEntity,
		selfClass: graph.NoEntity,
	})
}

func (w *pyWalker) walkBlock(n *sitter.Node, ctx pyContext) error {
	if n == nil {
		return nil
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if err := w.walkStatement(n.NamedChild(i), ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *pyWalker) walkStatement(n *sitter.Node, ctx pyContext) error {
	switch n.Type() {
	case "function_definition":
		return w.walkFunction(n, ctx, nil)
	case "class_definition":
		return w.walkClass(n, ctx)
	case "decorated_definition":
		return w.walkDecorated(n, ctx)
	case "import_statement", "import_from_statement":
		w.queueImports(n, ctx.scope)
		return nil
	case "expression_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "assignment" {
				if err := w.walkAssignment(child, ctx); err != nil {
					return err
				}
				continue
			}
			if err := w.collectCalls(child, ctx.callable); err != nil {
				return err
			}
		}
		return nil
	case "for_statement":
		w.declareTargets(n.ChildByFieldName("left"), ctx)
		if err := w.collectCalls(n.ChildByFieldName("right"), ctx.callable); err != nil {
			return err
		}
		if err := w.walkBlock(n.ChildByFieldName("body"), ctx); err != nil {
			return err
		}
		return w.walkCompound(n.ChildByFieldName("alternative"), ctx)
	case "if_statement", "while_statement", "try_statement", "with_statement", "match_statement",
		"elif_clause", "else_clause", "except_clause", "finally_clause", "case_clause", "except_group_clause":
		return w.walkCompound(n, ctx)
	case "comment", "pass_statement", "global_statement", "nonlocal_statement",
		"break_statement", "continue_statement":
		return nil
	default:
		return w.collectCalls(n, ctx.callable)
	}
}

// walkCompound walks a compound statement: nested blocks and clauses are
// walked as statements, every other child contributes calls.
func (w *pyWalker) walkCompound(n *sitter.Node, ctx pyContext) error {
	if n == nil {
		return nil
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch {
		case child.Type() == "block":
			if err := w.walkBlock(child, ctx); err != nil {
				return err
			}
		case strings.HasSuffix(child.Type(), "_clause") && child.Type() != "with_clause":
			if err := w.walkStatement(child, ctx); err != nil {
				return err
			}
		case child.Type() == "comment":
		default:
			if err := w.collectCalls(child, ctx.callable); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *pyWalker) walkDecorated(n *sitter.Node, ctx pyContext) error {
	var decorators []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() != "decorator" {
			continue
		}
		decorators = append(decorators, strings.TrimPrefix(w.text(child), "@"))
		if err := w.collectCalls(child, ctx.callable); err != nil {
			return err
		}
	}

	def := n.ChildByFieldName("definition")
	if def == nil {
		return nil
	}
	switch def.Type() {
	case "function_definition":
		return w.walkFunction(def, ctx, decorators)
	case "class_definition":
		return w.walkClass(def, ctx)
	}
	return nil
}

func (w *pyWalker) walkClass(n *sitter.Node, ctx pyContext) error {
	name := w.text(n.ChildByFieldName("name"))
	if name == "" {
		return nil
	}
	if err := w.collectCalls(n.ChildByFieldName("superclasses"), ctx.callable); err != nil {
		return err
	}
	id, err := w.declare(graph.KindClass, name, ctx.scope, n, "")
	if err != nil {
		return err
	}
	return w.walkBlock(n.ChildByFieldName("body"), pyContext{
		scope:     id,
		callable:  ctx.callable,
		class:     id,
		selfClass: graph.NoEntity,
	})
}

func (w *pyWalker) walkFunction(n *sitter.Node, ctx pyContext, decorators []string) error {
	name := w.text(n.ChildByFieldName("name"))
	if name == "" {
		return nil
	}
	kind := graph.KindFunction
	if ctx.class != graph.NoEntity {
		kind = graph.KindMethod
	}
	id, err := w.declare(kind, name, ctx.scope, n, "")
	if err != nil {
		return err
	}

	inner := pyContext{
		scope:     id,
		callable:  id,
		class:     graph.NoEntity,
		selfClass: graph.NoEntity,
	}
	bindsReceiver := kind == graph.KindMethod && !hasDecorator(decorators, "staticmethod")

	params := n.ChildByFieldName("parameters")
	first := true
	for i := 0; params != nil && i < int(params.NamedChildCount()); i++ {
		param := params.NamedChild(i)
		pname, ptype, def := w.parameter(param)
		if def != nil {
			if err := w.collectCalls(def, ctx.callable); err != nil {
				return err
			}
		}
		if pname == "" {
			continue
		}
		vid, err := w.declare(graph.KindVariable, pname, id, param, ptype)
		if err != nil {
			return err
		}
		if first && bindsReceiver {
			if err := w.b.pin(vid, ctx.class); err != nil {
				return err
			}
			inner.selfName = pname
			inner.selfClass = ctx.class
		}
		first = false
	}

	return w.walkBlock(n.ChildByFieldName("body"), inner)
}

// parameter returns the name, annotation and default value of a parameter node.
func (w *pyWalker) parameter(n *sitter.Node) (string, string, *sitter.Node) {
	switch n.Type() {
	case "identifier":
		return w.text(n), "", nil
	case "typed_parameter":
		var name string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "identifier" {
				name = w.text(child)
				break
			}
			if child.Type() == "list_splat_pattern" || child.Type() == "dictionary_splat_pattern" {
				name = w.splatName(child)
				break
			}
		}
		return name, w.text(n.ChildByFieldName("type")), nil
	case "default_parameter":
		return w.text(n.ChildByFieldName("name")), "", n.ChildByFieldName("value")
	case "typed_default_parameter":
		return w.text(n.ChildByFieldName("name")), w.text(n.ChildByFieldName("type")), n.ChildByFieldName("value")
	case "list_splat_pattern", "dictionary_splat_pattern":
		return w.splatName(n), "", nil
	}
	return "", "", nil
}

func (w *pyWalker) splatName(n *sitter.Node) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == "identifier" {
			return w.text(child)
		}
	}
	return ""
}

func (w *pyWalker) walkAssignment(n *sitter.Node, ctx pyContext) error {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")

	declType := w.text(n.ChildByFieldName("type"))
	if declType == "" && right != nil && right.Type() == "call" {
		if fn := right.ChildByFieldName("function"); fn != nil && (fn.Type() == "identifier" || fn.Type() == "attribute") {
			declType = w.text(fn)
		}
	}

	if left != nil {
		switch left.Type() {
		case "identifier":
			if err := w.declareVariable(w.text(left), left, ctx, declType); err != nil {
				return err
			}
		case "attribute":
			obj := left.ChildByFieldName("object")
			if obj != nil && obj.Type() == "identifier" && ctx.selfClass != graph.NoEntity && w.text(obj) == ctx.selfName {
				if err := w.declareField(ctx.selfClass, w.text(left.ChildByFieldName("attribute")), left, declType); err != nil {
					return err
				}
			} else if err := w.collectCalls(left, ctx.callable); err != nil {
				return err
			}
		case "pattern_list", "tuple_pattern", "list_pattern":
			w.declareTargets(left, ctx)
		default:
			if err := w.collectCalls(left, ctx.callable); err != nil {
				return err
			}
		}
	}

	if right != nil && right.Type() == "assignment" {
		return w.walkAssignment(right, ctx)
	}
	return w.collectCalls(right, ctx.callable)
}

// declareTargets declares the plain identifiers of an assignment or loop target.
func (w *pyWalker) declareTargets(n *sitter.Node, ctx pyContext) {
	if n == nil {
		return
	}
	if n.Type() == "identifier" {
		if err := w.declareVariable(w.text(n), n, ctx, ""); err != nil {
			w.b.logger.Debug("declaring loop target", slog.String("error", err.Error()))
		}
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.declareTargets(n.NamedChild(i), ctx)
	}
}

// declareVariable declares name in the current scope unless the scope
// already holds a variable of that name.
func (w *pyWalker) declareVariable(name string, n *sitter.Node, ctx pyContext, declType string) error {
	if name == "" {
		return nil
	}
	if id, ok := w.b.store.Scopes().Lookup(name, ctx.scope); ok {
		if e, _ := w.b.store.Get(id); e != nil && e.IsVariable() {
			return nil
		}
	}
	kind := graph.KindVariable
	if ctx.class != graph.NoEntity {
		kind = graph.KindField
	}
	_, err := w.declare(kind, name, ctx.scope, n, declType)
	return err
}

func (w *pyWalker) declareField(class graph.EntityID, name string, n *sitter.Node, declType string) error {
	if name == "" {
		return nil
	}
	if _, ok := w.b.store.Scopes().Lookup(name, class); ok {
		return nil
	}
	_, err := w.declare(graph.KindField, name, class, n, declType)
	return err
}

// collectCalls records, in post-order, the text of every call chain under
// n. Calls that are a link of a longer chain are recorded through the
// chain's outermost expression. Nested definitions are not entered.
func (w *pyWalker) collectCalls(n *sitter.Node, callable graph.EntityID) error {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "function_definition", "class_definition", "decorated_definition":
		return nil
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if err := w.collectCalls(n.NamedChild(i), callable); err != nil {
			return err
		}
	}
	if (n.Type() == "call" || n.Type() == "attribute") && pyChainTop(n) && pySpineHasCall(n) {
		if err := w.b.addCall(callable, w.text(n)); err != nil {
			return fmt.Errorf("%s:%d: %w", w.file, w.line(n), err)
		}
	}
	return nil
}

func (w *pyWalker) queueImports(n *sitter.Node, scope graph.EntityID) {
	line := w.line(n)

	if n.Type() == "import_statement" {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				w.b.queueImport(pendingImport{language: "python", scope: scope, module: w.text(child), file: w.file, line: line})
			case "aliased_import":
				w.b.queueImport(pendingImport{
					language: "python",
					scope:    scope,
					module:   w.text(child.ChildByFieldName("name")),
					alias:    w.text(child.ChildByFieldName("alias")),
					file:     w.file,
					line:     line,
				})
			}
		}
		return
	}

	moduleNode := n.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}
	module := w.text(moduleNode)
	if moduleNode.Type() == "relative_import" {
		level := 0
		rest := ""
		for i := 0; i < int(moduleNode.NamedChildCount()); i++ {
			child := moduleNode.NamedChild(i)
			switch child.Type() {
			case "import_prefix":
				level = strings.Count(w.text(child), ".")
			case "dotted_name":
				rest = w.text(child)
			}
		}
		module = resolveRelative(w.module, w.isPackage, level, rest)
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if sameNode(child, moduleNode) {
			continue
		}
		imp := pendingImport{language: "python", scope: scope, module: module, file: w.file, line: line}
		switch child.Type() {
		case "wildcard_import":
			imp.name = "*"
		case "dotted_name":
			imp.name = w.text(child)
		case "aliased_import":
			imp.name = w.text(child.ChildByFieldName("name"))
			imp.alias = w.text(child.ChildByFieldName("alias"))
		default:
			continue
		}
		w.b.queueImport(imp)
	}
}

// pyChainTop reports whether n is the outermost link of its call chain.
func pyChainTop(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return true
	}
	switch parent.Type() {
	case "attribute":
		return !sameNode(parent.ChildByFieldName("object"), n)
	case "call":
		return !sameNode(parent.ChildByFieldName("function"), n)
	}
	return true
}

// pySpineHasCall reports whether a call occurs along the receiver spine of n.
func pySpineHasCall(n *sitter.Node) bool {
	for cur := n; cur != nil; {
		switch cur.Type() {
		case "call":
			return true
		case "attribute":
			cur = cur.ChildByFieldName("object")
		default:
			return false
		}
	}
	return false
}

func sameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return false
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func hasDecorator(decorators []string, name string) bool {
	for _, d := range decorators {
		if d == name {
			return true
		}
	}
	return false
}
