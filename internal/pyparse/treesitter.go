//go:build cgo

package pyparse

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// TreeSitterAvailable reports whether the tree-sitter grammar is compiled in.
func TreeSitterAvailable() bool {
	return true
}

// parseTree parses src with the tree-sitter Python grammar. ok is false
// when the tree contains syntax errors.
func parseTree(ctx context.Context, src []byte, modulePath string) (extraction, bool, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return extraction{}, false, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return extraction{}, false, nil
	}

	w := &treeWalker{src: src, seen: visited{}}
	w.block(root, modulePath)
	return w.out, true, nil
}

type treeWalker struct {
	src  []byte
	seen visited
	out  extraction
}

func (w *treeWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(w.src[n.StartByte():n.EndByte()])
}

// block visits the statements of a module or class body. Definitions and
// imports inside if/try/with/loop blocks at the same level count too.
func (w *treeWalker) block(n *sitter.Node, module string) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.statement(n.NamedChild(i), module)
	}
}

func (w *treeWalker) statement(n *sitter.Node, module string) {
	switch n.Type() {
	case "function_definition":
		w.function(n, module)
	case "class_definition":
		w.class(n, module)
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			w.statement(def, module)
		}
	case "import_statement":
		w.importStatement(n, module)
	case "import_from_statement", "future_import_statement":
		w.importFrom(n, module)
	case "if_statement", "try_statement", "with_statement", "for_statement", "while_statement",
		"elif_clause", "else_clause", "except_clause", "except_group_clause", "finally_clause":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "block" {
				w.block(child, module)
			} else if strings.HasSuffix(child.Type(), "_clause") {
				w.statement(child, module)
			}
		}
	}
}

func (w *treeWalker) function(n *sitter.Node, module string) {
	if !w.seen.first(int(n.StartByte()), int(n.EndByte())) {
		return
	}
	name := w.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	w.out.exports = append(w.out.exports, Export{
		Module: module,
		Path:   module + "." + name,
		Name:   name,
		Kind:   KindFunction,
		Params: w.params(n.ChildByFieldName("parameters")),
	})
}

func (w *treeWalker) class(n *sitter.Node, module string) {
	if !w.seen.first(int(n.StartByte()), int(n.EndByte())) {
		return
	}
	name := w.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	w.out.exports = append(w.out.exports, Export{
		Module: module,
		Path:   module + "." + name,
		Name:   name,
		Kind:   KindClass,
	})
	if body := n.ChildByFieldName("body"); body != nil {
		w.block(body, module+"."+name)
	}
}

// params lists declared parameters in order. **kwargs and the bare * and /
// separators are not parameters; *args is.
func (w *treeWalker) params(n *sitter.Node) []Param {
	if n == nil {
		return nil
	}
	var out []Param
	add := func(name, typ string, def interface{}) {
		if name == "" {
			return
		}
		out = append(out, Param{Name: name, Type: typ, Position: len(out), Default: def})
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		p := n.NamedChild(i)
		switch p.Type() {
		case "identifier":
			add(w.text(p), "", nil)
		case "list_splat_pattern":
			add(strings.TrimLeft(w.text(p), "*"), "", nil)
		case "typed_parameter":
			if p.NamedChildCount() == 0 {
				continue
			}
			target := p.NamedChild(0)
			typ := collapseSpace(w.text(p.ChildByFieldName("type")))
			switch target.Type() {
			case "dictionary_splat_pattern":
				continue
			case "list_splat_pattern":
				add(strings.TrimLeft(w.text(target), "*"), typ, nil)
			default:
				add(w.text(target), typ, nil)
			}
		case "default_parameter":
			add(w.text(p.ChildByFieldName("name")), "", w.defaultValue(p.ChildByFieldName("value")))
		case "typed_default_parameter":
			add(w.text(p.ChildByFieldName("name")),
				collapseSpace(w.text(p.ChildByFieldName("type"))),
				w.defaultValue(p.ChildByFieldName("value")))
		}
	}
	return out
}

func (w *treeWalker) defaultValue(n *sitter.Node) interface{} {
	if n == nil {
		return nil
	}
	return parseDefault(w.text(n))
}

func (w *treeWalker) importStatement(n *sitter.Node, module string) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if imp, ok := w.importedName(n.NamedChild(i), module, ""); ok {
			w.out.imports = append(w.out.imports, imp)
		}
	}
}

func (w *treeWalker) importFrom(n *sitter.Node, module string) {
	from := "__future__"
	var fromNode *sitter.Node
	if n.Type() == "import_from_statement" {
		fromNode = n.ChildByFieldName("module_name")
		from = w.text(fromNode)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if fromNode != nil && child.StartByte() == fromNode.StartByte() && child.EndByte() == fromNode.EndByte() {
			continue
		}
		if imp, ok := w.importedName(child, module, from); ok {
			w.out.imports = append(w.out.imports, imp)
		}
	}
}

func (w *treeWalker) importedName(n *sitter.Node, module, from string) (Import, bool) {
	switch n.Type() {
	case "dotted_name":
		return Import{Path: module, From: from, Name: w.text(n)}, true
	case "aliased_import":
		return Import{
			Path: module,
			From: from,
			Name: w.text(n.ChildByFieldName("name")),
			As:   w.text(n.ChildByFieldName("alias")),
		}, true
	case "wildcard_import":
		return Import{Path: module, From: from, Name: "*"}, true
	}
	return Import{}, false
}
