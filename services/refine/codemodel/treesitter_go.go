// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codemodel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// maxCallDepth bounds the body walk so pathological nesting cannot blow
// the traversal stack.
const maxCallDepth = 256

// GoOption configures a TreeSitterGo provider.
type GoOption func(*TreeSitterGo)

// WithGoMaxFileSize overrides DefaultMaxFileSize.
func WithGoMaxFileSize(bytes int) GoOption {
	return func(p *TreeSitterGo) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// TreeSitterGo builds FileModels for Go source with tree-sitter.
//
// # Thread Safety
//
// Safe for concurrent use; every Parse call creates its own parser.
type TreeSitterGo struct {
	maxFileSize int
}

// NewTreeSitterGo creates the Go provider.
func NewTreeSitterGo(opts ...GoOption) *TreeSitterGo {
	p := &TreeSitterGo{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Language implements Provider.
func (p *TreeSitterGo) Language() string { return LangGo }

// Supports implements Provider.
func (p *TreeSitterGo) Supports(path string) bool {
	return strings.HasSuffix(path, ".go")
}

// Parse implements Provider.
//
// # Outputs
//
//   - *FileModel: Package, imports, functions (with calls) and types with
//     their methods attached by receiver.
//   - error: ErrFileTooLarge, ErrInvalidContent, or a context error.
func (p *TreeSitterGo) Parse(ctx context.Context, path string, content []byte) (*FileModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if len(content) > p.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	model := &FileModel{Path: path, Language: LangGo}
	if root == nil {
		return model, nil
	}
	if root.HasError() {
		model.SyntaxErrors = true
		slog.Debug("go source contains syntax errors", slog.String("file", path))
	}

	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "package_clause":
			for j := 0; j < int(child.ChildCount()); j++ {
				if n := child.Child(j); n.Type() == "package_identifier" {
					model.Package = n.Content(content)
				}
			}
		case "import_declaration":
			model.Imports = append(model.Imports, goImports(child, content)...)
		case "function_declaration", "method_declaration":
			if fn, ok := p.function(ctx, child, content); ok {
				model.Functions = append(model.Functions, fn)
			}
		case "type_declaration":
			for j := 0; j < int(child.ChildCount()); j++ {
				if spec := child.Child(j); spec.Type() == "type_spec" {
					if td, ok := goTypeSpec(spec, content); ok {
						model.Types = append(model.Types, td)
					}
				}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after extraction: %w", err)
	}

	attachGoMethods(model)
	return model, nil
}

func goImports(decl *sitter.Node, content []byte) []Import {
	var out []Import
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		switch n.Type() {
		case "import_spec":
			imp := Import{Line: int(n.StartPoint().Row) + 1}
			for i := 0; i < int(n.ChildCount()); i++ {
				c := n.Child(i)
				switch c.Type() {
				case "package_identifier", "blank_identifier", "dot":
					imp.Alias = c.Content(content)
				case "interpreted_string_literal", "raw_string_literal":
					imp.Path = strings.Trim(c.Content(content), "\"`")
				}
			}
			if imp.Path != "" {
				out = append(out, imp)
			}
		case "import_spec_list", "import_declaration":
			for i := 0; i < int(n.ChildCount()); i++ {
				visit(n.Child(i))
			}
		}
	}
	visit(decl)
	return out
}

func (p *TreeSitterGo) function(ctx context.Context, node *sitter.Node, content []byte) (Function, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return Function{}, false
	}
	fn := Function{
		Name:      nameNode.Content(content),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		Params:    goParamNames(node.ChildByFieldName("parameters"), content),
	}
	if recv := node.ChildByFieldName("receiver"); recv != nil {
		fn.ReceiverVar, fn.Receiver = goReceiver(recv, content)
	}
	if body := node.ChildByFieldName("body"); body != nil {
		fn.BodyStartLine = int(body.StartPoint().Row) + 1
		fn.Calls = goCalls(ctx, body, content)
	}
	return fn, true
}

// goParamNames lists parameter names; unnamed parameters appear as "_".
func goParamNames(list *sitter.Node, content []byte) []string {
	if list == nil {
		return nil
	}
	names := make([]string, 0, list.ChildCount())
	for i := 0; i < int(list.ChildCount()); i++ {
		decl := list.Child(i)
		switch decl.Type() {
		case "parameter_declaration", "variadic_parameter_declaration":
			named := 0
			for j := 0; j < int(decl.ChildCount()); j++ {
				if id := decl.Child(j); id.Type() == "identifier" {
					names = append(names, id.Content(content))
					named++
				}
			}
			if named == 0 {
				names = append(names, "_")
			}
		}
	}
	return names
}

// goReceiver returns the receiver variable and its base type name.
func goReceiver(list *sitter.Node, content []byte) (string, string) {
	for i := 0; i < int(list.ChildCount()); i++ {
		decl := list.Child(i)
		if decl.Type() != "parameter_declaration" {
			continue
		}
		var varName string
		if n := decl.ChildByFieldName("name"); n != nil {
			varName = n.Content(content)
		}
		var typeName string
		if t := decl.ChildByFieldName("type"); t != nil {
			typeName = baseTypeName(t.Content(content))
		}
		return varName, typeName
	}
	return "", ""
}

// baseTypeName strips pointers, generics and package qualifiers.
func baseTypeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "*&")
	if i := strings.IndexAny(s, "[<"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func goTypeSpec(spec *sitter.Node, content []byte) (TypeDecl, bool) {
	nameNode := spec.ChildByFieldName("name")
	if nameNode == nil {
		return TypeDecl{}, false
	}
	td := TypeDecl{
		Name:      nameNode.Content(content),
		Kind:      KindNamed,
		StartLine: int(spec.StartPoint().Row) + 1,
		EndLine:   int(spec.EndPoint().Row) + 1,
	}

	typeNode := spec.ChildByFieldName("type")
	if typeNode == nil {
		return td, true
	}
	switch typeNode.Type() {
	case "struct_type":
		td.Kind = KindStruct
		for i := 0; i < int(typeNode.ChildCount()); i++ {
			list := typeNode.Child(i)
			if list.Type() != "field_declaration_list" {
				continue
			}
			for j := 0; j < int(list.ChildCount()); j++ {
				field := list.Child(j)
				if field.Type() != "field_declaration" {
					continue
				}
				named := false
				for k := 0; k < int(field.ChildCount()); k++ {
					if id := field.Child(k); id.Type() == "field_identifier" {
						td.Fields = append(td.Fields, id.Content(content))
						named = true
					}
				}
				if !named {
					if t := field.ChildByFieldName("type"); t != nil {
						td.Extends = append(td.Extends, baseTypeName(t.Content(content)))
					}
				}
			}
		}
	case "interface_type":
		td.Kind = KindInterface
		for i := 0; i < int(typeNode.ChildCount()); i++ {
			elem := typeNode.Child(i)
			switch elem.Type() {
			case "method_elem", "method_spec":
				for k := 0; k < int(elem.ChildCount()); k++ {
					if id := elem.Child(k); id.Type() == "field_identifier" {
						td.Methods = append(td.Methods, id.Content(content))
						break
					}
				}
			case "type_elem", "constraint_elem", "type_identifier", "qualified_type":
				td.Extends = append(td.Extends, baseTypeName(elem.Content(content)))
			}
		}
	}
	return td, true
}

// goCalls walks a function body iteratively and records every call
// expression in source order.
func goCalls(ctx context.Context, body *sitter.Node, content []byte) []Call {
	type entry struct {
		node  *sitter.Node
		depth int
	}
	var calls []Call
	stack := []entry{{node: body}}
	visited := 0
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e.node == nil || e.depth > maxCallDepth {
			continue
		}
		visited++
		if visited%256 == 0 && ctx.Err() != nil {
			return calls
		}
		if e.node.Type() == "call_expression" {
			if c, ok := goCall(e.node, content); ok {
				calls = append(calls, c)
			}
		}
		for i := int(e.node.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, entry{node: e.node.Child(i), depth: e.depth + 1})
		}
	}
	return calls
}

func goCall(node *sitter.Node, content []byte) (Call, bool) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return Call{}, false
	}
	call := Call{Line: int(node.StartPoint().Row) + 1}
	switch fn.Type() {
	case "identifier":
		call.Name = fn.Content(content)
	case "selector_expression":
		if field := fn.ChildByFieldName("field"); field != nil {
			call.Name = field.Content(content)
		}
		call.Receiver, call.Chain = goChain(fn, content)
	default:
		return Call{}, false
	}
	return call, call.Name != ""
}

// goChain walks from sel down to the chain root, counting selector
// links. The root is returned only when it is a plain identifier.
func goChain(sel *sitter.Node, content []byte) (string, int) {
	links := 0
	n := sel
	for n != nil {
		switch n.Type() {
		case "selector_expression":
			links++
			n = n.ChildByFieldName("operand")
		case "call_expression":
			n = n.ChildByFieldName("function")
		case "parenthesized_expression", "index_expression", "type_assertion_expression":
			n = n.NamedChild(0)
		case "identifier":
			return n.Content(content), links
		default:
			return "", links
		}
	}
	return "", links
}

// attachGoMethods records each method on its receiver type and widens
// the type's Size by the method span.
func attachGoMethods(model *FileModel) {
	index := make(map[string]int, len(model.Types))
	for i := range model.Types {
		index[model.Types[i].Name] = i
		model.Types[i].Size = model.Types[i].Lines()
	}
	for _, fn := range model.Functions {
		i, ok := index[fn.Receiver]
		if !ok || fn.Receiver == "" {
			continue
		}
		t := &model.Types[i]
		if t.Kind == KindInterface {
			continue
		}
		t.Methods = append(t.Methods, fn.Name)
		t.Size += fn.EndLine - fn.StartLine + 1
	}
}

var _ Provider = (*TreeSitterGo)(nil)
