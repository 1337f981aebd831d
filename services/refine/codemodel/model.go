// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codemodel supplies the structural view of source files that
// detectors and the impact analyzer navigate: types, functions, calls
// and imports with line positions.
//
// Two providers ship with the package. TreeSitterGo parses Go with the
// tree-sitter grammar. BraceHeuristic approximates the same model for
// brace-delimited languages (Java, Kotlin, C#, JavaScript, TypeScript)
// from line text and brace depth. A parse failure affects only the file
// being parsed.
package codemodel

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	// ErrUnsupported is returned when no provider handles a file.
	ErrUnsupported = errors.New("no code-model provider for file")

	// ErrFileTooLarge is returned for files beyond the provider limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")

	// ErrInvalidContent is returned for non UTF-8 input.
	ErrInvalidContent = errors.New("invalid file content")
)

// Language names used in FileModel.Language.
const (
	LangGo         = "go"
	LangJava       = "java"
	LangKotlin     = "kotlin"
	LangCSharp     = "csharp"
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
)

// DefaultMaxFileSize is the largest file a provider parses (4MB).
const DefaultMaxFileSize = 4 * 1024 * 1024

// TypeKind classifies a TypeDecl.
type TypeKind string

const (
	KindClass     TypeKind = "class"
	KindInterface TypeKind = "interface"
	KindStruct    TypeKind = "struct"
	KindEnum      TypeKind = "enum"
	KindNamed     TypeKind = "named"
)

// Import is one import/using/require statement.
type Import struct {
	Path  string `json:"path"`
	Alias string `json:"alias,omitempty"`
	Line  int    `json:"line"`
}

// Name returns the local name the import binds: the alias, or the last
// path element.
func (i Import) Name() string {
	if i.Alias != "" && i.Alias != "_" && i.Alias != "." {
		return i.Alias
	}
	p := strings.TrimSuffix(i.Path, ".*")
	p = strings.ReplaceAll(p, ".", "/")
	return path.Base(p)
}

// Call is one call expression inside a function body.
//
// Chain counts the selector links of the whole expression:
// a.b().c().d() has Chain 3, Receiver "a" and Name "d".
type Call struct {
	Receiver string `json:"receiver,omitempty"`
	Name     string `json:"name"`
	Chain    int    `json:"chain"`
	Line     int    `json:"line"`
}

// Function is a function, method or constructor.
type Function struct {
	Name string `json:"name"`

	// Receiver is the owning type name, "" for free functions.
	Receiver string `json:"receiver,omitempty"`

	// ReceiverVar is the name the body uses for its own instance
	// ("s" in Go's (s *Service), "this" elsewhere).
	ReceiverVar string `json:"receiver_var,omitempty"`

	Params        []string `json:"params"`
	StartLine     int      `json:"start_line"`
	EndLine       int      `json:"end_line"`
	BodyStartLine int      `json:"body_start_line"`
	Calls         []Call   `json:"calls,omitempty"`
}

// TypeDecl is a class, interface, struct or enum.
type TypeDecl struct {
	Name       string   `json:"name"`
	Kind       TypeKind `json:"kind"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	Extends    []string `json:"extends,omitempty"`
	Implements []string `json:"implements,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	Methods    []string `json:"methods,omitempty"`

	// Size is the number of lines attributed to the type. For languages
	// that declare methods outside the type body it includes them.
	Size int `json:"size"`
}

// Lines returns the declaration span in lines.
func (t TypeDecl) Lines() int {
	if t.EndLine < t.StartLine {
		return 0
	}
	return t.EndLine - t.StartLine + 1
}

// HasSupertypes reports whether the type extends or implements anything.
func (t TypeDecl) HasSupertypes() bool {
	return len(t.Extends) > 0 || len(t.Implements) > 0
}

// FileModel is the structural model of one source file.
type FileModel struct {
	Path      string     `json:"path"`
	Language  string     `json:"language"`
	Package   string     `json:"package,omitempty"`
	Imports   []Import   `json:"imports,omitempty"`
	Types     []TypeDecl `json:"types,omitempty"`
	Functions []Function `json:"functions,omitempty"`

	// SyntaxErrors is set when the parser recovered from malformed input.
	// Only providers with a real grammar report it.
	SyntaxErrors bool `json:"syntax_errors,omitempty"`
}

// Type returns the type declaration with the given name.
func (m *FileModel) Type(name string) (TypeDecl, bool) {
	for _, t := range m.Types {
		if t.Name == name {
			return t, true
		}
	}
	return TypeDecl{}, false
}

// MethodsOf returns the functions whose receiver is typeName.
func (m *FileModel) MethodsOf(typeName string) []Function {
	var out []Function
	for _, f := range m.Functions {
		if f.Receiver == typeName {
			out = append(out, f)
		}
	}
	return out
}

// Provider builds FileModels for the files it supports.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Language returns the primary language name.
	Language() string

	// Supports reports whether the provider handles the path.
	Supports(path string) bool

	// Parse builds the model of one file.
	Parse(ctx context.Context, path string, content []byte) (*FileModel, error)
}
