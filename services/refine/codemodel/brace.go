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
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

var braceLanguages = map[string]string{
	".java": LangJava,
	".kt":   LangKotlin,
	".kts":  LangKotlin,
	".cs":   LangCSharp,
	".js":   LangJavaScript,
	".jsx":  LangJavaScript,
	".mjs":  LangJavaScript,
	".ts":   LangTypeScript,
	".tsx":  LangTypeScript,
}

var (
	typeDeclRe   = regexp.MustCompile(`(?:^|[\s(])(class|interface|enum|record|struct|object)\s+([A-Za-z_$][\w$]*)`)
	extendsRe    = regexp.MustCompile(`\bextends\s+(.+?)(?:\bimplements\b|\{|$)`)
	implementsRe = regexp.MustCompile(`\bimplements\s+(.+?)(?:\{|$)`)
	memberRe     = regexp.MustCompile(`^(?:(?:public|private|protected|internal|static|final|abstract|synchronized|native|override|virtual|async|open|suspend|inline|default|extern|unsafe|sealed|new|partial|fun|function|get|set|operator|infix|tailrec|export)\s+)*(?:[\w<>\[\],.?]+\s+)?([A-Za-z_$][\w$]*)\s*(?:<[^>()]*>)?\s*\(`)
	jsFuncRe     = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)\s*\(`)
	jsArrowRe    = regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s+)?(?:\(|[A-Za-z_$][\w$]*\s*=>)`)
	kotlinPropRe = regexp.MustCompile(`^(?:(?:private|protected|public|internal|override|open|lateinit|const)\s+)*(?:val|var)\s+([A-Za-z_]\w*)`)
	packageRe    = regexp.MustCompile(`^\s*(?:package|namespace)\s+([\w.]+)`)
	javaImportRe = regexp.MustCompile(`^\s*import\s+(?:static\s+)?([\w.*]+)(?:\s+as\s+(\w+))?\s*;?\s*$`)
	usingRe      = regexp.MustCompile(`^\s*using\s+(?:static\s+)?(?:(\w+)\s*=\s*)?([\w.]+)\s*;`)
	jsImportRe   = regexp.MustCompile(`^\s*import\s+(?:.+?\s+from\s+)?['"]([^'"]+)['"]`)
	annotationRe = regexp.MustCompile(`^(?:@[\w.]+(?:\([^)]*\))?\s*)+`)
	requireRe    = regexp.MustCompile(`\brequire\(\s*['"]([^'"]+)['"]\s*\)`)
)

var notCallable = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "new": true, "else": true, "do": true, "try": true,
	"synchronized": true, "function": true, "typeof": true, "sizeof": true,
	"using": true, "lock": true, "foreach": true, "when": true, "super": true,
	"this": true, "throw": true, "await": true, "yield": true, "assert": true,
	"fixed": true, "checked": true, "nameof": true, "import": true,
}

// BraceHeuristic approximates a FileModel for brace-delimited languages
// from stripped line text and brace depth.
//
// It recognizes type declarations with their supertypes, methods and
// top-level functions, fields, imports and call chains. Anything it
// cannot recognize is ignored rather than reported.
type BraceHeuristic struct {
	maxFileSize int
}

// NewBraceHeuristic creates the heuristic provider.
func NewBraceHeuristic() *BraceHeuristic {
	return &BraceHeuristic{maxFileSize: DefaultMaxFileSize}
}

// Language implements Provider.
func (b *BraceHeuristic) Language() string { return "brace" }

// Supports implements Provider.
func (b *BraceHeuristic) Supports(path string) bool {
	_, ok := braceLanguages[strings.ToLower(filepath.Ext(path))]
	return ok
}

type scopeKind int

const (
	scopeBlock scopeKind = iota
	scopeType
	scopeFunc
)

type scope struct {
	kind  scopeKind
	index int
}

type pendingDecl struct {
	kind          scopeKind
	index         int
	line          int
	awaitingParen bool
}

// braceParser carries the per-file state of one Parse call.
type braceParser struct {
	lang    string
	model   *FileModel
	stack   []scope
	pending *pendingDecl
	params  strings.Builder
}

// Parse implements Provider.
func (b *BraceHeuristic) Parse(ctx context.Context, path string, content []byte) (*FileModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if len(content) > b.maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), b.maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}
	lang, ok := braceLanguages[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}

	raw := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	code := StripComments(raw)

	p := &braceParser{lang: lang, model: &FileModel{Path: path, Language: lang}}
	for i, line := range code {
		if i%512 == 0 && ctx.Err() != nil {
			return nil, fmt.Errorf("parse canceled: %w", ctx.Err())
		}
		p.line(i+1, raw[i], line)
	}
	p.closeAll(len(code))
	return p.model, nil
}

// StripComments blanks comments and string-literal contents line by
// line with spaces, keeping quotes so structure survives. Every output
// line has the byte length of its input line, so columns found in the
// stripped text are valid in the original.
func StripComments(lines []string) []string {
	out := make([]string, len(lines))
	inBlock := false
	var inString byte
	for i, line := range lines {
		b := []byte(line)
		for j := 0; j < len(b); j++ {
			c := b[j]
			switch {
			case inBlock:
				if c == '*' && j+1 < len(b) && b[j+1] == '/' {
					inBlock = false
					b[j+1] = ' '
				}
				b[j] = ' '
			case inString != 0:
				if c == '\\' && inString != '`' {
					b[j] = ' '
					if j+1 < len(b) {
						j++
						b[j] = ' '
					}
					continue
				}
				if c == inString {
					inString = 0
					continue
				}
				b[j] = ' '
			case c == '/' && j+1 < len(b) && b[j+1] == '/':
				for k := j; k < len(b); k++ {
					b[k] = ' '
				}
				j = len(b)
			case c == '/' && j+1 < len(b) && b[j+1] == '*':
				inBlock = true
				b[j], b[j+1] = ' ', ' '
				j++
			case c == '"' || c == '\'' || c == '`':
				inString = c
			}
		}
		// Only template literals span lines.
		if inString != 0 && inString != '`' {
			inString = 0
		}
		out[i] = string(b)
	}
	return out
}

func (p *braceParser) inFunc() bool {
	for _, s := range p.stack {
		if s.kind == scopeFunc {
			return true
		}
	}
	return false
}

func (p *braceParser) enclosingType() (int, bool) {
	if len(p.stack) == 0 || p.stack[len(p.stack)-1].kind != scopeType {
		return 0, false
	}
	return p.stack[len(p.stack)-1].index, true
}

func (p *braceParser) currentFunc() int {
	for i := len(p.stack) - 1; i >= 0; i-- {
		if p.stack[i].kind == scopeFunc {
			return p.stack[i].index
		}
	}
	return -1
}

func (p *braceParser) line(no int, raw, code string) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return
	}

	if len(p.stack) == 0 && p.pending == nil {
		p.header(no, raw)
	}

	declStart := 0
	if p.pending != nil && p.pending.awaitingParen {
		p.continueParams(code)
	} else if p.pending != nil && !strings.HasPrefix(trimmed, "{") {
		p.cancelPending()
	}

	if p.pending == nil && !p.inFunc() {
		if col, ok := p.declare(no, trimmed); ok {
			declStart = col
		}
	}

	if fi := p.currentFunc(); fi >= 0 {
		p.model.Functions[fi].Calls = append(p.model.Functions[fi].Calls, scanCalls(trimmed, no)...)
	} else if p.pending != nil && p.pending.kind == scopeFunc {
		if i := strings.IndexByte(trimmed, '{'); i >= 0 && i >= declStart {
			p.model.Functions[p.pending.index].Calls = append(p.model.Functions[p.pending.index].Calls, scanCalls(trimmed[i+1:], no)...)
		}
	}

	p.braces(no, code)

	if p.pending != nil && !p.pending.awaitingParen && strings.HasSuffix(trimmed, ";") {
		p.finishBodiless(no)
	}
}

// header records package and import statements outside any scope.
func (p *braceParser) header(no int, raw string) {
	if m := packageRe.FindStringSubmatch(raw); m != nil && p.model.Package == "" {
		p.model.Package = m[1]
		return
	}
	switch p.lang {
	case LangJava, LangKotlin:
		if m := javaImportRe.FindStringSubmatch(raw); m != nil {
			p.model.Imports = append(p.model.Imports, Import{Path: m[1], Alias: m[2], Line: no})
		}
	case LangCSharp:
		if m := usingRe.FindStringSubmatch(raw); m != nil {
			p.model.Imports = append(p.model.Imports, Import{Path: m[2], Alias: m[1], Line: no})
		}
	default:
		if m := jsImportRe.FindStringSubmatch(raw); m != nil {
			p.model.Imports = append(p.model.Imports, Import{Path: m[1], Line: no})
		} else if m := requireRe.FindStringSubmatch(raw); m != nil {
			p.model.Imports = append(p.model.Imports, Import{Path: m[1], Line: no})
		}
	}
}

// declare recognizes type, method, function and field declarations on a
// line outside any function body. It returns the column where the
// declaration ends.
func (p *braceParser) declare(no int, trimmed string) (int, bool) {
	if td, ok := p.typeDecl(no, trimmed); ok {
		p.model.Types = append(p.model.Types, td)
		p.pending = &pendingDecl{kind: scopeType, index: len(p.model.Types) - 1, line: no}
		return 0, true
	}

	ti, inType := p.enclosingType()
	trimmed = annotationRe.ReplaceAllString(trimmed, "")
	var name string
	switch {
	case inType && p.isEnumConstant(ti, trimmed):
	case inType:
		if m := memberRe.FindStringSubmatch(trimmed); m != nil && !notCallable[m[1]] && !strings.Contains(trimmed[:strings.IndexByte(trimmed, '(')], "=") {
			name = m[1]
		}
	case len(p.stack) == 0 && (p.lang == LangJavaScript || p.lang == LangTypeScript):
		if m := jsFuncRe.FindStringSubmatch(trimmed); m != nil {
			name = m[1]
		} else if m := jsArrowRe.FindStringSubmatch(trimmed); m != nil {
			name = m[1]
		}
	case len(p.stack) == 0 && p.lang == LangKotlin:
		if m := memberRe.FindStringSubmatch(trimmed); m != nil && strings.Contains(trimmed, "fun ") {
			name = m[1]
		}
	}

	if name == "" {
		if inType {
			p.field(ti, trimmed)
		}
		return 0, false
	}

	fn := Function{Name: name, StartLine: no, EndLine: no, ReceiverVar: "this"}
	if inType {
		fn.Receiver = p.model.Types[ti].Name
		p.model.Types[ti].Methods = append(p.model.Types[ti].Methods, name)
	}
	p.model.Functions = append(p.model.Functions, fn)
	p.pending = &pendingDecl{kind: scopeFunc, index: len(p.model.Functions) - 1, line: no}

	open := strings.IndexByte(trimmed, '(')
	p.params.Reset()
	rest := trimmed[open+1:]
	if end := matchingParen(rest); end >= 0 {
		p.params.WriteString(rest[:end])
		p.model.Functions[p.pending.index].Params = splitParams(p.params.String())
		return open + 1 + end, true
	}
	p.params.WriteString(rest)
	p.pending.awaitingParen = true
	return len(trimmed), true
}

// isEnumConstant reports lines like RED("r"), inside an enum body.
func (p *braceParser) isEnumConstant(ti int, trimmed string) bool {
	if p.model.Types[ti].Kind != KindEnum || strings.Contains(trimmed, "{") {
		return false
	}
	return strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, ";") || strings.HasSuffix(trimmed, ")")
}

func (p *braceParser) continueParams(code string) {
	if end := matchingParen(code); end >= 0 {
		p.params.WriteString(" " + code[:end])
		p.model.Functions[p.pending.index].Params = splitParams(p.params.String())
		p.pending.awaitingParen = false
		return
	}
	p.params.WriteString(" " + code)
}

func (p *braceParser) typeDecl(no int, trimmed string) (TypeDecl, bool) {
	for _, loc := range typeDeclRe.FindAllStringSubmatchIndex(trimmed, -1) {
		kw := trimmed[loc[2]:loc[3]]
		name := trimmed[loc[4]:loc[5]]
		switch name {
		case "class", "interface", "object", "extends", "implements":
			continue
		}
		if kw == "object" && p.lang != LangKotlin {
			continue
		}
		if kw == "struct" && p.lang != LangCSharp {
			continue
		}
		td := TypeDecl{Name: name, StartLine: no, EndLine: no}
		switch kw {
		case "interface":
			td.Kind = KindInterface
		case "enum":
			td.Kind = KindEnum
		case "struct":
			td.Kind = KindStruct
		default:
			td.Kind = KindClass
		}
		p.supertypes(&td, trimmed[loc[5]:])
		return td, true
	}
	return TypeDecl{}, false
}

func (p *braceParser) supertypes(td *TypeDecl, rest string) {
	if m := extendsRe.FindStringSubmatch(rest); m != nil {
		td.Extends = splitTypeList(m[1])
	}
	if m := implementsRe.FindStringSubmatch(rest); m != nil {
		td.Implements = splitTypeList(m[1])
	}
	if p.lang != LangCSharp && p.lang != LangKotlin {
		return
	}
	rest = stripBalanced(stripBalanced(rest, '<', '>'), '(', ')')
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, ":") {
		return
	}
	list := rest[1:]
	if i := strings.IndexAny(list, "{"); i >= 0 {
		list = list[:i]
	}
	if i := strings.Index(list, " where "); i >= 0 {
		list = list[:i]
	}
	for _, t := range splitTypeList(list) {
		if p.lang == LangCSharp && len(t) > 1 && t[0] == 'I' && t[1] >= 'A' && t[1] <= 'Z' {
			td.Implements = append(td.Implements, t)
			continue
		}
		td.Extends = append(td.Extends, t)
	}
}

func (p *braceParser) field(ti int, trimmed string) {
	if m := kotlinPropRe.FindStringSubmatch(trimmed); m != nil {
		p.model.Types[ti].Fields = append(p.model.Types[ti].Fields, m[1])
		return
	}
	if !strings.HasSuffix(trimmed, ";") || strings.ContainsAny(trimmed, "(){}") {
		return
	}
	decl := strings.TrimSuffix(trimmed, ";")
	if i := strings.IndexByte(decl, '='); i >= 0 {
		decl = decl[:i]
	}
	if i := strings.IndexByte(decl, ':'); i >= 0 {
		decl = decl[:i]
	}
	words := strings.Fields(decl)
	if len(words) == 0 {
		return
	}
	name := strings.Trim(words[len(words)-1], "?!")
	if name == "" || notCallable[name] || !isIdentStart(name[0]) {
		return
	}
	p.model.Types[ti].Fields = append(p.model.Types[ti].Fields, name)
}

func (p *braceParser) braces(no int, code string) {
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case '{':
			if p.pending != nil && !p.pending.awaitingParen {
				p.stack = append(p.stack, scope{kind: p.pending.kind, index: p.pending.index})
				if p.pending.kind == scopeFunc {
					p.model.Functions[p.pending.index].BodyStartLine = no
				}
				p.pending = nil
				continue
			}
			p.stack = append(p.stack, scope{kind: scopeBlock})
		case '}':
			if len(p.stack) == 0 {
				continue
			}
			top := p.stack[len(p.stack)-1]
			p.stack = p.stack[:len(p.stack)-1]
			p.close(top, no)
		}
	}
}

func (p *braceParser) close(s scope, no int) {
	switch s.kind {
	case scopeType:
		t := &p.model.Types[s.index]
		t.EndLine = no
		t.Size = t.Lines()
	case scopeFunc:
		p.model.Functions[s.index].EndLine = no
	}
}

func (p *braceParser) closeAll(last int) {
	for len(p.stack) > 0 {
		top := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		p.close(top, last)
	}
	p.pending = nil
}

// finishBodiless handles declarations terminated by ';' (abstract and
// interface methods, forward declarations).
func (p *braceParser) finishBodiless(no int) {
	if p.pending.kind == scopeType {
		t := &p.model.Types[p.pending.index]
		t.EndLine = no
		t.Size = t.Lines()
	} else {
		p.model.Functions[p.pending.index].EndLine = no
	}
	p.pending = nil
}

// cancelPending drops a declaration that never opened a body, keeping
// methods (they are still members) but not top-level arrow functions.
func (p *braceParser) cancelPending() {
	if p.pending.kind == scopeType {
		t := &p.model.Types[p.pending.index]
		t.Size = t.Lines()
	}
	p.pending = nil
}

func matchingParen(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

func stripBalanced(s string, open, close byte) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == open:
			depth++
		case s[i] == close && depth > 0:
			depth--
		case depth == 0:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(', '[', '{':
			depth++
		case '>', ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func splitTypeList(s string) []string {
	var out []string
	for _, part := range splitTopLevel(s) {
		t := strings.TrimSpace(stripBalanced(stripBalanced(part, '<', '>'), '(', ')'))
		if f := strings.Fields(t); len(f) > 0 {
			t = f[0]
		}
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitParams extracts parameter names from a parameter list.
func splitParams(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	var names []string
	for _, part := range splitTopLevel(list) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			part = part[:i]
		}
		var name string
		if i := strings.IndexByte(part, ':'); i >= 0 {
			f := strings.Fields(part[:i])
			if len(f) > 0 {
				name = f[len(f)-1]
			}
		} else {
			f := strings.Fields(stripBalanced(part, '<', '>'))
			if len(f) > 0 {
				name = f[len(f)-1]
			}
		}
		name = strings.TrimLeft(name, ".@")
		name = strings.TrimRight(name, "?")
		if name == "" {
			name = "_"
		}
		names = append(names, name)
	}
	return names
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

type segment struct {
	name   string
	called bool
}

// scanCalls finds call chains on one stripped line. Every called segment
// of a chain yields a Call whose Chain is the number of links before it.
func scanCalls(s string, line int) []Call {
	var calls []Call
	i := 0
	for i < len(s) {
		c := s[i]
		if !isIdentStart(c) || (i > 0 && (isIdentPart(s[i-1]) || s[i-1] == '.')) {
			i++
			continue
		}
		var segs []segment
		j := i
		for {
			k := j
			for k < len(s) && isIdentPart(s[k]) {
				k++
			}
			seg := segment{name: s[j:k]}
			k = skipSpaces(s, k)
			if k < len(s) && s[k] == '(' {
				end := matchingParen(s[k+1:])
				args := s[k+1:]
				if end >= 0 {
					args = s[k+1 : k+1+end]
					k = k + 1 + end + 1
				} else {
					k = len(s)
				}
				calls = append(calls, scanCalls(args, line)...)
				seg.called = true
			}
			segs = append(segs, seg)
			k = skipSpaces(s, k)
			if k+1 < len(s) && s[k] == '?' && s[k+1] == '.' {
				k++
			}
			if k < len(s) && s[k] == '.' {
				k = skipSpaces(s, k+1)
				if k < len(s) && isIdentStart(s[k]) {
					j = k
					continue
				}
			}
			i = k
			break
		}
		for idx, seg := range segs {
			if !seg.called || notCallable[seg.name] {
				continue
			}
			call := Call{Name: seg.name, Chain: idx, Line: line}
			if idx > 0 {
				call.Receiver = segs[0].name
			}
			calls = append(calls, call)
		}
	}
	return calls
}

func skipSpaces(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

var _ Provider = (*BraceHeuristic)(nil)
