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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJavaOrder = `package com.acme.orders;

import java.util.List;
import com.acme.pricing.PriceService;

/* Orders { not a brace } */
@Entity
public class OrderService extends BaseService implements Auditable, Closeable {
    private final PriceService prices;
    private int count = 0;

    @Override
    public void submit(Order order, Customer customer, String note) {
        // customer.ignored().call()
        String s = "call(me)";
        order.lines().first().price().amount();
        this.validate(order);
    }

    public int getCount() { return count; }

    abstract void close();
}

interface Auditable {
    void audit(String who);
}

enum Color {
    RED("r"),
    GREEN("g");

    Color(String code) {
    }
}
`

func TestBraceHeuristic_Java(t *testing.T) {
	b := NewBraceHeuristic()
	require.True(t, b.Supports("src/OrderService.java"))

	m, err := b.Parse(context.Background(), "src/OrderService.java", []byte(testJavaOrder))
	require.NoError(t, err)

	assert.Equal(t, LangJava, m.Language)
	assert.Equal(t, "com.acme.orders", m.Package)
	require.Len(t, m.Imports, 2)
	assert.Equal(t, "PriceService", m.Imports[1].Name())

	svc, ok := m.Type("OrderService")
	require.True(t, ok)
	assert.Equal(t, KindClass, svc.Kind)
	assert.Equal(t, []string{"BaseService"}, svc.Extends)
	assert.Equal(t, []string{"Auditable", "Closeable"}, svc.Implements)
	assert.Equal(t, []string{"prices", "count"}, svc.Fields)
	assert.Equal(t, []string{"submit", "getCount", "close"}, svc.Methods)
	assert.Equal(t, 8, svc.StartLine)
	assert.Equal(t, 23, svc.EndLine)

	audit, ok := m.Type("Auditable")
	require.True(t, ok)
	assert.Equal(t, KindInterface, audit.Kind)
	assert.Equal(t, []string{"audit"}, audit.Methods)

	color, ok := m.Type("Color")
	require.True(t, ok)
	assert.Equal(t, []string{"Color"}, color.Methods)

	fns := m.MethodsOf("OrderService")
	require.Len(t, fns, 3)
	submit := fns[0]
	assert.Equal(t, []string{"order", "customer", "note"}, submit.Params)
	assert.Equal(t, 13, submit.StartLine)
	assert.Equal(t, 18, submit.EndLine)
	assert.Equal(t, "this", submit.ReceiverVar)

	var names []string
	maxChain := 0
	for _, c := range submit.Calls {
		names = append(names, c.Name)
		maxChain = max(maxChain, c.Chain)
	}
	assert.ElementsMatch(t, []string{"lines", "first", "price", "amount", "validate"}, names)
	assert.Equal(t, 4, maxChain)

	getCount := fns[1]
	assert.Equal(t, 20, getCount.StartLine)
	assert.Equal(t, 20, getCount.EndLine)
}

const testTSWidget = `import { Component } from "react";
const util = require("./util");

export class Widget extends Component {
  render(props: Props, ctx?: Context) {
    return util.format(props.name);
  }
}

export async function loadWidgets(url: string) {
  const res = await fetch(url);
  return res.json();
}

export const toLabel = (w: Widget) => {
  return w.label();
};
`

func TestBraceHeuristic_TypeScript(t *testing.T) {
	m, err := NewBraceHeuristic().Parse(context.Background(), "ui/widget.ts", []byte(testTSWidget))
	require.NoError(t, err)

	require.Len(t, m.Imports, 2)
	assert.Equal(t, "react", m.Imports[0].Path)
	assert.Equal(t, "./util", m.Imports[1].Path)

	w, ok := m.Type("Widget")
	require.True(t, ok)
	assert.Equal(t, []string{"Component"}, w.Extends)

	require.Len(t, m.Functions, 3)
	assert.Equal(t, "render", m.Functions[0].Name)
	assert.Equal(t, []string{"props", "ctx"}, m.Functions[0].Params)
	assert.Equal(t, "loadWidgets", m.Functions[1].Name)
	assert.Equal(t, "", m.Functions[1].Receiver)
	assert.Equal(t, "toLabel", m.Functions[2].Name)
}

func TestBraceHeuristic_CSharpSupertypes(t *testing.T) {
	src := "namespace Shop {\npublic class Cart : BaseCart, IDisposable\n{\n  public void Dispose() {}\n}\n}\n"
	m, err := NewBraceHeuristic().Parse(context.Background(), "Cart.cs", []byte(src))
	require.NoError(t, err)

	cart, ok := m.Type("Cart")
	require.True(t, ok)
	assert.Equal(t, []string{"BaseCart"}, cart.Extends)
	assert.Equal(t, []string{"IDisposable"}, cart.Implements)
	assert.Equal(t, []string{"Dispose"}, cart.Methods)
}

func TestStripComments(t *testing.T) {
	in := []string{
		`a(); // b()`,
		`/* start`,
		`still comment */ c("x(y)");`,
		`h("33333", 33) /* 7 */ + 8`,
		`s := "a\"b" + 'c'`,
	}
	out := StripComments(in)
	assert.Equal(t, []string{
		"a();       ",
		"        ",
		strings.Repeat(" ", 16) + ` c("    ");`,
		`h("     ", 33)         + 8`,
		`s := "    " + ' '`,
	}, out)
	for i := range in {
		assert.Len(t, out[i], len(in[i]), "line %d keeps its width", i+1)
	}
}
