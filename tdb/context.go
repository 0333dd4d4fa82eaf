// Copyright 2023-2024 The Tern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tdb

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
)

// StringCompareMode names a comparator for string ordering. The mode is
// stored on the Context and returned by StringCompare; the query evaluator
// and the search indexes do not consult it.
type StringCompareMode int

const (
	// CompareOrdered orders strings bytewise.
	CompareOrdered StringCompareMode = iota
	// CompareFold orders strings case-insensitively, folding before the
	// bytewise compare.
	CompareFold
)

// Context carries per-operation state through the parser, evaluator and
// index: logger, tracer and comparator choice. It is threaded explicitly
// instead of living in globals.
type Context struct {
	context.Context
	logger  *logrus.Entry
	tracer  opentracing.Tracer
	compare StringCompareMode
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithLogger sets the logger entry.
func WithLogger(l *logrus.Entry) ContextOption {
	return func(ctx *Context) { ctx.logger = l }
}

// WithTracer sets the tracer used for query spans.
func WithTracer(t opentracing.Tracer) ContextOption {
	return func(ctx *Context) { ctx.tracer = t }
}

// WithStringCompare sets the string comparator mode.
func WithStringCompare(m StringCompareMode) ContextOption {
	return func(ctx *Context) { ctx.compare = m }
}

// NewContext builds a Context on top of a standard context.
func NewContext(ctx context.Context, opts ...ContextOption) *Context {
	c := &Context{Context: ctx}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.tracer == nil {
		c.tracer = opentracing.NoopTracer{}
	}
	return c
}

// NewEmptyContext builds a Context with defaults, for callers that have no
// ambient context.
func NewEmptyContext() *Context { return NewContext(context.Background()) }

// Logger returns the logger entry.
func (c *Context) Logger() *logrus.Entry { return c.logger }

// StringCompare returns the configured comparator mode.
func (c *Context) StringCompare() StringCompareMode { return c.compare }

// Span opens a tracing span with the given operation name. Finish the
// returned span when the operation completes.
func (c *Context) Span(opName string, opts ...opentracing.StartSpanOption) opentracing.Span {
	return c.tracer.StartSpan(opName, opts...)
}
