// Package transforms provides the pure content transforms that build scripts
// call through markdown_to_html and minify_html.
//
// Transforms are deterministic: the same input always yields the same output,
// so their results never need to be recorded in a task's trace.
package transforms

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/openfroyo/stardrive/pkg/engine"
)

const mimeHTML = "text/html"

var jsMimeType = regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$")

// Options configures the transforms.
type Options struct {
	// GFM enables GitHub Flavored Markdown (tables, strikethrough, autolinks
	// and task lists).
	GFM bool

	// UnsafeHTML passes raw HTML in Markdown through instead of omitting it.
	UnsafeHTML bool

	// HeadingIDs adds id attributes to headings.
	HeadingIDs bool
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{GFM: true, UnsafeHTML: true, HeadingIDs: true}
}

// Transformer renders Markdown and minifies HTML.
type Transformer struct {
	markdown goldmark.Markdown
	minifier *minify.M
}

var _ engine.Transformer = (*Transformer)(nil)

// New creates a Transformer.
func New(opts Options) *Transformer {
	var mdOpts []goldmark.Option
	if opts.GFM {
		mdOpts = append(mdOpts, goldmark.WithExtensions(extension.GFM))
	}
	if opts.HeadingIDs {
		mdOpts = append(mdOpts, goldmark.WithParserOptions(parser.WithAutoHeadingID()))
	}
	if opts.UnsafeHTML {
		mdOpts = append(mdOpts, goldmark.WithRendererOptions(gmhtml.WithUnsafe()))
	}

	m := minify.New()
	m.Add(mimeHTML, &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	m.AddFuncRegexp(jsMimeType, js.Minify)

	return &Transformer{
		markdown: goldmark.New(mdOpts...),
		minifier: m,
	}
}

// MarkdownToHTML renders Markdown source to an HTML fragment.
func (t *Transformer) MarkdownToHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := t.markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

// MinifyHTML minifies an HTML document or fragment, including inline styles
// and scripts.
func (t *Transformer) MinifyHTML(src string) (string, error) {
	out, err := t.minifier.String(mimeHTML, src)
	if err != nil {
		return "", engine.NewInvalidArgumentError(fmt.Sprintf("failed to minify html: %v", err))
	}
	return out, nil
}
