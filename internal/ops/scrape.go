package ops

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/pkg/logger"
)

// ScrapeParams 是 scrape 的参数。
type ScrapeParams struct {
	URL      *url.URL
	Filename string
}

// Scrape 抓取网页，解析后以规范化缩进格式写入数据目录。
type Scrape struct {
	env Env
}

// NewScrape 创建 scrape 操作。
func NewScrape(env Env) *Scrape {
	return &Scrape{env: env.withDefaults()}
}

// Descriptor 实现 engine.Operation。
func (s *Scrape) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Name:         "scrape",
		Summary:      "GET an HTML page, normalise it and save the pretty-printed document",
		Required:     []string{"url", "filename"},
		Idempotent:   true,
		Capabilities: []engine.Capability{engine.CapabilityNetwork, engine.CapabilityFilesystem},
	}
}

// Run 实现 engine.Operation。
func (s *Scrape) Run(ctx context.Context, params engine.Params) (*engine.Result, error) {
	fp, err := decodeFetch(params)
	if err != nil {
		return nil, err
	}
	p := ScrapeParams(fp)
	target, err := s.env.FS.Resolve(p.Filename)
	if err != nil {
		return nil, err
	}

	body, err := s.env.download(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOperationFailed, err, "解析 HTML 失败")
	}
	var buf bytes.Buffer
	if err := Prettify(&buf, doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOperationFailed, err, "格式化 HTML 失败")
	}

	var written string
	err = s.env.withLock(ctx, target, func() error {
		var writeErr error
		written, writeErr = s.env.FS.WriteFile(target, buf.Bytes())
		return writeErr
	})
	if err != nil {
		return nil, err
	}

	logger.Named("ops").Info("网页已保存",
		slog.String("task", "scrape"),
		slog.String("url", p.URL.Redacted()),
		slog.String("path", written),
	)
	return &engine.Result{
		Message: fmt.Sprintf("Scraped data saved to %s", written),
		Output:  map[string]any{"path": written, "bytes": buf.Len()},
	}, nil
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// 这些元素的内容对空白敏感或被解析器当作原始文本，整体交给 html.Render 原样输出。
var verbatimElements = map[string]bool{
	"pre": true, "textarea": true, "script": true, "style": true,
	"noscript": true, "iframe": true, "xmp": true, "noembed": true,
	"noframes": true, "plaintext": true,
}

type writer interface {
	WriteString(string) (int, error)
}

// Prettify 以每层一个空格的缩进输出文档树，重新解析后得到等价的文档。
func Prettify(w writer, n *html.Node) error {
	p := &prettyPrinter{w: w}
	p.node(n, 0)
	return p.err
}

type prettyPrinter struct {
	w   writer
	err error
	// plaintext 之后的内容都会被解析为它的文本，不能再输出任何东西。
	done bool
}

func (p *prettyPrinter) write(parts ...string) {
	for _, s := range parts {
		if p.err != nil || p.done {
			return
		}
		_, p.err = p.w.WriteString(s)
	}
}

func (p *prettyPrinter) line(depth int, s string) {
	p.write(strings.Repeat(" ", depth), s, "\n")
}

func (p *prettyPrinter) node(n *html.Node, depth int) {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			p.node(c, depth)
		}
	case html.DoctypeNode:
		p.line(depth, "<!DOCTYPE "+n.Data+">")
	case html.CommentNode:
		p.line(depth, "<!--"+n.Data+"-->")
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text == "" {
			return
		}
		p.line(depth, html.EscapeString(collapseSpace(text)))
	case html.ElementNode:
		p.element(n, depth)
	}
}

func (p *prettyPrinter) element(n *html.Node, depth int) {
	if verbatimElements[n.Data] {
		var buf bytes.Buffer
		if err := html.Render(&buf, n); err != nil {
			p.err = err
			return
		}
		if n.Data == "plaintext" {
			p.write(strings.Repeat(" ", depth), buf.String())
			p.done = true
			return
		}
		p.line(depth, buf.String())
		return
	}
	p.line(depth, openTag(n))
	if voidElements[n.Data] {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.node(c, depth+1)
	}
	p.line(depth, "</"+n.Data+">")
}

func openTag(n *html.Node) string {
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(n.Data)
	for _, a := range n.Attr {
		b.WriteString(" ")
		if a.Namespace != "" {
			b.WriteString(a.Namespace)
			b.WriteString(":")
		}
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.Val))
		b.WriteString(`"`)
	}
	b.WriteString(">")
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
