// Package sanitize 是 chapter 默认使用的 HTML 清理与 XHTML 规范化实现.
package sanitize

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	XMLDeclaration = `<?xml version="1.0" encoding="UTF-8"?>`
	XHTMLDoctype   = `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.1//EN" "http://www.w3.org/TR/xhtml11/DTD/xhtml11.dtd">`
	XHTMLNamespace = "http://www.w3.org/1999/xhtml"
)

// 阅读器里没有意义或者不安全的标签
var removedTags = []string{
	"script", "noscript", "style", "iframe", "frame", "frameset", "object", "embed",
	"applet", "form", "input", "button", "select", "textarea", "link", "meta", "base",
	"canvas", "audio", "video", "source", "svg",
	// 原始文本元素, html.Render 不会转义其中的内容
	"xmp", "noembed", "noframes", "plaintext",
}

var xmlName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.:-]*$`)

type Cleaner struct{}

func New() *Cleaner {
	return &Cleaner{}
}

// Clean 去掉脚本、表单、内嵌对象和事件属性
func (c *Cleaner) Clean(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find(strings.Join(removedTags, ",")).Remove()
	doc.Find("*").Each(func(i int, s *goquery.Selection) {
		node := s.Get(0)
		kept := node.Attr[:0]
		for _, attr := range node.Attr {
			key := strings.ToLower(attr.Key)
			if strings.HasPrefix(key, "on") {
				continue
			}
			if (key == "href" || key == "src") &&
				strings.HasPrefix(strings.ToLower(strings.TrimSpace(attr.Val)), "javascript:") {
				continue
			}
			kept = append(kept, attr)
		}
		node.Attr = kept
	})

	// 只有 data-src 的懒加载图片
	doc.Find("img:not([src])[data-src]").Each(func(i int, s *goquery.Selection) {
		s.SetAttr("src", s.AttrOr("data-src", ""))
	})

	return goquery.OuterHtml(doc.Selection)
}

// ToXHTML 把任意 HTML 规范化为 XHTML 文档: xml 声明、XHTML doctype、命名空间、自闭合空标签
func (c *Cleaner) ToXHTML(raw string) (string, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var dropped []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.DoctypeNode:
			dropped = append(dropped, n)
		case html.CommentNode:
			// html 解析器把 <?xml ...?> 当成注释
			if strings.HasPrefix(n.Data, "?xml") {
				dropped = append(dropped, n)
			}
		case html.ElementNode:
			kept := n.Attr[:0]
			for _, attr := range n.Attr {
				if attr.Namespace == "" && !xmlName.MatchString(attr.Key) {
					continue
				}
				kept = append(kept, attr)
			}
			n.Attr = kept
			if n.DataAtom == atom.Html {
				setAttr(n, "xmlns", XHTMLNamespace)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)
	for _, n := range dropped {
		n.Parent.RemoveChild(n)
	}

	var buf bytes.Buffer
	buf.WriteString(XMLDeclaration)
	buf.WriteString("\n")
	buf.WriteString(XHTMLDoctype)
	buf.WriteString("\n")
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("failed to render xhtml: %w", err)
	}
	return buf.String(), nil
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
