package epub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"
	"github.com/beevik/etree"

	"html2epub/chapter"
	"html2epub/model"
	"html2epub/template"
)

var (
	ErrFieldLengthMismatch = errors.New("chapter field lists have different lengths")
	ErrMalformedManifest   = errors.New("rendered manifest is not well-formed xml")
)

// Lists 是按章节顺序排列的平行字段列表
type Lists struct {
	Titles []string
	Links  []string
	Images [][]model.ImageRecord
}

// ListsOf 从章节列表生成平行列表, 第 i 章的链接为 <i>.xhtml
func ListsOf(chapters []*chapter.Chapter) Lists {
	var l Lists
	for i, c := range chapters {
		l.Titles = append(l.Titles, c.Title())
		l.Links = append(l.Links, ChapterFile(i))
		l.Images = append(l.Images, c.Images())
	}
	return l
}

// ChapterFile 返回第 index 章在 OEBPS 中的文件名
func ChapterFile(index int) string {
	return strconv.Itoa(index) + chapter.Extension
}

type document struct {
	model.Metadata
	UID      string
	Chapters []model.ManifestChapter
}

// Generator 渲染 toc.html、toc.ncx 和 content.opf
type Generator struct {
	templates *template.Set
}

func NewGenerator(t *template.Set) *Generator {
	return &Generator{templates: t}
}

func (g *Generator) TocHTML(meta model.Metadata, l Lists) (templ.Component, error) {
	if len(l.Titles) != len(l.Links) {
		return nil, mismatch("titles", len(l.Titles), "links", len(l.Links))
	}
	rows := make([]model.ManifestChapter, len(l.Links))
	for i := range l.Links {
		rows[i] = model.ManifestChapter{ID: i, Title: l.Titles[i], Link: l.Links[i]}
	}
	return template.Render(g.templates.TocHTML, document{Metadata: meta, Chapters: rows}), nil
}

func (g *Generator) TocNCX(meta model.Metadata, uid string, l Lists) (templ.Component, error) {
	if len(l.Titles) != len(l.Links) {
		return nil, mismatch("titles", len(l.Titles), "links", len(l.Links))
	}
	rows := make([]model.ManifestChapter, len(l.Links))
	for i := range l.Links {
		rows[i] = model.ManifestChapter{ID: i, PlayOrder: i + 1, Title: l.Titles[i], Link: l.Links[i]}
	}
	data := document{Metadata: meta, UID: uid, Chapters: rows}
	return wellFormed(template.TocNCXName, template.Render(g.templates.TocNCX, data)), nil
}

func (g *Generator) ContentOPF(meta model.Metadata, uid string, l Lists) (templ.Component, error) {
	if len(l.Links) != len(l.Images) {
		return nil, mismatch("links", len(l.Links), "images", len(l.Images))
	}
	rows := make([]model.ManifestChapter, len(l.Links))
	for i := range l.Links {
		rows[i] = model.ManifestChapter{ID: i, Link: l.Links[i], Images: l.Images[i]}
	}
	data := document{Metadata: meta, UID: uid, Chapters: rows}
	return wellFormed(template.ContentOPFName, template.Render(g.templates.ContentOPF, data)), nil
}

func mismatch(a string, la int, b string, lb int) error {
	return fmt.Errorf("%w: %d %s, %d %s", ErrFieldLengthMismatch, la, a, lb, b)
}

// wellFormed 先渲染到内存, 用 etree 解析通过后再写出
func wellFormed(name string, c templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var buf bytes.Buffer
		if err := c.Render(ctx, &buf); err != nil {
			return fmt.Errorf("failed to render %s: %w", name, err)
		}
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(buf.Bytes()); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformedManifest, name, err)
		}
		if doc.Root() == nil {
			return fmt.Errorf("%w: %s has no root element", ErrMalformedManifest, name)
		}
		_, err := w.Write(buf.Bytes())
		return err
	})
}
