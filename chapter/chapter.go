// Package chapter 表示 epub 中的一个章节: 一段 XHTML、标题以及本地化后的图片.
package chapter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/a-h/templ"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"html2epub/model"
	"html2epub/resolver"
)

const (
	DefaultTitle = "Untitled Chapter"
	Extension    = ".xhtml"
	ImagesDir    = "images"
)

var (
	ErrEmptyContent     = errors.New("chapter content is empty")
	ErrEmptyTitle       = errors.New("chapter title is empty")
	ErrNoSourceURL      = errors.New("chapter has no source url")
	ErrBadExtension     = errors.New("chapter file must have " + Extension + " extension")
	ErrAlreadyLocalized = errors.New("chapter images already localized")
	ErrNoImageDir       = resolver.ErrNoImageDir
)

// ImageResolver 把一个图片引用落地到 destDir
type ImageResolver interface {
	Resolve(ctx context.Context, reference, destDir, name string) (*resolver.Result, error)
}

type Chapter struct {
	content   string
	title     string
	sourceURL string
	images    []model.ImageRecord
	localized bool
	skipped   error
}

func New(content, title, sourceURL string) (*Chapter, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}
	return &Chapter{content: content, title: title, sourceURL: sourceURL}, nil
}

func (c *Chapter) Content() string {
	return c.content
}

func (c *Chapter) Title() string {
	return c.title
}

// EscapedTitle 返回可以直接放进 XML 的标题
func (c *Chapter) EscapedTitle() string {
	return templ.EscapeString(c.title)
}

func (c *Chapter) Images() []model.ImageRecord {
	images := make([]model.ImageRecord, len(c.images))
	copy(images, c.images)
	return images
}

func (c *Chapter) SourceURL() (string, error) {
	if c.sourceURL == "" {
		return "", ErrNoSourceURL
	}
	return c.sourceURL, nil
}

// SkippedImages 返回本地化时被丢弃的图片的错误, 没有时为 nil
func (c *Chapter) SkippedImages() error {
	return c.skipped
}

type slot struct {
	sel       *goquery.Selection
	reference string
	result    *resolver.Result
	err       error
}

// LocalizeImages 下载章节中的所有图片到 ebookDir/images 并改写 src.
// 无法获取的图片会从正文中删除, 不会导致失败.
func (c *Chapter) LocalizeImages(ctx context.Context, ebookDir string, r ImageResolver, workers int, log *zap.Logger) error {
	if c.localized {
		return ErrAlreadyLocalized
	}
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}

	imagesDir := filepath.Join(ebookDir, ImagesDir)
	if info, err := os.Stat(imagesDir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNoImageDir, imagesDir)
	}

	declaration, body := splitDeclaration(c.content)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse chapter %q: %w", c.title, err)
	}

	var slots []*slot
	doc.Find("img[src]").Each(func(i int, s *goquery.Selection) {
		slots = append(slots, &slot{sel: s, reference: c.absoluteReference(s.AttrOr("src", ""))})
	})

	var g errgroup.Group
	g.SetLimit(workers)
	for _, s := range slots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				s.err = err
				return nil
			}
			s.result, s.err = r.Resolve(ctx, s.reference, imagesDir, "")
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to localize images of %q: %w", c.title, err)
	}

	var (
		images  []model.ImageRecord
		skipped error
	)
	for _, s := range slots {
		if s.err != nil {
			if errors.Is(s.err, ErrNoImageDir) {
				return s.err
			}
			log.Warn("Dropping image",
				zap.String("chapter", c.title),
				zap.String("src", s.reference),
				zap.Error(s.err))
			skipped = multierr.Append(skipped, s.err)
			s.sel.Remove()
			continue
		}
		record := model.ImageRecord{
			Link: ImagesDir + "/" + s.result.Name + "." + s.result.Type,
			ID:   s.result.Name,
			Type: s.result.Type,
		}
		s.sel.SetAttr("src", record.Link)
		images = append(images, record)
	}

	rendered, err := render(doc, htmlTag.MatchString(body))
	if err != nil {
		return fmt.Errorf("failed to render chapter %q: %w", c.title, err)
	}
	if declaration != "" {
		rendered = declaration + "\n" + rendered
	}

	c.content = rendered
	c.images = images
	c.skipped = skipped
	c.localized = true

	log.Debug("Localized images",
		zap.String("chapter", c.title),
		zap.Int("images", len(images)),
		zap.Int("dropped", len(slots)-len(images)))
	return nil
}

// absoluteReference 以来源 URL 为目录解析相对引用
func (c *Chapter) absoluteReference(src string) string {
	src = strings.TrimSpace(src)
	if c.sourceURL == "" {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil || ref.IsAbs() {
		return src
	}
	base, err := url.Parse(c.sourceURL)
	if err != nil {
		return src
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(ref).String()
}

// WriteTo 把章节内容原样写入 path
func (c *Chapter) WriteTo(path string) error {
	if filepath.Ext(path) != Extension {
		return fmt.Errorf("%w: %s", ErrBadExtension, path)
	}
	if err := os.WriteFile(path, []byte(c.content), 0644); err != nil {
		return fmt.Errorf("failed to write chapter %s: %w", path, err)
	}
	return nil
}

var htmlTag = regexp.MustCompile(`(?i)<html[\s>/]`)

// render 输出整个文档; 原内容只是片段时只输出 head 和 body 中的节点, 不补 html 外壳
func render(doc *goquery.Document, document bool) (string, error) {
	if document {
		return goquery.OuterHtml(doc.Selection)
	}
	head, err := doc.Find("head").Html()
	if err != nil {
		return "", err
	}
	body, err := doc.Find("body").Html()
	if err != nil {
		return "", err
	}
	return head + body, nil
}

func splitDeclaration(content string) (string, string) {
	trimmed := strings.TrimLeft(content, " \t\r\n\ufeff")
	if !strings.HasPrefix(trimmed, "<?xml") {
		return "", content
	}
	end := strings.Index(trimmed, "?>")
	if end < 0 {
		return "", content
	}
	return trimmed[:end+2], strings.TrimLeft(trimmed[end+2:], " \t\r\n")
}
