package chapter

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"html2epub/downloader"
	"html2epub/sanitize"
	"html2epub/utils"
)

// Sanitizer 清理抓取到的 HTML
type Sanitizer interface {
	Clean(html string) (string, error)
}

type SanitizerFunc func(html string) (string, error)

func (f SanitizerFunc) Clean(html string) (string, error) {
	return f(html)
}

// Normalizer 把 HTML 转成 XHTML
type Normalizer interface {
	ToXHTML(html string) (string, error)
}

type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Factory 从 URL、文件或字符串创建章节
type Factory struct {
	sanitizer  Sanitizer
	normalizer Normalizer
	fetcher    PageFetcher
	encoding   string
}

type FactoryOption func(*Factory)

func WithSanitizer(s Sanitizer) FactoryOption {
	return func(f *Factory) {
		f.sanitizer = s
	}
}

func WithNormalizer(n Normalizer) FactoryOption {
	return func(f *Factory) {
		f.normalizer = n
	}
}

func WithFetcher(p PageFetcher) FactoryOption {
	return func(f *Factory) {
		f.fetcher = p
	}
}

// WithEncoding 强制使用指定编码解码网页和文件
func WithEncoding(encoding string) FactoryOption {
	return func(f *Factory) {
		f.encoding = encoding
	}
}

func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{}
	for _, opt := range opts {
		opt(f)
	}
	cleaner := sanitize.New()
	if f.sanitizer == nil {
		f.sanitizer = cleaner
	}
	if f.normalizer == nil {
		f.normalizer = cleaner
	}
	if f.fetcher == nil {
		f.fetcher = downloader.NewHTTPFetcher(nil, f.encoding, nil)
	}
	return f
}

// FromURL 下载网页并创建章节, title 为空时使用网页的 <title>
func (f *Factory) FromURL(ctx context.Context, rawURL, title string) (*Chapter, error) {
	page, err := f.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chapter %s: %w", rawURL, err)
	}
	return f.FromString(page, rawURL, title)
}

// FromFile 读取本地 HTML 文件. rawURL 可为空, 用于解析相对图片地址.
func (f *Factory) FromFile(path, rawURL, title string) (*Chapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chapter file %s: %w", path, err)
	}
	page, err := utils.DecodeHTML(data, "", f.encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chapter file %s: %w", path, err)
	}
	return f.FromString(page, rawURL, title)
}

func (f *Factory) FromString(html, rawURL, title string) (*Chapter, error) {
	if strings.TrimSpace(title) == "" {
		title = TitleOf(html)
	}
	cleaned, err := f.sanitizer.Clean(html)
	if err != nil {
		return nil, fmt.Errorf("failed to clean chapter %q: %w", title, err)
	}
	content, err := f.normalizer.ToXHTML(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize chapter %q: %w", title, err)
	}
	return New(content, title, rawURL)
}

// TitleOf 返回 HTML 的 <title>, 没有时返回 DefaultTitle
func TitleOf(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return DefaultTitle
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return DefaultTitle
	}
	return title
}

// Default 是包级别共享的 Factory
var Default = sync.OnceValue(func() *Factory {
	return NewFactory()
})

func FromURL(ctx context.Context, rawURL, title string) (*Chapter, error) {
	return Default().FromURL(ctx, rawURL, title)
}

func FromFile(path, rawURL, title string) (*Chapter, error) {
	return Default().FromFile(path, rawURL, title)
}

func FromString(html, rawURL, title string) (*Chapter, error) {
	return Default().FromString(html, rawURL, title)
}
