package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"html2epub/utils"
)

// BrowserFetcher 用无头浏览器渲染网页, 适用于正文由 JavaScript 生成的站点
type BrowserFetcher struct {
	timeout time.Duration
	log     *zap.Logger

	// 浏览器实例复用
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewBrowserFetcher(timeout time.Duration, log *zap.Logger) (*BrowserFetcher, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &BrowserFetcher{timeout: timeout, log: log}
	if err := b.initBrowser(); err != nil {
		return nil, fmt.Errorf("failed to init browser: %w", err)
	}
	return b, nil
}

func (b *BrowserFetcher) initBrowser() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(utils.DefaultUserAgent),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	// 预热浏览器
	if err := chromedp.Run(b.browserCtx, chromedp.Navigate("about:blank")); err != nil {
		b.Close()
		return err
	}

	b.log.Debug("Browser initialized")
	return nil
}

func (b *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := checkURL(rawURL); err != nil {
		return "", err
	}

	// 每个页面一个标签页
	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx)
	defer tabCancel()
	taskCtx, cancel := context.WithTimeout(tabCtx, b.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	b.log.Debug("Rendering page", zap.String("url", rawURL))

	var page string
	err := chromedp.Run(taskCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Charset": "utf-8"}),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err != nil {
		if isCertificateError(err) {
			return "", fmt.Errorf("%w: url %s doesn't have valid SSL certificate: %w", ErrBadCertificate, rawURL, err)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrFetchFailed, rawURL, err)
	}
	return page, nil
}

// Close 关闭浏览器
func (b *BrowserFetcher) Close() error {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}
