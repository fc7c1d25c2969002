// Package downloader 获取章节网页的 HTML.
package downloader

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"html2epub/utils"
)

var (
	ErrFetchFailed    = errors.New("fetch failed")
	ErrBadCertificate = errors.New("invalid ssl certificate")
)

// Fetcher 返回网页的 HTML(已转成 UTF-8)
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

type HTTPFetcher struct {
	client   *utils.RestyClient
	encoding string
	log      *zap.Logger
}

// NewHTTPFetcher encoding 为空时自动识别网页编码
func NewHTTPFetcher(client *utils.RestyClient, encoding string, log *zap.Logger) *HTTPFetcher {
	if client == nil {
		client = utils.NewRestyClient(utils.RestyOptions{})
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPFetcher{client: client, encoding: encoding, log: log}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := checkURL(rawURL); err != nil {
		return "", err
	}

	f.log.Debug("Fetching page", zap.String("url", rawURL))
	headers := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9,zh-CN;q=0.8",
	}
	resp, err := f.client.R().SetContext(ctx).SetHeaders(headers).Get(rawURL)
	if err != nil {
		if isCertificateError(err) {
			return "", fmt.Errorf("%w: url %s doesn't have valid SSL certificate: %w", ErrBadCertificate, rawURL, err)
		}
		return "", fmt.Errorf("%w: %s is an invalid url or no network connection: %w", ErrFetchFailed, rawURL, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: %s: %v", ErrFetchFailed, rawURL, resp.Status())
	}

	page, err := utils.DecodeHTML(resp.Body(), resp.Header().Get("Content-Type"), f.encoding)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFetchFailed, rawURL, err)
	}
	return page, nil
}

func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %s is an invalid url: %w", ErrFetchFailed, rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s is an invalid url", ErrFetchFailed, rawURL)
	}
	return nil
}

func isCertificateError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}
