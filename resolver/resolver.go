// Package resolver 把图片引用(远程 URL、本地路径或 data URL)落地到指定目录.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"

	"html2epub/utils"
)

var (
	// ErrUnresolvableImage 表示图片无法获取或无法识别类型, 调用方可以忽略这张图片
	ErrUnresolvableImage = errors.New("unresolvable image")
	// ErrNoImageDir 表示目标目录不存在, 这是配置错误
	ErrNoImageDir = errors.New("image directory does not exist")
)

var suffixTypes = []string{"jpg", "jpeg", "gif", "png"}

type Result struct {
	Path string // 图片落地后的完整路径
	Name string // 文件名(不含后缀)
	Type string // 图片类型
}

type Resolver struct {
	client *utils.RestyClient
	log    *zap.Logger
}

func New(client *utils.RestyClient, log *zap.Logger) *Resolver {
	if client == nil {
		client = utils.NewRestyClient(utils.RestyOptions{})
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{client: client, log: log}
}

// Resolve 获取 reference 指向的图片并写入 destDir/<name>.<type>.
// name 为空时生成一个 uuid.
func (r *Resolver) Resolve(ctx context.Context, reference, destDir, name string) (*Result, error) {
	info, err := os.Stat(destDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoImageDir, destDir)
	}
	if name == "" {
		name = uuid.NewString()
	}

	data, err := r.load(ctx, reference)
	if err != nil {
		return nil, unresolvable(reference, err)
	}
	if len(data) == 0 {
		return nil, unresolvable(reference, errors.New("empty content"))
	}

	imageType := TypeFromSuffix(reference)
	if imageType == "" {
		imageType = Sniff(data)
	}
	if imageType == "" {
		return nil, unresolvable(reference, errors.New("unknown image type"))
	}

	fullPath := filepath.Join(destDir, name+"."+imageType)
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return nil, unresolvable(reference, err)
	}

	r.log.Debug("Resolved image",
		zap.String("reference", reference),
		zap.String("file", fullPath),
		zap.String("type", imageType))

	return &Result{Path: fullPath, Name: name, Type: imageType}, nil
}

func (r *Resolver) load(ctx context.Context, reference string) ([]byte, error) {
	u, err := url.Parse(reference)
	if err != nil {
		// 不是合法 URL 的引用(如 100%.png)只可能是本地路径
		return os.ReadFile(reference)
	}

	switch scheme := strings.ToLower(u.Scheme); {
	case scheme == "http" || scheme == "https":
		return r.fetch(ctx, reference)
	case scheme == "data":
		d, err := dataurl.DecodeString(reference)
		if err != nil {
			return nil, err
		}
		return d.Data, nil
	case scheme == "file":
		return os.ReadFile(filepath.FromSlash(u.Path))
	case scheme == "" || len(scheme) == 1:
		// 没有 scheme 或者是 Windows 盘符, 当作本地路径
		return os.ReadFile(reference)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func (r *Resolver) fetch(ctx context.Context, reference string) ([]byte, error) {
	resp, err := r.client.R().SetContext(ctx).Get(reference)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %v", resp.Status())
	}
	return resp.Body(), nil
}

func unresolvable(reference string, cause error) error {
	return fmt.Errorf("%w %s: %w", ErrUnresolvableImage, reference, cause)
}

// TypeFromSuffix 根据引用的后缀判断图片类型, 无法判断时返回空串
func TypeFromSuffix(reference string) string {
	u, err := url.Parse(reference)
	if err != nil {
		// 不是合法 URL, 按本地路径处理
		return suffixType(reference)
	}
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "data":
		return ""
	case len(scheme) > 1:
		return suffixType(u.Path)
	}
	if t := suffixType(u.Path); t != "" {
		return t
	}
	return suffixType(reference)
}

func suffixType(p string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
	for _, t := range suffixTypes {
		if ext == t {
			return t
		}
	}
	return ""
}

// Sniff 根据内容判断图片类型, 不是图片时返回空串
func Sniff(data []byte) string {
	if !filetype.IsImage(data) {
		return ""
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.Extension
}
