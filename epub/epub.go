// Package epub 把章节组装成 epub 文件.
//
// Epub 在工作目录中维护 epub 的目录结构, AddChapter 逐章写入内容和图片,
// Finalize 生成目录和清单后打包成 <name>.epub. Finalize 成功之后不能再修改.
package epub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"html2epub/chapter"
	"html2epub/model"
	"html2epub/resolver"
	"html2epub/template"
	"html2epub/utils"
)

const (
	DefaultCreator      = "html2epub"
	DefaultPublisher    = "html2epub"
	DefaultLanguage     = "en"
	DefaultImageWorkers = 4
	DateLayout          = "01-02-2006"

	MetaInfDir = "META-INF"
	OEBPSDir   = "OEBPS"
	uidLength  = 12
	uidChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrEmptyTitle        = errors.New("book title is empty")
	ErrInvalidChapter    = errors.New("invalid chapter")
	ErrFinalized         = errors.New("epub already finalized")
	ErrSkeletonMissing   = errors.New("epub working directory is incomplete")
	ErrOutputNotWritable = errors.New("output directory is not writable")
	ErrWorkDirNotEmpty   = errors.New("working directory is not empty")
	ErrOutputInWorkDir   = errors.New("output directory is inside the working directory")
)

type Config struct {
	Metadata model.Metadata
	// 工作目录, 为空时使用临时目录. 已存在时必须为空
	Dir          string
	Resolver     chapter.ImageResolver
	Templates    *template.Set
	ImageWorkers int
	// 去掉 zip 中的 data descriptor
	FixZip bool
	// 输出文件名转成 ASCII
	Transliterate bool
	Logger        *zap.Logger
}

type Epub struct {
	mu sync.Mutex

	meta      model.Metadata
	uid       string
	root      string
	ownsRoot  bool
	generator *Generator
	resolver  chapter.ImageResolver
	workers   int
	fixZip    bool
	translit  bool
	log       *zap.Logger

	chapters  []*chapter.Chapter
	finalized bool
}

func New(cfg Config) (*Epub, error) {
	meta := cfg.Metadata
	meta.Title = strings.TrimSpace(meta.Title)
	if meta.Title == "" {
		return nil, ErrEmptyTitle
	}
	if meta.Creator == "" {
		meta.Creator = DefaultCreator
	}
	if meta.Publisher == "" {
		meta.Publisher = DefaultPublisher
	}
	if meta.Language == "" {
		meta.Language = DefaultLanguage
	}
	if meta.Date == "" {
		meta.Date = time.Now().Format(DateLayout)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	templates := cfg.Templates
	if templates == nil {
		var err error
		if templates, err = template.Default(); err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
	}
	res := cfg.Resolver
	if res == nil {
		res = resolver.New(nil, log)
	}
	workers := cfg.ImageWorkers
	if workers < 1 {
		workers = DefaultImageWorkers
	}

	root, ownsRoot, err := createSkeleton(cfg.Dir)
	if err != nil {
		return nil, err
	}

	e := &Epub{
		meta:      meta,
		uid:       newUID(),
		root:      root,
		ownsRoot:  ownsRoot,
		generator: NewGenerator(templates),
		resolver:  res,
		workers:   workers,
		fixZip:    cfg.FixZip,
		translit:  cfg.Transliterate,
		log:       log,
	}
	log.Debug("Created epub working directory", zap.String("title", meta.Title), zap.String("dir", root))
	return e, nil
}

// createSkeleton 建立 <root>/META-INF, <root>/OEBPS, <root>/OEBPS/images, 失败时删除已创建的目录.
// dir 已存在时必须为空. 第二个返回值表示 root 是否由这里创建.
func createSkeleton(dir string) (string, bool, error) {
	var (
		root     = dir
		ownsRoot bool
		created  []string
		err      error
	)
	switch {
	case root == "":
		if root, err = os.MkdirTemp("", "html2epub-"); err != nil {
			return "", false, fmt.Errorf("failed to create working directory: %w", err)
		}
		ownsRoot = true
	default:
		entries, readErr := os.ReadDir(root)
		switch {
		case readErr == nil && len(entries) > 0:
			return "", false, fmt.Errorf("%w: %s", ErrWorkDirNotEmpty, root)
		case readErr == nil:
		case errors.Is(readErr, os.ErrNotExist):
			if err = os.MkdirAll(root, 0755); err != nil {
				return "", false, fmt.Errorf("failed to create working directory: %w", err)
			}
			ownsRoot = true
		default:
			return "", false, fmt.Errorf("failed to read working directory: %w", readErr)
		}
	}
	if ownsRoot {
		created = append(created, root)
	}

	for _, d := range []string{
		filepath.Join(root, MetaInfDir),
		filepath.Join(root, OEBPSDir),
		filepath.Join(root, OEBPSDir, chapter.ImagesDir),
	} {
		if err = os.Mkdir(d, 0755); err != nil {
			for i := len(created) - 1; i >= 0; i-- {
				err = multierr.Append(err, os.RemoveAll(created[i]))
			}
			return "", false, fmt.Errorf("failed to create epub directory %s: %w", d, err)
		}
		created = append(created, d)
	}
	return root, ownsRoot, nil
}

func newUID() string {
	id := uuid.New()
	uid := make([]byte, uidLength)
	for i := range uid {
		uid[i] = uidChars[int(id[i])%len(uidChars)]
	}
	return string(uid)
}

func (e *Epub) Dir() string {
	return e.root
}

func (e *Epub) UID() string {
	return e.uid
}

func (e *Epub) Metadata() model.Metadata {
	return e.meta
}

func (e *Epub) Chapters() []*chapter.Chapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	chapters := make([]*chapter.Chapter, len(e.chapters))
	copy(chapters, e.chapters)
	return chapters
}

func (e *Epub) oebps() string {
	return filepath.Join(e.root, OEBPSDir)
}

func (e *Epub) checkSkeleton() error {
	for _, d := range []string{
		e.root,
		filepath.Join(e.root, MetaInfDir),
		e.oebps(),
		filepath.Join(e.oebps(), chapter.ImagesDir),
	} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrSkeletonMissing, d)
		}
	}
	return nil
}

// AddChapter 本地化章节图片并写入 OEBPS/<index>.xhtml, 返回章节序号
func (e *Epub) AddChapter(ctx context.Context, c *chapter.Chapter) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c == nil {
		return 0, fmt.Errorf("%w: nil chapter", ErrInvalidChapter)
	}
	if e.finalized {
		return 0, ErrFinalized
	}
	if err := e.checkSkeleton(); err != nil {
		return 0, err
	}

	index := len(e.chapters)
	if err := c.LocalizeImages(ctx, e.oebps(), e.resolver, e.workers, e.log); err != nil {
		return 0, fmt.Errorf("failed to resolve images of chapter %d: %w", index, err)
	}
	if err := c.WriteTo(filepath.Join(e.oebps(), ChapterFile(index))); err != nil {
		return 0, fmt.Errorf("failed to write chapter %d: %w", index, err)
	}
	e.chapters = append(e.chapters, c)

	e.log.Info("Added chapter",
		zap.Int("index", index),
		zap.String("title", c.Title()),
		zap.Int("images", len(c.Images())))
	return index, nil
}

// Finalize 生成目录、清单和固定文件, 打包为 outputDir/<name>.epub 并返回路径.
// name 为空时使用书名.
func (e *Epub) Finalize(ctx context.Context, outputDir, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finalized {
		return "", ErrFinalized
	}
	if err := e.checkSkeleton(); err != nil {
		return "", err
	}
	if err := e.checkOutsideRoot(outputDir); err != nil {
		return "", err
	}
	if err := checkWritable(outputDir); err != nil {
		return "", err
	}

	lists := ListsOf(e.chapters)
	tocHTML, err := e.generator.TocHTML(e.meta, lists)
	if err != nil {
		return "", err
	}
	tocNCX, err := e.generator.TocNCX(e.meta, e.uid, lists)
	if err != nil {
		return "", err
	}
	contentOPF, err := e.generator.ContentOPF(e.meta, e.uid, lists)
	if err != nil {
		return "", err
	}

	files := []struct {
		path      string
		component templ.Component
	}{
		{filepath.Join(e.oebps(), template.TocHTMLName), tocHTML},
		{filepath.Join(e.oebps(), template.TocNCXName), tocNCX},
		{filepath.Join(e.oebps(), template.ContentOPFName), contentOPF},
		{filepath.Join(e.root, utils.MimetypeName), template.Mimetype()},
		{filepath.Join(e.root, MetaInfDir, "container.xml"), template.ContainerXML()},
	}
	for _, f := range files {
		if err := writeComponent(ctx, f.path, f.component); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", filepath.Base(f.path), err)
		}
	}

	base := e.outputName(name)
	zipPath := filepath.Join(outputDir, base+".zip")
	if err := removeStale(zipPath); err != nil {
		return "", err
	}
	if err := utils.PackEpub(e.root, zipPath); err != nil {
		return "", fmt.Errorf("failed to archive epub: %w", err)
	}
	if e.fixZip {
		fixed := zipPath + ".fixed"
		if err := utils.RewriteWithoutDataDescriptors(zipPath, fixed); err != nil {
			return "", fmt.Errorf("failed to archive epub: %w", err)
		}
		if err := os.Rename(fixed, zipPath); err != nil {
			return "", fmt.Errorf("failed to archive epub: %w", err)
		}
	}

	epubPath := filepath.Join(outputDir, base+".epub")
	if err := removeStale(epubPath); err != nil {
		return "", err
	}
	if err := os.Rename(zipPath, epubPath); err != nil {
		return "", fmt.Errorf("failed to rename archive: %w", err)
	}
	e.finalized = true

	e.log.Info("Created epub",
		zap.String("title", e.meta.Title),
		zap.Int("chapters", len(e.chapters)),
		zap.String("file", epubPath))
	return epubPath, nil
}

// outputName 只保留字母、数字和空格, 结果为空时使用 uid
func (e *Epub) outputName(name string) string {
	if strings.TrimSpace(name) == "" {
		name = e.meta.Title
	}
	if e.translit {
		name = utils.TransliterateName(name)
	}
	name = utils.CleanFileName(name)
	if strings.TrimSpace(name) == "" {
		return e.uid
	}
	return name
}

// Cleanup 删除工作目录. 目录由调用方提供时只删除其中的内容, 目录本身保留.
func (e *Epub) Cleanup() error {
	if e.ownsRoot {
		if err := os.RemoveAll(e.root); err != nil {
			return fmt.Errorf("failed to remove working directory: %w", err)
		}
		return nil
	}
	entries, err := os.ReadDir(e.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read working directory: %w", err)
	}
	var errs error
	for _, entry := range entries {
		errs = multierr.Append(errs, os.RemoveAll(filepath.Join(e.root, entry.Name())))
	}
	if errs != nil {
		return fmt.Errorf("failed to clean working directory: %w", errs)
	}
	return nil
}

// checkOutsideRoot 输出目录不能位于工作目录中, 否则会把正在写的 zip 打包进去
func (e *Epub) checkOutsideRoot(outputDir string) error {
	root, err := filepath.Abs(e.root)
	if err != nil {
		return err
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, out)
	if err != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("%w: %s", ErrOutputInWorkDir, outputDir)
	}
	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOutputNotWritable, dir, err)
	}
	probe, err := os.CreateTemp(dir, ".html2epub-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOutputNotWritable, dir, err)
	}
	if err := multierr.Append(probe.Close(), os.Remove(probe.Name())); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOutputNotWritable, dir, err)
	}
	return nil
}

func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove existing %s: %w", path, err)
	}
	return nil
}

func writeComponent(ctx context.Context, path string, c templ.Component) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return c.Render(ctx, f)
}
