package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"html2epub/chapter"
	"html2epub/downloader"
	"html2epub/epub"
	"html2epub/model"
	"html2epub/resolver"
	"html2epub/template"
	"html2epub/utils"
)

var buildCmd = &cobra.Command{
	Use:   "build [url or file]...",
	Short: "Build an epub from web pages or html files",
	Long:  "Build an epub from web pages or html files, one chapter per source in the given order",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBuild,
}

type buildArgs struct {
	Title         string
	OutputPath    string
	Name          string
	Creator       string
	Language      string
	Publisher     string
	Rights        string
	JavaScript    bool
	Encoding      string
	FixZip        bool
	Transliterate bool
	Templates     string
	Workers       int
	KeepWorkDir   bool
}

var bArgs buildArgs

func init() {
	flags := buildCmd.Flags()
	flags.StringVarP(&bArgs.Title, "title", "t", "", "book title")
	flags.StringVarP(&bArgs.OutputPath, "output-path", "o", "", "output directory")
	flags.StringVarP(&bArgs.Name, "name", "n", "", "output file name without extension, defaults to the title")
	flags.StringVar(&bArgs.Creator, "creator", "", "book creator")
	flags.StringVar(&bArgs.Language, "language", "", "book language")
	flags.StringVar(&bArgs.Publisher, "publisher", "", "book publisher")
	flags.StringVar(&bArgs.Rights, "rights", "", "book rights")
	flags.BoolVar(&bArgs.JavaScript, "js", false, "render pages with a headless browser")
	flags.StringVar(&bArgs.Encoding, "encoding", "", "force page encoding, e.g. gbk")
	flags.BoolVar(&bArgs.FixZip, "fix-zip", false, "write the archive without data descriptors")
	flags.BoolVar(&bArgs.Transliterate, "transliterate", false, "transliterate the output file name to ascii")
	flags.StringVar(&bArgs.Templates, "templates", "", "directory with toc.html, toc.ncx or content.opf overrides")
	flags.IntVarP(&bArgs.Workers, "workers", "w", 0, "parallel image downloads per chapter")
	flags.BoolVar(&bArgs.KeepWorkDir, "keep-work-dir", false, "keep the working directory after the build")
	_ = buildCmd.MarkFlagRequired("title")
	RootCmd.AddCommand(buildCmd)
}

// applyFlags 命令行参数覆盖配置
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("output-path", func() { conf.Build.Output = bArgs.OutputPath })
	set("creator", func() { conf.Book.Creator = bArgs.Creator })
	set("language", func() { conf.Book.Language = bArgs.Language })
	set("publisher", func() { conf.Book.Publisher = bArgs.Publisher })
	set("rights", func() { conf.Book.Rights = bArgs.Rights })
	set("js", func() { conf.Fetch.JavaScript = bArgs.JavaScript })
	set("encoding", func() { conf.Fetch.Encoding = bArgs.Encoding })
	set("fix-zip", func() { conf.Build.FixZip = bArgs.FixZip })
	set("transliterate", func() { conf.Build.Transliterate = bArgs.Transliterate })
	set("templates", func() { conf.Build.Templates = bArgs.Templates })
	set("workers", func() { conf.Build.ImageWorkers = bArgs.Workers })
	set("keep-work-dir", func() { conf.Build.KeepWorkDir = bArgs.KeepWorkDir })
}

func runBuild(cmd *cobra.Command, args []string) error {
	applyFlags(cmd)
	ctx := cmd.Context()

	client := utils.NewRestyClient(conf.Fetch.RestyOptions())

	var fetcher chapter.PageFetcher
	if conf.Fetch.JavaScript {
		browser, err := downloader.NewBrowserFetcher(conf.Fetch.Timeout, logger)
		if err != nil {
			return fmt.Errorf("failed to start browser: %v", err)
		}
		defer browser.Close()
		fetcher = browser
	} else {
		fetcher = downloader.NewHTTPFetcher(client, conf.Fetch.Encoding, logger)
	}
	factory := chapter.NewFactory(chapter.WithFetcher(fetcher), chapter.WithEncoding(conf.Fetch.Encoding))

	templates, err := template.Load(conf.Build.Templates)
	if err != nil {
		return fmt.Errorf("failed to load templates: %v", err)
	}

	book, err := epub.New(epub.Config{
		Metadata: model.Metadata{
			Title:     bArgs.Title,
			Creator:   conf.Book.Creator,
			Language:  conf.Book.Language,
			Rights:    conf.Book.Rights,
			Publisher: conf.Book.Publisher,
		},
		Dir:           conf.Build.EpubDir,
		Resolver:      resolver.New(client, logger),
		Templates:     templates,
		ImageWorkers:  conf.Build.ImageWorkers,
		FixZip:        conf.Build.FixZip,
		Transliterate: conf.Build.Transliterate,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create epub: %v", err)
	}
	if !conf.Build.KeepWorkDir {
		defer func() {
			if err := book.Cleanup(); err != nil {
				logger.Warn("Unable to remove working directory", zap.Error(err))
			}
		}()
	}

	for _, source := range args {
		var c *chapter.Chapter
		if isURL(source) {
			c, err = factory.FromURL(ctx, source, "")
		} else {
			c, err = factory.FromFile(source, "", "")
		}
		if err != nil {
			return fmt.Errorf("failed to create chapter from %s: %v", source, err)
		}
		if _, err := book.AddChapter(ctx, c); err != nil {
			return fmt.Errorf("failed to add chapter %s: %v", source, err)
		}
	}

	path, err := book.Finalize(ctx, conf.Build.Output, bArgs.Name)
	if err != nil {
		return fmt.Errorf("failed to finalize epub: %v", err)
	}
	if conf.Build.KeepWorkDir {
		logger.Info("Working directory kept", zap.String("dir", book.Dir()))
	}
	fmt.Println(path)
	return nil
}

func isURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}
