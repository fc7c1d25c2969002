// Package template 保存生成 epub 所需的固定文件与目录/清单模板.
//
// toc.html、toc.ncx、content.opf 三个模板可以从外部目录覆盖,
// mimetype 与 container.xml 是固定内容, 不参与模板渲染.
package template

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	texttemplate "text/template"

	"github.com/a-h/templ"
	sprig "github.com/go-task/slim-sprig/v3"

	"html2epub/model"
)

const (
	TocHTMLName    = "toc.html"
	TocNCXName     = "toc.ncx"
	ContentOPFName = "content.opf"
)

//go:embed files
var files embed.FS

// Set 是一组渲染目录和清单的模板
type Set struct {
	TocHTML    *texttemplate.Template
	TocNCX     *texttemplate.Template
	ContentOPF *texttemplate.Template
}

// FuncMap 是模板可用的函数, 在 sprig 的基础上增加了 xml 转义和图片 media-type
func FuncMap() texttemplate.FuncMap {
	funcMap := sprig.TxtFuncMap()
	funcMap["xml"] = templ.EscapeString[string]
	funcMap["mediaType"] = func(imageType string) string {
		return model.ImageRecord{Type: imageType}.MediaType()
	}
	return funcMap
}

// Default 返回内置模板
func Default() (*Set, error) {
	return Load("")
}

// Load 从 dir 读取模板, dir 中不存在的模板使用内置版本. dir 为空时全部使用内置模板.
func Load(dir string) (*Set, error) {
	read := func(name string) ([]byte, error) {
		if dir != "" {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err == nil {
				return data, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read template %s: %w", name, err)
			}
		}
		return files.ReadFile("files/" + name)
	}
	parse := func(name string) (*texttemplate.Template, error) {
		data, err := read(name)
		if err != nil {
			return nil, err
		}
		tmpl, err := texttemplate.New(name).Funcs(FuncMap()).Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("unable to parse template %s: %w", name, err)
		}
		return tmpl, nil
	}

	var (
		set Set
		err error
	)
	if set.TocHTML, err = parse(TocHTMLName); err != nil {
		return nil, err
	}
	if set.TocNCX, err = parse(TocNCXName); err != nil {
		return nil, err
	}
	if set.ContentOPF, err = parse(ContentOPFName); err != nil {
		return nil, err
	}
	return &set, nil
}

// Render 把模板和数据包装成 templ.Component
func Render(tmpl *texttemplate.Template, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return tmpl.Execute(w, data)
	})
}

func fixed(name string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		data, err := files.ReadFile("files/" + name)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
}

// Mimetype 是 epub 根目录下的 mimetype 文件
func Mimetype() templ.Component {
	return fixed("mimetype")
}

// ContainerXML 是 META-INF/container.xml
func ContainerXML() templ.Component {
	return fixed("container.xml")
}
