package model

import "strings"

// ImageRecord 记录一张已经落地到 images 目录的图片
type ImageRecord struct {
	Link string // 相对 OEBPS 的路径, 如 images/<id>.png
	ID   string // 文件名(不含后缀)
	Type string // 图片类型, 如 jpg、png
}

var imageMediaTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"svg":  "image/svg+xml",
	"ico":  "image/vnd.microsoft.icon",
}

func (r ImageRecord) MediaType() string {
	if m, ok := imageMediaTypes[strings.ToLower(r.Type)]; ok {
		return m
	}
	return "image/" + strings.ToLower(r.Type)
}
