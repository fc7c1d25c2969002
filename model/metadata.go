package model

// Metadata 是写入 content.opf 和 toc.ncx 的书籍信息
type Metadata struct {
	Title     string
	Creator   string
	Language  string
	Rights    string
	Publisher string
	Date      string // 01-02-2006
}
