package model

// ManifestChapter 是渲染目录与清单时每一章的一行数据
type ManifestChapter struct {
	ID        int
	PlayOrder int
	Title     string
	Link      string
	Images    []ImageRecord
}
