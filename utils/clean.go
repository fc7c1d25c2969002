package utils

import (
	"strings"
	"unicode"

	"github.com/gosimple/slug"
)

// CleanFileName 只保留字母、数字和空格, 并去掉末尾空白
func CleanFileName(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			return r
		}
		return -1
	}, input)
	return strings.TrimRightFunc(cleaned, unicode.IsSpace)
}

// TransliterateName 把书名转成 ASCII, 单词之间保留空格
func TransliterateName(input string) string {
	return strings.ReplaceAll(slug.Make(input), "-", " ")
}
