package utils

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// DecodeHTML 把网页内容转成 UTF-8.
// forced 非空时按指定编码(如 gbk)解码, 否则根据 Content-Type 和 meta 标签推断.
func DecodeHTML(data []byte, contentType, forced string) (string, error) {
	if forced != "" {
		enc, err := htmlindex.Get(forced)
		if err != nil {
			return "", fmt.Errorf("unknown encoding %q: %w", forced, err)
		}
		decoded, err := enc.NewDecoder().Bytes(data)
		if err != nil {
			return "", fmt.Errorf("failed to decode as %s: %w", forced, err)
		}
		return string(decoded), nil
	}

	reader, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("failed to detect charset: %w", err)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to decode html: %w", err)
	}
	return string(decoded), nil
}
