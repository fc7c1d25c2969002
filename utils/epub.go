package utils

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	fixzip "github.com/hidez8891/zip"
	"go.uber.org/multierr"
)

const (
	MimetypeName    = "mimetype"
	MimetypeContent = "application/epub+zip"
)

// PackEpub 把 dirPath 打包成 zip 写到 savePath.
// mimetype 必须是第一个条目并且不压缩, 其余文件按目录顺序 Deflate.
func PackEpub(dirPath, savePath string) (err error) {
	zipFile, err := os.Create(savePath)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, zipFile.Close())
	}()

	zipWriter := zip.NewWriter(zipFile)

	mimetype, err := os.ReadFile(filepath.Join(dirPath, MimetypeName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read mimetype: %w", err)
		}
		mimetype = []byte(MimetypeContent)
	}
	if err = addBytesToZip(zipWriter, MimetypeName, mimetype, zip.Store); err != nil {
		return err
	}

	if err = addDirContentToZip(zipWriter, dirPath, zip.Deflate); err != nil {
		return err
	}

	return zipWriter.Close()
}

// RewriteWithoutDataDescriptors 重写 zip, 去掉 data descriptor, 部分阅读器不认
func RewriteWithoutDataDescriptors(from, to string) (err error) {
	out, err := os.Create(to)
	if err != nil {
		return fmt.Errorf("unable to create target file (%s): %w", to, err)
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	r, err := fixzip.OpenReader(from)
	if err != nil {
		return fmt.Errorf("unable to read archive file (%s): %w", from, err)
	}
	defer r.Close()

	w := fixzip.NewWriter(out)
	for _, file := range r.File {
		file.Flags &= ^fixzip.FlagDataDescriptor
		if err := w.CopyFile(file); err != nil {
			return fmt.Errorf("unable to write target file (%s): %w", to, err)
		}
	}
	return w.Close()
}

func addBytesToZip(zipWriter *zip.Writer, relPath string, content []byte, method uint16) error {
	header := &zip.FileHeader{
		Name:   relPath,
		Method: method,
	}
	writer, err := zipWriter.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = writer.Write(content)
	return err
}

func addDirContentToZip(zipWriter *zip.Writer, dirPath string, method uint16) error {
	return filepath.Walk(dirPath, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(dirPath, filePath)
		if err != nil {
			return err
		}
		if relPath == MimetypeName {
			return nil
		}

		file, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer file.Close()

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)
		header.Method = method

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return err
		}

		_, err = io.Copy(writer, file)
		return err
	})
}
