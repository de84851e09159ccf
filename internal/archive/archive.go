// Package archive packages fetched payloads into the zip artifacts served to
// clients and checks that the payload is complete before anything is
// written to the store.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	kzip "github.com/klauspost/compress/zip"

	"github.com/open-workshop/workshop-cache/internal/upstream"
)

// ErrSizeMismatch 表示负载总大小与上游声明不符，通常意味着下载不完整。
var ErrSizeMismatch = errors.New("payload size mismatch")

// ErrEmptyPayload 表示负载中没有任何文件。
var ErrEmptyPayload = errors.New("empty payload")

// Archiver 将负载打包为可分发的产物。
type Archiver interface {
	Package(payload upstream.Payload, expectedSize int64) ([]byte, error)
}

// ZipArchiver 以 deflate 打包负载。单个 zip 文件原样保留，避免二次压缩。
type ZipArchiver struct {
	Level   int
	ModTime func() time.Time
}

// NewZipArchiver 返回默认压缩级别的打包器。
func NewZipArchiver() *ZipArchiver {
	return &ZipArchiver{Level: flate.DefaultCompression, ModTime: time.Now}
}

// Package 校验大小后打包。expectedSize 必须为正且等于全部文件大小之和。
func (a *ZipArchiver) Package(payload upstream.Payload, expectedSize int64) ([]byte, error) {
	if len(payload.Files) == 0 {
		return nil, ErrEmptyPayload
	}
	total := payload.Size()
	if expectedSize <= 0 || total != expectedSize {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrSizeMismatch, total, expectedSize)
	}

	if len(payload.Files) == 1 && isZip(payload.Files[0]) {
		return payload.Files[0].Data, nil
	}

	var buf bytes.Buffer
	w := kzip.NewWriter(&buf)
	level := a.Level
	w.RegisterCompressor(kzip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	modTime := time.Now()
	if a.ModTime != nil {
		modTime = a.ModTime()
	}
	for _, f := range payload.Files {
		name := cleanName(f.Name)
		if name == "" {
			continue
		}
		header := &kzip.FileHeader{
			Name:     name,
			Method:   kzip.Deflate,
			Modified: modTime,
		}
		fw, err := w.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}

// isZip 检查文件名与本地文件头，并确认能被解析为 zip。
func isZip(f upstream.File) bool {
	if !strings.EqualFold(path.Ext(f.Name), ".zip") || !bytes.HasPrefix(f.Data, []byte("PK\x03\x04")) {
		return false
	}
	_, err := kzip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	return err == nil
}
