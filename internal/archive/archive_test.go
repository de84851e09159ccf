package archive

import (
	"bytes"
	"errors"
	"io"
	"testing"

	kzip "github.com/klauspost/compress/zip"

	"github.com/open-workshop/workshop-cache/internal/upstream"
)

func TestPackageRejectsSizeMismatch(t *testing.T) {
	a := NewZipArchiver()
	payload := upstream.Payload{Files: []upstream.File{{Name: "a.txt", Data: []byte("abc")}}}

	cases := []int64{0, -1, 2, 4}
	for _, expected := range cases {
		if _, err := a.Package(payload, expected); !errors.Is(err, ErrSizeMismatch) {
			t.Fatalf("expected=%d: err = %v, want ErrSizeMismatch", expected, err)
		}
	}
	if _, err := a.Package(upstream.Payload{}, 1); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("empty payload err = %v", err)
	}
}

func TestPackageWrapsFilesIntoZip(t *testing.T) {
	a := NewZipArchiver()
	payload := upstream.Payload{Files: []upstream.File{
		{Name: `About\About.xml`, Data: []byte("<about/>")},
		{Name: "../escape.txt", Data: []byte("data")},
	}}

	artifact, err := a.Package(payload, payload.Size())
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	r, err := kzip.NewReader(bytes.NewReader(artifact), int64(len(artifact)))
	if err != nil {
		t.Fatalf("artifact is not a zip: %v", err)
	}
	names := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		names[f.Name] = string(body)
	}
	if names["About/About.xml"] != "<about/>" || names["escape.txt"] != "data" {
		t.Fatalf("unexpected entries: %v", names)
	}
}

func TestPackageKeepsSingleZip(t *testing.T) {
	var inner bytes.Buffer
	w := kzip.NewWriter(&inner)
	fw, _ := w.Create("mod.txt")
	_, _ = fw.Write([]byte("hello"))
	_ = w.Close()

	payload := upstream.Payload{Files: []upstream.File{{Name: "mod.zip", Data: inner.Bytes()}}}
	artifact, err := NewZipArchiver().Package(payload, int64(inner.Len()))
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if !bytes.Equal(artifact, inner.Bytes()) {
		t.Fatalf("single zip payload should be kept as is")
	}
}
