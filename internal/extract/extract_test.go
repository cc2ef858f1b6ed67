package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func TestFromBytes_SniffsDocxWithoutMimeType(t *testing.T) {
	data := buildDocx(t, `<w:document><w:body><w:p><w:r><w:t>Revenue grew 12%</w:t></w:r></w:p></w:body></w:document>`)

	text, err := FromBytes(context.Background(), data, "", "deck.docx")
	if err != nil {
		t.Fatalf("expected docx to extract, got error: %v", err)
	}
	if !strings.Contains(text, "Revenue grew 12%") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestFromBytes_ParagraphsBecomeNewlines(t *testing.T) {
	data := buildDocx(t, `<w:document><w:body><w:p><w:r><w:t>FY2023</w:t></w:r></w:p><w:p><w:r><w:t>FY2024</w:t></w:r></w:p></w:body></w:document>`)

	text, err := FromBytes(context.Background(), data, mimeDOCX, "deck.docx")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "FY2023\nFY2024" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestFromBytes_PlainZipRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("notes.txt")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	if _, err := FromBytes(context.Background(), buf.Bytes(), "application/zip", "notes.zip"); err == nil {
		t.Fatal("expected unsupported document error for plain zip")
	}
}

type fakeStore struct {
	objects map[string][]byte
	saved   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, saved: map[string]string{}}
}

func (s *fakeStore) Save(ctx context.Context, owner, fileName string, r io.Reader) (string, int64, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	key := owner + "/" + fileName
	s.objects[key] = data
	return key, int64(len(data)), "", nil
}

func (s *fakeStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) SaveWithKey(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.saved[key] = string(data)
	return int64(len(data)), nil
}

func TestText_PersistsDerivedCopy(t *testing.T) {
	store := newFakeStore()
	store.objects["u1/deck.docx"] = buildDocx(t, `<w:document><w:body><w:p><w:r><w:t>EBITDA $4.2M</w:t></w:r></w:p></w:body></w:document>`)

	text, err := Text(context.Background(), store, "u1/deck.docx", mimeDOCX, "deck.docx")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(text, "EBITDA") {
		t.Fatalf("unexpected text: %q", text)
	}
	if got := store.saved["u1/deck.docx"+DerivedTextSuffix]; got != text {
		t.Fatalf("derived copy mismatch: %q", got)
	}
}
