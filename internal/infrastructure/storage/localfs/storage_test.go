package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

func TestSaveAndOpen(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := storage.Save(ctx, "doc-1_invoice.pdf", strings.NewReader("%PDF-1.7")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := storage.Open(ctx, "doc-1_invoice.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "%PDF-1.7" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestOpenMissingIsNotFound(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = storage.Open(context.Background(), "missing.pdf")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected document not found, got %v", err)
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"../etc/passwd", "a/b.pdf", "", ".."} {
		if err := storage.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("Save(%q) expected invalid input, got %v", key, err)
		}
	}
}
