package assistant

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"libraai/internal/domain"
)

// MaxUploadSize is the largest document the assistant accepts.
const MaxUploadSize = 10 << 20

var allowedExtensions = map[string]bool{".pdf": true, ".txt": true}

// CheckUpload validates a document before it is sent. size < 0 means unknown.
func CheckUpload(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return &domain.ValidationError{
			Message: "Only PDF and text files are allowed",
			Fields:  []domain.FieldError{{Field: "file", Message: "must be a .pdf or .txt file"}},
		}
	}
	if size > MaxUploadSize {
		return &domain.ValidationError{
			Message: "File size exceeds 10MB limit",
			Fields:  []domain.FieldError{{Field: "file", Message: "must be at most 10MB"}},
		}
	}
	return nil
}

// Upload checks and sends a document. The whole payload is read up front so
// the size limit holds even when size is unknown.
func (s *Session) Upload(ctx context.Context, filename string, r io.Reader, size int64) (*domain.UploadResult, error) {
	if err := CheckUpload(filename, size); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := CheckUpload(filename, int64(len(data))); err != nil {
		return nil, err
	}
	res, err := s.svc.UploadDocument(ctx, filepath.Base(filename), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	s.logger.Info("document uploaded", "file", filepath.Base(filename), "chunks", res.Chunks)
	return res, nil
}

// UploadFile uploads the document at path.
func (s *Session) UploadFile(ctx context.Context, path string) (*domain.UploadResult, error) {
	if err := CheckUpload(path, -1); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return s.Upload(ctx, path, f, info.Size())
}
