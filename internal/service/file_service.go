package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// FilePathPrefix is the public path uploaded files are served under. A
// stored file's Path is what clients put in a file message's fileUrl.
const FilePathPrefix = "uploads/files"

// sniffLen is how much of an upload is buffered for type detection.
const sniffLen = 3072

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds the upload limit")
	ErrInvalidFileName = errors.New("invalid file name")
)

type StoredFile struct {
	Path     string `json:"filePath"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// FileService stores message attachments on local disk, one directory per
// upload so equal names never collide.
type FileService struct {
	dir      string
	maxBytes int64
	log      *slog.Logger
	now      func() time.Time
}

func NewFileService(dir string, maxBytes int64, log *slog.Logger) *FileService {
	if log == nil {
		log = slog.Default()
	}
	return &FileService{dir: dir, maxBytes: maxBytes, log: log, now: time.Now}
}

// Dir is the directory files are written to.
func (s *FileService) Dir() string {
	return s.dir
}

// Save writes src under a fresh directory named after the upload time and
// returns its public path. Only the base of name is kept.
func (s *FileService) Save(ctx context.Context, uploader uuid.UUID, name string, src io.Reader) (*StoredFile, error) {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return nil, ErrInvalidFileName
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyFile
	}
	head = head[:n]

	sub := fmt.Sprintf("%d-%s", s.now().UnixMilli(), uuid.NewString()[:8])
	dir := filepath.Join(s.dir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	size, err := s.write(filepath.Join(dir, name), io.MultiReader(bytes.NewReader(head), src))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	stored := &StoredFile{
		Path:     path.Join(FilePathPrefix, sub, name),
		MimeType: mimetype.Detect(head).String(),
		Size:     size,
	}
	s.log.Info("File uploaded", "user_id", uploader, "path", stored.Path, "mime_type", stored.MimeType, "size", size)
	return stored, nil
}

func (s *FileService) write(dst string, src io.Reader) (int64, error) {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}

	// one byte past the limit tells an exact fit from an overflow
	size, err := io.Copy(f, io.LimitReader(src, s.maxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("writing file: %w", err)
	}
	if size > s.maxBytes {
		return 0, ErrFileTooLarge
	}
	return size, nil
}
