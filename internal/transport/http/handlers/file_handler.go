package handlers

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/vedran77/relay/internal/service"
	"github.com/vedran77/relay/internal/transport/http/middleware"
)

// multipartMemory is how much of a form is held in memory before spilling to
// temp files.
const multipartMemory = 1 << 20

type FileHandler struct {
	files    *service.FileService
	maxBytes int64
	log      *slog.Logger
}

func NewFileHandler(files *service.FileService, maxBytes int64, log *slog.Logger) *FileHandler {
	return &FileHandler{files: files, maxBytes: maxBytes, log: log}
}

// Upload stores the multipart "file" field and returns the path to use as a
// file message's fileUrl.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	// room for the multipart envelope around the file itself
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "FILE_REQUIRED", "File is required")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "FILE_REQUIRED", "File is required")
		return
	}
	defer file.Close()

	stored, err := h.files.Save(r.Context(), userID, header.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyFile):
			writeError(w, http.StatusBadRequest, "FILE_REQUIRED", "File is required")
		case errors.Is(err, service.ErrInvalidFileName):
			writeError(w, http.StatusBadRequest, "INVALID_FILE_NAME", "Invalid file name")
		case isTooLarge(err):
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit")
		default:
			h.log.Error("Storing upload failed", "user_id", userID, "file_name", header.Filename, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

// Serve returns uploaded files. Directory listings are not exposed.
func (h *FileHandler) Serve() http.Handler {
	prefix := "/" + service.FilePathPrefix + "/"
	return http.StripPrefix(prefix, http.FileServer(http.FS(filesOnly{fs: os.DirFS(h.files.Dir())})))
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, service.ErrFileTooLarge)
}

// filesOnly hides directories so the file server answers 404 instead of an
// index page.
type filesOnly struct {
	fs fs.FS
}

func (f filesOnly) Open(name string) (fs.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}
