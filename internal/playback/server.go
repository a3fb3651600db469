package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a requested file resolves outside the
// directory a Server is allowed to serve from.
var ErrOutsideRoot = errors.New("path outside served root")

var contentTypes = map[string]string{
	".mp4": "video/mp4",
	".m4v": "video/x-m4v",
	".mov": "video/quicktime",
	".avi": "video/x-msvideo",
	".mkv": "video/x-matroska",
	".edl": "text/plain; charset=utf-8",
}

// Server streams media files with range support, for exported clips and
// the loaded source video.
type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeFile writes filePath to w. Range, If-Range and If-Modified-Since are
// handled by http.ServeContent. A missing file yields 404 and a nil error.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	contentType := contentTypes[ext]
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
	return nil
}

// ServeWithin is ServeFile restricted to files below root.
func (s *Server) ServeWithin(w http.ResponseWriter, r *http.Request, root, name string) error {
	path, err := resolveWithin(root, name)
	if err != nil {
		s.logger.Warn("rejected artifact path", "name", name)
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	return s.ServeFile(w, r, path)
}

func resolveWithin(root, name string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	path := filepath.Join(absRoot, filepath.Clean("/"+name))
	rel, err := filepath.Rel(absRoot, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ErrOutsideRoot
	}
	return path, nil
}
