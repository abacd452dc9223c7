// Package files implements the file store (C5): a bounded HTTP upload and
// download surface shared between servers and clients, plus the key-upload
// endpoint neighbours use to provision each other's public keys on disk.
package files

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/internal/logger"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// MaxUploadBytes caps a single file at 10 MiB.
const MaxUploadBytes = 10 << 20

// idLength is the length of the URL-safe random identifier minted per file.
const idLength = 32

// Store persists uploaded files under dir and serves them back by id. It
// does not expire files; none is specified for the server's lifetime.
type Store struct {
	dir         string
	externalURL string
	log         logger.Logger
}

// NewStore creates a Store rooted at dir, minting download URLs of the form
// "<externalURL>/files/<id>/<name>". dir is created if missing.
func NewStore(dir string, externalURL string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Storage("failed to create file store directory", err)
	}
	return &Store{dir: dir, externalURL: strings.TrimRight(externalURL, "/"), log: log}, nil
}

// UploadHandler serves POST /api/upload.
func (s *Store) UploadHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+1<<20)
		if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
			metrics.FileStoreErrors.WithLabelValues("too_large").Inc()
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file field", http.StatusBadRequest)
			return
		}
		defer f.Close()
		if hdr.Size > MaxUploadBytes {
			metrics.FileStoreErrors.WithLabelValues("too_large").Inc()
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}

		id, err := newID()
		if err != nil {
			metrics.FileStoreErrors.WithLabelValues("write_failed").Inc()
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		dest := filepath.Join(s.dir, id)
		out, err := os.Create(dest)
		if err != nil {
			metrics.FileStoreErrors.WithLabelValues("write_failed").Inc()
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		n, err := io.CopyN(out, f, MaxUploadBytes+1)
		out.Close()
		if err != nil && err != io.EOF {
			metrics.FileStoreErrors.WithLabelValues("write_failed").Inc()
			os.Remove(dest)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if n > MaxUploadBytes {
			os.Remove(dest)
			metrics.FileStoreErrors.WithLabelValues("too_large").Inc()
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}

		metrics.FilesStored.Inc()
		metrics.FileSize.Observe(float64(n))
		s.log.Debug("stored uploaded file", logger.String("id", id), logger.String("name", hdr.Filename), logger.Int("bytes", int(n)))

		url := fmt.Sprintf("%s/files/%s/%s", s.externalURL, id, hdr.Filename)
		writeJSON(w, map[string]string{"file_url": url})
	})
}

// DownloadHandler serves GET /files/<id>/<name>.
func (s *Store) DownloadHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/files/"), "/", 2)
		if len(parts) != 2 || parts[0] == "" {
			http.NotFound(w, r)
			return
		}
		id := parts[0]
		path := filepath.Join(s.dir, id)
		if !strings.HasPrefix(path, filepath.Clean(s.dir)+string(os.PathSeparator)) {
			http.NotFound(w, r)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		http.ServeContent(w, r, parts[1], fileModTime(f), f)
	})
}

func newID() (string, error) {
	raw := make([]byte, idLength)
	if _, err := rand.Read(raw); err != nil {
		return "", errs.Storage("failed to generate file id", err)
	}
	id := base64.RawURLEncoding.EncodeToString(raw)
	if len(id) > idLength {
		id = id[:idLength]
	}
	return id, nil
}

func fileModTime(f *os.File) time.Time {
	if info, err := f.Stat(); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

// PublicKeyHandler serves GET /pub: this server's own PEM public key.
func PublicKeyHandler(pem []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-pem-file")
		w.Write(pem)
	})
}

// UploadKeyHandler serves POST /upload_key: a neighbour pushes its PEM
// public key, named "<host>_<port>_public_key.pem", for the registry to
// pick up on its next reconnect attempt.
func UploadKeyHandler(dir *filestore.PublicKeyDir, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad multipart body", http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file field", http.StatusBadRequest)
			return
		}
		defer f.Close()
		name := strings.TrimSuffix(hdr.Filename, "_public_key.pem")
		if name == hdr.Filename {
			http.Error(w, "filename must end in _public_key.pem", http.StatusBadRequest)
			return
		}
		pem, err := io.ReadAll(io.LimitReader(f, 1<<20))
		if err != nil {
			http.Error(w, "failed to read upload", http.StatusInternalServerError)
			return
		}
		if err := dir.StorePublicPEM(name, pem); err != nil {
			log.Warn("failed to persist uploaded neighbour key", logger.String("id", name), logger.Error(err))
			http.Error(w, "failed to store key", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
