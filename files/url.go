package files

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/olaf-mesh/neighbourhood/internal/errs"
)

// UploadTo posts content to a remote file store's POST /api/upload endpoint
// (typically a client's home server) and returns the minted file_url. It is
// the client-side counterpart to Store.UploadHandler, used by the local
// facade's /upload_file.
func UploadTo(baseURL, filename string, content io.Reader) (string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", errs.Transport("failed to build upload request", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", errs.Transport("failed to read file for upload", err)
	}
	if err := w.Close(); err != nil {
		return "", errs.Transport("failed to finalize upload request", err)
	}

	resp, err := http.Post(baseURL+"/api/upload", w.FormDataContentType(), body)
	if err != nil {
		return "", errs.Transport("upload request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errs.Transport(fmt.Sprintf("home server rejected upload: %s", resp.Status), nil)
	}

	var decoded struct {
		FileURL string `json:"file_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errs.Transport("malformed upload response", err)
	}
	return decoded.FileURL, nil
}

// PushPublicKey posts pem to a remote server's POST /upload_key endpoint
// under filename "<id>_public_key.pem", the bootstrap path a neighbour uses
// to provision its key on a peer before the peer's registry can dial it
// back. It is the client-side counterpart to UploadKeyHandler, used by
// olaf-keytool's push subcommand.
func PushPublicKey(baseURL, id string, pem []byte) error {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", id+"_public_key.pem")
	if err != nil {
		return errs.Transport("failed to build key upload request", err)
	}
	if _, err := part.Write(pem); err != nil {
		return errs.Transport("failed to write key upload body", err)
	}
	if err := w.Close(); err != nil {
		return errs.Transport("failed to finalize key upload request", err)
	}

	resp, err := http.Post(baseURL+"/upload_key", w.FormDataContentType(), body)
	if err != nil {
		return errs.Transport("key upload request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return errs.Transport(fmt.Sprintf("remote rejected key upload: %s", resp.Status), nil)
	}
	return nil
}
