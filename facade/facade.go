// Package facade implements the local HTTP surface (C7) a UI shell polls:
// fingerprint/identity info, the cached client directory, outbound message
// enqueueing, and the locally stored message history.
package facade

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/olaf-mesh/neighbourhood/client"
	"github.com/olaf-mesh/neighbourhood/files"
	"github.com/olaf-mesh/neighbourhood/internal/logger"
)

// Identity is the static self-description returned by GET /get_fingerprint.
type Identity struct {
	Fingerprint   string `json:"fingerprint"`
	Name          string `json:"name"`
	ServerAddress string `json:"server_address"`
	ServerPort    int    `json:"server_port"`
	HTTPPort      int    `json:"http_port"`
	PublicHost    string `json:"public_host"`
}

// Facade wires a client.Engine, its Directory, and a MessageStore to the
// HTTP handlers a UI shell polls.
type Facade struct {
	identity  Identity
	engine    *client.Engine
	directory *client.Directory
	store     *MessageStore
	homeHTTP  string // e.g. "http://relay.example:8080", used for file uploads
	log       logger.Logger
}

// New constructs a Facade. homeHTTPBase is the base URL of the client's
// home server HTTP listener, used to relay POST /upload_file onward.
func New(identity Identity, engine *client.Engine, directory *client.Directory, store *MessageStore, homeHTTPBase string, log logger.Logger) *Facade {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	return &Facade{identity: identity, engine: engine, directory: directory, store: store, homeHTTP: homeHTTPBase, log: log}
}

// OnMessage is passed as the client.Engine's MessageHandler so every
// authenticated inbound message lands in the local store.
func (f *Facade) OnMessage(msg client.IncomingMessage) {
	f.store.Append(msg.SenderFingerprint, msg.Message, msg.Public, msg.Timestamp)
}

// Mux builds the complete facade HTTP surface.
func (f *Facade) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/get_fingerprint", f.handleGetFingerprint)
	mux.HandleFunc("/get_clients", f.handleGetClients)
	mux.HandleFunc("/request_client_list", f.handleRequestClientList)
	mux.HandleFunc("/get_messages", f.handleGetMessages)
	mux.HandleFunc("/send_message", f.handleSendMessage)
	mux.HandleFunc("/send_public_message", f.handleSendPublicMessage)
	mux.HandleFunc("/upload_file", f.handleUploadFile)
	mux.HandleFunc("/healthz", f.handleHealthz)
	return mux
}

func (f *Facade) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *Facade) writeError(w http.ResponseWriter, status int, msg string) {
	f.writeJSON(w, status, map[string]string{"error": msg})
}

func (f *Facade) handleGetFingerprint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		f.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	f.writeJSON(w, http.StatusOK, f.identity)
}

func (f *Facade) handleGetClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		f.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	f.writeJSON(w, http.StatusOK, map[string][]string{"clients": f.directory.Fingerprints()})
}

func (f *Facade) handleRequestClientList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		f.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	if err := f.engine.RequestClientList(); err != nil {
		f.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	f.writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (f *Facade) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		f.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	f.writeJSON(w, http.StatusOK, f.store.All())
}

type sendMessageRequest struct {
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

func (f *Facade) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		f.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Message == "" || len(req.Recipients) == 0 {
		f.writeError(w, http.StatusBadRequest, "message and recipients are required")
		return
	}
	if err := f.engine.SendChat(req.Recipients, req.Message); err != nil {
		f.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	f.store.Append(f.engine.Fingerprint(), req.Message, false, time.Now())
	f.writeJSON(w, http.StatusOK, map[string]interface{}{})
}

type sendPublicMessageRequest struct {
	Message string `json:"message"`
}

func (f *Facade) handleSendPublicMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		f.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req sendPublicMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Message == "" {
		f.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err := f.engine.SendPublicChat(req.Message); err != nil {
		f.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	f.store.Append(f.engine.Fingerprint(), req.Message, true, time.Now())
	f.writeJSON(w, http.StatusOK, map[string]interface{}{})
}

// handleUploadFile relays a multipart upload to the client's home server
// file store, then announces the resulting URL as a chat message. An
// optional "recipients" form field (comma-separated fingerprints) selects a
// private chat; its absence sends a public chat instead.
func (f *Facade) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		f.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		f.writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	fileURL, err := files.UploadTo(f.homeHTTP, hdr.Filename, file)
	if err != nil {
		f.log.Debug("file relay upload failed", logger.Error(err))
		f.writeError(w, http.StatusBadGateway, "upload to home server failed")
		return
	}

	body := "[File] " + fileURL
	recipients := splitRecipients(r.FormValue("recipients"))
	if len(recipients) > 0 {
		if err := f.engine.SendChat(recipients, body); err != nil {
			f.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	} else {
		if err := f.engine.SendPublicChat(body); err != nil {
			f.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	f.store.Append(f.engine.Fingerprint(), body, len(recipients) == 0, time.Now())
	f.writeJSON(w, http.StatusOK, map[string]string{"file_url": fileURL})
}

func (f *Facade) handleHealthz(w http.ResponseWriter, r *http.Request) {
	f.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": string(f.engine.State())})
}

func splitRecipients(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
