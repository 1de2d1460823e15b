package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-notes/internal/app"
	"github.com/loqalabs/loqa-notes/internal/editor"
	"github.com/loqalabs/loqa-notes/internal/filesave"
	"github.com/loqalabs/loqa-notes/internal/kv"
	"github.com/loqalabs/loqa-notes/internal/notes"
	"github.com/loqalabs/loqa-notes/internal/presence"
	"github.com/loqalabs/loqa-notes/internal/recorder"
	"github.com/loqalabs/loqa-notes/internal/view"
)

const maxBodyBytes = 1 << 20

// API exposes the session controls over HTTP.
type API struct {
	app    *app.App
	logger *slog.Logger
}

func NewAPI(a *app.App, logger *slog.Logger) *API {
	return &API{app: a, logger: logger.With(slog.String("component", "http-api"))}
}

func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/record/start", api.handleStart)
	mux.HandleFunc("POST /api/record/pause", api.handlePause)
	mux.HandleFunc("POST /api/record/reset", api.handleReset)
	mux.HandleFunc("GET /api/session", api.handleSession)
	mux.HandleFunc("GET /api/peers", api.handlePeers)
	mux.HandleFunc("GET /api/notes", api.handleList)
	mux.HandleFunc("POST /api/notes", api.handleSaveDraft)
	mux.HandleFunc("POST /api/notes/text", api.handleSaveText)
	mux.HandleFunc("POST /api/notes/submit", api.handleSubmit)
	mux.HandleFunc("DELETE /api/notes/{id}", api.handleDelete)
	mux.HandleFunc("POST /api/notes/{id}/listen", api.handleListen)
	mux.HandleFunc("GET /api/notes/{id}/download", api.handleDownload)
}

type textRequest struct {
	Text  string `json:"text"`
	Shift bool   `json:"shift,omitempty"`
}

type saveResponse struct {
	Saved   bool         `json:"saved"`
	Handled bool         `json:"handled,omitempty"`
	Note    *notes.Note  `json:"note,omitempty"`
	Session app.Snapshot `json:"session"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (api *API) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := api.app.Start(r.Context()); err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSON(w, http.StatusOK, api.app.Snapshot())
}

func (api *API) handlePause(w http.ResponseWriter, _ *http.Request) {
	if err := api.app.Pause(); err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSON(w, http.StatusOK, api.app.Snapshot())
}

func (api *API) handleReset(w http.ResponseWriter, _ *http.Request) {
	api.app.Reset()
	api.writeJSON(w, http.StatusOK, api.app.Snapshot())
}

func (api *API) handleSession(w http.ResponseWriter, _ *http.Request) {
	api.writeJSON(w, http.StatusOK, api.app.Snapshot())
}

func (api *API) handlePeers(w http.ResponseWriter, _ *http.Request) {
	peers := api.app.Peers()
	if peers == nil {
		peers = []presence.Node{}
	}
	api.writeJSON(w, http.StatusOK, peers)
}

func (api *API) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := api.app.Render(r.Context())
	api.writeJSON(w, http.StatusOK, page)
}

func (api *API) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	note, err := api.app.Save(r.Context())
	api.writeSave(w, note, false, err)
}

func (api *API) handleSaveText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !api.decode(w, r, &req) {
		return
	}
	note, err := api.app.SaveText(r.Context(), req.Text)
	api.writeSave(w, note, false, err)
}

// handleSubmit mirrors a bare enter in the text area: the text is saved and
// cleared. With shift set nothing is saved and the text is kept.
func (api *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !api.decode(w, r, &req) {
		return
	}
	api.app.SetText(req.Text)
	handled, err := api.app.SubmitLine(r.Context(), editor.Key{Name: editor.KeyEnter, Shift: req.Shift})
	if !handled {
		api.writeJSON(w, http.StatusOK, saveResponse{Session: api.app.Snapshot()})
		return
	}
	api.writeSave(w, notes.Note{}, true, err)
}

func (api *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := api.app.Delete(r.Context(), r.PathValue("id")); err != nil {
		api.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) handleListen(w http.ResponseWriter, r *http.Request) {
	if err := api.app.Listen(r.Context(), r.PathValue("id")); err != nil {
		api.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (api *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	note, err := api.app.Note(r.Context(), r.PathValue("id"))
	if err != nil {
		api.writeError(w, err)
		return
	}
	if err := filesave.WriteAttachment(w, api.app.DownloadName(), []byte(note.Body)); err != nil {
		api.logger.Warn("download write failed", slog.String("error", err.Error()))
	}
}

func (api *API) writeSave(w http.ResponseWriter, note notes.Note, handled bool, err error) {
	resp := saveResponse{Handled: handled}
	switch {
	case errors.Is(err, editor.ErrEmptyNote):
		resp.Session = api.app.Snapshot()
		api.writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	case err != nil:
		api.writeError(w, err)
		return
	}
	resp.Saved = true
	if note.ID != "" {
		resp.Note = &note
	}
	resp.Session = api.app.Snapshot()
	api.writeJSON(w, http.StatusCreated, resp)
}

func (api *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		api.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (api *API) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, recorder.ErrNotIdle), errors.Is(err, recorder.ErrNotRecording):
		code = http.StatusConflict
	case errors.Is(err, notes.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, view.ErrUnknownControl):
		code = http.StatusBadRequest
	case errors.Is(err, kv.ErrQuotaExceeded):
		code = http.StatusInsufficientStorage
	}
	if code == http.StatusInternalServerError {
		api.logger.Error("request failed", slog.String("error", err.Error()))
	}
	api.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (api *API) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
