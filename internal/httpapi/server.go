package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/cardbuilder/internal/docstore"
	"github.com/agentworkforce/cardbuilder/internal/editor"
	"github.com/agentworkforce/cardbuilder/internal/events"
	"github.com/agentworkforce/cardbuilder/internal/softdelete"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// MaxImportBytes bounds /v1/import bodies separately; exports of a full
	// collection are larger than ordinary edits.
	MaxImportBytes int64
	// OriginPatterns is handed to the websocket handshake. Empty means
	// same-origin only.
	OriginPatterns []string
	Logger         zerolog.Logger
}

type Server struct {
	editor      *editor.Editor
	bus         *events.Bus
	cfg         ServerConfig
	rateLimiter *rateLimiter
	log         zerolog.Logger
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(ed *editor.Editor, bus *events.Bus) *Server {
	return NewServerWithConfig(ed, bus, ServerConfig{})
}

func NewServerWithConfig(ed *editor.Editor, bus *events.Bus, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.MaxImportBytes <= 0 {
		cfg.MaxImportBytes = 8 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		editor:      ed,
		bus:         bus,
		cfg:         cfg,
		rateLimiter: limiter,
		log:         cfg.Logger.With().Str("component", "httpapi").Logger(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	var requiredScope string
	var route string
	switch {
	case len(parts) == 2 && parts[1] == "tabs" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "list_tabs"
	case len(parts) == 2 && parts[1] == "tabs" && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "create_tab"
	case len(parts) == 3 && parts[1] == "tabs" && parts[2] == "bulk-delete" && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "bulk_delete_tabs"
	case len(parts) == 3 && parts[1] == "tabs" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "get_tab"
	case len(parts) == 3 && parts[1] == "tabs" && r.Method == http.MethodDelete:
		requiredScope, route = scopeWrite, "remove_tab"
	case len(parts) == 4 && parts[1] == "tabs" && parts[3] == "activate" && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "activate_tab"
	case len(parts) == 4 && parts[1] == "tabs" && parts[3] == "restore" && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "restore_tab"
	case len(parts) == 4 && parts[1] == "tabs" && parts[3] == "title" && r.Method == http.MethodPut:
		requiredScope, route = scopeWrite, "rename_tab"
	case len(parts) == 4 && parts[1] == "tabs" && parts[3] == "styles" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "tab_styles"
	case len(parts) == 4 && parts[1] == "tabs" && parts[3] == "styles" && r.Method == http.MethodPut:
		requiredScope, route = scopeWrite, "set_tab_styles"
	case len(parts) == 5 && parts[1] == "tabs" && parts[3] == "presets" && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "apply_preset"
	case len(parts) == 2 && parts[1] == "cards" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "list_cards"
	case len(parts) == 2 && parts[1] == "cards" && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "add_card"
	case len(parts) == 3 && parts[1] == "cards" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "get_card"
	case len(parts) == 3 && parts[1] == "cards" && r.Method == http.MethodPatch:
		requiredScope, route = scopeWrite, "update_card"
	case len(parts) == 3 && parts[1] == "cards" && r.Method == http.MethodDelete:
		requiredScope, route = scopeWrite, "remove_card"
	case len(parts) == 4 && parts[1] == "cards" && parts[3] == "restore" && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "restore_card"
	case len(parts) == 4 && parts[1] == "cards" && (parts[3] == "cut" || parts[3] == "copy") && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "clip_card"
	case len(parts) == 2 && parts[1] == "clipboard" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "clipboard"
	case len(parts) == 2 && parts[1] == "clipboard" && r.Method == http.MethodDelete:
		requiredScope, route = scopeWrite, "clear_clipboard"
	case len(parts) == 3 && parts[1] == "clipboard" && parts[2] == "paste" && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "paste"
	case len(parts) == 2 && parts[1] == "import" && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "import"
	case len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "export"
	case len(parts) == 2 && parts[1] == "undo" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "list_undo"
	case len(parts) == 4 && parts[1] == "undo" && (parts[3] == "commit" || parts[3] == "restore") && r.Method == http.MethodPost:
		requiredScope, route = scopeWrite, "settle_undo"
	case len(parts) == 2 && parts[1] == "defaults" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "defaults"
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "events_stream"
	case len(parts) == 3 && parts[1] == "events" && parts[2] == "feed" && r.Method == http.MethodGet:
		requiredScope, route = scopeRead, "events_feed"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" && route == "events_stream" {
		// browsers cannot set headers on a websocket handshake
		if token := r.URL.Query().Get("access_token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	claims, authErr := authorizeBearer(authHeader, s.cfg.JWTSecret, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		if route != "events_stream" {
			writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
			return
		}
		correlationID = uuid.NewString()
	}
	if s.rateLimiter != nil && route != "events_stream" {
		if !s.rateLimiter.allow(claims.Client, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	var id int
	if len(parts) >= 3 && (parts[1] == "tabs" || parts[1] == "cards") && route != "bulk_delete_tabs" {
		parsed, err := strconv.Atoi(parts[2])
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid id: "+parts[2], correlationID)
			return
		}
		id = parsed
	}

	switch route {
	case "list_tabs":
		s.handleListTabs(w, r, correlationID)
	case "create_tab":
		s.handleCreateTab(w, r, correlationID)
	case "bulk_delete_tabs":
		s.handleBulkDeleteTabs(w, r, correlationID)
	case "get_tab":
		s.handleGetTab(w, id, correlationID)
	case "remove_tab":
		s.handleRemoveTab(w, r, id, correlationID)
	case "activate_tab":
		s.respond(w, correlationID, http.StatusOK)(s.editor.ActivateTab(id))
	case "restore_tab":
		s.handleRestoreTab(w, id, correlationID)
	case "rename_tab":
		s.handleRenameTab(w, r, id, correlationID)
	case "tab_styles":
		s.respondStyles(w, correlationID)(s.editor.Styles(id))
	case "set_tab_styles":
		s.handleSetTabStyles(w, r, id, correlationID)
	case "apply_preset":
		s.respondStyles(w, correlationID)(s.editor.ApplyPreset(id, parts[4]))
	case "list_cards":
		s.handleListCards(w, r, correlationID)
	case "add_card":
		s.handleAddCard(w, r, correlationID)
	case "get_card":
		s.respond(w, correlationID, http.StatusOK)(s.editor.GetCard(id))
	case "update_card":
		s.handleUpdateCard(w, r, id, correlationID)
	case "remove_card":
		s.handleRemoveCard(w, r, id, correlationID)
	case "restore_card":
		s.handleRestoreCard(w, id, correlationID)
	case "clip_card":
		s.handleClipCard(w, id, parts[3], correlationID)
	case "clipboard":
		writeJSON(w, http.StatusOK, map[string]any{"pasteAvailable": s.editor.PasteAvailable()})
	case "clear_clipboard":
		s.handleClearClipboard(w, correlationID)
	case "paste":
		s.handlePaste(w, r, correlationID)
	case "import":
		s.handleImport(w, r, correlationID)
	case "export":
		s.handleExport(w, r, correlationID)
	case "list_undo":
		writeJSON(w, http.StatusOK, map[string]any{
			"keys":         s.editor.PendingUndo(),
			"undoWindowMs": s.editor.UndoWindow().Milliseconds(),
		})
	case "settle_undo":
		s.handleSettleUndo(w, parts[2], parts[3], correlationID)
	case "defaults":
		s.handleDefaults(w)
	case "events_stream":
		s.handleEventStream(w, r, correlationID)
	case "events_feed":
		s.handleEventFeed(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

// respond writes v, or the mapped error, once the editor call returns.
func (s *Server) respond(w http.ResponseWriter, correlationID string, status int) func(any, error) {
	return func(v any, err error) {
		if err != nil {
			s.writeEditorError(w, err, correlationID)
			return
		}
		writeJSON(w, status, v)
	}
}

func (s *Server) respondStyles(w http.ResponseWriter, correlationID string) func(map[string]string, error) {
	return func(styles map[string]string, err error) {
		if err != nil {
			s.writeEditorError(w, err, correlationID)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"styles": styles})
	}
}

func (s *Server) handleListTabs(w http.ResponseWriter, r *http.Request, correlationID string) {
	query := r.URL.Query()
	populated, err := parseOptionalBool(query.Get("populated"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid populated flag", correlationID)
		return
	}
	softDeleted, err := parseOptionalBool(query.Get("softDeleted"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid softDeleted flag", correlationID)
		return
	}
	exclude, err := parseIDList(query.Get("exclude"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid exclude list", correlationID)
		return
	}
	tabs := s.editor.ListTabs(editor.ListFilter{Populated: populated, SoftDeleted: softDeleted, Exclude: exclude})
	resp := map[string]any{
		"tabs":           tabs,
		"widths":         s.editor.Widths(),
		"pasteAvailable": s.editor.PasteAvailable(),
	}
	if active, err := s.editor.ActiveTab(); err == nil {
		resp["activeTid"] = active.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTab(w http.ResponseWriter, r *http.Request, correlationID string) {
	var req struct {
		Title       string            `json:"title"`
		Styles      map[string]string `json:"styles"`
		InsertAfter int               `json:"insertAfter"`
		Activate    bool              `json:"activate"`
	}
	if !s.decodeOptionalJSONBody(w, r, correlationID, &req) {
		return
	}
	tab, err := s.editor.CreateTab(editor.CreateTabOptions{
		Title:       req.Title,
		Styles:      req.Styles,
		InsertAfter: req.InsertAfter,
		Activate:    req.Activate,
	})
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, tab)
}

func (s *Server) handleGetTab(w http.ResponseWriter, id int, correlationID string) {
	tab, err := s.editor.GetTab(id)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	cards, err := s.editor.ListCards(id)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	styles, err := s.editor.Styles(id)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tab":    tab,
		"styles": styles,
		"cards":  cards,
	})
}

func (s *Server) handleRemoveTab(w http.ResponseWriter, r *http.Request, id int, correlationID string) {
	mode, err := editor.ParseRemoveMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	if mode == editor.ModeEmpty || mode == editor.ModeOthers || mode == editor.ModeAll {
		writeError(w, http.StatusBadRequest, "bad_request", "bulk modes use POST /v1/tabs/bulk-delete", correlationID)
		return
	}
	pending, err := s.editor.RemoveTab(id, mode)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	s.writeRemoval(w, pending, map[string]any{"tabs": s.editor.ListTabs(editor.ListFilter{SoftDeleted: true})})
}

func (s *Server) handleRestoreTab(w http.ResponseWriter, id int, correlationID string) {
	if _, err := s.editor.RemoveTab(id, editor.ModeRestore); err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	s.respond(w, correlationID, http.StatusOK)(s.editor.GetTab(id))
}

func (s *Server) handleBulkDeleteTabs(w http.ResponseWriter, r *http.Request, correlationID string) {
	query := r.URL.Query()
	mode, err := editor.ParseRemoveMode(query.Get("mode"))
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	if mode != editor.ModeEmpty && mode != editor.ModeOthers && mode != editor.ModeAll {
		writeError(w, http.StatusBadRequest, "bad_request", "mode must be empty, others or all", correlationID)
		return
	}
	keep, err := parseOptionalBoundedInt(query.Get("keep"), 0, 0, math.MaxInt32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid keep id", correlationID)
		return
	}
	if mode == editor.ModeOthers && keep == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "mode others requires keep", correlationID)
		return
	}
	if _, err := s.editor.RemoveTab(keep, mode); err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": s.editor.ListTabs(editor.ListFilter{})})
}

func (s *Server) handleRenameTab(w http.ResponseWriter, r *http.Request, id int, correlationID string) {
	var req struct {
		Title string `json:"title"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	s.respond(w, correlationID, http.StatusOK)(s.editor.RenameTab(id, req.Title))
}

func (s *Server) handleSetTabStyles(w http.ResponseWriter, r *http.Request, id int, correlationID string) {
	var req struct {
		Styles map[string]string `json:"styles"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if len(req.Styles) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "styles is required", correlationID)
		return
	}
	s.respondStyles(w, correlationID)(s.editor.SetStyles(id, req.Styles))
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request, correlationID string) {
	tid, err := parseOptionalBoundedInt(r.URL.Query().Get("tab"), 0, 0, math.MaxInt32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid tab id", correlationID)
		return
	}
	if tid != 0 {
		if _, err := s.editor.GetTab(tid); err != nil {
			s.writeEditorError(w, err, correlationID)
			return
		}
	}
	cards, err := s.editor.ListCards(tid)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

// handleAddCard takes an optional card record. An empty body adds a blank
// card to the active tab.
func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request, correlationID string) {
	body, ok := s.readRequestBody(w, r, s.cfg.MaxBodyBytes, correlationID)
	if !ok {
		return
	}
	record := docstore.Absent
	if len(bytes.TrimSpace(body)) > 0 {
		parsed, err := docstore.ParseJSON(body)
		if err != nil || !parsed.IsObject() {
			writeError(w, http.StatusBadRequest, "bad_request", "card body must be a json object", correlationID)
			return
		}
		record = parsed
	}
	card, err := s.editor.AddCard(record)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	if card == nil {
		writeError(w, http.StatusNotFound, "not_found", "card names a tab that does not exist", correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request, id int, correlationID string) {
	var req struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path is required", correlationID)
		return
	}
	s.respond(w, correlationID, http.StatusOK)(s.editor.SetCardField(id, req.Path, req.Value))
}

func (s *Server) handleRemoveCard(w http.ResponseWriter, r *http.Request, id int, correlationID string) {
	mode, err := editor.ParseRemoveMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	pending, err := s.editor.RemoveCard(id, mode)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	s.writeRemoval(w, pending, map[string]any{"cid": id, "mode": mode})
}

func (s *Server) handleRestoreCard(w http.ResponseWriter, id int, correlationID string) {
	if _, err := s.editor.RemoveCard(id, editor.ModeRestore); err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	s.respond(w, correlationID, http.StatusOK)(s.editor.GetCard(id))
}

// writeRemoval answers 202 with the undo key while a soft delete is pending.
func (s *Server) writeRemoval(w http.ResponseWriter, pending *softdelete.Pending, settled map[string]any) {
	if pending != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"undoKey":      pending.Key(),
			"undoWindowMs": s.editor.UndoWindow().Milliseconds(),
		})
		return
	}
	writeJSON(w, http.StatusOK, settled)
}

func (s *Server) handleClipCard(w http.ResponseWriter, id int, action, correlationID string) {
	var err error
	if action == editor.ClipCut {
		err = s.editor.Cut(id)
	} else {
		err = s.editor.Copy(id)
	}
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cid":            id,
		"mode":           action,
		"pasteAvailable": s.editor.PasteAvailable(),
	})
}

func (s *Server) handleClearClipboard(w http.ResponseWriter, correlationID string) {
	if err := s.editor.ClearClipboard(); err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pasteAvailable": false})
}

func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request, correlationID string) {
	tid, err := parseOptionalBoundedInt(r.URL.Query().Get("tab"), 0, 0, math.MaxInt32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid tab id", correlationID)
		return
	}
	cards, err := s.editor.Paste(tid)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards})
}

// handleImport accepts one import document, or {"payloads": [doc, ...]} to
// merge several files at once. The first imported tab is activated unless
// activate=false.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, correlationID string) {
	query := r.URL.Query()
	target, err := parseOptionalBoundedInt(query.Get("tab"), 0, 0, math.MaxInt32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid tab id", correlationID)
		return
	}
	activate, err := parseOptionalBool(query.Get("activate"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid activate flag", correlationID)
		return
	}
	body, ok := s.readRequestBody(w, r, s.cfg.MaxImportBytes, correlationID)
	if !ok {
		return
	}
	payloads := splitImportBody(body)

	result, err := s.editor.Import(r.Context(), payloads, target)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	if activate && len(result.Tabs) > 0 {
		if _, err := s.editor.ActivateTab(result.Tabs[0].ID); err != nil {
			s.log.Warn().Err(err).Int("tid", result.Tabs[0].ID).Str("correlation_id", correlationID).Msg("activate imported tab failed")
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func splitImportBody(body []byte) [][]byte {
	var envelope struct {
		Payloads []json.RawMessage `json:"payloads"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Payloads) > 0 {
		out := make([][]byte, 0, len(envelope.Payloads))
		for _, payload := range envelope.Payloads {
			out = append(out, []byte(payload))
		}
		return out
	}
	return [][]byte{body}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request, correlationID string) {
	tid, err := parseOptionalBoundedInt(r.URL.Query().Get("tab"), 0, 0, math.MaxInt32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid tab id", correlationID)
		return
	}
	file, err := s.editor.Export(tid)
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Document)
}

func (s *Server) handleSettleUndo(w http.ResponseWriter, key, action, correlationID string) {
	var err error
	if action == "commit" {
		err = s.editor.CommitUndo(key)
	} else {
		err = s.editor.RestoreUndo(key)
	}
	if err != nil {
		s.writeEditorError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"undoKey": key, "action": action})
}

func (s *Server) handleDefaults(w http.ResponseWriter) {
	defaults := s.editor.Defaults()
	writeJSON(w, http.StatusOK, map[string]any{
		"styles":  defaults.Styles(),
		"presets": defaults.PresetNames(),
		"card":    defaults.CardShape(),
	})
}

func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 200, 1, 1000)
	writeJSON(w, http.StatusOK, s.bus.Recent(r.URL.Query().Get("cursor"), limit))
}

// handleEventStream pushes every bus event to a websocket client until
// either side goes away. A client too slow to drain its buffer misses events
// rather than stalling the editor.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request, correlationID string) {
	// subscribe before the handshake completes so the client sees every
	// event published after its dial returns
	sub := s.bus.Subscribe(0)
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.log.Warn().Err(err).Str("correlation_id", correlationID).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := conn.CloseRead(r.Context())
	s.log.Debug().Str("correlation_id", correlationID).Msg("event stream opened")

	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Str("correlation_id", correlationID).Int("dropped", sub.Dropped()).Msg("event stream closed")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event bus closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Str("correlation_id", correlationID).Msg("event stream write failed")
				return
			}
		}
	}
}

func (s *Server) writeEditorError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, editor.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, editor.ErrMalformedImport):
		writeError(w, http.StatusUnprocessableEntity, "malformed_import", err.Error(), correlationID)
	case errors.Is(err, docstore.ErrReadOnly):
		writeError(w, http.StatusConflict, "read_only", err.Error(), correlationID)
	case errors.Is(err, docstore.ErrInvalidInput),
		errors.Is(err, docstore.ErrInvalidPath),
		errors.Is(err, docstore.ErrInvalidIdentifier),
		errors.Is(err, docstore.ErrTypeMismatch):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "cancelled", err.Error(), correlationID)
	default:
		s.log.Error().Err(err).Str("correlation_id", correlationID).Msg("editor operation failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, limit int64, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, s.cfg.MaxBodyBytes, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func (s *Server) decodeOptionalJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, s.cfg.MaxBodyBytes, correlationID)
	if !ok {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func parseIDList(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int
	for _, item := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}

func parseOptionalBoundedInt(raw string, fallback, min, max int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, err
	}
	if parsed < min || parsed > max {
		return 0, fmt.Errorf("out of range")
	}
	return parsed, nil
}

func parseOptionalBool(raw string, fallback bool) (bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return false, err
	}
	return parsed, nil
}
