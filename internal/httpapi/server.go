package httpapi

import (
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

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/gridsync/internal/crm"
	"github.com/agentworkforce/gridsync/internal/grid"
	"github.com/agentworkforce/gridsync/internal/mapping"
	"github.com/agentworkforce/gridsync/internal/reconcile"
)

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// OperationTimeout bounds pull, push, sync and repair calls. Zero means
	// the request context alone decides.
	OperationTimeout time.Duration
	Logger           Logger
}

type Server struct {
	engine      *reconcile.Engine
	sheets      grid.Provider
	cfg         ServerConfig
	rateLimiter *rateLimiter

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
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

type editRequest struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

type editBatchRequest struct {
	Row    *int          `json:"row,omitempty"`
	Column *int          `json:"column,omitempty"`
	Edits  []editRequest `json:"edits,omitempty"`
}

type streamReply struct {
	Outcome *reconcile.EditOutcome `json:"outcome,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

type columnsRequest struct {
	Columns mapping.Mapping `json:"columns"`
	// PerUser saves the mapping for the token's user only.
	PerUser bool `json:"perUser,omitempty"`
}

type columnsResponse struct {
	SheetID    string          `json:"sheetId"`
	EntityType string          `json:"entityType"`
	Columns    mapping.Mapping `json:"columns"`
	Headers    []string        `json:"headers"`
}

type gridResponse struct {
	SheetID      string     `json:"sheetId"`
	Values       [][]string `json:"values"`
	StatusColumn string     `json:"statusColumn,omitempty"`
}

func NewServer(engine *reconcile.Engine, sheets grid.Provider) *Server {
	return NewServerWithConfig(engine, sheets, ServerConfig{})
}

func NewServerWithConfig(engine *reconcile.Engine, sheets grid.Provider, cfg ServerConfig) *Server {
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
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		engine:      engine,
		sheets:      sheets,
		cfg:         cfg,
		rateLimiter: limiter,
		locks:       map[string]*sync.Mutex{},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "sheets" || parts[2] == "" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	sheetID := parts[2]

	var requiredScope string
	var route string
	switch {
	case len(parts) == 4 && parts[3] == "pull" && r.Method == http.MethodPost:
		requiredScope = scopeSyncWrite
		route = "pull"
	case len(parts) == 4 && parts[3] == "push" && r.Method == http.MethodPost:
		requiredScope = scopeSyncWrite
		route = "push"
	case len(parts) == 4 && parts[3] == "sync" && r.Method == http.MethodPost:
		requiredScope = scopeSyncWrite
		route = "sync"
	case len(parts) == 4 && parts[3] == "repair" && r.Method == http.MethodPost:
		requiredScope = scopeSyncWrite
		route = "repair"
	case len(parts) == 4 && parts[3] == "edits" && r.Method == http.MethodPost:
		requiredScope = scopeGridEdit
		route = "edits"
	case len(parts) == 5 && parts[3] == "edits" && parts[4] == "stream" && r.Method == http.MethodGet:
		requiredScope = scopeGridEdit
		route = "edit_stream"
	case len(parts) == 4 && parts[3] == "grid" && r.Method == http.MethodGet:
		requiredScope = scopeSyncRead
		route = "grid"
	case len(parts) == 4 && parts[3] == "columns" && r.Method == http.MethodGet:
		requiredScope = scopeSyncRead
		route = "get_columns"
	case len(parts) == 4 && parts[3] == "columns" && r.Method == http.MethodPut:
		requiredScope = scopeConfigWrite
		route = "put_columns"
	case len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodGet:
		requiredScope = scopeSyncRead
		route = "status"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" && route == "edit_stream" {
		// Browsers cannot set headers on websocket upgrades.
		if token := r.URL.Query().Get("access_token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	claims, authErr := authorizeBearer(authHeader, s.cfg.JWTSecret, sheetID, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		correlationID = fmt.Sprintf("gridsync_%d", time.Now().UnixNano())
	}
	if s.rateLimiter != nil {
		key := sheetID + "|" + claims.User
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	sheet, err := s.sheets.Open(sheetID)
	if err != nil {
		s.writeOperationError(w, err, correlationID)
		return
	}

	switch route {
	case "pull":
		s.runOperation(w, r, sheet, correlationID, func(ctx context.Context) (any, error) {
			return s.engine.Pull(ctx, sheet, claims.User)
		})
	case "push":
		s.runOperation(w, r, sheet, correlationID, func(ctx context.Context) (any, error) {
			return s.engine.Push(ctx, sheet, claims.User)
		})
	case "sync":
		s.runOperation(w, r, sheet, correlationID, func(ctx context.Context) (any, error) {
			return s.engine.SyncOnce(ctx, sheet, claims.User)
		})
	case "repair":
		s.runOperation(w, r, sheet, correlationID, func(context.Context) (any, error) {
			return s.engine.Repair(sheet)
		})
	case "edits":
		s.handleEdits(w, r, sheet, correlationID)
	case "edit_stream":
		s.handleEditStream(w, r, sheet)
	case "grid":
		s.handleGrid(w, sheet, correlationID)
	case "get_columns":
		s.handleGetColumns(w, r, sheetID, claims, correlationID)
	case "put_columns":
		s.handlePutColumns(w, r, sheetID, claims, correlationID)
	case "status":
		s.handleStatus(w, sheet, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

// runOperation runs op with the sheet locked and writes its report.
func (s *Server) runOperation(w http.ResponseWriter, r *http.Request, sheet grid.Sheet, correlationID string, op func(ctx context.Context) (any, error)) {
	ctx := r.Context()
	if s.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.OperationTimeout)
		defer cancel()
	}
	unlock := s.lockSheet(sheet.ID())
	report, err := op(ctx)
	unlock()
	if err != nil {
		s.logf("sheet %s: operation failed (%s): %v", sheet.ID(), correlationID, err)
		s.writeOperationError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEdits(w http.ResponseWriter, r *http.Request, sheet grid.Sheet, correlationID string) {
	var body editBatchRequest
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	edits := body.Edits
	if body.Row != nil && body.Column != nil {
		edits = append(edits, editRequest{Row: *body.Row, Column: *body.Column})
	}
	if len(edits) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "no edits in request", correlationID)
		return
	}

	unlock := s.lockSheet(sheet.ID())
	defer unlock()
	outcomes := make([]reconcile.EditOutcome, 0, len(edits))
	for _, edit := range edits {
		outcome, err := s.engine.HandleEdit(sheet, grid.Edit{SheetID: sheet.ID(), Row: edit.Row, Column: edit.Column})
		if err != nil {
			s.writeOperationError(w, err, correlationID)
			return
		}
		outcomes = append(outcomes, outcome)
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

// handleEditStream accepts a websocket carrying one {row, column} message
// per edit and answers each with the resulting outcome.
func (s *Server) handleEditStream(w http.ResponseWriter, r *http.Request, sheet grid.Sheet) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logf("sheet %s: websocket accept failed: %v", sheet.ID(), err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	ctx := r.Context()
	for {
		var edit editRequest
		if err := wsjson.Read(ctx, conn, &edit); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			s.logf("sheet %s: edit stream read failed: %v", sheet.ID(), err)
			return
		}

		unlock := s.lockSheet(sheet.ID())
		outcome, err := s.engine.HandleEdit(sheet, grid.Edit{SheetID: sheet.ID(), Row: edit.Row, Column: edit.Column})
		unlock()
		reply := streamReply{Outcome: &outcome}
		if err != nil {
			reply = streamReply{Error: err.Error()}
		}
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			s.logf("sheet %s: edit stream write failed: %v", sheet.ID(), err)
			return
		}
	}
}

func (s *Server) handleGrid(w http.ResponseWriter, sheet grid.Sheet, correlationID string) {
	unlock := s.lockSheet(sheet.ID())
	values, err := sheet.Values()
	unlock()
	if err != nil {
		s.writeOperationError(w, err, correlationID)
		return
	}
	resp := gridResponse{SheetID: sheet.ID(), Values: values}
	if col := s.engine.Tracker().Locate(sheet.ID(), values); col >= 0 {
		resp.StatusColumn = grid.ColumnLetter(col)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) entityFor(r *http.Request, sheetID string) string {
	if entity := strings.TrimSpace(r.URL.Query().Get("entity")); entity != "" {
		return crm.NormalizeEntityType(entity)
	}
	return s.engine.EntityType(sheetID)
}

func (s *Server) handleGetColumns(w http.ResponseWriter, r *http.Request, sheetID string, claims tokenClaims, correlationID string) {
	entity := s.entityFor(r, sheetID)
	m, found, err := s.engine.Mappings().Load(sheetID, entity, claims.User)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "no columns selected for "+entity, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, columnsResponse{
		SheetID:    sheetID,
		EntityType: entity,
		Columns:    m,
		Headers:    m.Effective().Headers(),
	})
}

func (s *Server) handlePutColumns(w http.ResponseWriter, r *http.Request, sheetID string, claims tokenClaims, correlationID string) {
	var body columnsRequest
	if !s.decodeJSONBody(w, r, correlationID, &body) {
		return
	}
	entity := s.entityFor(r, sheetID)
	user := ""
	if body.PerUser {
		if claims.User == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "perUser requires a user claim", correlationID)
			return
		}
		user = claims.User
	}
	if err := s.engine.Mappings().Save(sheetID, entity, user, body.Columns); err != nil {
		if errors.Is(err, mapping.ErrEmptyFieldPath) || errors.Is(err, mapping.ErrDuplicateFieldPath) {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, columnsResponse{
		SheetID:    sheetID,
		EntityType: entity,
		Columns:    body.Columns,
		Headers:    body.Columns.Effective().Headers(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, sheet grid.Sheet, correlationID string) {
	unlock := s.lockSheet(sheet.ID())
	summary, err := s.engine.Summary(sheet)
	unlock()
	if err != nil {
		s.writeOperationError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) writeOperationError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, reconcile.ErrConfiguration):
		writeError(w, http.StatusPreconditionFailed, "configuration_required", err.Error(), correlationID)
	case errors.Is(err, crm.ErrUnknownEntity):
		writeError(w, http.StatusBadRequest, "unknown_entity", err.Error(), correlationID)
	case errors.Is(err, crm.ErrRemoteAPI):
		writeError(w, http.StatusBadGateway, "remote_error", err.Error(), correlationID)
	case errors.Is(err, grid.ErrInvalidInput), errors.Is(err, grid.ErrOutOfRange):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, grid.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

// lockSheet serializes engine operations on one sheet.
func (s *Server) lockSheet(sheetID string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[sheetID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sheetID] = lock
	}
	s.locksMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Printf(format, args...)
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
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
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
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
