package bridgeserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/internal/schema"
)

const defaultFetchLimit = 100

// statusHandler answers the unauthenticated status action. It reports
// service identity only and never opens the database.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"service":  ServiceName,
		"version":  s.config.Version,
		"database": s.config.DBDriver,
	})
}

// actionHandler verifies the envelope, then dispatches on the action
// field. Protocol failures answer HTTP 200 with success=false and a
// vocabulary error so callers can branch on it; 403 is reserved for
// authentication.
func (s *Server) actionHandler(w http.ResponseWriter, r *http.Request) {
	if !s.verifyRequest(r) {
		s.writeJSON(w, http.StatusForbidden, &bridge.Response{
			Success: false,
			Error:   bridge.ErrAuthFailed,
		})
		return
	}

	var req bridge.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   []string{"request body is not valid JSON"},
		})
		return
	}

	switch req.Action {
	case bridge.ActionTestConnection:
		s.handleTestConnection(w, r, &req)
	case bridge.ActionListBoards:
		s.handleListBoards(w, r, &req)
	case bridge.ActionFetchRecent:
		s.handleFetchRecent(w, r, &req)
	case bridge.ActionDeletePost:
		s.handleDeletePost(w, r, &req)
	default:
		s.writeJSON(w, http.StatusBadRequest, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   []string{fmt.Sprintf("unknown action %q", req.Action)},
		})
	}
}

// open returns a database handle for the request: credentials from the
// signed body when present, the local configuration otherwise.
func (s *Server) open(req *bridge.Request) (*boardDB, error) {
	if req.DB != nil {
		return openFromParams(req.DB)
	}
	if s.config.DBDSN == "" {
		return nil, fmt.Errorf("no database configured")
	}
	return openLocal(s.config.DBDriver, s.config.DBDSN)
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request, req *bridge.Request) {
	trace := []string{"test_connection"}

	if req.DB == nil {
		s.writeJSON(w, http.StatusBadRequest, &bridge.Response{
			Success: false,
			Error:   bridge.ErrDBParamsMissing,
			Trace:   append(trace, "db parameters absent from request body"),
		})
		return
	}

	db, err := openFromParams(req.DB)
	if err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "open failed: "+err.Error()),
		})
		return
	}
	defer db.close()

	if err := db.ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "ping failed: "+err.Error()),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, &bridge.Response{
		Success:  true,
		Database: req.DB.Driver,
		Trace:    append(trace, "connection verified"),
	})
}

func (s *Server) handleListBoards(w http.ResponseWriter, r *http.Request, req *bridge.Request) {
	trace := []string{"list_boards"}

	db, err := s.open(req)
	if err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "open failed: "+err.Error()),
		})
		return
	}
	defer db.close()

	tables, err := db.listTables(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "table listing failed: "+err.Error()),
		})
		return
	}
	trace = append(trace, fmt.Sprintf("%d tables declared", len(tables)))

	var boards []bridge.BoardMeta
	for _, table := range tables {
		if !validIdentifier.MatchString(table) || !schema.IsBoardLike(table) {
			continue
		}

		meta := bridge.BoardMeta{Table: table}

		var count int64
		if err := db.db.QueryRowContext(r.Context(),
			"SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			trace = append(trace, fmt.Sprintf("count failed for %s: %v", table, err))
			continue
		}
		meta.Count = count

		columns, err := db.listColumns(r.Context(), table)
		if err == nil {
			if dateCol := schema.FindDateColumn(columns); dateCol != "" {
				var last interface{}
				if err := db.db.QueryRowContext(r.Context(),
					"SELECT MAX("+dateCol+") FROM "+table).Scan(&last); err == nil && last != nil {
					switch v := last.(type) {
					case []byte:
						meta.LastActivity = string(v)
					default:
						meta.LastActivity = fmt.Sprint(v)
					}
				}
			}
		}

		boards = append(boards, meta)
	}
	trace = append(trace, fmt.Sprintf("%d board-like tables", len(boards)))

	s.writeJSON(w, http.StatusOK, &bridge.Response{
		Success: true,
		Boards:  boards,
		Trace:   trace,
	})
}

func (s *Server) handleFetchRecent(w http.ResponseWriter, r *http.Request, req *bridge.Request) {
	trace := []string{"fetch_recent_posts"}

	// Fetch requires only the identifier shape; the board-like whitelist
	// applies to discovery and deletion.
	if resp := checkIdentifier(req.Table); resp != nil {
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	db, err := s.open(req)
	if err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "open failed: "+err.Error()),
		})
		return
	}
	defer db.close()

	exists, err := db.hasTable(r.Context(), req.Table)
	if err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "table lookup failed: "+err.Error()),
		})
		return
	}
	if !exists {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrNotFound,
			Trace:   append(trace, fmt.Sprintf("table %s does not exist", req.Table)),
		})
		return
	}

	columns, err := db.listColumns(r.Context(), req.Table)
	if err != nil || len(columns) == 0 {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "column introspection failed"),
		})
		return
	}

	mapping := schema.InferMapping(columns)
	trace = append(trace, fmt.Sprintf("mapping resolved: id=%s date=%s",
		mapping[schema.RoleID], mapping[schema.RoleDate]))

	idCol := mapping[schema.RoleID]
	dateCol := mapping[schema.RoleDate]
	if !validIdentifier.MatchString(idCol) || (dateCol != "" && !validIdentifier.MatchString(dateCol)) {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "resolved columns are not plain identifiers"),
		})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	if limit > s.config.FetchLimitMax {
		limit = s.config.FetchLimitMax
	}

	// New rows match on either cursor: ids past the last seen id, or
	// dates past the look-back floor. An empty cursor contributes no
	// clause; against an INTEGER id column `wr_id > ''` would match
	// nothing. Values are bound, never spliced.
	var conds []string
	args := []interface{}{}
	n := 1
	if req.SinceID != "" {
		conds = append(conds, fmt.Sprintf("%s > %s", idCol, db.placeholder(n)))
		args = append(args, req.SinceID)
		n++
	}
	if dateCol != "" && req.SinceDate != "" {
		conds = append(conds, fmt.Sprintf("%s > %s", dateCol, db.placeholder(n)))
		args = append(args, normalizeSince(req.SinceDate))
		n++
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", req.Table)
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " OR "))
	}
	fmt.Fprintf(&sb, " ORDER BY %s ASC LIMIT %s", idCol, db.placeholder(n))
	args = append(args, limit)

	rows, err := db.db.QueryContext(r.Context(), sb.String(), args...)
	if err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "query failed: "+err.Error()),
		})
		return
	}
	defer rows.Close()

	posts, err := scanRows(rows)
	if err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "row scan failed: "+err.Error()),
		})
		return
	}
	trace = append(trace, fmt.Sprintf("%d rows returned", len(posts)))

	s.writeJSON(w, http.StatusOK, &bridge.Response{
		Success: true,
		Posts:   posts,
		Mapping: mapping,
		Trace:   trace,
	})
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request, req *bridge.Request) {
	trace := []string{"delete_post"}

	if resp := s.checkTable(req.Table); resp != nil {
		s.writeJSON(w, http.StatusOK, resp)
		return
	}
	if req.PostID == "" {
		s.writeJSON(w, http.StatusBadRequest, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "post_id is required"),
		})
		return
	}

	db, err := s.open(req)
	if err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "open failed: "+err.Error()),
		})
		return
	}
	defer db.close()

	columns, err := db.listColumns(r.Context(), req.Table)
	if err != nil || len(columns) == 0 {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrNotFound,
			Trace:   append(trace, fmt.Sprintf("table %s does not exist", req.Table)),
		})
		return
	}

	idCol := schema.InferMapping(columns)[schema.RoleID]
	if !validIdentifier.MatchString(idCol) {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "resolved id column is not a plain identifier"),
		})
		return
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", req.Table, idCol, db.placeholder(1))
	result, err := db.db.ExecContext(r.Context(), query, req.PostID)
	if err != nil {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrBridgeError,
			Trace:   append(trace, "delete failed: "+err.Error()),
		})
		return
	}

	affected, err := result.RowsAffected()
	if err != nil {
		affected = 0
	}
	if affected == 0 {
		s.writeJSON(w, http.StatusOK, &bridge.Response{
			Success: false,
			Error:   bridge.ErrNotFound,
			Trace:   append(trace, fmt.Sprintf("post %s not found in %s", req.PostID, req.Table)),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, &bridge.Response{
		Success: true,
		Deleted: int(affected),
		Trace:   append(trace, fmt.Sprintf("deleted %d row(s)", affected)),
	})
}

// checkIdentifier enforces the identifier shape for any request-supplied
// table name. Nil means the name is acceptable.
func checkIdentifier(table string) *bridge.Response {
	if table == "" || !validIdentifier.MatchString(table) {
		return &bridge.Response{
			Success: false,
			Error:   bridge.ErrForbiddenTable,
			Trace:   []string{"table name must match ^[A-Za-z0-9_]+$"},
		}
	}
	return nil
}

// checkTable additionally enforces the board-like whitelist for actions
// that destroy rows.
func (s *Server) checkTable(table string) *bridge.Response {
	if resp := checkIdentifier(table); resp != nil {
		return resp
	}
	if !schema.IsBoardLike(table) {
		return &bridge.Response{
			Success: false,
			Error:   bridge.ErrForbiddenTable,
			Trace:   []string{fmt.Sprintf("table %s is not board-like", table)},
		}
	}
	return nil
}

// normalizeSince rewrites an RFC3339 cursor into the stored datetime
// layout so the comparison against the date column holds.
func normalizeSince(raw string) string {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format(bridge.TimeLayout)
	}
	return raw
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
