// Package testserver provides an in-process stand-in for an rqlite
// cluster node, backed by an embedded SQLite database. It speaks the
// same HTTP/JSON surface the client targets, so integration tests run
// without a real cluster. Follower instances answer every request with
// a leader redirect, for exercising redirect handling.
package testserver

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Server emulates one rqlite node over an in-memory SQLite database.
type Server struct {
	db   *sqlx.DB
	http *httptest.Server

	user     string
	password string

	mu sync.Mutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithBasicAuth requires HTTP basic credentials on every request.
func WithBasicAuth(user, password string) ServerOption {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// New starts a server on an ephemeral port. Each server owns a private
// shared-cache memory database, so parallel tests never collide.
func New(options ...ServerOption) (*Server, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("testserver: failed to open database: %w", err)
	}
	// A shared-cache memory database disappears with its last
	// connection; pin one.
	db.SetMaxIdleConns(1)

	s := &Server{db: db}
	for _, option := range options {
		option(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/db/query", s.handleQuery)
	mux.HandleFunc("/db/execute", s.handleExecute)
	s.http = httptest.NewServer(mux)
	return s, nil
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.http.URL
}

// Host returns the host the server listens on.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(hostPort(s.http.URL))
	return host
}

// Port returns the port the server listens on.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(hostPort(s.http.URL))
	n, _ := strconv.Atoi(port)
	return n
}

func hostPort(rawURL string) string {
	return strings.TrimPrefix(strings.TrimPrefix(rawURL, "http://"), "https://")
}

// Close shuts the server down and drops the database.
func (s *Server) Close() {
	s.http.Close()
	s.db.Close()
}

func (s *Server) authorized(r *http.Request) bool {
	if s.user == "" {
		return true
	}
	user, password, ok := r.BasicAuth()
	return ok && user == s.user && password == s.password
}

type resultItem struct {
	Columns      []string `json:"columns,omitempty"`
	Types        []string `json:"types,omitempty"`
	Values       [][]any  `json:"values,omitempty"`
	RowsAffected *int64   `json:"rows_affected,omitempty"`
	LastInsertID *int64   `json:"last_insert_id,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func writeResults(w http.ResponseWriter, items []resultItem) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"results": items})
}

// statement is one decoded request entry: bare SQL plus optional
// positional or named arguments.
type statement struct {
	sql  string
	args []any
}

// decodeStatements accepts the three entry shapes of the wire protocol:
// "sql", ["sql", v1, ...] and ["sql", {"name": v}].
func decodeStatements(raw []any) ([]statement, error) {
	statements := make([]statement, 0, len(raw))
	for _, entry := range raw {
		switch e := entry.(type) {
		case string:
			statements = append(statements, statement{sql: e})
		case []any:
			if len(e) == 0 {
				return nil, fmt.Errorf("empty statement entry")
			}
			text, ok := e[0].(string)
			if !ok {
				return nil, fmt.Errorf("statement entry must begin with SQL text")
			}
			stmt := statement{sql: text}
			if len(e) == 2 {
				if named, ok := e[1].(map[string]any); ok {
					for name, value := range named {
						stmt.args = append(stmt.args, sql.Named(name, decodeParam(value)))
					}
					statements = append(statements, stmt)
					continue
				}
			}
			for _, value := range e[1:] {
				stmt.args = append(stmt.args, decodeParam(value))
			}
			statements = append(statements, stmt)
		default:
			return nil, fmt.Errorf("unsupported statement entry type %T", entry)
		}
	}
	return statements, nil
}

// decodeParam rebuilds driver-level values from their JSON forms: exact
// integers from json.Number and byte payloads from integer arrays.
func decodeParam(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []any:
		bytes := make([]byte, len(v))
		for i, item := range v {
			n, ok := item.(json.Number)
			if !ok {
				return v
			}
			b, err := n.Int64()
			if err != nil || b < 0 || b > 255 {
				return v
			}
			bytes[i] = byte(b)
		}
		return bytes
	}
	return value
}

func (s *Server) readBody(r *http.Request) ([]statement, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return decodeStatements(raw)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var statements []statement
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, "missing query", http.StatusBadRequest)
			return
		}
		statements = []statement{{sql: q}}
	case http.MethodPost:
		var err error
		statements, err = s.readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]resultItem, 0, len(statements))
	for _, stmt := range statements {
		item, err := s.queryOne(stmt)
		if err != nil {
			items = append(items, resultItem{Error: err.Error()})
			break
		}
		items = append(items, item)
	}
	writeResults(w, items)
}

func (s *Server) queryOne(stmt statement) (resultItem, error) {
	rows, err := s.db.Query(stmt.sql, stmt.args...)
	if err != nil {
		return resultItem{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return resultItem{}, err
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return resultItem{}, err
	}
	types := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		types[i] = strings.ToLower(ct.DatabaseTypeName())
	}

	item := resultItem{Columns: columns, Types: types}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return resultItem{}, err
		}
		encoded := make([]any, len(columns))
		for i, value := range values {
			encoded[i] = encodeValue(value, types[i])
		}
		item.Values = append(item.Values, encoded)
	}
	return item, rows.Err()
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	statements, err := s.readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	transactional := r.URL.Query().Has("transaction")
	items := make([]resultItem, 0, len(statements))

	if transactional {
		tx, err := s.db.Beginx()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		failed := false
		for _, stmt := range statements {
			item, err := executeOne(tx, stmt)
			if err != nil {
				items = append(items, resultItem{Error: err.Error()})
				failed = true
				break
			}
			items = append(items, item)
		}
		if failed {
			tx.Rollback()
		} else if err := tx.Commit(); err != nil {
			items = append(items, resultItem{Error: err.Error()})
		}
	} else {
		for _, stmt := range statements {
			item, err := executeOne(s.db, stmt)
			if err != nil {
				items = append(items, resultItem{Error: err.Error()})
				break
			}
			items = append(items, item)
		}
	}
	writeResults(w, items)
}

func executeOne(e sqlx.Execer, stmt statement) (resultItem, error) {
	res, err := e.Exec(stmt.sql, stmt.args...)
	if err != nil {
		return resultItem{}, err
	}
	affected, _ := res.RowsAffected()
	insertID, _ := res.LastInsertId()
	return resultItem{RowsAffected: &affected, LastInsertID: &insertID}, nil
}

var textAffinityRe = regexp.MustCompile(`(?i)char|clob|text`)

// encodeValue renders one scanned value the way a node does: byte
// payloads from non-text columns travel base64-encoded, timestamps as
// ISO-8601 text.
func encodeValue(value any, typeName string) any {
	switch v := value.(type) {
	case []byte:
		if textAffinityRe.MatchString(typeName) {
			return string(v)
		}
		return base64.StdEncoding.EncodeToString(v)
	case time.Time:
		return formatTime(v.UTC())
	}
	return value
}

func formatTime(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05Z")
	}
	return t.Format("2006-01-02T15:04:05.999999Z")
}

// Follower is a node that never serves requests itself: every call is
// answered with a permanent redirect to the leader.
type Follower struct {
	http   *httptest.Server
	leader string
}

// NewFollower starts a redirecting node pointing at leaderURL.
func NewFollower(leaderURL string) *Follower {
	f := &Follower{leader: strings.TrimSuffix(leaderURL, "/")}
	f.http = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", f.leader+r.URL.RequestURI())
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	return f
}

// URL returns the follower's base URL.
func (f *Follower) URL() string {
	return f.http.URL
}

// Host returns the host the follower listens on.
func (f *Follower) Host() string {
	host, _, _ := net.SplitHostPort(hostPort(f.http.URL))
	return host
}

// Port returns the port the follower listens on.
func (f *Follower) Port() int {
	_, port, _ := net.SplitHostPort(hostPort(f.http.URL))
	n, _ := strconv.Atoi(port)
	return n
}

// Close shuts the follower down.
func (f *Follower) Close() {
	f.http.Close()
}
