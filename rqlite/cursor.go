package rqlite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ColumnDescription describes one column of the current result set.
// TypeName is the declared type the server reported, possibly empty for
// expression columns.
type ColumnDescription struct {
	Name     string
	TypeName string
}

// ExecOptions carries per-request execution modifiers. Queue and Wait
// are pass-through flags on the write path; Consistency selects the
// read consistency level on the query path.
type ExecOptions struct {
	Queue       bool
	Wait        bool
	Consistency string
}

// Cursor executes statements on its connection and buffers the decoded
// result set. RowCount is -1 until a statement has run; after a read it
// is the number of materialized rows, after a write the summed
// rows-affected count.
type Cursor struct {
	conn *Connection

	Description  []ColumnDescription
	RowCount     int64
	LastInsertID int64
	Arraysize    int

	rownumber int
	rows      []*Row

	// typeCache memoizes PRAGMA table_info schema lookups per table for
	// declared-type resolution of expression columns.
	typeCache map[string]map[string]string
}

// Connection returns the connection this cursor belongs to.
func (c *Cursor) Connection() *Connection {
	return c.conn
}

// Close drops the buffered result set. The cursor remains usable for
// further statements.
func (c *Cursor) Close() error {
	c.rows = nil
	return nil
}

// statementResult is one entry of the response envelope's results list.
type statementResult struct {
	Columns      []string `json:"columns"`
	Types        []string `json:"types"`
	Values       [][]any  `json:"values"`
	RowsAffected *int64   `json:"rows_affected"`
	LastInsertID *int64   `json:"last_insert_id"`
	Error        string   `json:"error"`
}

// decodeResult parses one envelope entry. UseNumber keeps integer
// values exact; the JSON default of float64 corrupts integers past 2^53.
func decodeResult(raw json.RawMessage) (statementResult, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var item statementResult
	if err := dec.Decode(&item); err != nil {
		return statementResult{}, NewErrorWithCause(ErrorTypeOperational,
			"failed to decode statement result", err)
	}
	return item, nil
}

// normalizeNumber collapses a json.Number that reached the caller
// unconverted into int64 or float64.
func normalizeNumber(value any) any {
	n, ok := value.(json.Number)
	if !ok {
		return value
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// request performs one HTTP exchange and returns the undecoded entries
// of the results list. Entries stay raw so a failing statement can be
// reported with its serialized payload.
func (c *Cursor) request(method, path string, body []byte) ([]json.RawMessage, error) {
	var headers map[string]string
	if body != nil {
		headers = map[string]string{"Content-Type": "application/json"}
	}
	c.conn.logger.Debug("request", "method", method, "path", path)
	resp, err := c.conn.fetchResponse(method, path, body, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewErrorWithCause(ErrorTypeOperational, "failed to read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewOperationalError(
			fmt.Sprintf("received unexpected http status: %d", resp.StatusCode),
			resp.StatusCode)
	}
	c.conn.logger.Debug("response", "method", method, "path", path, "bytes", len(data))

	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, NewErrorWithCause(ErrorTypeOperational, "failed to decode response body", err)
	}
	return envelope.Results, nil
}

func executePath(options ExecOptions) string {
	path := "/db/execute?transaction"
	if options.Queue {
		path += "&queue"
	}
	if options.Wait {
		path += "&wait"
	}
	return path
}

// normalizeParameters maps the variadic call styles onto the binder's
// parameter forms: no arguments means no parameters, a single map
// argument selects named binding, anything else is the positional
// sequence.
func normalizeParameters(parameters []any) any {
	switch len(parameters) {
	case 0:
		return nil
	case 1:
		if m, ok := parameters[0].(map[string]any); ok {
			return m
		}
	}
	return parameters
}

// Execute runs one statement. Positional parameters follow the
// statement; a single map argument binds :name placeholders.
func (c *Cursor) Execute(operation string, parameters ...any) error {
	return c.ExecuteWithOptions(operation, ExecOptions{}, parameters...)
}

// ExecuteWithOptions runs one statement with execution modifiers.
func (c *Cursor) ExecuteWithOptions(operation string, options ExecOptions, parameters ...any) error {
	entry, err := bindParameters(c.conn.registry, operation, normalizeParameters(parameters))
	if err != nil {
		return err
	}
	command := sqlCommand(operation)
	if command == "" {
		return NewProgrammingError("cannot execute an empty statement")
	}

	var results []json.RawMessage
	if isReadCommand(command) {
		if stmt, ok := entry.(string); ok {
			q := url.Values{}
			q.Set("q", stmt)
			if options.Consistency != "" {
				q.Set("level", options.Consistency)
			}
			results, err = c.request(http.MethodGet, "/db/query?"+q.Encode(), nil)
		} else {
			path := "/db/query"
			if options.Consistency != "" {
				path += "?level=" + url.QueryEscape(options.Consistency)
			}
			body, merr := json.Marshal([]any{entry})
			if merr != nil {
				return NewErrorWithCause(ErrorTypeInterface, "failed to encode statement", merr)
			}
			results, err = c.request(http.MethodPost, path, body)
		}
	} else {
		body, merr := json.Marshal([]any{entry})
		if merr != nil {
			return NewErrorWithCause(ErrorTypeInterface, "failed to encode statement", merr)
		}
		results, err = c.request(http.MethodPost, executePath(options), body)
	}
	if err != nil {
		return err
	}
	return c.shapeResults(operation, command, results)
}

// ExecuteMany runs the statement once per parameter set, all within one
// transactional write request. Each element of parameterSets is either
// a positional []any or a named map[string]any. No result set is
// produced; RowCount reports the summed rows-affected count.
func (c *Cursor) ExecuteMany(operation string, parameterSets []any) error {
	return c.ExecuteManyWithOptions(operation, ExecOptions{}, parameterSets)
}

// ExecuteManyWithOptions is ExecuteMany with execution modifiers.
func (c *Cursor) ExecuteManyWithOptions(operation string, options ExecOptions, parameterSets []any) error {
	entries := make([]any, 0, len(parameterSets))
	for _, parameters := range parameterSets {
		entry, err := bindParameters(c.conn.registry, operation, parameters)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return NewErrorWithCause(ErrorTypeInterface, "failed to encode statements", err)
	}

	results, err := c.request(http.MethodPost, executePath(options), body)
	if err != nil {
		return err
	}

	rowsAffected := int64(-1)
	if results != nil {
		rowsAffected = 0
		for _, raw := range results {
			item, err := decodeResult(raw)
			if err != nil {
				return err
			}
			if item.Error != "" {
				c.conn.logger.Error("statement failed", "detail", string(raw))
				return NewDatabaseError(string(raw))
			}
			if item.RowsAffected != nil {
				rowsAffected += *item.RowsAffected
			}
			if item.LastInsertID != nil {
				c.LastInsertID = *item.LastInsertID
			}
		}
	}
	c.Description = nil
	c.rows = nil
	c.rownumber = 0
	c.RowCount = rowsAffected
	return nil
}

// shapeResults walks the envelope entries and rebuilds the cursor
// state: summed rows-affected, captured last-insert-id, and the decoded
// rows of the last entry carrying columns. A per-statement error aborts
// immediately with the serialized payload.
func (c *Cursor) shapeResults(operation, command string, results []json.RawMessage) error {
	lastInsertID := int64(0)
	haveInsertID := false
	rowsAffected := int64(-1)
	var resultSet *statementResult

	if results != nil {
		rowsAffected = 0
		for _, raw := range results {
			item, err := decodeResult(raw)
			if err != nil {
				return err
			}
			if item.Error != "" {
				c.conn.logger.Error("statement failed", "detail", string(raw))
				return NewDatabaseError(string(raw))
			}
			if item.RowsAffected != nil {
				rowsAffected += *item.RowsAffected
			}
			if item.LastInsertID != nil {
				lastInsertID = *item.LastInsertID
				haveInsertID = true
			}
			if item.Columns != nil {
				set := item
				resultSet = &set
			}
		}
	}

	parseCol := c.conn.ParseColNamesEnabled()

	if resultSet == nil {
		c.Description = nil
		c.rows = nil
	} else {
		names := make([]string, len(resultSet.Columns))
		description := make([]ColumnDescription, len(resultSet.Columns))
		for i, field := range resultSet.Columns {
			typeName := ""
			if i < len(resultSet.Types) {
				typeName = resultSet.Types[i]
			}
			names[i] = stripColumnName(field, parseCol)
			description[i] = ColumnDescription{Name: names[i], TypeName: typeName}
		}

		var rows []*Row
		if len(resultSet.Values) > 0 {
			converters := c.resolveConverters(operation, command, resultSet)
			rows = make([]*Row, 0, len(resultSet.Values))
			for _, tuple := range resultSet.Values {
				values := make([]any, len(resultSet.Columns))
				for i := range resultSet.Columns {
					var value any
					if i < len(tuple) {
						value = tuple[i]
					}
					if conv := converters[i]; conv != nil {
						converted, err := conv(value)
						if err != nil {
							return err
						}
						values[i] = converted
					} else {
						values[i] = normalizeNumber(value)
					}
				}
				rows = append(rows, newRow(names, values))
			}
		}
		c.Description = description
		c.rows = rows
	}

	if haveInsertID {
		c.LastInsertID = lastInsertID
	}
	c.rownumber = 0
	switch {
	case command == "UPDATE" || command == "DELETE":
		c.RowCount = rowsAffected
	case resultSet == nil && rowsAffected >= 0:
		c.RowCount = rowsAffected
	default:
		c.RowCount = int64(len(c.rows))
	}
	return nil
}

// resolveConverters picks one converter per result column. For SELECT
// columns the server reported no type for, the declared type is looked
// up from the table schema when declared-type detection is enabled.
func (c *Cursor) resolveConverters(operation, command string, resultSet *statementResult) []Converter {
	parseDecl := c.conn.ParseDeclTypesEnabled()
	parseCol := c.conn.ParseColNamesEnabled()

	var origins map[string]columnOrigin
	originsResolved := false

	converters := make([]Converter, len(resultSet.Columns))
	for i, field := range resultSet.Columns {
		declared := ""
		if i < len(resultSet.Types) {
			declared = resultSet.Types[i]
		}
		if declared == "" && parseDecl && command == "SELECT" {
			if !originsResolved {
				origins = selectIdentifierMap(operation)
				originsResolved = true
			}
			if origin, ok := origins[stripColumnName(field, parseCol)]; ok {
				declared = c.declaredColumnType(origin.Table, origin.Column)
			}
		}
		converters[i] = c.conn.registry.converterFor(field, declared, parseDecl, parseCol)
	}
	return converters
}

// declaredColumnType resolves a column's declared type from the table
// schema, memoized per table. Lookups are best effort; a failed lookup
// caches an empty map so the statement is not repeated.
func (c *Cursor) declaredColumnType(table, column string) string {
	if cached, ok := c.typeCache[table]; ok {
		return cached[column]
	}
	cols := make(map[string]string)
	c.typeCache[table] = cols

	q := url.Values{}
	q.Set("q", "PRAGMA table_info("+table+")")
	results, err := c.request(http.MethodGet, "/db/query?"+q.Encode(), nil)
	if err != nil {
		return ""
	}
	for _, raw := range results {
		item, err := decodeResult(raw)
		if err != nil || item.Error != "" {
			continue
		}
		nameIdx := indexOf(item.Columns, "name")
		typeIdx := indexOf(item.Columns, "type")
		if nameIdx < 0 || typeIdx < 0 {
			continue
		}
		for _, tuple := range item.Values {
			if nameIdx >= len(tuple) || typeIdx >= len(tuple) {
				continue
			}
			name, _ := tuple[nameIdx].(string)
			typ, _ := tuple[typeIdx].(string)
			if name != "" {
				cols[name] = typ
			}
		}
	}
	return cols[column]
}

func indexOf(fields []string, name string) int {
	for i, field := range fields {
		if strings.EqualFold(field, name) {
			return i
		}
	}
	return -1
}

// FetchOne returns the next buffered row, or nil when the result set is
// exhausted.
func (c *Cursor) FetchOne() *Row {
	if c.rownumber >= len(c.rows) {
		return nil
	}
	row := c.rows[c.rownumber]
	c.rownumber++
	return row
}

// FetchMany returns up to size rows; size <= 0 uses Arraysize.
func (c *Cursor) FetchMany(size int) []*Row {
	if size <= 0 {
		size = c.Arraysize
	}
	if remaining := len(c.rows) - c.rownumber; size > remaining {
		size = remaining
	}
	if size <= 0 {
		return []*Row{}
	}
	out := make([]*Row, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, c.FetchOne())
	}
	return out
}

// FetchAll returns every remaining row. A second call returns an empty
// slice, not the rows again.
func (c *Cursor) FetchAll() []*Row {
	out := make([]*Row, 0, len(c.rows)-c.rownumber)
	for c.rownumber < len(c.rows) {
		out = append(out, c.FetchOne())
	}
	return out
}

// SetInputSizes is part of the cursor surface but intentionally
// unimplemented.
func (c *Cursor) SetInputSizes(sizes []int) error {
	return NewNotSupportedError("setinputsizes")
}

// SetOutputSize is part of the cursor surface but intentionally
// unimplemented.
func (c *Cursor) SetOutputSize(size int, column int) error {
	return NewNotSupportedError("setoutputsize")
}

// Scroll is part of the cursor surface but intentionally unimplemented.
func (c *Cursor) Scroll(value int, mode string) error {
	return NewNotSupportedError("scroll")
}
