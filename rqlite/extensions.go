package rqlite

// SQLite natively stores only TEXT, INTEGER, REAL, BLOB and NULL, and
// rqlite serves results as weakly-typed JSON. Converters transform wire
// values back into host types; adapters transform host values into
// wire-safe parameter representations.

import (
	"encoding/base64"
	"encoding/json"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Type-detection mode flags, combined into the detect-types bitmask of a
// connection. Without either flag only the default converters apply.
const (
	// ParseDeclTypes enables registered converters keyed by the declared
	// column type, truncated at the first '(' or space.
	ParseDeclTypes = 1
	// ParseColNames enables registered converters keyed by a bracketed
	// type hint in the column name, e.g. `x [date]`. This mode has the
	// highest precedence.
	ParseColNames = 2
)

// Adapter transforms a host value into a wire-representable value before
// it is sent as a statement parameter.
type Adapter func(value any) (any, error)

// Converter transforms a wire value from a result column into a host
// value.
type Converter func(value any) (any, error)

// Wire types whose JSON representation is directly usable. Values headed
// for a converter keyed by any other type are base64-decoded first, the
// framing rqlite uses for blob payloads.
var nativeWireTypes = map[string]bool{
	"BOOL":      true,
	"FLOAT":     true,
	"INTEGER":   true,
	"REAL":      true,
	"NUMBER":    true,
	"NULL":      true,
	"DATE":      true,
	"DATETIME":  true,
	"TIMESTAMP": true,
}

// SQLite TEXT affinity: https://www.sqlite.org/datatype3.html
var textAffinityRe = regexp.MustCompile(`CHAR|CLOB|TEXT`)

// Registry holds the adapter and converter registrations for a
// connection. Connections share DefaultRegistry unless given their own
// via WithRegistry; registration is a setup-time operation, guarded for
// safe mutation but not meant as a runtime hot path.
type Registry struct {
	mu         sync.RWMutex
	adapters   map[reflect.Type]Adapter
	converters map[string]Converter
}

// NewRegistry returns a registry populated with the stock converters
// (UNICODE, BOOL, FLOAT, DATE, TIMESTAMP) that the detect-types modes
// activate.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// DefaultRegistry is the shared registry used by connections that were
// not given their own.
var DefaultRegistry = NewRegistry()

// RegisterAdapter registers fn for host values of type t, replacing any
// built-in handling of that type.
func (r *Registry) RegisterAdapter(t reflect.Type, fn Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[t] = fn
}

// UnregisterAdapter removes a registered adapter, restoring built-in
// handling for the type.
func (r *Registry) UnregisterAdapter(t reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, t)
}

// RegisterConverter registers fn under the uppercased type name for the
// detect-types modes to select.
func (r *Registry) RegisterConverter(typeName string, fn Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converters[strings.ToUpper(typeName)] = fn
}

// UnregisterConverter removes a registered converter.
func (r *Registry) UnregisterConverter(typeName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.converters, strings.ToUpper(typeName))
}

// Reset restores the registry to its default population. Intended for
// test isolation after registrations.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = make(map[reflect.Type]Adapter)
	r.converters = map[string]Converter{
		"UNICODE":   nullable(convertUnicode),
		"BOOL":      nullable(convertBool),
		"FLOAT":     nullable(convertFloat),
		"DATE":      nullable(convertDate),
		"TIMESTAMP": nullable(convertTimestamp),
	}
}

func (r *Registry) adapterFor(t reflect.Type) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[t]
}

func (r *Registry) converter(typeName string) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.converters[typeName]
	return fn, ok
}

// RegisterAdapter registers an adapter on the shared default registry.
func RegisterAdapter(t reflect.Type, fn Adapter) {
	DefaultRegistry.RegisterAdapter(t, fn)
}

// RegisterConverter registers a converter on the shared default registry.
func RegisterConverter(typeName string, fn Converter) {
	DefaultRegistry.RegisterConverter(typeName, fn)
}

// Adapt transforms a host value into its wire representation. Strings
// and numeric primitives pass through unchanged; registered adapters
// override the built-in kinds; a value implementing WireValuer may
// describe itself; anything else is an interface error.
func (r *Registry) Adapt(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if adapter := r.adapterFor(reflect.TypeOf(value)); adapter != nil {
		return adapter(value)
	}
	if _, isString := value.(string); isString {
		return value, nil
	}
	switch v := value.(type) {
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return value, nil
	case []byte:
		return adaptBytes(v), nil
	case Date:
		return v.String(), nil
	case time.Time:
		return adaptTime(v), nil
	}
	if wv, ok := value.(WireValuer); ok {
		if wire, ok := wv.ToWireValue(); ok {
			return r.Adapt(wire)
		}
	}
	return nil, NewInterfaceError("cannot adapt value of type %T", value)
}

// adaptBytes frames a byte payload as a JSON array of byte integers, the
// structured form the parameterized API stores as a blob. No SQL-text
// escaping is ever involved.
func adaptBytes(b []byte) []int64 {
	out := make([]int64, len(b))
	for i, c := range b {
		out[i] = int64(c)
	}
	return out
}

// adaptTime renders a timestamp as "date SPACE time", the separator the
// TIMESTAMP converter reverses. Sub-second digits appear only when
// present.
func adaptTime(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04:05.999999")
}

// converterFor resolves the converter for one result column, mimicking
// the stock sqlite3 module: defaults first, then declared-type
// registrations, then column-name hints, which win outright.
func (r *Registry) converterFor(columnName, declaredType string, parseDeclTypes, parseColNames bool) Converter {
	var converter Converter
	typeUpper := ""

	// A blank declared type can still be inferred from the column name
	// for literal expressions, e.g. `SELECT 3.14` yields name "3.14".
	if declaredType == "" {
		if isDigits(columnName) {
			declaredType = "INTEGER"
		} else if isRealLiteral(columnName) {
			declaredType = "REAL"
		}
	}

	if declaredType != "" {
		typeUpper = strings.ToUpper(declaredType)
		if fn, ok := defaultConverters[typeUpper]; ok {
			converter = fn
		}
		if parseDeclTypes {
			// Truncate at '(' and blanks so 'NUMBER(10)' matches a
			// converter registered for NUMBER and 'INTEGER NOT NULL'
			// matches INTEGER.
			typeUpper = truncateTypeName(typeUpper)
			if fn, ok := r.converter(typeUpper); ok {
				converter = fn
			}
		}
	}

	if parseColNames {
		if hint := bracketHint(columnName); hint != "" {
			if fn, ok := r.converter(hint); ok {
				converter = fn
				typeUpper = hint
			}
		}
	}

	if converter != nil {
		if !nativeWireTypes[typeUpper] {
			converter = base64Decoding(converter)
		}
		return converter
	}
	if typeUpper == "" || textAffinityRe.MatchString(typeUpper) {
		// Text affinity or no type information at all: the value is
		// already in final host text form.
		return nil
	}
	return conditionalBase64Decode
}

var defaultConverters = map[string]Converter{
	"INTEGER":   nullable(convertInteger),
	"REAL":      nullable(convertFloat),
	"BLOB":      func(value any) (any, error) { return value, nil },
	"NULL":      func(any) (any, error) { return nil, nil },
	"DATE":      nullable(reformatDate),
	"DATETIME":  nullable(reformatDateTime),
	"TIMESTAMP": nullable(reformatDateTime),
}

// nullable passes nil through untouched before invoking fn.
func nullable(fn Converter) Converter {
	return func(value any) (any, error) {
		if value == nil {
			return nil, nil
		}
		return fn(value)
	}
}

func convertInteger(value any) (any, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, NewInterfaceError("cannot convert %q to integer", v.String())
		}
		return int64(f), nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, NewInterfaceError("cannot convert %q to integer", v)
		}
		return n, nil
	}
	return nil, NewInterfaceError("cannot convert %T to integer", value)
}

func convertFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, NewInterfaceError("cannot convert %q to float", v.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, NewInterfaceError("cannot convert %q to float", v)
		}
		return f, nil
	}
	return nil, NewInterfaceError("cannot convert %T to float", value)
}

func convertBool(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, NewInterfaceError("cannot convert %q to bool", v.String())
		}
		return f != 0, nil
	case string:
		return v != "" && v != "0", nil
	}
	return nil, NewInterfaceError("cannot convert %T to bool", value)
}

// convertUnicode receives its value already base64-decoded (UNICODE is
// not a native wire type) and returns host text.
func convertUnicode(value any) (any, error) {
	switch v := value.(type) {
	case []byte:
		return string(v), nil
	case string:
		return v, nil
	}
	return nil, NewInterfaceError("cannot convert %T to text", value)
}

// reformatDate keeps the date part of an ISO string. Light string
// reformatting only; decoding to a Date happens through the registered
// DATE converter when ParseDeclTypes or ParseColNames selects it.
func reformatDate(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		return s[:i], nil
	}
	return s, nil
}

// reformatDateTime normalizes an ISO datetime string to the
// "date SPACE time" form, stripping a trailing Z.
func reformatDateTime(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	return strings.TrimSuffix(strings.Replace(s, "T", " ", 1), "Z"), nil
}

func convertDate(value any) (any, error) {
	s, err := wireString(value)
	if err != nil {
		return nil, err
	}
	datePart := s
	if i := strings.IndexAny(datePart, "T "); i >= 0 {
		datePart = datePart[:i]
	}
	parts := strings.Split(datePart, "-")
	if len(parts) != 3 {
		return nil, NewInterfaceError("cannot convert %q to date", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, NewInterfaceError("cannot convert %q to date", s)
		}
		nums[i] = n
	}
	return NewDate(nums[0], time.Month(nums[1]), nums[2]), nil
}

func convertTimestamp(value any) (any, error) {
	s, err := wireString(value)
	if err != nil {
		return nil, err
	}
	t, err := parseTimestamp(s)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// parseTimestamp accepts both the "T" and space separators and pads the
// fractional part to microseconds.
func parseTimestamp(s string) (time.Time, error) {
	trimmed := strings.TrimSuffix(s, "Z")
	sep := strings.IndexAny(trimmed, "T ")
	if sep < 0 {
		return time.Time{}, NewInterfaceError("cannot convert %q to timestamp", s)
	}
	datePart, timePart := trimmed[:sep], trimmed[sep+1:]

	dateNums := strings.Split(datePart, "-")
	if len(dateNums) != 3 {
		return time.Time{}, NewInterfaceError("cannot convert %q to timestamp", s)
	}
	timeFull := strings.SplitN(timePart, ".", 2)
	timeNums := strings.Split(timeFull[0], ":")
	if len(timeNums) != 3 {
		return time.Time{}, NewInterfaceError("cannot convert %q to timestamp", s)
	}

	fields := make([]int, 6)
	for i, p := range append(dateNums, timeNums...) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, NewInterfaceError("cannot convert %q to timestamp", s)
		}
		fields[i] = n
	}

	micros := 0
	if len(timeFull) == 2 {
		frac := timeFull[1]
		if len(frac) > 6 {
			frac = frac[:6]
		}
		for len(frac) < 6 {
			frac += "0"
		}
		n, err := strconv.Atoi(frac)
		if err != nil {
			return time.Time{}, NewInterfaceError("cannot convert %q to timestamp", s)
		}
		micros = n
	}

	return time.Date(fields[0], time.Month(fields[1]), fields[2],
		fields[3], fields[4], fields[5], micros*1000, time.UTC), nil
}

func wireString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	return "", NewInterfaceError("expected a wire string, got %T", value)
}

// base64Decoding wraps a converter whose key is not a native wire type:
// the raw value is decoded from the blob framing first.
func base64Decoding(converter Converter) Converter {
	return func(value any) (any, error) {
		if value == nil {
			return nil, nil
		}
		if s, ok := value.(string); ok {
			decoded, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, NewInterfaceError("cannot decode base64 value %q: %v", s, err)
			}
			return converter(decoded)
		}
		return converter(value)
	}
}

// conditionalBase64Decode is the fallback for columns with a non-text
// declared type and no resolved converter: a string value there is the
// blob framing and is decoded as-is.
func conditionalBase64Decode(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return value, nil
	}
	return decoded, nil
}

func truncateTypeName(typeUpper string) string {
	if i := strings.IndexByte(typeUpper, '('); i >= 0 {
		typeUpper = typeUpper[:i]
	}
	if i := strings.IndexByte(typeUpper, ' '); i >= 0 {
		typeUpper = typeUpper[:i]
	}
	return typeUpper
}

// bracketHint extracts the uppercased contents of a `name [type]`
// annotation, or "" when the name has none.
func bracketHint(columnName string) string {
	upper := strings.ToUpper(columnName)
	open := strings.IndexByte(upper, '[')
	if open < 0 {
		return ""
	}
	rest := upper[open+1:]
	closing := strings.IndexByte(rest, ']')
	if closing < 0 {
		return ""
	}
	return rest[:closing]
}

// stripColumnName removes a type-hint suffix from a column name when
// column-name parsing is enabled, keeping only the text before the
// first blank.
func stripColumnName(columnName string, parseColNames bool) string {
	if !parseColNames {
		return columnName
	}
	if i := strings.IndexByte(columnName, ' '); i >= 0 {
		return columnName[:i]
	}
	return columnName
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isRealLiteral(s string) bool {
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return false
	}
	return isDigits(s[:i]) && isDigits(s[i+1:])
}
