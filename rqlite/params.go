package rqlite

import (
	"regexp"
	"strings"
)

var (
	qmarkRe = regexp.MustCompile(`\?`)
	namedRe = regexp.MustCompile(`:[a-zA-Z]+`)
)

// stripLiterals blanks out the contents of '...' and "..." spans so that
// placeholder markers inside string literals are never counted. A
// backslash escapes the next character inside a literal.
func stripLiterals(operation string) string {
	out := []byte(operation)
	var quote byte
	escaped := false
	for i := 0; i < len(out); i++ {
		c := out[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
				out[i] = ' '
			case c == '\\':
				escaped = true
				out[i] = ' '
			case c == quote:
				quote = 0
			default:
				out[i] = ' '
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
		}
	}
	return string(out)
}

// StatementPlaceholders reports the placeholder usage of a statement:
// the number of positional '?' markers and the referenced names of
// :name markers, with string literals ignored. Mixing both kinds is a
// programming error.
func StatementPlaceholders(operation string) (positional int, named []string, err error) {
	stripped := stripLiterals(operation)
	positional = len(qmarkRe.FindAllString(stripped, -1))
	for _, m := range namedRe.FindAllString(stripped, -1) {
		named = append(named, m[1:])
	}
	if positional > 0 && len(named) > 0 {
		return 0, nil, NewProgrammingError(
			"different parameter types in operation not permitted: %s", operation)
	}
	return positional, named, nil
}

// bindParameters validates a statement against its parameters and builds
// the wire payload entry: the bare statement when there are no
// parameters, [sql, v1, v2, ...] for positional style, or
// [sql, {name: value}] for named style. Every value passes through the
// adapter registry; binding never rewrites the SQL text.
func bindParameters(registry *Registry, operation string, parameters any) (any, error) {
	positional, named, err := StatementPlaceholders(operation)
	if err != nil {
		return nil, err
	}

	if parameters == nil {
		if positional > 0 || len(named) > 0 {
			return nil, NewProgrammingError(
				"parameter required but not given: %s", operation)
		}
		return operation, nil
	}

	switch params := parameters.(type) {
	case map[string]any:
		if positional > 0 {
			return nil, NewProgrammingError(
				"unnamed binding used, but you supplied a map (which has only names): %s", operation)
		}
		// Unreferenced keys are ignored; only the names the statement
		// uses must resolve.
		if len(named) == 0 {
			return operation, nil
		}
		bound := make(map[string]any, len(named))
		for _, name := range named {
			value, ok := params[name]
			if !ok {
				return nil, NewProgrammingError(
					"the named parameters given do not match operation: %s (missing %q)", operation, name)
			}
			adapted, err := registry.Adapt(value)
			if err != nil {
				return nil, err
			}
			bound[name] = adapted
		}
		return []any{operation, bound}, nil

	case []any:
		if len(named) > 0 {
			return nil, NewProgrammingError(
				"named binding used, but you supplied a sequence (which has no names): %s", operation)
		}
		if positional != len(params) {
			return nil, NewProgrammingError(
				"incorrect number of parameters (%d != %d): %s", positional, len(params), operation)
		}
		if len(params) == 0 {
			return operation, nil
		}
		entry := make([]any, 0, len(params)+1)
		entry = append(entry, operation)
		for _, value := range params {
			adapted, err := registry.Adapt(value)
			if err != nil {
				return nil, err
			}
			entry = append(entry, adapted)
		}
		return entry, nil
	}

	return nil, NewInterfaceError(
		"parameters must be a sequence or a map, not %T", parameters)
}

// sqlCommand returns the first whitespace-delimited token of a statement
// uppercased; it decides read-versus-write routing.
func sqlCommand(operation string) string {
	fields := strings.Fields(operation)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// isReadCommand reports whether a statement goes to the query endpoint.
func isReadCommand(command string) bool {
	return command == "SELECT" || command == "PRAGMA"
}
