package rqlite

import "strings"

// columnOrigin names the table and column a result field was selected
// from, after alias resolution.
type columnOrigin struct {
	Table  string
	Column string
}

var clauseBoundaries = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "HAVING": true,
	"LIMIT": true, "UNION": true, "EXCEPT": true, "INTERSECT": true,
	"ON": true, "USING": true,
}

// selectIdentifierMap maps the result columns of a SELECT statement to
// the (table, column) they were selected from, resolving both
// select-list aliases and table aliases. Only plain identifier
// expressions are mapped; computed expressions and '*' are skipped. The
// mapping supplies declared types for schema lookups when the response
// reports none.
func selectIdentifierMap(operation string) map[string]columnOrigin {
	tokens := tokenizeSelect(stripLiterals(operation))
	if len(tokens) == 0 || !strings.EqualFold(tokens[0], "SELECT") {
		return nil
	}

	fromIdx := -1
	for i, tok := range tokens {
		if strings.EqualFold(tok, "FROM") {
			fromIdx = i
			break
		}
	}

	selectEnd := len(tokens)
	if fromIdx >= 0 {
		selectEnd = fromIdx
	}

	type selectField struct {
		parent string
		column string
		result string
	}
	var fields []selectField
	for _, item := range splitItems(tokens[1:selectEnd]) {
		expr, alias := splitAlias(item)
		if len(expr) != 1 {
			continue
		}
		parent, column, ok := splitQualified(expr[0])
		if !ok {
			continue
		}
		result := column
		if alias != "" {
			result = alias
		}
		fields = append(fields, selectField{parent: parent, column: column, result: result})
	}
	if len(fields) == 0 {
		return nil
	}

	tables := map[string]bool{}
	tableAliases := map[string]string{}
	if fromIdx >= 0 {
		rest := tokens[fromIdx+1:]
		end := len(rest)
		for i, tok := range rest {
			if clauseBoundaries[strings.ToUpper(tok)] {
				end = i
				break
			}
		}
		for _, item := range splitTableItems(rest[:end]) {
			expr, alias := splitAlias(item)
			if len(expr) != 1 {
				continue
			}
			name := expr[0]
			tables[name] = true
			if alias != "" {
				tableAliases[alias] = name
			}
		}
	}

	defaultTable := ""
	if len(tables) == 1 {
		for t := range tables {
			defaultTable = t
		}
	}

	mapping := make(map[string]columnOrigin, len(fields))
	for _, f := range fields {
		table := f.parent
		if table == "" {
			table = defaultTable
		} else if real, ok := tableAliases[table]; ok {
			table = real
		}
		if table == "" {
			continue
		}
		mapping[f.result] = columnOrigin{Table: table, Column: f.column}
	}
	return mapping
}

// tokenizeSelect splits a literal-stripped statement into identifier
// and punctuation tokens, keeping commas as their own tokens and
// dropping parenthesized spans (subqueries and call arguments) so they
// cannot masquerade as columns.
func tokenizeSelect(stripped string) []string {
	var tokens []string
	var current strings.Builder
	depth := 0
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for i := 0; i < len(stripped); i++ {
		c := stripped[i]
		switch {
		case c == '(':
			// Mark the preceding identifier as a call so splitQualified
			// rejects it.
			if current.Len() > 0 {
				current.WriteByte('(')
				flush()
			} else {
				tokens = append(tokens, "(")
			}
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case depth > 0:
			// inside parentheses, skip
		case c == ',':
			flush()
			tokens = append(tokens, ",")
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ';':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return tokens
}

// splitItems splits a token run on top-level commas.
func splitItems(tokens []string) [][]string {
	var items [][]string
	var current []string
	for _, tok := range tokens {
		if tok == "," {
			if len(current) > 0 {
				items = append(items, current)
				current = nil
			}
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		items = append(items, current)
	}
	return items
}

// splitTableItems splits a FROM/JOIN token run into table references:
// commas and JOIN keywords both separate items, while join qualifiers
// (LEFT, INNER, CROSS, ...) are dropped.
func splitTableItems(tokens []string) [][]string {
	var items [][]string
	var current []string
	flush := func() {
		if len(current) > 0 {
			items = append(items, current)
			current = nil
		}
	}
	for _, tok := range tokens {
		upper := strings.ToUpper(tok)
		switch upper {
		case ",", "JOIN":
			flush()
		case "LEFT", "RIGHT", "FULL", "INNER", "OUTER", "CROSS", "NATURAL":
			// join qualifiers
		default:
			current = append(current, tok)
		}
	}
	flush()
	return items
}

// splitAlias separates a trailing alias from an item, honoring an
// optional AS keyword.
func splitAlias(item []string) (expr []string, alias string) {
	for i, tok := range item {
		if strings.EqualFold(tok, "AS") && i+1 < len(item) {
			return item[:i], item[i+1]
		}
	}
	if len(item) >= 2 {
		return item[:len(item)-1], item[len(item)-1]
	}
	return item, ""
}

// splitQualified splits an identifier into an optional table qualifier
// and a column name. Call markers, '*', and other non-identifiers
// report false.
func splitQualified(token string) (parent, column string, ok bool) {
	if token == "" || token == "*" || token == "(" ||
		strings.HasSuffix(token, "(") || strings.ContainsAny(token, "+-/%<>=|&") {
		return "", "", false
	}
	if i := strings.IndexByte(token, '.'); i >= 0 {
		parent, column = token[:i], token[i+1:]
		if parent == "" || column == "" || column == "*" ||
			strings.ContainsAny(column, ".") {
			return "", "", false
		}
		return parent, column, true
	}
	return "", token, true
}
