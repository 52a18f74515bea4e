// Package rqlite provides a cursor-oriented client for rqlite, the
// distributed database built on SQLite, speaking its HTTP/JSON API.
//
// The package reproduces the type contract of the embedded sqlite3
// driver: parameters are bound structurally (never spliced into SQL
// text), result values are converted back to host types through a
// configurable adapter/converter registry, and leader redirects inside
// the cluster are followed transparently.
//
// # Basic Usage
//
//	conn, err := rqlite.Connect("localhost", rqlite.WithPort(4001))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer conn.Close()
//
//	cursor := conn.Cursor()
//	if err := cursor.Execute("CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)"); err != nil {
//		log.Fatal(err)
//	}
//	if err := cursor.Execute("INSERT INTO t (name) VALUES (?)", "foo"); err != nil {
//		log.Fatal(err)
//	}
//	if err := cursor.Execute("SELECT id, name FROM t WHERE name = :name",
//		map[string]any{"name": "foo"}); err != nil {
//		log.Fatal(err)
//	}
//	for _, row := range cursor.FetchAll() {
//		fmt.Println(row.Get(0), row.Get(1))
//	}
//
// # Type Detection
//
// With WithDetectTypes the registered converters are selected by the
// declared column type, a bracketed column-name hint, or both:
//
//	conn, err := rqlite.Connect("localhost",
//		rqlite.WithDetectTypes(rqlite.ParseDeclTypes|rqlite.ParseColNames))
//
//	cursor.Execute(`SELECT d AS "d [date]" FROM t`)
//	// row.Get(0) is a rqlite.Date
//
// # Error Handling
//
// Errors are categorized, with predicates for each category:
//
//	if err := cursor.Execute(sql, args...); err != nil {
//		if rqlite.IsProgrammingError(err) {
//			log.Println("statement/parameter mismatch")
//		} else if rqlite.IsDatabaseError(err) {
//			log.Println("the cluster rejected the statement")
//		} else {
//			log.Printf("other error: %v", err)
//		}
//	}
//
// # Concurrency
//
// A Connection holds a single transport with one outstanding request at
// a time and is not synchronized; use one connection per goroutine.
// Registries are safe for setup-time registration from multiple
// goroutines.
package rqlite
