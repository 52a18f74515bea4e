// Package driver registers a database/sql driver named "rqlite" on top
// of the cursor-level client.
//
//	import _ "github.com/tomyedwab/rqlite-go/driver"
//
//	db, err := sql.Open("rqlite", "http://localhost:4001?detect=decltypes")
//
// The DSN is a URL: scheme selects http or https, userinfo supplies
// basic-auth credentials, and the query string accepts timeout (a Go
// duration), detect (comma-separated "decltypes" and "colnames"),
// consistency, queue and wait.
//
// Transactions are accepted but are no-ops, since the remote store
// commits every request on its own.
package driver
