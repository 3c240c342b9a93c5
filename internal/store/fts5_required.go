//go:build !sqlite_fts5

package store

// The embedded migrations create an FTS5 virtual table, and
// mattn/go-sqlite3 compiles the FTS5 module in only under the
// sqlite_fts5 build tag. Fail the build here instead of failing every
// migration at runtime with "no such module: fts5".
//
// Build and test with:
//
//	go build -tags sqlite_fts5 ./...
//	go test -tags sqlite_fts5 ./...
//
// or use the Makefile targets, which set the tag.
var _ = thisModuleRequiresBuildTag_sqlite_fts5
