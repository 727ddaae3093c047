// Package sqlite provides a SQLite checkpoint store using mattn/go-sqlite3.
//
//	s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{
//	    Path: "./checkpoints.db",
//	})
//	defer s.Close()
package sqlite
