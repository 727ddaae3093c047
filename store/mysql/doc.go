// Package mysql provides a MySQL/MariaDB checkpoint store using
// go-sql-driver/mysql.
//
//	s, err := mysql.NewMySQLCheckpointStore(ctx, mysql.MySQLOptions{
//	    DSN: os.Getenv("MYSQL_DSN"),
//	})
package mysql
