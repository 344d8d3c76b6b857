// Package database provides the PostgreSQL connection pool for the
// archive writer.
package database
