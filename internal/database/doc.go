// Package database provides the PostgreSQL connection pool for the
// delivered-event archive. Delivery itself never touches the database;
// only the archive writer does, and only when archiving is enabled.
package database
