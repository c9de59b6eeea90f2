// Package postgres implements the optimizer repositories against
// PostgreSQL using database/sql and lib/pq. Tables are created by the SQL
// files under migrations/.
package postgres
