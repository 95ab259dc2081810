package database

import (
	"context"
	"fmt"
	"strings"
)

// Column is one declared column of a table schema.
type Column struct {
	Name string
	Type string
}

// canonicalBarColumns is the bars table's canonical shape. sqlite stores
// booleans as INTEGER.
var canonicalBarColumns = []Column{
	{"symbol", "TEXT"},
	{"date", "TEXT"},
	{"open", "REAL"},
	{"high", "REAL"},
	{"low", "REAL"},
	{"close", "REAL"},
	{"volume", "INTEGER"},
	{"source", "TEXT"},
	{"is_filled", "INTEGER"},
}

// SchemaErrorKind distinguishes the two fatal schema faults.
type SchemaErrorKind string

const (
	SchemaMissingColumn    SchemaErrorKind = "missing_column"
	SchemaIncompatibleType SchemaErrorKind = "incompatible_type"
)

// SchemaError is a fatal schema validation failure; it maps to exit code 2
// when raised before any task starts.
type SchemaError struct {
	Kind   SchemaErrorKind
	Table  string
	Column string
	Want   string
	Got    string
}

func (e *SchemaError) Error() string {
	switch e.Kind {
	case SchemaMissingColumn:
		return fmt.Sprintf("schema: table %s is missing required column %s", e.Table, e.Column)
	default:
		return fmt.Sprintf("schema: table %s column %s has type %s, want %s", e.Table, e.Column, e.Got, e.Want)
	}
}

// ValidateBarSchema guards the bars table before a write. A missing table is
// created from the canonical schema; columns the table lacks are added by
// ALTER; a type mismatch is fatal. TEXT is accepted against a DATE
// declaration — a documented leniency, applied nowhere else.
func (s *Store) ValidateBarSchema(ctx context.Context) error {
	return s.ValidateSchema(ctx, "bars", canonicalBarColumns)
}

// ValidateSchema compares the expected frame columns against table's declared
// schema, creating or extending the table as needed.
func (s *Store) ValidateSchema(ctx context.Context, table string, want []Column) error {
	declared, err := s.SchemaInfo(ctx, table)
	if err != nil {
		return err
	}

	if len(declared) == 0 {
		return s.createTable(ctx, table, want)
	}

	for _, col := range want {
		got, ok := declared[col.Name]
		if !ok {
			// The frame carries a column the table lacks; extend the table.
			s.logger.WithField("column", col.Name).Info("Altering table to add column")
			alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.Name, col.Type)
			if _, err := s.write.ExecContext(ctx, alter); err != nil {
				return fmt.Errorf("failed to add column %s: %w", col.Name, err)
			}
			continue
		}
		if !typesCompatible(got, col.Type) {
			return &SchemaError{
				Kind: SchemaIncompatibleType, Table: table,
				Column: col.Name, Want: col.Type, Got: got,
			}
		}
	}
	return nil
}

// RequireBarColumns verifies that a pre-existing bars table exposes every
// canonical column. Read paths use this instead of ValidateBarSchema, which
// would alter the table.
func (s *Store) RequireBarColumns(ctx context.Context) error {
	declared, err := s.SchemaInfo(ctx, "bars")
	if err != nil {
		return err
	}
	// A store that has never been written has no bars table yet; the first
	// write creates it.
	if len(declared) == 0 {
		return nil
	}
	names := make([]string, len(canonicalBarColumns))
	for i, col := range canonicalBarColumns {
		names[i] = col.Name
	}
	return s.RequireColumns(ctx, "bars", names)
}

// RequireColumns verifies that every named column exists in the table's
// declared schema, without altering anything.
func (s *Store) RequireColumns(ctx context.Context, table string, names []string) error {
	declared, err := s.SchemaInfo(ctx, table)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := declared[name]; !ok {
			return &SchemaError{Kind: SchemaMissingColumn, Table: table, Column: name}
		}
	}
	return nil
}

// SchemaInfo returns the table's declared columns and types. A missing table
// yields an empty map.
func (s *Store) SchemaInfo(ctx context.Context, table string) (map[string]string, error) {
	rows, err := s.read.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()

	info := make(map[string]string)
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		info[strings.ToLower(name)] = strings.ToUpper(typ)
	}
	return info, rows.Err()
}

func (s *Store) createTable(ctx context.Context, table string, cols []Column) error {
	defs := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		defs = append(defs, fmt.Sprintf("%s %s", col.Name, col.Type))
	}
	if table == "bars" {
		defs = append(defs, "PRIMARY KEY(symbol, date)")
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))
	if _, err := s.write.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	s.logger.WithField("table", table).Info("Created table from canonical schema")
	return nil
}

// typesCompatible reports whether a declared sqlite type satisfies the
// expected type. TEXT interchanges with DATE by documented exception.
func typesCompatible(declared, want string) bool {
	d := affinity(declared)
	w := affinity(want)
	if d == w {
		return true
	}
	if (d == "TEXT" && strings.ToUpper(want) == "DATE") ||
		(strings.ToUpper(declared) == "DATE" && w == "TEXT") {
		return true
	}
	return false
}

// affinity collapses sqlite's declared types onto their storage affinity.
func affinity(typ string) string {
	t := strings.ToUpper(typ)
	switch {
	case strings.Contains(t, "INT") || t == "BOOLEAN" || t == "BOOL":
		return "INTEGER"
	case strings.Contains(t, "REAL") || strings.Contains(t, "FLOA") || strings.Contains(t, "DOUB"):
		return "REAL"
	case strings.Contains(t, "CHAR") || strings.Contains(t, "TEXT") || strings.Contains(t, "CLOB") || t == "DATE":
		return "TEXT"
	default:
		return t
	}
}
