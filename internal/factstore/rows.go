package factstore

import (
	"context"
	"database/sql"
	"sort"
	"strings"
)

// Row maps column names to values for one insert.
type Row map[string]interface{}

// Export is one row of the exports table.
type Export struct {
	ID     int64  `json:"-"`
	Root   string `json:"root"`
	Module string `json:"module"`
	Path   string `json:"path"`
	Name   string `json:"function"`
	Type   string `json:"type"`
	Tag    string `json:"version"`
}

// Row returns the insertable columns of e.
func (e Export) Row() Row {
	return Row{"root": e.Root, "module": e.Module, "path": e.Path, "name": e.Name, "type": e.Type, "tag": e.Tag}
}

// Param is one row of the params table.
type Param struct {
	Name     string      `json:"name"`
	Type     string      `json:"type,omitempty"`
	Position int         `json:"position"`
	Default  interface{} `json:"default,omitempty"`
	Function int64       `json:"-"`
}

// Row returns the insertable columns of p.
func (p Param) Row() Row {
	return Row{
		"name":          p.Name,
		"type":          nullable(p.Type),
		"position":      p.Position,
		"default_value": p.Default,
		"function":      p.Function,
	}
}

// Import is one row of the imports table.
type Import struct {
	Root   string `json:"root"`
	Path   string `json:"path"`
	Module string `json:"module,omitempty"`
	Import string `json:"import"`
	AsName string `json:"asname,omitempty"`
	Tag    string `json:"tag"`
}

// Row returns the insertable columns of i.
func (i Import) Row() Row {
	return Row{
		"root":   i.Root,
		"path":   i.Path,
		"module": nullable(i.Module),
		"import": i.Import,
		"asname": nullable(i.AsName),
		"tag":    i.Tag,
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ExecuteOne inserts row into table and returns the new row id.
func (s *Store) ExecuteOne(ctx context.Context, table string, row Row) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insert(ctx, tx, table, row)
		return err
	})
	return id, err
}

// ExecuteMany inserts rows into table in one transaction. Every row must
// carry the same columns.
func (s *Store) ExecuteMany(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	columns, err := validateRow(table, rows[0])
	if err != nil {
		return err
	}
	for _, row := range rows[1:] {
		if !sameColumns(columns, row) {
			return storeErr("rows for table %s do not share the same columns", nil, table)
		}
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertSQL(table, columns))
		if err != nil {
			return storeErr("preparing insert into %s", err, table)
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, values(columns, row)...); err != nil {
				return storeErr("inserting into %s", err, table)
			}
		}
		return nil
	})
	if err == nil {
		s.forgetRoots(table, rows...)
	}
	return err
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, table string, row Row) (int64, error) {
	columns, err := validateRow(table, row)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, insertSQL(table, columns), values(columns, row)...)
	if err != nil {
		return 0, storeErr("inserting into %s", err, table)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("reading id of row in %s", err, table)
	}
	s.forgetRoots(table, row)
	return id, nil
}

// forgetRoots drops cached has_module answers for roots that just gained
// exports.
func (s *Store) forgetRoots(table string, rows ...Row) {
	if table != TableExports {
		return
	}
	for _, row := range rows {
		if root, ok := row["root"].(string); ok {
			s.roots.Remove(root)
		}
	}
}

// validateRow checks table and columns against the schema and returns the
// row's columns in a stable order.
func validateRow(table string, row Row) ([]string, error) {
	known, ok := tableColumns[table]
	if !ok {
		return nil, storeErr("unknown table %q", nil, table)
	}
	if len(row) == 0 {
		return nil, storeErr("empty row for table %s", nil, table)
	}
	columns := make([]string, 0, len(row))
	for col := range row {
		if !contains(known, col) {
			return nil, storeErr("unknown column %q in table %s", nil, col, table)
		}
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns, nil
}

func sameColumns(columns []string, row Row) bool {
	if len(row) != len(columns) {
		return false
	}
	for _, col := range columns {
		if _, ok := row[col]; !ok {
			return false
		}
	}
	return true
}

func insertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = `"` + col + `"`
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return "INSERT INTO " + table + " (" + strings.Join(quoted, ", ") + ") VALUES (" + placeholders + ")"
}

func values(columns []string, row Row) []interface{} {
	out := make([]interface{}, len(columns))
	for i, col := range columns {
		out[i] = row[col]
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
