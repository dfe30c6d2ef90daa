package factstore

import (
	"context"
	"database/sql"

	"caliper/internal/pyparse"
)

// Query names accepted by Query.
const (
	QueryHasModule = "has_module"
	QueryGetModule = "get_module"
)

// Record is one version's export of a path together with its parameters.
type Record struct {
	Export
	Params []Param `json:"params"`
}

// Query runs a named query. has_module returns a bool, get_module a
// []Record.
func (s *Store) Query(ctx context.Context, name, arg string) (interface{}, error) {
	switch name {
	case QueryHasModule:
		return s.HasModule(ctx, arg)
	case QueryGetModule:
		return s.GetModule(ctx, arg)
	default:
		return nil, storeErr("unknown query %q", nil, name)
	}
}

// HasModule reports whether any version exports something under the root
// module of path. Answers are cached per root.
func (s *Store) HasModule(ctx context.Context, path string) (bool, error) {
	root := pyparse.RootOf(path)
	if found, ok := s.roots.Get(root); ok {
		return found, nil
	}

	var found bool
	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM exports WHERE root = ?)`, root).Scan(&found)
	if err != nil {
		return false, storeErr("checking module %s", err, root)
	}
	s.roots.Add(root, found)
	return found, nil
}

// GetModule returns every version's export of path, oldest row first.
func (s *Store) GetModule(ctx context.Context, path string) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, root, module, path, name, type, tag
		FROM exports WHERE path = ? ORDER BY id`, path)
	if err != nil {
		return nil, storeErr("querying module %s", err, path)
	}

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Root, &r.Module, &r.Path, &r.Name, &r.Type, &r.Tag); err != nil {
			rows.Close()
			return nil, storeErr("scanning export", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, storeErr("reading exports", err)
	}
	rows.Close()

	for i := range records {
		params, err := s.params(ctx, `WHERE function = ?`, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Params = params
	}
	return records, nil
}

func (s *Store) params(ctx context.Context, where string, args ...interface{}) ([]Param, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT name, type, position, default_value, function
		FROM params `+where+` ORDER BY function, position`, args...)
	if err != nil {
		return nil, storeErr("querying params", err)
	}
	defer rows.Close()

	params := []Param{}
	for rows.Next() {
		var (
			p   Param
			typ sql.NullString
			def interface{}
		)
		if err := rows.Scan(&p.Name, &typ, &p.Position, &def, &p.Function); err != nil {
			return nil, storeErr("scanning param", err)
		}
		p.Type = typ.String
		if b, ok := def.([]byte); ok {
			def = string(b)
		}
		p.Default = def
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("reading params", err)
	}
	return params, nil
}
