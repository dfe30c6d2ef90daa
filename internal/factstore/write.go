package factstore

import (
	"context"
	"database/sql"

	"caliper/internal/pyparse"
)

// ModuleDoc is the exports and imports of one module at one version.
type ModuleDoc struct {
	Exports []pyparse.Export `json:"exports"`
	Imports []pyparse.Import `json:"imports"`
}

// Document nests module documents by tag and then module path.
type Document map[string]map[string]*ModuleDoc

func (d Document) module(tag, module string) *ModuleDoc {
	mods, ok := d[tag]
	if !ok {
		mods = map[string]*ModuleDoc{}
		d[tag] = mods
	}
	doc, ok := mods[module]
	if !ok {
		doc = &ModuleDoc{Exports: []pyparse.Export{}, Imports: []pyparse.Import{}}
		mods[module] = doc
	}
	return doc
}

// WriteModule stores one parsed module in a single transaction.
func (s *Store) WriteModule(ctx context.Context, facts *pyparse.ModuleFacts) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, exp := range facts.Exports {
			id, err := s.insert(ctx, tx, TableExports, Export{
				Root:   facts.Root,
				Module: exp.Module,
				Path:   exp.Path,
				Name:   exp.Name,
				Type:   string(exp.Kind),
				Tag:    facts.Version,
			}.Row())
			if err != nil {
				return err
			}
			for _, p := range exp.Params {
				_, err := s.insert(ctx, tx, TableParams, Param{
					Name:     p.Name,
					Type:     p.Type,
					Position: p.Position,
					Default:  p.Default,
					Function: id,
				}.Row())
				if err != nil {
					return err
				}
			}
		}
		for _, imp := range facts.Imports {
			_, err := s.insert(ctx, tx, TableImports, Import{
				Root:   facts.Root,
				Path:   imp.Path,
				Module: imp.From,
				Import: imp.Name,
				AsName: imp.As,
				Tag:    facts.Version,
			}.Row())
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Dump rebuilds the export document from all three tables.
func (s *Store) Dump(ctx context.Context) (Document, error) {
	params, err := s.params(ctx, "")
	if err != nil {
		return nil, err
	}
	byFunction := map[int64][]pyparse.Param{}
	for _, p := range params {
		byFunction[p.Function] = append(byFunction[p.Function], pyparse.Param{
			Name:     p.Name,
			Type:     p.Type,
			Position: p.Position,
			Default:  p.Default,
		})
	}

	doc := Document{}
	if err := s.dumpExports(ctx, doc, byFunction); err != nil {
		return nil, err
	}
	if err := s.dumpImports(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) dumpExports(ctx context.Context, doc Document, params map[int64][]pyparse.Param) error {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, module, path, name, type, tag FROM exports ORDER BY id`)
	if err != nil {
		return storeErr("querying exports", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id               int64
			module, tag, typ string
			exp              pyparse.Export
		)
		if err := rows.Scan(&id, &module, &exp.Path, &exp.Name, &typ, &tag); err != nil {
			return storeErr("scanning export", err)
		}
		exp.Module = module
		exp.Kind = pyparse.Kind(typ)
		exp.Params = params[id]
		m := doc.module(tag, module)
		m.Exports = append(m.Exports, exp)
	}
	if err := rows.Err(); err != nil {
		return storeErr("reading exports", err)
	}
	return nil
}

func (s *Store) dumpImports(ctx context.Context, doc Document) error {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT path, module, "import", asname, tag FROM imports ORDER BY id`)
	if err != nil {
		return storeErr("querying imports", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			imp          pyparse.Import
			from, asname sql.NullString
			tag          string
		)
		if err := rows.Scan(&imp.Path, &from, &imp.Name, &asname, &tag); err != nil {
			return storeErr("scanning import", err)
		}
		imp.From = from.String
		imp.As = asname.String
		m := doc.module(tag, imp.Path)
		m.Imports = append(m.Imports, imp)
	}
	if err := rows.Err(); err != nil {
		return storeErr("reading imports", err)
	}
	return nil
}
