// Package statement wraps the tidb SQL parser's AST into the small,
// stable shape pkg/confreg needs to validate a relation's columns
// against a live CREATE TABLE: column existence, nullability, and type,
// plus detecting which columns an ALTER TABLE adds or drops.
package statement

import (
	"fmt"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver" // registers the literal expression implementation the parser needs
)

// Column is one column of a parsed CREATE TABLE.
type Column struct {
	Name       string
	Type       string
	Collation  string
	Length     *int
	Nullable   bool
	AutoInc    bool
	PrimaryKey bool
	Unsigned   *bool
	Comment    *string
}

// Columns is a parsed column list with name lookup.
type Columns []Column

// ByName returns the column named name, or nil if there is none.
func (cs Columns) ByName(name string) *Column {
	for i := range cs {
		if cs[i].Name == name {
			return &cs[i]
		}
	}
	return nil
}

// Index is one index or key of a parsed CREATE TABLE.
type Index struct {
	Name      string
	Columns   []string
	Unique    bool
	Primary   bool
	Invisible *bool
	Using     *string
	Comment   *string
}

// Indexes is a parsed index list with name lookup.
type Indexes []Index

func (ix Indexes) ByName(name string) *Index {
	for i := range ix {
		if ix[i].Name == name {
			return &ix[i]
		}
	}
	return nil
}

// CreateTable is a parsed CREATE TABLE statement.
type CreateTable struct {
	stmt    *ast.CreateTableStmt
	columns Columns
	indexes Indexes
	options map[string]string
}

// ParseCreateTable parses a single CREATE TABLE statement, such as the
// output of SHOW CREATE TABLE.
func ParseCreateTable(sql string) (*CreateTable, error) {
	p := parser.New()
	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, fmt.Errorf("statement: parsing CREATE TABLE: %w", err)
	}
	if len(stmtNodes) == 0 {
		return nil, fmt.Errorf("statement: no statement found")
	}
	createStmt, ok := stmtNodes[0].(*ast.CreateTableStmt)
	if !ok {
		return nil, fmt.Errorf("statement: not a CREATE TABLE statement")
	}

	ct := &CreateTable{stmt: createStmt, options: make(map[string]string)}
	ct.columns = ct.parseColumns()
	ct.indexes = ct.parseIndexes()
	ct.parseOptions()
	return ct, nil
}

func (ct *CreateTable) GetTableName() string {
	return ct.stmt.Table.Name.O
}

func (ct *CreateTable) GetColumns() Columns {
	return ct.columns
}

func (ct *CreateTable) GetIndexes() Indexes {
	return ct.indexes
}

func (ct *CreateTable) GetTableOptions() map[string]string {
	return ct.options
}

func (ct *CreateTable) parseColumns() Columns {
	cols := make(Columns, 0, len(ct.stmt.Cols))
	for _, def := range ct.stmt.Cols {
		col := Column{
			Name:      def.Name.Name.O,
			Type:      def.Tp.CompactStr(),
			Collation: def.Tp.GetCollate(),
			Nullable:  true,
		}
		if flen := def.Tp.GetFlen(); flen > 0 {
			l := flen
			col.Length = &l
		}
		if mysql.HasUnsignedFlag(def.Tp.GetFlag()) {
			u := true
			col.Unsigned = &u
		}
		for _, opt := range def.Options {
			switch opt.Tp {
			case ast.ColumnOptionNotNull:
				col.Nullable = false
			case ast.ColumnOptionNull:
				col.Nullable = true
			case ast.ColumnOptionAutoIncrement:
				col.AutoInc = true
			case ast.ColumnOptionPrimaryKey:
				col.PrimaryKey = true
				col.Nullable = false
			case ast.ColumnOptionComment:
				if v, ok := exprStringValue(opt.Expr); ok {
					col.Comment = &v
				}
			}
		}
		cols = append(cols, col)
	}
	return cols
}

func (ct *CreateTable) parseIndexes() Indexes {
	idxs := make(Indexes, 0, len(ct.stmt.Constraints))
	for _, c := range ct.stmt.Constraints {
		switch c.Tp { //nolint:exhaustive
		case ast.ConstraintPrimaryKey, ast.ConstraintKey, ast.ConstraintIndex,
			ast.ConstraintUniq, ast.ConstraintUniqKey, ast.ConstraintUniqIndex,
			ast.ConstraintFulltext:
		default:
			continue
		}
		idx := Index{
			Name:    c.Name,
			Primary: c.Tp == ast.ConstraintPrimaryKey,
			Unique:  c.Tp == ast.ConstraintUniq || c.Tp == ast.ConstraintUniqKey || c.Tp == ast.ConstraintUniqIndex || c.Tp == ast.ConstraintPrimaryKey,
		}
		for _, key := range c.Keys {
			if key.Column != nil {
				idx.Columns = append(idx.Columns, key.Column.Name.O)
			}
		}
		if c.Option != nil {
			if c.Option.Visibility == ast.IndexVisibilityInvisible {
				v := true
				idx.Invisible = &v
			} else if c.Option.Visibility == ast.IndexVisibilityVisible {
				v := false
				idx.Invisible = &v
			}
			if c.Option.Comment != "" {
				cm := c.Option.Comment
				idx.Comment = &cm
			}
		}
		idxs = append(idxs, idx)
	}
	return idxs
}

func (ct *CreateTable) parseOptions() {
	for _, opt := range ct.stmt.Options {
		switch opt.Tp {
		case ast.TableOptionEngine:
			ct.options["engine"] = opt.StrValue
		case ast.TableOptionCharset:
			ct.options["charset"] = opt.StrValue
		case ast.TableOptionCollate:
			ct.options["collate"] = opt.StrValue
		case ast.TableOptionComment:
			ct.options["comment"] = opt.StrValue
		}
	}
}

func exprStringValue(expr ast.ExprNode) (string, bool) {
	v, ok := expr.(ast.ValueExpr)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%v", v.GetValue()), true
}
