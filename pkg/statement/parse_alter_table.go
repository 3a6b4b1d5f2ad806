package statement

import (
	"fmt"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
)

// AlterTable is a parsed ALTER TABLE statement, narrowed to the two
// clauses confreg cares about: adding and dropping columns. Delta
// columns may only be added or dropped, never otherwise redefined (spec
// non-goal), so that's all this wrapper needs to expose.
type AlterTable struct {
	TableName      string
	AddedColumns   []string
	DroppedColumns []string
	otherClauses   int
}

// ParseAlterTable parses a single ALTER TABLE statement and reports which
// columns it adds or drops. Any other clause (MODIFY, CHANGE, index
// changes, table options, ...) is ignored here; pkg/confreg rejects an
// ALTER outright if it touches a delta column via anything other than
// ADD COLUMN / DROP COLUMN.
func ParseAlterTable(sql string) (*AlterTable, error) {
	p := parser.New()
	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, fmt.Errorf("statement: parsing ALTER TABLE: %w", err)
	}
	if len(stmtNodes) == 0 {
		return nil, fmt.Errorf("statement: no statement found")
	}
	alterStmt, ok := stmtNodes[0].(*ast.AlterTableStmt)
	if !ok {
		return nil, fmt.Errorf("statement: not an ALTER TABLE statement")
	}

	at := &AlterTable{TableName: alterStmt.Table.Name.O}
	for _, spec := range alterStmt.Specs {
		switch spec.Tp {
		case ast.AlterTableAddColumns:
			for _, col := range spec.NewColumns {
				at.AddedColumns = append(at.AddedColumns, col.Name.Name.O)
			}
		case ast.AlterTableDropColumn:
			at.DroppedColumns = append(at.DroppedColumns, spec.OldColumnName.Name.O)
		default:
			at.otherClauses++
		}
	}
	return at, nil
}

// OnlyAddsOrDropsColumns reports whether every clause of the statement is
// an ADD COLUMN or DROP COLUMN — the only shape confreg allows an ALTER
// touching a relation's delta columns to take.
func (at *AlterTable) OnlyAddsOrDropsColumns() bool {
	return at.otherClauses == 0
}
