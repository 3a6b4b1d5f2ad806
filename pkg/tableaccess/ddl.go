package tableaccess

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CreateRelation builds the physical table backing schema: the three
// hidden bookkeeping columns, then every user column in order — delta
// columns forced to LONGBLOB regardless of what SQLType says, since the
// physical cell is always the wire-encoded {tag, flags, bytes} format,
// never the user's declared type.
func (a *Adapter) CreateRelation(ctx context.Context, tx *sql.Tx, schema Schema) error {
	cols := []string{
		"`__locator` BIGINT NOT NULL AUTO_INCREMENT",
		"`__seq` BIGINT NOT NULL",
		"`__fp` BINARY(16) NOT NULL",
	}
	for _, c := range schema.UserColumns {
		if c.IsDelta {
			cols = append(cols, fmt.Sprintf("`%s` LONGBLOB NOT NULL", c.Name))
		} else {
			cols = append(cols, fmt.Sprintf("`%s` %s", c.Name, c.SQLType))
		}
	}
	stmt := fmt.Sprintf(
		"CREATE TABLE `%s` (%s, PRIMARY KEY (`__locator`), KEY `idx_fp_seq` (`__fp`, `__seq`))",
		schema.Relation, strings.Join(cols, ", "),
	)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("tableaccess: creating relation %s: %w", schema.Relation, err)
	}
	return nil
}

// DropRelation drops the physical table and evicts every cache entry for
// it, across all three caches.
func (a *Adapter) DropRelation(ctx context.Context, tx *sql.Tx, relation string) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE `%s`", relation)); err != nil {
		return fmt.Errorf("tableaccess: dropping relation %s: %w", relation, err)
	}
	a.engine.InvalidateRelation(relation)
	return nil
}

// Truncate empties relation and invalidates every cache and stats row
// that might reference it. Modeled on the teacher's cutover algorithm —
// a short, non-retried LOCK TABLES taken on a dedicated connection, so no
// other backend's INSERT can land between the TRUNCATE and the cache
// invalidation and be silently lost from the caches' point of view.
// statsTable may be empty to skip clearing stats (e.g. in tests).
func (a *Adapter) Truncate(ctx context.Context, relation, statsTable string) error {
	conn, err := a.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	lockStmt := fmt.Sprintf("LOCK TABLES `%s` WRITE", relation)
	if statsTable != "" {
		lockStmt += fmt.Sprintf(", `%s` WRITE", statsTable)
	}
	if _, err := conn.ExecContext(ctx, lockStmt); err != nil {
		return fmt.Errorf("tableaccess: locking %s for truncate: %w", relation, err)
	}
	defer func() {
		if _, err := conn.ExecContext(ctx, "UNLOCK TABLES"); err != nil {
			a.logger.Errorf("tableaccess: unlocking after truncate of %s: %v", relation, err)
		}
	}()

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE `%s`", relation)); err != nil {
		return fmt.Errorf("tableaccess: truncating %s: %w", relation, err)
	}
	if statsTable != "" {
		q := fmt.Sprintf("DELETE FROM `%s` WHERE relation = ?", statsTable)
		if _, err := conn.ExecContext(ctx, q, relation); err != nil {
			return fmt.Errorf("tableaccess: clearing stats for %s: %w", relation, err)
		}
	}

	a.engine.InvalidateRelation(relation)
	return nil
}

// Vacuum routes to InnoDB's own cleanup (OPTIMIZE TABLE); VACUUM FULL is
// rejected, since rewriting rows outside of seq order would break every
// delta column's base-chain invariant.
func (a *Adapter) Vacuum(ctx context.Context, relation string, full bool) error {
	if full {
		return ErrVacuumFullNotSupported
	}
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf("OPTIMIZE TABLE `%s`", relation)); err != nil {
		return fmt.Errorf("tableaccess: vacuuming %s: %w", relation, err)
	}
	return nil
}

// Analyze refreshes MySQL's own table statistics.
func (a *Adapter) Analyze(ctx context.Context, relation string) error {
	if _, err := a.db.ExecContext(ctx, fmt.Sprintf("ANALYZE TABLE `%s`", relation)); err != nil {
		return fmt.Errorf("tableaccess: analyzing %s: %w", relation, err)
	}
	return nil
}
