/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements costtree.Store, costtree.TxStore and costtree.DocumentStore
  using SQLite. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  cost_nodes: The tree - identity, parent edges, stored valuation fields,
              settled totals
  documents:  Root ownership records for business document families

INDEXES:
  idx_cost_nodes_parent:        Children listing (rollup hot path)
  idx_cost_nodes_sibling_order: Enforces unique display order per parent
  idx_cost_nodes_reference:     Reverse percentage-reference lookup

TRANSACTIONS:
  Every Engine.Apply runs inside WithTx; all reads within one transaction
  observe a single consistent snapshot. Driver-level busy/locked errors
  are mapped onto costtree.ErrConcurrentConflict so callers can retry the
  whole Apply.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers
  don't block, a single writer at a time, better crash recovery.

MIGRATIONS:
  Versioned goose migrations embedded in the binary, applied on New().

USAGE:
  store, err := sqlite.New("./data/costs.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := costtree.NewEngine(store)

SEE ALSO:
  - costtree/store.go:        Interface definitions
  - costtree/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/warp/cost-engine/costtree"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store at the given path and applies pending
// migrations. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer connection sidesteps table-lock errors between the
	// pool's connections; WAL still serves concurrent readers.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every operation can run
// either standalone or inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const nodeColumns = `id, parent_id, kind, label, display_order, total_amount,
	valuation_kind, quantity, supply_rate, install_rate, fixed_amount,
	reference_item_id, percentage, created_seq`

// =============================================================================
// STORE INTERFACE (costtree.Store)
// =============================================================================

func (s *Store) CreateNode(ctx context.Context, node *costtree.CostNode) error {
	return createNode(ctx, s.db, node)
}

func createNode(ctx context.Context, db dbtx, node *costtree.CostNode) error {
	err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(created_seq), 0) + 1 FROM cost_nodes",
	).Scan(&node.CreatedSeq)
	if err != nil {
		return mapSQLError(err)
	}

	var parentID any
	if node.ParentID != nil {
		parentID = string(*node.ParentID)
	}

	v := valuationFields(node.Valuation)
	_, err = db.ExecContext(ctx, `
		INSERT INTO cost_nodes
		(id, parent_id, kind, label, display_order, total_amount,
		 valuation_kind, quantity, supply_rate, install_rate, fixed_amount,
		 reference_item_id, percentage, created_seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, parentID, node.Kind, node.Label, node.DisplayOrder,
		node.Total.Value.String(),
		v.kind, v.qty, v.supply, v.install, v.fixed, v.reference, v.percentage,
		node.CreatedSeq,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return costtree.ErrDuplicateDisplayOrder
		}
		return mapSQLError(err)
	}
	return nil
}

func (s *Store) GetNode(ctx context.Context, id costtree.NodeID) (*costtree.CostNode, error) {
	return getNode(ctx, s.db, id)
}

func getNode(ctx context.Context, db dbtx, id costtree.NodeID) (*costtree.CostNode, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+nodeColumns+" FROM cost_nodes WHERE id = ?", id)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	node, err := scanNode(rows)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *Store) GetChildren(ctx context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	return getChildren(ctx, s.db, id)
}

func getChildren(ctx context.Context, db dbtx, id costtree.NodeID) ([]costtree.CostNode, error) {
	return queryNodes(ctx, db, `
		SELECT `+nodeColumns+` FROM cost_nodes
		WHERE parent_id = ?
		ORDER BY display_order ASC, created_seq ASC`, id)
}

func (s *Store) GetAncestors(ctx context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	return getAncestors(ctx, s.db, id)
}

func getAncestors(ctx context.Context, db dbtx, id costtree.NodeID) ([]costtree.CostNode, error) {
	// Walk up the parent chain; depth numbers the result leaf-to-root.
	return queryNodes(ctx, db, `
		WITH RECURSIVE chain(id, depth) AS (
			SELECT parent_id, 1 FROM cost_nodes WHERE id = ?
			UNION ALL
			SELECT n.parent_id, c.depth + 1
			FROM cost_nodes n JOIN chain c ON n.id = c.id
		)
		SELECT `+prefixed("n")+`
		FROM chain c JOIN cost_nodes n ON n.id = c.id
		ORDER BY c.depth ASC`, id)
}

func (s *Store) SetTotal(ctx context.Context, id costtree.NodeID, total costtree.Amount) error {
	return setTotal(ctx, s.db, id, total)
}

func setTotal(ctx context.Context, db dbtx, id costtree.NodeID, total costtree.Amount) error {
	res, err := db.ExecContext(ctx,
		"UPDATE cost_nodes SET total_amount = ? WHERE id = ?",
		total.Value.String(), id)
	if err != nil {
		return mapSQLError(err)
	}
	return requireRow(res)
}

func (s *Store) SetValuation(ctx context.Context, id costtree.NodeID, v costtree.ItemValuation) error {
	return setValuation(ctx, s.db, id, v)
}

func setValuation(ctx context.Context, db dbtx, id costtree.NodeID, val costtree.ItemValuation) error {
	v := valuationFields(&val)
	res, err := db.ExecContext(ctx, `
		UPDATE cost_nodes SET
			valuation_kind = ?, quantity = ?, supply_rate = ?, install_rate = ?,
			fixed_amount = ?, reference_item_id = ?, percentage = ?
		WHERE id = ?`,
		v.kind, v.qty, v.supply, v.install, v.fixed, v.reference, v.percentage, id)
	if err != nil {
		return mapSQLError(err)
	}
	return requireRow(res)
}

func (s *Store) SetDisplayOrder(ctx context.Context, id costtree.NodeID, order int) error {
	return setDisplayOrder(ctx, s.db, id, order)
}

func setDisplayOrder(ctx context.Context, db dbtx, id costtree.NodeID, order int) error {
	res, err := db.ExecContext(ctx,
		"UPDATE cost_nodes SET display_order = ? WHERE id = ?", order, id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return costtree.ErrDuplicateDisplayOrder
		}
		return mapSQLError(err)
	}
	return requireRow(res)
}

func (s *Store) DeleteSubtree(ctx context.Context, id costtree.NodeID) error {
	return deleteSubtree(ctx, s.db, id)
}

func deleteSubtree(ctx context.Context, db dbtx, id costtree.NodeID) error {
	// ON DELETE CASCADE walks the parent edges for us.
	_, err := db.ExecContext(ctx, "DELETE FROM cost_nodes WHERE id = ?", id)
	return mapSQLError(err)
}

func (s *Store) SubtreeIDs(ctx context.Context, id costtree.NodeID) ([]costtree.NodeID, error) {
	return subtreeIDs(ctx, s.db, id)
}

func subtreeIDs(ctx context.Context, db dbtx, id costtree.NodeID) ([]costtree.NodeID, error) {
	rows, err := db.QueryContext(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM cost_nodes WHERE id = ?
			UNION ALL
			SELECT n.id FROM cost_nodes n JOIN subtree s ON n.parent_id = s.id
		)
		SELECT id FROM subtree`, id)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var ids []costtree.NodeID
	for rows.Next() {
		var nid costtree.NodeID
		if err := rows.Scan(&nid); err != nil {
			return nil, err
		}
		ids = append(ids, nid)
	}
	return ids, rows.Err()
}

func (s *Store) ReferencingItems(ctx context.Context, target costtree.NodeID) ([]costtree.CostNode, error) {
	return referencingItems(ctx, s.db, target)
}

func referencingItems(ctx context.Context, db dbtx, target costtree.NodeID) ([]costtree.CostNode, error) {
	return queryNodes(ctx, db, `
		SELECT `+nodeColumns+` FROM cost_nodes
		WHERE reference_item_id = ?
		ORDER BY created_seq ASC`, target)
}

func (s *Store) ListRoots(ctx context.Context) ([]costtree.CostNode, error) {
	return listRoots(ctx, s.db)
}

func listRoots(ctx context.Context, db dbtx) ([]costtree.CostNode, error) {
	return queryNodes(ctx, db, `
		SELECT `+nodeColumns+` FROM cost_nodes
		WHERE parent_id IS NULL
		ORDER BY created_seq ASC`)
}

// =============================================================================
// TRANSACTIONAL STORE (costtree.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Driver-level write
// conflicts surface as costtree.ErrConcurrentConflict after rollback.
func (s *Store) WithTx(ctx context.Context, fn func(costtree.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLError(err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapSQLError(err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateNode(ctx context.Context, node *costtree.CostNode) error {
	return createNode(ctx, ts.tx, node)
}

func (ts *txStore) GetNode(ctx context.Context, id costtree.NodeID) (*costtree.CostNode, error) {
	return getNode(ctx, ts.tx, id)
}

func (ts *txStore) GetChildren(ctx context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	return getChildren(ctx, ts.tx, id)
}

func (ts *txStore) GetAncestors(ctx context.Context, id costtree.NodeID) ([]costtree.CostNode, error) {
	return getAncestors(ctx, ts.tx, id)
}

func (ts *txStore) SetTotal(ctx context.Context, id costtree.NodeID, total costtree.Amount) error {
	return setTotal(ctx, ts.tx, id, total)
}

func (ts *txStore) SetValuation(ctx context.Context, id costtree.NodeID, v costtree.ItemValuation) error {
	return setValuation(ctx, ts.tx, id, v)
}

func (ts *txStore) SetDisplayOrder(ctx context.Context, id costtree.NodeID, order int) error {
	return setDisplayOrder(ctx, ts.tx, id, order)
}

func (ts *txStore) DeleteSubtree(ctx context.Context, id costtree.NodeID) error {
	return deleteSubtree(ctx, ts.tx, id)
}

func (ts *txStore) SubtreeIDs(ctx context.Context, id costtree.NodeID) ([]costtree.NodeID, error) {
	return subtreeIDs(ctx, ts.tx, id)
}

func (ts *txStore) ReferencingItems(ctx context.Context, target costtree.NodeID) ([]costtree.CostNode, error) {
	return referencingItems(ctx, ts.tx, target)
}

func (ts *txStore) ListRoots(ctx context.Context) ([]costtree.CostNode, error) {
	return listRoots(ctx, ts.tx)
}

// =============================================================================
// DOCUMENT STORE (costtree.DocumentStore)
// =============================================================================

func (s *Store) SaveDocument(ctx context.Context, rec costtree.DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (node_id, kind, title, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title`,
		rec.NodeID, rec.Kind, rec.Title,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return mapSQLError(err)
}

func (s *Store) GetDocument(ctx context.Context, id costtree.NodeID) (*costtree.DocumentRecord, error) {
	var rec costtree.DocumentRecord
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT node_id, kind, title, created_at FROM documents WHERE node_id = ?", id,
	).Scan(&rec.NodeID, &rec.Kind, &rec.Title, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLError(err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &rec, nil
}

func (s *Store) ListDocuments(ctx context.Context, kind string) ([]costtree.DocumentRecord, error) {
	query := "SELECT node_id, kind, title, created_at FROM documents"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY created_at ASC, node_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var recs []costtree.DocumentRecord
	for rows.Next() {
		var rec costtree.DocumentRecord
		var createdAt string
		if err := rows.Scan(&rec.NodeID, &rec.Kind, &rec.Title, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id costtree.NodeID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE node_id = ?", id)
	return mapSQLError(err)
}

// =============================================================================
// SCANNING AND HELPERS
// =============================================================================

func queryNodes(ctx context.Context, db dbtx, query string, args ...any) ([]costtree.CostNode, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var nodes []costtree.CostNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func scanNode(rows *sql.Rows) (costtree.CostNode, error) {
	var (
		node        costtree.CostNode
		parentID    sql.NullString
		totalAmount string
		vKind       sql.NullString
		qty         sql.NullString
		supply      sql.NullString
		install     sql.NullString
		fixed       sql.NullString
		reference   sql.NullString
		percentage  sql.NullString
	)

	err := rows.Scan(
		&node.ID, &parentID, &node.Kind, &node.Label, &node.DisplayOrder,
		&totalAmount, &vKind, &qty, &supply, &install, &fixed,
		&reference, &percentage, &node.CreatedSeq,
	)
	if err != nil {
		return node, fmt.Errorf("failed to scan cost node: %w", err)
	}

	if parentID.Valid {
		pid := costtree.NodeID(parentID.String)
		node.ParentID = &pid
	}
	node.Total = costtree.Amount{Value: costtree.MustParseDecimal(totalAmount)}

	if vKind.Valid {
		v := costtree.ItemValuation{
			Kind:        costtree.ValuationKind(vKind.String),
			Qty:         costtree.MustParseDecimal(qty.String),
			SupplyRate:  costtree.MustParseDecimal(supply.String),
			InstallRate: costtree.MustParseDecimal(install.String),
			FixedAmount: costtree.Amount{Value: costtree.MustParseDecimal(fixed.String)},
			ReferenceID: costtree.NodeID(reference.String),
			Percentage:  costtree.MustParseDecimal(percentage.String),
		}
		node.Valuation = &v
	}
	return node, nil
}

type valuationRow struct {
	kind, qty, supply, install, fixed, reference, percentage any
}

func valuationFields(v *costtree.ItemValuation) valuationRow {
	if v == nil {
		return valuationRow{}
	}
	row := valuationRow{
		kind:       string(v.Kind),
		qty:        v.Qty.String(),
		supply:     v.SupplyRate.String(),
		install:    v.InstallRate.String(),
		fixed:      v.FixedAmount.Value.String(),
		percentage: v.Percentage.String(),
	}
	if v.Kind == costtree.ValuationPercentageOf {
		row.reference = string(v.ReferenceID)
	}
	return row
}

// prefixed qualifies the node column list with a table alias.
func prefixed(alias string) string {
	cols := strings.Split(nodeColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return costtree.ErrNodeNotFound
	}
	return nil
}

func mapSQLError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", costtree.ErrConcurrentConflict, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
