/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements needslist.Store plus the reference-data collaborators the
  engine consumes (inventory observations, item catalog, horizon
  availability, actor permissions). In production the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  needslist.Store             Aggregate persistence with version CAS
  engine.InventoryProvider    inventory_observations
  engine.ItemLister           inventory_observations
  engine.CostProvider         item_catalog.unit_cost
  engine.ScopeProvider        item_catalog.transfer_scope
  engine.RestrictionProvider  item_catalog.donation_restriction
  engine.AvailabilityProvider horizon_availability
  engine.PermissionChecker    actors

OPTIMISTIC CONCURRENCY:
  Update runs UPDATE ... SET version = version + 1 WHERE id = ? AND
  version = ? inside a transaction; zero rows affected means the stored
  version advanced, reported as *needslist.StaleVersionError. Two
  reviewers racing on the same version leave exactly one winner.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers don't
  block, a single writer at a time, better crash recovery.

MIGRATION:
  Schema is auto-migrated on New(). For a production rollout use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - needslist/store.go: Interface definition
  - store/memory: In-memory implementation for tests
  - reference.go: Reference-data providers and seed helpers
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/reliefops/replenish-engine/engine"
	"github.com/reliefops/replenish-engine/needslist"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the in-memory variant coherent and avoids
	// SQLITE_BUSY on the write path.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Needs lists (aggregate roots; never deleted, terminal states retained)
	CREATE TABLE IF NOT EXISTS needs_lists (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		method TEXT NOT NULL,
		warehouse_ids TEXT NOT NULL,           -- JSON array
		approval_json TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		submitted_by TEXT, submitted_at TEXT,
		reviewed_by TEXT, reviewed_at TEXT,
		approved_by TEXT, approved_at TEXT,
		escalated_by TEXT, escalated_at TEXT,
		reject_reason TEXT NOT NULL DEFAULT '',
		return_reason_code TEXT NOT NULL DEFAULT '',
		return_reason TEXT NOT NULL DEFAULT '',
		was_returned INTEGER NOT NULL DEFAULT 0,
		partially_fulfilled INTEGER NOT NULL DEFAULT 0,
		superseded_by TEXT,
		supersedes TEXT,
		version INTEGER NOT NULL
	);

	-- Scope queries are the dedup guard's hot path
	CREATE INDEX IF NOT EXISTS idx_needs_lists_scope
		ON needs_lists(event_id, phase, status);
	CREATE INDEX IF NOT EXISTS idx_needs_lists_creator
		ON needs_lists(created_by, status);

	-- Needs list lines
	CREATE TABLE IF NOT EXISTS needs_list_items (
		list_id TEXT NOT NULL REFERENCES needs_lists(id),
		position INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		required_qty TEXT NOT NULL,
		gap_qty TEXT NOT NULL,
		severity TEXT NOT NULL,
		freshness TEXT NOT NULL,
		transfer_qty TEXT,
		donation_qty TEXT,
		procurement_qty TEXT,
		uncovered_qty TEXT NOT NULL,
		primary_horizon TEXT NOT NULL,
		override_qty TEXT,
		override_reason TEXT NOT NULL DEFAULT '',
		covered_qty TEXT NOT NULL,
		PRIMARY KEY (list_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_items_key
		ON needs_list_items(item_id, warehouse_id);

	-- Reference data owned by external collaborators
	CREATE TABLE IF NOT EXISTS inventory_observations (
		item_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		available_qty TEXT NOT NULL,
		inbound_confirmed_qty TEXT NOT NULL,
		burn_rate_per_hour TEXT,
		observed_at TEXT,
		burn_rate_estimated INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (item_id, warehouse_id)
	);

	CREATE TABLE IF NOT EXISTS item_catalog (
		item_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT 'unit',
		transfer_scope TEXT,
		donation_restriction TEXT,
		unit_cost TEXT
	);

	CREATE TABLE IF NOT EXISTS horizon_availability (
		item_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		transfer_ceiling TEXT NOT NULL,
		donation_ceiling TEXT NOT NULL,
		PRIMARY KEY (item_id, warehouse_id)
	);

	CREATE TABLE IF NOT EXISTS actors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		roles_json TEXT NOT NULL DEFAULT '[]',
		permissions_json TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phase TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		parish TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// NEEDS LIST STORE
// =============================================================================

// Create persists a new list at version 1.
func (s *Store) Create(ctx context.Context, l *needslist.NeedsList) error {
	if l.Version == 0 {
		l.Version = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertList(ctx, tx, l); err != nil {
		return err
	}
	if err := insertItems(ctx, tx, l); err != nil {
		return err
	}
	return tx.Commit()
}

// Update applies the version CAS and rewrites the lines atomically.
func (s *Store) Update(ctx context.Context, l *needslist.NeedsList, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	warehouses, err := json.Marshal(l.WarehouseIDs)
	if err != nil {
		return err
	}
	approval, err := marshalApproval(l.Approval)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE needs_lists SET
			event_id = ?, phase = ?, status = ?, method = ?, warehouse_ids = ?,
			approval_json = ?, updated_by = ?, updated_at = ?,
			submitted_by = ?, submitted_at = ?,
			reviewed_by = ?, reviewed_at = ?,
			approved_by = ?, approved_at = ?,
			escalated_by = ?, escalated_at = ?,
			reject_reason = ?, return_reason_code = ?, return_reason = ?,
			was_returned = ?, partially_fulfilled = ?,
			superseded_by = ?, supersedes = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		string(l.EventID), string(l.Phase), string(l.Status), string(l.Method), string(warehouses),
		approval, string(l.UpdatedBy), l.UpdatedAt.Format(time.RFC3339Nano),
		stampBy(l.Submitted), stampAt(l.Submitted),
		stampBy(l.Reviewed), stampAt(l.Reviewed),
		stampBy(l.Approved), stampAt(l.Approved),
		stampBy(l.Escalated), stampAt(l.Escalated),
		l.RejectReason, string(l.ReturnReasonCode), l.ReturnReason,
		boolInt(l.WasReturned), boolInt(l.PartiallyFulfilled),
		nullableID(l.SupersededBy), nullableID(l.Supersedes),
		string(l.ID), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update needs list: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var actual int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM needs_lists WHERE id = ?`, string(l.ID)).Scan(&actual)
		if err == sql.ErrNoRows {
			return needslist.ErrNotFound
		}
		if err != nil {
			return err
		}
		return &needslist.StaleVersionError{ListID: l.ID, Expected: expectedVersion, Actual: actual}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM needs_list_items WHERE list_id = ?`, string(l.ID)); err != nil {
		return fmt.Errorf("failed to rewrite items: %w", err)
	}
	if err := insertItems(ctx, tx, l); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	l.Version = expectedVersion + 1
	return nil
}

// Get loads one list with its lines.
func (s *Store) Get(ctx context.Context, id needslist.ID) (*needslist.NeedsList, error) {
	row := s.db.QueryRowContext(ctx, listColumns+` WHERE id = ?`, string(id))
	l, err := scanList(row)
	if err == sql.ErrNoRows {
		return nil, needslist.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// List runs a filtered query, newest first.
func (s *Store) List(ctx context.Context, f needslist.Filter) ([]*needslist.NeedsList, error) {
	query := listColumns + ` WHERE 1=1`
	var args []any
	if f.EventID != "" {
		query += ` AND event_id = ?`
		args = append(args, string(f.EventID))
	}
	if f.Phase != "" {
		query += ` AND phase = ?`
		args = append(args, string(f.Phase))
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.CreatedBy != "" {
		query += ` AND created_by = ?`
		args = append(args, string(f.CreatedBy))
	}
	if f.NonTerminalOnly {
		query += ` AND status IN ('DRAFT','MODIFIED','SUBMITTED','UNDER_REVIEW','APPROVED','RETURNED','IN_PROGRESS')`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list needs lists: %w", err)
	}
	defer rows.Close()

	var result []*needslist.NeedsList
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, l := range result {
		if err := s.loadItems(ctx, l); err != nil {
			return nil, err
		}
	}

	// Warehouse filtering needs the unmarshalled JSON column.
	if f.WarehouseID != "" {
		filtered := result[:0]
		for _, l := range result {
			if l.CoversWarehouse(f.WarehouseID) {
				filtered = append(filtered, l)
			}
		}
		result = filtered
	}
	return result, nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

const listColumns = `
	SELECT id, event_id, phase, status, method, warehouse_ids, approval_json,
		created_by, created_at, updated_by, updated_at,
		submitted_by, submitted_at, reviewed_by, reviewed_at,
		approved_by, approved_at, escalated_by, escalated_at,
		reject_reason, return_reason_code, return_reason,
		was_returned, partially_fulfilled, superseded_by, supersedes, version
	FROM needs_lists`

// approvalJSON is the persisted shape of engine.ApprovalSummary.
type approvalJSON struct {
	Tier               int              `json:"tier"`
	ApproverRole       string           `json:"approver_role"`
	MethodsAllowed     []string         `json:"methods_allowed"`
	Warnings           []engine.Warning `json:"warnings"`
	EscalationRequired bool             `json:"escalation_required"`
}

func marshalApproval(a *engine.ApprovalSummary) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	aj := approvalJSON{
		Tier:               int(a.Tier),
		ApproverRole:       string(a.ApproverRole),
		Warnings:           a.Warnings,
		EscalationRequired: a.EscalationRequired,
	}
	for _, m := range a.MethodsAllowed {
		aj.MethodsAllowed = append(aj.MethodsAllowed, string(m))
	}
	b, err := json.Marshal(aj)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalApproval(ns sql.NullString) (*engine.ApprovalSummary, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var aj approvalJSON
	if err := json.Unmarshal([]byte(ns.String), &aj); err != nil {
		return nil, err
	}
	a := &engine.ApprovalSummary{
		Tier:               engine.Tier(aj.Tier),
		ApproverRole:       engine.Role(aj.ApproverRole),
		Warnings:           aj.Warnings,
		EscalationRequired: aj.EscalationRequired,
	}
	for _, m := range aj.MethodsAllowed {
		a.MethodsAllowed = append(a.MethodsAllowed, engine.Horizon(m))
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanList(r rowScanner) (*needslist.NeedsList, error) {
	var (
		l                                          needslist.NeedsList
		id, eventID, phase, status, method         string
		warehousesJSON                             string
		approval                                   sql.NullString
		createdBy, createdAt, updatedBy, updatedAt string
		subBy, subAt, revBy, revAt, appBy, appAt   sql.NullString
		escBy, escAt                               sql.NullString
		returnCode                                 string
		wasReturned, partiallyFulfilled            int
		supersededBy, supersedes                   sql.NullString
	)

	err := r.Scan(&id, &eventID, &phase, &status, &method, &warehousesJSON, &approval,
		&createdBy, &createdAt, &updatedBy, &updatedAt,
		&subBy, &subAt, &revBy, &revAt, &appBy, &appAt, &escBy, &escAt,
		&l.RejectReason, &returnCode, &l.ReturnReason,
		&wasReturned, &partiallyFulfilled, &supersededBy, &supersedes, &l.Version)
	if err != nil {
		return nil, err
	}

	l.ID = needslist.ID(id)
	l.EventID = engine.EventID(eventID)
	l.Phase = engine.Phase(phase)
	l.Status = needslist.Status(status)
	l.Method = engine.Horizon(method)
	l.ReturnReasonCode = needslist.ReturnReason(returnCode)
	l.WasReturned = wasReturned != 0
	l.PartiallyFulfilled = partiallyFulfilled != 0
	l.CreatedBy = engine.ActorID(createdBy)
	l.UpdatedBy = engine.ActorID(updatedBy)

	if err := json.Unmarshal([]byte(warehousesJSON), &l.WarehouseIDs); err != nil {
		return nil, fmt.Errorf("corrupt warehouse_ids for list %s: %w", id, err)
	}
	if l.Approval, err = unmarshalApproval(approval); err != nil {
		return nil, fmt.Errorf("corrupt approval_json for list %s: %w", id, err)
	}
	if l.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if l.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	if l.Submitted, err = parseStamp(subBy, subAt); err != nil {
		return nil, err
	}
	if l.Reviewed, err = parseStamp(revBy, revAt); err != nil {
		return nil, err
	}
	if l.Approved, err = parseStamp(appBy, appAt); err != nil {
		return nil, err
	}
	if l.Escalated, err = parseStamp(escBy, escAt); err != nil {
		return nil, err
	}
	if supersededBy.Valid {
		v := needslist.ID(supersededBy.String)
		l.SupersededBy = &v
	}
	if supersedes.Valid {
		v := needslist.ID(supersedes.String)
		l.Supersedes = &v
	}
	return &l, nil
}

func insertList(ctx context.Context, tx *sql.Tx, l *needslist.NeedsList) error {
	warehouses, err := json.Marshal(l.WarehouseIDs)
	if err != nil {
		return err
	}
	approval, err := marshalApproval(l.Approval)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO needs_lists (
			id, event_id, phase, status, method, warehouse_ids, approval_json,
			created_by, created_at, updated_by, updated_at,
			submitted_by, submitted_at, reviewed_by, reviewed_at,
			approved_by, approved_at, escalated_by, escalated_at,
			reject_reason, return_reason_code, return_reason,
			was_returned, partially_fulfilled, superseded_by, supersedes, version
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(l.ID), string(l.EventID), string(l.Phase), string(l.Status), string(l.Method),
		string(warehouses), approval,
		string(l.CreatedBy), l.CreatedAt.Format(time.RFC3339Nano),
		string(l.UpdatedBy), l.UpdatedAt.Format(time.RFC3339Nano),
		stampBy(l.Submitted), stampAt(l.Submitted),
		stampBy(l.Reviewed), stampAt(l.Reviewed),
		stampBy(l.Approved), stampAt(l.Approved),
		stampBy(l.Escalated), stampAt(l.Escalated),
		l.RejectReason, string(l.ReturnReasonCode), l.ReturnReason,
		boolInt(l.WasReturned), boolInt(l.PartiallyFulfilled),
		nullableID(l.SupersededBy), nullableID(l.Supersedes), l.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert needs list: %w", err)
	}
	return nil
}

func insertItems(ctx context.Context, tx *sql.Tx, l *needslist.NeedsList) error {
	for i, it := range l.Items {
		var overrideQty sql.NullString
		overrideReason := ""
		if it.Override != nil {
			overrideQty = sql.NullString{String: it.Override.Qty.String(), Valid: true}
			overrideReason = it.Override.Reason
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO needs_list_items (
				list_id, position, item_id, warehouse_id,
				required_qty, gap_qty, severity, freshness,
				transfer_qty, donation_qty, procurement_qty,
				uncovered_qty, primary_horizon,
				override_qty, override_reason, covered_qty
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			string(l.ID), i, string(it.ItemID), string(it.WarehouseID),
			it.RequiredQty.String(), it.GapQty.String(), string(it.Severity), string(it.Freshness),
			nullDecimalString(it.Allocation.Transfer),
			nullDecimalString(it.Allocation.Donation),
			nullDecimalString(it.Allocation.Procurement),
			it.Allocation.UncoveredQty.String(), string(it.Allocation.Primary),
			overrideQty, overrideReason, it.CoveredQty.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert item %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) loadItems(ctx context.Context, l *needslist.NeedsList) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, warehouse_id, required_qty, gap_qty, severity, freshness,
			transfer_qty, donation_qty, procurement_qty, uncovered_qty,
			primary_horizon, override_qty, override_reason, covered_qty
		FROM needs_list_items WHERE list_id = ? ORDER BY position`, string(l.ID))
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it                              needslist.Item
			itemID, warehouseID             string
			required, gap, uncov, covered   string
			severity, freshness, primary    string
			transfer, donation, procurement sql.NullString
			overrideQty                     sql.NullString
			overrideReason                  string
		)
		if err := rows.Scan(&itemID, &warehouseID, &required, &gap, &severity, &freshness,
			&transfer, &donation, &procurement, &uncov, &primary,
			&overrideQty, &overrideReason, &covered); err != nil {
			return err
		}

		it.ItemID = engine.ItemID(itemID)
		it.WarehouseID = engine.WarehouseID(warehouseID)
		it.Severity = engine.Severity(severity)
		it.Freshness = engine.Freshness(freshness)
		it.Allocation.Primary = engine.Horizon(primary)

		if it.RequiredQty, err = decimal.NewFromString(required); err != nil {
			return err
		}
		if it.GapQty, err = decimal.NewFromString(gap); err != nil {
			return err
		}
		if it.Allocation.UncoveredQty, err = decimal.NewFromString(uncov); err != nil {
			return err
		}
		if it.CoveredQty, err = decimal.NewFromString(covered); err != nil {
			return err
		}
		if it.Allocation.Transfer, err = parseNullDecimal(transfer); err != nil {
			return err
		}
		if it.Allocation.Donation, err = parseNullDecimal(donation); err != nil {
			return err
		}
		if it.Allocation.Procurement, err = parseNullDecimal(procurement); err != nil {
			return err
		}
		if overrideQty.Valid {
			qty, err := decimal.NewFromString(overrideQty.String)
			if err != nil {
				return err
			}
			it.Override = &needslist.Override{Qty: qty, Reason: overrideReason}
		}
		l.Items = append(l.Items, it)
	}
	return rows.Err()
}

// =============================================================================
// COLUMN HELPERS
// =============================================================================

func stampBy(s *needslist.AuditStamp) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(s.By), Valid: true}
}

func stampAt(s *needslist.AuditStamp) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: s.At.Format(time.RFC3339Nano), Valid: true}
}

func parseStamp(by, at sql.NullString) (*needslist.AuditStamp, error) {
	if !by.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, at.String)
	if err != nil {
		return nil, err
	}
	return &needslist.AuditStamp{By: engine.ActorID(by.String), At: t}, nil
}

func nullableID(id *needslist.ID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullDecimalString(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) (decimal.NullDecimal, error) {
	if !ns.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
