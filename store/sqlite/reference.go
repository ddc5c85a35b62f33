package sqlite

// Reference-data providers. These tables are projections of systems the
// engine does not own (inventory tracking, procurement catalog, identity);
// here they are local tables fed by the seed helpers and demo scenarios.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reliefops/replenish-engine/engine"
)

// Observation returns the latest inventory snapshot for an item at a
// warehouse. An item never observed comes back as a zero observation with
// no timestamp, which downstream classification treats as UNKNOWN.
func (s *Store) Observation(ctx context.Context, item engine.ItemID, warehouse engine.WarehouseID) (engine.InventoryObservation, error) {
	obs := engine.InventoryObservation{
		ItemID:              item,
		WarehouseID:         warehouse,
		AvailableQty:        decimal.Zero,
		InboundConfirmedQty: decimal.Zero,
	}

	var (
		available, inbound string
		burn, observedAt   sql.NullString
		estimated          int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT available_qty, inbound_confirmed_qty, burn_rate_per_hour, observed_at, burn_rate_estimated
		FROM inventory_observations WHERE item_id = ? AND warehouse_id = ?`,
		string(item), string(warehouse)).
		Scan(&available, &inbound, &burn, &observedAt, &estimated)
	if err == sql.ErrNoRows {
		return obs, nil
	}
	if err != nil {
		return obs, fmt.Errorf("failed to load observation: %w", err)
	}

	if obs.AvailableQty, err = decimal.NewFromString(available); err != nil {
		return obs, err
	}
	if obs.InboundConfirmedQty, err = decimal.NewFromString(inbound); err != nil {
		return obs, err
	}
	if burn.Valid {
		b, err := decimal.NewFromString(burn.String)
		if err != nil {
			return obs, err
		}
		obs.BurnRatePerHour = &b
	}
	if observedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, observedAt.String)
		if err != nil {
			return obs, err
		}
		obs.ObservedAt = &t
	}
	obs.BurnRateEstimated = estimated != 0
	return obs, nil
}

// StockedItems lists every item with an observation row at the warehouse.
func (s *Store) StockedItems(ctx context.Context, warehouse engine.WarehouseID) ([]engine.ItemID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id FROM inventory_observations WHERE warehouse_id = ? ORDER BY item_id`,
		string(warehouse))
	if err != nil {
		return nil, fmt.Errorf("failed to list stocked items: %w", err)
	}
	defer rows.Close()

	var items []engine.ItemID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, engine.ItemID(id))
	}
	return items, rows.Err()
}

// EstimatedCost returns nil when the catalog carries no unit cost, which
// callers must treat as "procurement cost unavailable". TotalCost starts
// as a single-unit quote; callers scale it by the quantity they plan.
func (s *Store) EstimatedCost(ctx context.Context, item engine.ItemID) (*engine.CostEstimate, error) {
	var unitCost sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT unit_cost FROM item_catalog WHERE item_id = ?`,
		string(item)).Scan(&unitCost)
	if err == sql.ErrNoRows || (err == nil && !unitCost.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load unit cost: %w", err)
	}
	unit, err := decimal.NewFromString(unitCost.String)
	if err != nil {
		return nil, err
	}
	return &engine.CostEstimate{UnitCost: unit, TotalCost: unit}, nil
}

// TransferScope returns the raw scope code for an item; ok=false only when
// the metadata is missing. Unrecognized codes pass through for the
// allocator to classify.
func (s *Store) TransferScope(ctx context.Context, item engine.ItemID, warehouse engine.WarehouseID) (engine.TransferScope, bool, error) {
	var scope sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT transfer_scope FROM item_catalog WHERE item_id = ?`,
		string(item)).Scan(&scope)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load transfer scope: %w", err)
	}
	if !scope.Valid {
		return "", false, nil
	}
	return engine.TransferScope(scope.String), true, nil
}

// DonationRestriction returns the raw restriction code; callers decide
// whether the code is recognized.
func (s *Store) DonationRestriction(ctx context.Context, item engine.ItemID) (string, bool, error) {
	var restriction sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT donation_restriction FROM item_catalog WHERE item_id = ?`,
		string(item)).Scan(&restriction)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load donation restriction: %w", err)
	}
	if !restriction.Valid {
		return "", false, nil
	}
	return restriction.String, true, nil
}

// TransferCeiling is the quantity transfer partners have committed for
// the item at the warehouse. Missing rows mean zero availability.
func (s *Store) TransferCeiling(ctx context.Context, item engine.ItemID, warehouse engine.WarehouseID) (decimal.Decimal, error) {
	return s.ceiling(ctx, "transfer_ceiling", item, warehouse)
}

// DonationCeiling is the pledged donation quantity for the item.
func (s *Store) DonationCeiling(ctx context.Context, item engine.ItemID, warehouse engine.WarehouseID) (decimal.Decimal, error) {
	return s.ceiling(ctx, "donation_ceiling", item, warehouse)
}

func (s *Store) ceiling(ctx context.Context, column string, item engine.ItemID, warehouse engine.WarehouseID) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+column+` FROM horizon_availability WHERE item_id = ? AND warehouse_id = ?`,
		string(item), string(warehouse)).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load %s: %w", column, err)
	}
	return decimal.NewFromString(raw)
}

// HasPermission checks the actor's permission grants. Unknown actors have
// no permissions.
func (s *Store) HasPermission(ctx context.Context, actor engine.ActorID, perm engine.Permission) (bool, error) {
	perms, err := s.actorStrings(ctx, actor, "permissions_json")
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if engine.Permission(p) == perm {
			return true, nil
		}
	}
	return false, nil
}

// Roles returns the actor's role assignments.
func (s *Store) Roles(ctx context.Context, actor engine.ActorID) ([]engine.Role, error) {
	raw, err := s.actorStrings(ctx, actor, "roles_json")
	if err != nil {
		return nil, err
	}
	roles := make([]engine.Role, 0, len(raw))
	for _, r := range raw {
		roles = append(roles, engine.Role(r))
	}
	return roles, nil
}

func (s *Store) actorStrings(ctx context.Context, actor engine.ActorID, column string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+column+` FROM actors WHERE id = ?`, string(actor)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load actor: %w", err)
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("corrupt %s for actor %s: %w", column, actor, err)
	}
	return out, nil
}

// =============================================================================
// SEED HELPERS
// =============================================================================

// ObservationSeed upserts an inventory snapshot.
type ObservationSeed struct {
	ItemID              engine.ItemID
	WarehouseID         engine.WarehouseID
	AvailableQty        decimal.Decimal
	InboundConfirmedQty decimal.Decimal
	BurnRatePerHour     *decimal.Decimal
	ObservedAt          *time.Time
	BurnRateEstimated   bool
}

// SaveObservation records or replaces the snapshot for an item/warehouse.
func (s *Store) SaveObservation(ctx context.Context, o ObservationSeed) error {
	var burn, observedAt sql.NullString
	if o.BurnRatePerHour != nil {
		burn = sql.NullString{String: o.BurnRatePerHour.String(), Valid: true}
	}
	if o.ObservedAt != nil {
		observedAt = sql.NullString{String: o.ObservedAt.Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_observations
			(item_id, warehouse_id, available_qty, inbound_confirmed_qty, burn_rate_per_hour, observed_at, burn_rate_estimated)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(item_id, warehouse_id) DO UPDATE SET
			available_qty = excluded.available_qty,
			inbound_confirmed_qty = excluded.inbound_confirmed_qty,
			burn_rate_per_hour = excluded.burn_rate_per_hour,
			observed_at = excluded.observed_at,
			burn_rate_estimated = excluded.burn_rate_estimated`,
		string(o.ItemID), string(o.WarehouseID),
		o.AvailableQty.String(), o.InboundConfirmedQty.String(),
		burn, observedAt, boolInt(o.BurnRateEstimated))
	if err != nil {
		return fmt.Errorf("failed to save observation: %w", err)
	}
	return nil
}

// CatalogSeed upserts an item catalog entry. Nil pointers map to NULL
// columns: unknown scope, no restriction data, no cost quote.
type CatalogSeed struct {
	ItemID              engine.ItemID
	Name                string
	Unit                string
	TransferScope       *engine.TransferScope
	DonationRestriction *string
	UnitCost            *decimal.Decimal
}

// SaveCatalogItem records or replaces a catalog entry.
func (s *Store) SaveCatalogItem(ctx context.Context, c CatalogSeed) error {
	var scope, restriction, cost sql.NullString
	if c.TransferScope != nil {
		scope = sql.NullString{String: string(*c.TransferScope), Valid: true}
	}
	if c.DonationRestriction != nil {
		restriction = sql.NullString{String: *c.DonationRestriction, Valid: true}
	}
	if c.UnitCost != nil {
		cost = sql.NullString{String: c.UnitCost.String(), Valid: true}
	}
	unit := c.Unit
	if unit == "" {
		unit = "unit"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_catalog (item_id, name, unit, transfer_scope, donation_restriction, unit_cost)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(item_id) DO UPDATE SET
			name = excluded.name,
			unit = excluded.unit,
			transfer_scope = excluded.transfer_scope,
			donation_restriction = excluded.donation_restriction,
			unit_cost = excluded.unit_cost`,
		string(c.ItemID), c.Name, unit, scope, restriction, cost)
	if err != nil {
		return fmt.Errorf("failed to save catalog item: %w", err)
	}
	return nil
}

// SaveAvailability records or replaces the horizon ceilings for an
// item/warehouse pair.
func (s *Store) SaveAvailability(ctx context.Context, item engine.ItemID, warehouse engine.WarehouseID, transfer, donation decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO horizon_availability (item_id, warehouse_id, transfer_ceiling, donation_ceiling)
		VALUES (?,?,?,?)
		ON CONFLICT(item_id, warehouse_id) DO UPDATE SET
			transfer_ceiling = excluded.transfer_ceiling,
			donation_ceiling = excluded.donation_ceiling`,
		string(item), string(warehouse), transfer.String(), donation.String())
	if err != nil {
		return fmt.Errorf("failed to save availability: %w", err)
	}
	return nil
}

// SaveActor records or replaces an actor with their roles and permissions.
func (s *Store) SaveActor(ctx context.Context, id engine.ActorID, name string, roles []engine.Role, permissions []string) error {
	roleStrings := make([]string, 0, len(roles))
	for _, r := range roles {
		roleStrings = append(roleStrings, string(r))
	}
	rolesJSON, err := json.Marshal(roleStrings)
	if err != nil {
		return err
	}
	if permissions == nil {
		permissions = []string{}
	}
	permsJSON, err := json.Marshal(permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actors (id, name, roles_json, permissions_json)
		VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			roles_json = excluded.roles_json,
			permissions_json = excluded.permissions_json`,
		string(id), name, string(rolesJSON), string(permsJSON))
	if err != nil {
		return fmt.Errorf("failed to save actor: %w", err)
	}
	return nil
}

// Event is a relief event row.
type Event struct {
	ID    engine.EventID
	Name  string
	Phase engine.Phase
}

// SaveEvent records or replaces an event.
func (s *Store) SaveEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, name, phase) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, phase = excluded.phase`,
		string(e.ID), e.Name, string(e.Phase))
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvent loads one event.
func (s *Store) GetEvent(ctx context.Context, id engine.EventID) (*Event, error) {
	var e Event
	var eid, phase string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, phase FROM events WHERE id = ?`,
		string(id)).Scan(&eid, &e.Name, &phase)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}
	e.ID = engine.EventID(eid)
	e.Phase = engine.Phase(phase)
	return &e, nil
}

// ListEvents returns all events.
func (s *Store) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, phase FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var id, phase string
		if err := rows.Scan(&id, &e.Name, &phase); err != nil {
			return nil, err
		}
		e.ID = engine.EventID(id)
		e.Phase = engine.Phase(phase)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Warehouse is a warehouse row.
type Warehouse struct {
	ID     engine.WarehouseID
	Name   string
	Parish string
}

// SaveWarehouse records or replaces a warehouse.
func (s *Store) SaveWarehouse(ctx context.Context, w Warehouse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warehouses (id, name, parish) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, parish = excluded.parish`,
		string(w.ID), w.Name, w.Parish)
	if err != nil {
		return fmt.Errorf("failed to save warehouse: %w", err)
	}
	return nil
}

// ListWarehouses returns all warehouses.
func (s *Store) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, parish FROM warehouses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		var id string
		if err := rows.Scan(&id, &w.Name, &w.Parish); err != nil {
			return nil, err
		}
		w.ID = engine.WarehouseID(id)
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}
