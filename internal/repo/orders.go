package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/capquote/internal/pricing"
)

var (
	// ErrOrderNotFound indicates no order exists for the id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidOrderID indicates the id is not a UUID.
	ErrInvalidOrderID = errors.New("invalid order id")
)

// DBTX is the subset of pgxpool.Pool used by the repositories.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Orders reads and writes the price-affecting configuration of orders.
type Orders struct {
	DB DBTX
}

const (
	loadOrderSQL = `SELECT o.selected_colors, o.selected_options, o.multi_select_options,
	o.logo_setup_selections, o.price_tier, o.mold_waivers,
	o.shipment_id::text, s.combined_quantity
FROM orders o
LEFT JOIN shipments s ON s.id = o.shipment_id
WHERE o.id = $1`

	listFirstOrderIDsSQL = `SELECT id::text FROM orders ORDER BY id LIMIT $1`
	listOrderIDsAfterSQL = `SELECT id::text FROM orders WHERE id > $1 ORDER BY id LIMIT $2`

	updateConfigurationSQL = `UPDATE orders SET
	selected_colors = $2, selected_options = $3, multi_select_options = $4,
	logo_setup_selections = $5, price_tier = $6, mold_waivers = $7,
	cost_content_hash = NULL, last_calculated_at = NULL, updated_at = now()
WHERE id = $1`
)

// ParseOrderID validates id and returns its canonical form.
func ParseOrderID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrderID, err)
	}
	return parsed.String(), nil
}

// LoadOrder returns the configuration stored for id, including the combined
// quantity of the shipment it belongs to.
func (r Orders) LoadOrder(ctx context.Context, id string) (pricing.OrderConfiguration, error) {
	orderID, err := ParseOrderID(id)
	if err != nil {
		return pricing.OrderConfiguration{}, err
	}
	var (
		colors, options, multi, logos, waivers []byte
		tier                                   string
		shipmentID                             *string
		combined                               *int
	)
	err = r.DB.QueryRow(ctx, loadOrderSQL, orderID).
		Scan(&colors, &options, &multi, &logos, &tier, &waivers, &shipmentID, &combined)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.OrderConfiguration{}, ErrOrderNotFound
		}
		return pricing.OrderConfiguration{}, fmt.Errorf("load order %s: %w", orderID, err)
	}

	order := pricing.OrderConfiguration{OrderID: orderID, PriceTier: tier}
	columns := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"selected_colors", colors, &order.SelectedColors},
		{"selected_options", options, &order.SelectedOptions},
		{"multi_select_options", multi, &order.MultiSelectOptions},
		{"logo_setup_selections", logos, &order.LogoSetupSelections},
		{"mold_waivers", waivers, &order.MoldWaivers},
	}
	for _, col := range columns {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return pricing.OrderConfiguration{}, fmt.Errorf("decode %s of order %s: %w", col.name, orderID, err)
		}
	}
	if shipmentID != nil && combined != nil {
		order.ShipmentData = &pricing.ShipmentContext{ShipmentID: *shipmentID, CombinedQuantity: *combined}
	}
	return order, nil
}

// ListOrderIDs returns up to limit order ids greater than afterID in id order.
func (r Orders) ListOrderIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	if strings.TrimSpace(afterID) == "" {
		rows, err = r.DB.Query(ctx, listFirstOrderIDsSQL, limit)
	} else {
		after, perr := ParseOrderID(afterID)
		if perr != nil {
			return nil, perr
		}
		rows, err = r.DB.Query(ctx, listOrderIDsAfterSQL, after, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list order ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list order ids: %w", err)
	}
	return ids, nil
}

// UpdateConfiguration replaces the price-affecting fields of an order and
// clears its snapshot columns in the same statement.
func (r Orders) UpdateConfiguration(ctx context.Context, id string, cfg pricing.OrderConfiguration) error {
	orderID, err := ParseOrderID(id)
	if err != nil {
		return err
	}
	params := []any{orderID}
	for _, v := range []any{cfg.SelectedColors, cfg.SelectedOptions, cfg.MultiSelectOptions, cfg.LogoSetupSelections} {
		raw, err := jsonColumn(v)
		if err != nil {
			return err
		}
		params = append(params, raw)
	}
	params = append(params, strings.TrimSpace(cfg.PriceTier))
	waivers, err := jsonColumn(cfg.MoldWaivers)
	if err != nil {
		return err
	}
	params = append(params, waivers)

	tag, err := r.DB.Exec(ctx, updateConfigurationSQL, params...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// jsonColumn encodes v for a jsonb column; nil maps are stored as {}.
func jsonColumn(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return []byte("{}"), nil
	}
	return raw, nil
}
