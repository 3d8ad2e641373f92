package repo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/capquote/internal/dbtest"
	"github.com/noah-isme/capquote/internal/pricing"
	"github.com/noah-isme/capquote/internal/repo"
)

const orderID = "3f1c2a8e-6d6b-4c1e-9a53-2b1b7f0c9d11"

func TestLoadOrderDecodesColumns(t *testing.T) {
	db := &dbtest.DB{}
	db.OnQueryRow("FROM orders o", func(args []any) pgx.Row {
		if args[0] != orderID {
			return dbtest.NoRow()
		}
		shipment := "9a6f3d1e-1111-4c1e-9a53-2b1b7f0c9d11"
		return dbtest.NewRow(
			[]byte(`{"Black":{"OSFA":500}}`),
			[]byte(`{"delivery-type":"regular"}`),
			[]byte(`{"logo-setup":["Rubber Patch"]}`),
			[]byte(`{"Rubber Patch":{"position":"Front","size":"Large"}}`),
			"Tier 2",
			[]byte(`{}`),
			shipment,
			3200,
		)
	})
	orders := repo.Orders{DB: db}

	order, err := orders.LoadOrder(context.Background(), "3F1C2A8E-6D6B-4C1E-9A53-2B1B7F0C9D11")
	require.NoError(t, err)
	require.Equal(t, orderID, order.OrderID)
	require.Equal(t, 500, order.TotalUnits())
	require.Equal(t, "regular", order.Option(pricing.OptionDelivery))
	require.Equal(t, []string{"Rubber Patch"}, order.MultiOption(pricing.OptionLogoSetup))
	require.Equal(t, "Large", order.LogoSetupSelections["Rubber Patch"].Size)
	require.Equal(t, "Tier 2", order.PriceTier)
	require.NotNil(t, order.ShipmentData)
	require.Equal(t, 3200, order.ShipmentData.CombinedQuantity)

	_, err = orders.LoadOrder(context.Background(), "8b0f7c55-0000-4c1e-9a53-2b1b7f0c9d11")
	require.ErrorIs(t, err, repo.ErrOrderNotFound)

	_, err = orders.LoadOrder(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, repo.ErrInvalidOrderID)
}

func TestLoadOrderWithoutShipment(t *testing.T) {
	db := &dbtest.DB{}
	db.OnQueryRow("FROM orders o", func([]any) pgx.Row {
		return dbtest.NewRow([]byte(`{"Navy":{"S":10}}`), nil, nil, nil, "Tier 1", nil, nil, nil)
	})
	order, err := repo.Orders{DB: db}.LoadOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Nil(t, order.ShipmentData)
	require.Nil(t, order.SelectedOptions)
	require.Equal(t, 10, order.TotalUnits())
}

func TestLoadOrderRejectsCorruptJSON(t *testing.T) {
	db := &dbtest.DB{}
	db.OnQueryRow("FROM orders o", func([]any) pgx.Row {
		return dbtest.NewRow([]byte(`{"Navy":`), nil, nil, nil, "Tier 1", nil, nil, nil)
	})
	_, err := repo.Orders{DB: db}.LoadOrder(context.Background(), orderID)
	require.ErrorContains(t, err, "selected_colors")
}

func TestListOrderIDsKeyset(t *testing.T) {
	db := &dbtest.DB{}
	db.OnQuery("WHERE id > $1", func(args []any) (pgx.Rows, error) {
		require.Equal(t, orderID, args[0])
		require.Equal(t, 2, args[1])
		return dbtest.NewRows([]any{"4a000000-0000-4000-8000-000000000000"}), nil
	})
	db.OnQuery("FROM orders ORDER BY id", func(args []any) (pgx.Rows, error) {
		require.Equal(t, 2, args[0])
		return dbtest.NewRows([]any{"1a000000-0000-4000-8000-000000000000"}, []any{orderID}), nil
	})
	orders := repo.Orders{DB: db}

	first, err := orders.ListOrderIDs(context.Background(), "", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"1a000000-0000-4000-8000-000000000000", orderID}, first)

	next, err := orders.ListOrderIDs(context.Background(), first[len(first)-1], 2)
	require.NoError(t, err)
	require.Len(t, next, 1)

	_, err = orders.ListOrderIDs(context.Background(), "garbage", 2)
	require.ErrorIs(t, err, repo.ErrInvalidOrderID)
}

func TestUpdateConfigurationClearsSnapshot(t *testing.T) {
	db := &dbtest.DB{}
	db.OnExec("UPDATE orders SET", func(args []any) (pgconn.CommandTag, error) {
		if args[0] != orderID {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	})
	orders := repo.Orders{DB: db}

	cfg := pricing.OrderConfiguration{
		SelectedColors: map[string]map[string]int{"Black": {"OSFA": 48}},
		PriceTier:      " Tier 1 ",
	}
	require.NoError(t, orders.UpdateConfiguration(context.Background(), orderID, cfg))

	calls := db.Calls()
	require.Len(t, calls, 1)
	require.Contains(t, calls[0].SQL, "cost_content_hash = NULL")
	require.Equal(t, []byte(`{"Black":{"OSFA":48}}`), calls[0].Args[1])
	require.Equal(t, []byte(`{}`), calls[0].Args[2])
	require.Equal(t, "Tier 1", calls[0].Args[5])

	err := orders.UpdateConfiguration(context.Background(), "8b0f7c55-0000-4c1e-9a53-2b1b7f0c9d11", cfg)
	require.ErrorIs(t, err, repo.ErrOrderNotFound)

	db2 := &dbtest.DB{}
	db2.OnExec("UPDATE orders SET", func([]any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("deadlock")
	})
	require.ErrorContains(t, repo.Orders{DB: db2}.UpdateConfiguration(context.Background(), orderID, cfg), "deadlock")
}
