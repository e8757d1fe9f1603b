package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type collateralRepository struct {
	db *sqlx.DB
}

func NewCollateralRepository(db *sqlx.DB) CollateralRepository {
	return &collateralRepository{db: db}
}

func (r *collateralRepository) Create(ctx context.Context, c *ClientCollateral) error {
	q := conn(ctx, r.db)
	query := q.Rebind(`
		INSERT INTO client_collateral (client_id, name, quantity, base_price, pct_to_base)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)
	if err := q.QueryRowxContext(ctx, query, c.ClientID, c.Name, c.Quantity, c.BasePrice, c.PctToBase).Scan(&c.ID); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

func (r *collateralRepository) GetByID(ctx context.Context, id int64) (*ClientCollateral, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`SELECT id, client_id, name, quantity, base_price, pct_to_base FROM client_collateral WHERE id = ?`)

	var c ClientCollateral
	if err := sqlx.GetContext(ctx, q, &c, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, customError.WrapValidation("collateral_id", fmt.Sprintf("collateral %d does not exist", id))
		}
		return nil, customError.WrapDatabaseError(err)
	}
	return &c, nil
}

// Reserve takes quantity out of the client's free collateral.
func (r *collateralRepository) Reserve(ctx context.Context, id int64, quantity decimal.Decimal) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if quantity.GreaterThan(c.Quantity) {
		return customError.WrapValidation("quantity",
			fmt.Sprintf("only %s of collateral %d is available", c.Quantity, id))
	}
	return r.setQuantity(ctx, id, c.Quantity.Sub(quantity))
}

// Release returns quantity to the client's free collateral.
func (r *collateralRepository) Release(ctx context.Context, id int64, quantity decimal.Decimal) error {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return r.setQuantity(ctx, id, c.Quantity.Add(quantity))
}

func (r *collateralRepository) setQuantity(ctx context.Context, id int64, quantity decimal.Decimal) error {
	q := conn(ctx, r.db)
	if _, err := q.ExecContext(ctx, q.Rebind(`UPDATE client_collateral SET quantity = ? WHERE id = ?`), quantity, id); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}
