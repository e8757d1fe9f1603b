package repository

import (
	"context"
	"time"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
	"github.com/segyhp/loan-servicing-engine/pkg/utils"

	"github.com/jmoiron/sqlx"
)

type calendarRepository struct {
	db *sqlx.DB
}

func NewCalendarRepository(db *sqlx.DB) CalendarRepository {
	return &calendarRepository{db: db}
}

func (r *calendarRepository) AddHoliday(ctx context.Context, officeID int64, date time.Time, name string) error {
	q := conn(ctx, r.db)
	query := q.Rebind(`INSERT INTO holidays (office_id, holiday_date, name) VALUES (?, ?, ?)`)
	if _, err := q.ExecContext(ctx, query, officeID, utils.TruncateDay(date), name); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

// Holidays returns the holidays of an office. Office 0 holds the ones that
// apply everywhere.
func (r *calendarRepository) Holidays(ctx context.Context, officeID int64) ([]time.Time, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`
		SELECT holiday_date FROM holidays
		WHERE office_id = ? OR office_id = 0
		ORDER BY holiday_date
	`)

	var dates []time.Time
	if err := sqlx.SelectContext(ctx, q, &dates, query, officeID); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	for i := range dates {
		dates[i] = utils.TruncateDay(dates[i])
	}
	return dates, nil
}
