package repo

import (
	"context"
	"errors"
	"time"

	"csms/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChargesRepo struct{ db *pgxpool.Pool }

func NewChargesRepo(db *pgxpool.Pool) *ChargesRepo { return &ChargesRepo{db: db} }

func (r *ChargesRepo) Insert(ctx context.Context, c models.ChargeRecord) (string, error) {
	row := r.db.QueryRow(ctx, `
		insert into charges (device_id, socket_id, payer_id, started_at, ended_at, power, amount, currency, notified_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		returning charge_id
	`, c.DeviceID, c.SocketID, c.PayerID, c.StartedAt, c.EndedAt, c.Power, c.Amount, c.Currency, c.NotifiedAt)

	var id string
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *ChargesRepo) Get(ctx context.Context, chargeID string) (*models.ChargeRecord, error) {
	row := r.db.QueryRow(ctx, `
		select charge_id, device_id, socket_id, payer_id, started_at, ended_at, power::float8, amount::float8, currency, notified_at, created_at
		from charges where charge_id=$1
	`, chargeID)

	var c models.ChargeRecord
	if err := row.Scan(&c.ChargeID, &c.DeviceID, &c.SocketID, &c.PayerID, &c.StartedAt, &c.EndedAt, &c.Power, &c.Amount, &c.Currency, &c.NotifiedAt, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *ChargesRepo) ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.ChargeRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		select charge_id, device_id, socket_id, payer_id, started_at, ended_at, power::float8, amount::float8, currency, notified_at, created_at
		from charges where device_id=$1
		order by ended_at desc
		limit $2
	`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChargeRecord
	for rows.Next() {
		var c models.ChargeRecord
		if err := rows.Scan(&c.ChargeID, &c.DeviceID, &c.SocketID, &c.PayerID, &c.StartedAt, &c.EndedAt, &c.Power, &c.Amount, &c.Currency, &c.NotifiedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkNotified stamps the successful billing delivery time.
func (r *ChargesRepo) MarkNotified(ctx context.Context, chargeID string, t time.Time) error {
	_, err := r.db.Exec(ctx, `update charges set notified_at=$2 where charge_id=$1`, chargeID, t)
	return err
}
