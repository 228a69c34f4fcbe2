package repo

import (
	"context"
	"errors"
	"time"

	"csms/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DevicesRepo struct{ db *pgxpool.Pool }

func NewDevicesRepo(db *pgxpool.Pool) *DevicesRepo { return &DevicesRepo{db: db} }

func (r *DevicesRepo) Upsert(ctx context.Context, d models.Device) error {
	_, err := r.db.Exec(ctx, `
		insert into devices (device_id, name, secret_hash, is_active, vendor, model)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (device_id) do update set
		  name=excluded.name,
		  secret_hash=excluded.secret_hash,
		  is_active=excluded.is_active,
		  vendor=excluded.vendor,
		  model=excluded.model,
		  updated_at=now()
	`, d.DeviceID, d.Name, d.SecretHash, d.IsActive, d.Vendor, d.Model)
	return err
}

func (r *DevicesRepo) Get(ctx context.Context, id string) (*models.Device, error) {
	row := r.db.QueryRow(ctx, `
		select device_id, coalesce(name,''), secret_hash, is_active, coalesce(vendor,''), coalesce(model,''),
		       created_at, updated_at, last_seen_at
		from devices where device_id=$1
	`, id)

	var d models.Device
	if err := row.Scan(&d.DeviceID, &d.Name, &d.SecretHash, &d.IsActive, &d.Vendor, &d.Model, &d.CreatedAt, &d.UpdatedAt, &d.LastSeenAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *DevicesRepo) TouchLastSeen(ctx context.Context, id string, t time.Time) error {
	_, err := r.db.Exec(ctx, `update devices set last_seen_at=$2, updated_at=now() where device_id=$1`, id, t)
	return err
}

// UpsertSocket records one expected socket definition for a device.
func (r *DevicesRepo) UpsertSocket(ctx context.Context, s models.SocketDef) error {
	_, err := r.db.Exec(ctx, `
		insert into device_sockets (device_id, socket_id, connector_rating, speed_rating)
		values ($1,$2,$3,$4)
		on conflict (device_id, socket_id) do update set
		  connector_rating=excluded.connector_rating,
		  speed_rating=excluded.speed_rating
	`, s.DeviceID, s.SocketID, s.ConnectorRating, s.SpeedRating)
	return err
}

// ListSockets returns the directory's expected socket set for a device,
// ordered by socket id.
func (r *DevicesRepo) ListSockets(ctx context.Context, deviceID string) ([]models.SocketDef, error) {
	rows, err := r.db.Query(ctx, `
		select device_id, socket_id, connector_rating::float8, speed_rating::float8
		from device_sockets where device_id=$1
		order by socket_id asc
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SocketDef
	for rows.Next() {
		var s models.SocketDef
		if err := rows.Scan(&s.DeviceID, &s.SocketID, &s.ConnectorRating, &s.SpeedRating); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
