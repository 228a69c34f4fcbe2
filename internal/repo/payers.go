package repo

import (
	"context"
	"errors"

	"csms/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PayersRepo struct{ db *pgxpool.Pool }

func NewPayersRepo(db *pgxpool.Pool) *PayersRepo { return &PayersRepo{db: db} }

func (r *PayersRepo) Upsert(ctx context.Context, p models.Payer) error {
	_, err := r.db.Exec(ctx, `
		insert into payers (payer_id, notify_url, credential)
		values ($1,$2,$3)
		on conflict (payer_id) do update set
		  notify_url=excluded.notify_url,
		  credential=excluded.credential
	`, p.PayerID, p.NotifyURL, p.Credential)
	return err
}

// Get resolves a payer's notification endpoint and credential. Absent
// payers come back as (nil, nil).
func (r *PayersRepo) Get(ctx context.Context, payerID string) (*models.Payer, error) {
	row := r.db.QueryRow(ctx, `
		select payer_id, notify_url, coalesce(credential,''), created_at
		from payers where payer_id=$1
	`, payerID)

	var p models.Payer
	if err := row.Scan(&p.PayerID, &p.NotifyURL, &p.Credential, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
