package database

import (
	"context"
	"database/sql"
	"strconv"

	"domaindns/internal/model"
)

const zoneColumns = "id, provider_zone_id, name, enabled, created_at"

func scanZone(row *sql.Row) (*model.Zone, error) {
	z := &model.Zone{}
	err := row.Scan(&z.ID, &z.ProviderZoneID, &z.Name, &z.Enabled, &z.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return z, nil
}

func (db *DB) GetZone(ctx context.Context, id int64) (*model.Zone, error) {
	return scanZone(db.q.QueryRowContext(ctx, "SELECT "+zoneColumns+" FROM zones WHERE id = $1", id))
}

// ResolveZone accepts a numeric zone id, a provider zone id, or a zone name
// and returns the matching zone, or nil when nothing matches.
func (db *DB) ResolveZone(ctx context.Context, selector string) (*model.Zone, error) {
	if selector == "" {
		return nil, nil
	}
	if id, err := strconv.ParseInt(selector, 10, 64); err == nil {
		z, err := db.GetZone(ctx, id)
		if err != nil || z != nil {
			return z, err
		}
	}
	z, err := scanZone(db.q.QueryRowContext(ctx,
		"SELECT "+zoneColumns+" FROM zones WHERE provider_zone_id = $1", selector))
	if err != nil || z != nil {
		return z, err
	}
	return scanZone(db.q.QueryRowContext(ctx,
		"SELECT "+zoneColumns+" FROM zones WHERE name = $1", selector))
}

func (db *DB) ListZones(ctx context.Context, enabledOnly bool) ([]model.Zone, error) {
	query := "SELECT " + zoneColumns + " FROM zones ORDER BY name"
	if enabledOnly {
		query = "SELECT " + zoneColumns + " FROM zones WHERE enabled ORDER BY name"
	}
	rows, err := db.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		var z model.Zone
		if err := rows.Scan(&z.ID, &z.ProviderZoneID, &z.Name, &z.Enabled, &z.CreatedAt); err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

func (db *DB) CreateZone(ctx context.Context, providerZoneID, name string) (int64, error) {
	var id int64
	err := db.q.QueryRowContext(ctx,
		"INSERT INTO zones (provider_zone_id, name, enabled) VALUES ($1, $2, TRUE) RETURNING id",
		providerZoneID, name,
	).Scan(&id)
	return id, err
}

func (db *DB) SetZoneEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := db.q.ExecContext(ctx, "UPDATE zones SET enabled = $1 WHERE id = $2", enabled, id)
	return err
}
