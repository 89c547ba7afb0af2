package database

import (
	"context"
	"database/sql"

	"domaindns/internal/model"
)

const recordColumns = "id, zone_id, provider_record_id, name, type, content, ttl, proxied, updated_at"

func scanRecord(row *sql.Row) (*model.DNSRecord, error) {
	r := &model.DNSRecord{}
	err := row.Scan(&r.ID, &r.ZoneID, &r.ProviderRecordID, &r.Name, &r.Type,
		&r.Content, &r.TTL, &r.Proxied, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpsertRecord writes a mirror row from a confirmed provider-side record.
// (zone_id, provider_record_id) identifies the row; repeated syncs update in
// place.
func (db *DB) UpsertRecord(ctx context.Context, r model.DNSRecord) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO dns_records (zone_id, provider_record_id, name, type, content, ttl, proxied, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (zone_id, provider_record_id) DO UPDATE SET
		   name = $3, type = $4, content = $5, ttl = $6, proxied = $7, updated_at = NOW()`,
		r.ZoneID, r.ProviderRecordID, r.Name, r.Type, r.Content, r.TTL, r.Proxied,
	)
	return err
}

func (db *DB) FindRecordByZoneAndName(ctx context.Context, zoneID int64, name string) (*model.DNSRecord, error) {
	return scanRecord(db.q.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM dns_records WHERE zone_id = $1 AND name = $2 ORDER BY id LIMIT 1",
		zoneID, name))
}

func (db *DB) FindAllRecordsByZoneAndName(ctx context.Context, zoneID int64, name string) ([]model.DNSRecord, error) {
	rows, err := db.q.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM dns_records WHERE zone_id = $1 AND name = $2 ORDER BY id",
		zoneID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (db *DB) CountRecordsByZoneAndName(ctx context.Context, zoneID int64, name string) (int, error) {
	var n int
	err := db.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dns_records WHERE zone_id = $1 AND name = $2", zoneID, name).Scan(&n)
	return n, err
}

func (db *DB) ListRecordsByZone(ctx context.Context, zoneID int64) ([]model.DNSRecord, error) {
	rows, err := db.q.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM dns_records WHERE zone_id = $1 ORDER BY name, id", zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]model.DNSRecord, error) {
	var records []model.DNSRecord
	for rows.Next() {
		var r model.DNSRecord
		if err := rows.Scan(&r.ID, &r.ZoneID, &r.ProviderRecordID, &r.Name, &r.Type,
			&r.Content, &r.TTL, &r.Proxied, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (db *DB) DeleteRecordByZoneAndProviderID(ctx context.Context, zoneID int64, providerRecordID string) error {
	_, err := db.q.ExecContext(ctx,
		"DELETE FROM dns_records WHERE zone_id = $1 AND provider_record_id = $2", zoneID, providerRecordID)
	return err
}

// DeleteRecordsByZoneAndName is the name-based fallback cleanup used when a
// release finds no mirror rows by id.
func (db *DB) DeleteRecordsByZoneAndName(ctx context.Context, zoneID int64, name string) error {
	_, err := db.q.ExecContext(ctx,
		"DELETE FROM dns_records WHERE zone_id = $1 AND name = $2", zoneID, name)
	return err
}
