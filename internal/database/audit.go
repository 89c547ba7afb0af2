package database

import (
	"context"
	"database/sql"

	"domaindns/internal/model"
)

func (db *DB) LogAudit(ctx context.Context, entry model.AuditEntry) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT INTO audit_log (username, action, zone_id, record_name, record_type, detail, ip_address)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.Username, entry.Action, entry.ZoneID, entry.RecordName,
		entry.RecordType, entry.Detail, entry.IPAddress,
	)
	return err
}

func (db *DB) ListAuditLog(ctx context.Context, limit, offset int) ([]model.AuditEntry, int, error) {
	var total int
	_ = db.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&total)

	rows, err := db.q.QueryContext(ctx,
		`SELECT a.id, a.username, a.action, a.zone_id, z.name, a.record_name, a.record_type, a.detail, a.ip_address, a.created_at
		 FROM audit_log a
		 LEFT JOIN zones z ON a.zone_id = z.id
		 ORDER BY a.created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var zoneName, recordName, recordType, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &e.ZoneID, &zoneName, &recordName,
			&recordType, &detail, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.ZoneName = zoneName.String
		e.RecordName = recordName.String
		e.RecordType = recordType.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
