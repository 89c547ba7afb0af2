package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"domaindns/internal/model"
	"domaindns/internal/provider"
)

// RecordStore is the mirror-table surface the record service needs.
type RecordStore interface {
	UpsertRecord(ctx context.Context, r model.DNSRecord) error
	ListRecordsByZone(ctx context.Context, zoneID int64) ([]model.DNSRecord, error)
	DeleteRecordByZoneAndProviderID(ctx context.Context, zoneID int64, providerRecordID string) error
}

// RecordService pairs every provider call with the matching mirror-row
// mutation, so the local mirror only ever reflects confirmed provider state.
type RecordService struct {
	store  RecordStore
	client provider.Client
	logger *log.Logger
}

func NewRecordService(store RecordStore, client provider.Client, logger *log.Logger) *RecordService {
	return &RecordService{store: store, client: client, logger: logger}
}

// Create creates one record at the provider and mirrors it locally,
// returning the mirrored record with its provider-assigned id. The mirror
// upsert is best-effort: the provider record exists either way, and the next
// resync reconciles.
func (s *RecordService) Create(ctx context.Context, zone *model.Zone, recordType, name, content string, ttl int) (*model.DNSRecord, error) {
	created, err := s.client.CreateRecord(ctx, zone.Name, provider.Record{
		Type:    recordType,
		Name:    name,
		Content: content,
		TTL:     ttl,
	})
	if err != nil {
		return nil, &ProviderError{Op: "create", Msg: err.Error()}
	}
	row := mirrorRow(zone.ID, created)
	if err := s.store.UpsertRecord(ctx, row); err != nil {
		s.logger.Printf("mirror upsert for %s failed: %v", created.Name, err)
	}
	return &row, nil
}

// Update updates an existing provider record in place. When the provider
// reports the record gone, the zone is resynced and the update retried once.
func (s *RecordService) Update(ctx context.Context, zone *model.Zone, providerRecordID, recordType, name, content string, ttl int) error {
	rec := provider.Record{
		ID:      providerRecordID,
		Type:    recordType,
		Name:    name,
		Content: content,
		TTL:     ttl,
	}
	updated, err := s.client.UpdateRecord(ctx, zone.Name, rec)
	if isSyncConflict(err) {
		s.logger.Printf("record %s missing at provider, resyncing zone %s", providerRecordID, zone.Name)
		if syncErr := s.ResyncZone(ctx, zone); syncErr != nil {
			return syncErr
		}
		updated, err = s.client.UpdateRecord(ctx, zone.Name, rec)
	}
	if err != nil {
		return &ProviderError{Op: "update", Msg: err.Error()}
	}
	if err := s.store.UpsertRecord(ctx, mirrorRow(zone.ID, updated)); err != nil {
		s.logger.Printf("mirror upsert for %s failed: %v", updated.Name, err)
	}
	return nil
}

// Delete removes the record at the provider, with the same
// resync-then-retry-once handling as Update. Deleting the local mirror row
// is the caller's job: the release flow detaches ownership references first.
func (s *RecordService) Delete(ctx context.Context, zone *model.Zone, providerRecordID string) error {
	err := s.client.DeleteRecord(ctx, zone.Name, providerRecordID)
	if isSyncConflict(err) {
		s.logger.Printf("record %s missing at provider, resyncing zone %s", providerRecordID, zone.Name)
		if syncErr := s.ResyncZone(ctx, zone); syncErr != nil {
			return syncErr
		}
		err = s.client.DeleteRecord(ctx, zone.Name, providerRecordID)
	}
	if err != nil {
		return &ProviderError{Op: "delete", Msg: err.Error()}
	}
	return nil
}

// ResyncZone reconciles the local mirror against the provider's
// authoritative record list: upserts everything present remotely and deletes
// mirror rows whose provider record id no longer exists.
func (s *RecordService) ResyncZone(ctx context.Context, zone *model.Zone) error {
	remote, err := s.client.ListRecords(ctx, zone.Name)
	if err != nil {
		return &ProviderError{Op: "list", Msg: err.Error()}
	}

	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		seen[r.ID] = true
		if err := s.store.UpsertRecord(ctx, mirrorRow(zone.ID, r)); err != nil {
			return fmt.Errorf("upsert mirror row %s: %w", r.ID, err)
		}
	}

	local, err := s.store.ListRecordsByZone(ctx, zone.ID)
	if err != nil {
		return err
	}
	for _, r := range local {
		if !seen[r.ProviderRecordID] {
			s.logger.Printf("removing stale mirror row %s (%s)", r.ProviderRecordID, r.Name)
			if err := s.store.DeleteRecordByZoneAndProviderID(ctx, zone.ID, r.ProviderRecordID); err != nil {
				return err
			}
		}
	}
	return nil
}

func mirrorRow(zoneID int64, r provider.Record) model.DNSRecord {
	return model.DNSRecord{
		ZoneID:           zoneID,
		ProviderRecordID: r.ID,
		Name:             r.Name,
		Type:             r.Type,
		Content:          r.Content,
		TTL:              r.TTL,
		Proxied:          r.Proxied,
	}
}

func isSyncConflict(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Record does not exist")
}
