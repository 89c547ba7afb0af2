package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"

	"domaindns/internal/model"
)

// DomainStore is the storage surface the provisioning workflow needs.
// InTx runs fn against a transaction-bound view; the workflow puts every
// local atomic unit (ownership mutation, mirror cleanup, ledger adjust plus
// transaction insert) through it. InsertUserDomain reports uniqueness
// conflicts as ErrDuplicateClaim or ErrNameTaken.
type DomainStore interface {
	InTx(ctx context.Context, fn func(tx DomainStore) error) error

	ResolveZone(ctx context.Context, selector string) (*model.Zone, error)
	GetZone(ctx context.Context, id int64) (*model.Zone, error)
	FindUserByID(ctx context.Context, id int64) (*model.User, error)
	AllSettings(ctx context.Context) (map[string]string, error)

	InsertUserDomain(ctx context.Context, d model.UserDomain) (int64, error)
	FindUserDomainByIDAndUser(ctx context.Context, id, userID int64) (*model.UserDomain, error)
	CountUserDomainsByUserAndDomain(ctx context.Context, userID int64, fullDomain string) (int, error)
	ListUserDomains(ctx context.Context, userID int64, limit, offset int) ([]model.UserDomain, int, error)
	DeleteUserDomainByIDAndUser(ctx context.Context, id, userID int64) (bool, error)
	SetUserDomainRecordID(ctx context.Context, id int64, recordID *int64) error
	UpdateUserDomainRecordInfo(ctx context.Context, id int64, recordType, recordValue string, ttl *int, remark string) error

	CountRecordsByZoneAndName(ctx context.Context, zoneID int64, name string) (int, error)
	FindRecordByZoneAndName(ctx context.Context, zoneID int64, name string) (*model.DNSRecord, error)
	FindAllRecordsByZoneAndName(ctx context.Context, zoneID int64, name string) ([]model.DNSRecord, error)
	DeleteRecordByZoneAndProviderID(ctx context.Context, zoneID int64, providerRecordID string) error
	DeleteRecordsByZoneAndName(ctx context.Context, zoneID int64, name string) error

	AdjustPoints(ctx context.Context, userID int64, delta int) (int, error)
	InsertPointsTxn(ctx context.Context, txn model.PointsTransaction) error
}

// Records is the provider-facing surface the workflow drives. Implemented
// by RecordService.
type Records interface {
	Create(ctx context.Context, zone *model.Zone, recordType, name, content string, ttl int) (*model.DNSRecord, error)
	Update(ctx context.Context, zone *model.Zone, providerRecordID, recordType, name, content string, ttl int) error
	Delete(ctx context.Context, zone *model.Zone, providerRecordID string) error
}

// DomainService is the subdomain provisioning workflow: claims, record
// updates, and releases, with the points-ledger debit/credit bound into the
// same local transaction as the ownership change. Provider calls always
// happen before the local commit, never after, so points are only charged
// for records the provider confirmed.
type DomainService struct {
	store   DomainStore
	records Records
	logger  *log.Logger
}

func NewDomainService(store DomainStore, records Records, logger *log.Logger) *DomainService {
	return &DomainService{store: store, records: records, logger: logger}
}

// Claim provisions prefix.<zone> for the user: validates, creates the
// provider record(s), then atomically inserts the ownership row and debits
// the ledger. A multi-value NS claim creates one provider record per
// whitespace-separated token; only the first is required to succeed.
func (s *DomainService) Claim(ctx context.Context, userID int64, zoneSelector, prefix, recordType, value string, ttl *int, remark string) (int64, error) {
	zone, err := s.store.ResolveZone(ctx, zoneSelector)
	if err != nil {
		return 0, err
	}
	if zone == nil || !zone.Enabled {
		return 0, ErrZoneUnavailable
	}

	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return 0, err
	}
	cost := claimCost(settings, zone.Name)

	user, err := s.store.FindUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if user.Points < cost {
		return 0, ErrInsufficientBalance
	}

	recordType = strings.ToUpper(recordType)
	if recordType == "NS" {
		value = normalizeNSValue(value)
	}
	if err := validateRecord(recordType, value); err != nil {
		return 0, err
	}

	ttlToUse := defaultTTL(settings)
	if ttl != nil {
		ttlToUse = *ttl
	}
	fullDomain := prefix + "." + zone.Name

	// Pre-checks; the storage constraints remain the arbiter under races.
	if n, err := s.store.CountUserDomainsByUserAndDomain(ctx, userID, fullDomain); err != nil {
		return 0, err
	} else if n > 0 {
		return 0, ErrDuplicateClaim
	}
	// NS and TXT claims may collide by design (verification records), so
	// the cross-user occupancy check only applies to the other types.
	if recordType != "NS" && recordType != "TXT" {
		if n, err := s.store.CountRecordsByZoneAndName(ctx, zone.ID, fullDomain); err != nil {
			return 0, err
		} else if n > 0 {
			return 0, ErrNameTaken
		}
	}

	createdIDs, err := s.createClaimRecords(ctx, zone, recordType, fullDomain, value, ttlToUse)
	if err != nil {
		return 0, err
	}

	// Best-effort: the mirror may not have caught up yet.
	var dnsRecordID *int64
	if r, err := s.store.FindRecordByZoneAndName(ctx, zone.ID, fullDomain); err == nil && r != nil {
		dnsRecordID = &r.ID
	}

	var ownershipID int64
	err = s.store.InTx(ctx, func(tx DomainStore) error {
		id, err := tx.InsertUserDomain(ctx, model.UserDomain{
			UserID:      userID,
			ZoneID:      zone.ID,
			DNSRecordID: dnsRecordID,
			Prefix:      prefix,
			FullDomain:  fullDomain,
			RecordType:  recordType,
			RecordValue: value,
			TTL:         ttl,
			Remark:      remark,
		})
		if err != nil {
			return err
		}
		ownershipID = id

		balance, err := tx.AdjustPoints(ctx, userID, -cost)
		if err != nil {
			return err
		}
		return tx.InsertPointsTxn(ctx, model.PointsTransaction{
			UserID:       userID,
			Change:       -cost,
			BalanceAfter: &balance,
			Type:         model.TxnDomainApply,
			Remark:       fmt.Sprintf("claimed %s for %d points", fullDomain, cost),
		})
	})
	if err != nil {
		// A concurrent claim won the insert race: the provider records this
		// claim created are orphans, so delete them before failing.
		if errors.Is(err, ErrDuplicateClaim) || errors.Is(err, ErrNameTaken) {
			s.compensateClaim(ctx, zone, createdIDs)
		}
		return 0, err
	}
	return ownershipID, nil
}

// createClaimRecords performs the provider-side create(s) for a claim and
// returns the provider record ids it created. A failure on the first (or
// only) record aborts; failures on secondary NS tokens are logged.
func (s *DomainService) createClaimRecords(ctx context.Context, zone *model.Zone, recordType, fullDomain, value string, ttl int) ([]string, error) {
	if recordType == "NS" {
		tokens := strings.Fields(value)
		if len(tokens) > 1 {
			first, err := s.records.Create(ctx, zone, recordType, fullDomain, tokens[0], ttl)
			if err != nil {
				return nil, err
			}
			ids := []string{first.ProviderRecordID}
			for _, tok := range tokens[1:] {
				rec, err := s.records.Create(ctx, zone, recordType, fullDomain, tok, ttl)
				if err != nil {
					s.logger.Printf("secondary NS record create for %s failed: %v", fullDomain, err)
					continue
				}
				ids = append(ids, rec.ProviderRecordID)
			}
			return ids, nil
		}
		value = strings.TrimSpace(value)
	}
	rec, err := s.records.Create(ctx, zone, recordType, fullDomain, value, ttl)
	if err != nil {
		return nil, err
	}
	return []string{rec.ProviderRecordID}, nil
}

func (s *DomainService) compensateClaim(ctx context.Context, zone *model.Zone, providerRecordIDs []string) {
	for _, id := range providerRecordIDs {
		if err := s.records.Delete(ctx, zone, id); err != nil {
			s.logger.Printf("compensating delete of provider record %s failed: %v", id, err)
		}
		if err := s.store.DeleteRecordByZoneAndProviderID(ctx, zone.ID, id); err != nil {
			s.logger.Printf("compensating mirror delete of %s failed: %v", id, err)
		}
	}
}

// UpdateRecord changes the record behind an existing claim. NS updates and
// names backed by several mirror rows are replaced wholesale; a single
// non-NS record is updated in place at the provider.
func (s *DomainService) UpdateRecord(ctx context.Context, userID, id int64, recordType, value string, ttl *int, remark string) error {
	ud, err := s.store.FindUserDomainByIDAndUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if ud == nil {
		return ErrNotFound
	}

	recordType = strings.ToUpper(recordType)
	if recordType == "NS" {
		value = normalizeNSValue(value)
	}
	if err := validateRecord(recordType, value); err != nil {
		return err
	}

	zone, err := s.store.GetZone(ctx, ud.ZoneID)
	if err != nil {
		return err
	}
	if zone == nil {
		return ErrZoneUnavailable
	}

	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return err
	}
	ttlToUse := defaultTTL(settings)
	if ttl != nil {
		ttlToUse = *ttl
	}

	existing, err := s.store.FindAllRecordsByZoneAndName(ctx, zone.ID, ud.FullDomain)
	if err != nil {
		return err
	}

	if recordType == "NS" || len(existing) > 1 {
		if err := s.replaceAllRecords(ctx, zone, ud, recordType, value, ttlToUse, existing); err != nil {
			return err
		}
	} else if len(existing) == 1 {
		if err := s.records.Update(ctx, zone, existing[0].ProviderRecordID, recordType, ud.FullDomain, value, ttlToUse); err != nil {
			return err
		}
	} else {
		// No mirror row at all; fall back to creating one.
		rec, err := s.records.Create(ctx, zone, recordType, ud.FullDomain, value, ttlToUse)
		if err != nil {
			return err
		}
		if r, err := s.store.FindRecordByZoneAndName(ctx, zone.ID, ud.FullDomain); err == nil && r != nil {
			_ = s.store.SetUserDomainRecordID(ctx, ud.ID, &r.ID)
		} else {
			s.logger.Printf("mirror row for %s (%s) not found after create", ud.FullDomain, rec.ProviderRecordID)
		}
	}

	return s.store.UpdateUserDomainRecordInfo(ctx, ud.ID, recordType, value, ttl, remark)
}

// replaceAllRecords deletes every provider record behind the claim's name
// and recreates from the new value. Provider deletes are best-effort; local
// mirror cleanup proceeds regardless.
func (s *DomainService) replaceAllRecords(ctx context.Context, zone *model.Zone, ud *model.UserDomain, recordType, value string, ttl int, existing []model.DNSRecord) error {
	// Detach the weak reference before any mirror row goes away.
	if err := s.store.SetUserDomainRecordID(ctx, ud.ID, nil); err != nil {
		return err
	}
	for _, r := range existing {
		if err := s.records.Delete(ctx, zone, r.ProviderRecordID); err != nil {
			s.logger.Printf("provider delete of %s during replace failed: %v", r.ProviderRecordID, err)
		}
		if err := s.store.DeleteRecordByZoneAndProviderID(ctx, zone.ID, r.ProviderRecordID); err != nil {
			return err
		}
	}

	if _, err := s.createClaimRecords(ctx, zone, recordType, ud.FullDomain, value, ttl); err != nil {
		return err
	}

	if r, err := s.store.FindRecordByZoneAndName(ctx, zone.ID, ud.FullDomain); err == nil && r != nil {
		return s.store.SetUserDomainRecordID(ctx, ud.ID, &r.ID)
	}
	return nil
}

// Release gives up a claim: best-effort provider deletes, local mirror and
// ownership cleanup in one transaction, and a half-cost refund at current
// pricing. Releasing an already-released claim returns ErrNotFound and
// refunds nothing.
func (s *DomainService) Release(ctx context.Context, userID, id int64) error {
	ud, err := s.store.FindUserDomainByIDAndUser(ctx, id, userID)
	if err != nil {
		return err
	}
	if ud == nil {
		return ErrNotFound
	}

	zone, err := s.store.GetZone(ctx, ud.ZoneID)
	if err != nil {
		return err
	}

	var mirrors []model.DNSRecord
	if zone != nil {
		mirrors, err = s.store.FindAllRecordsByZoneAndName(ctx, zone.ID, ud.FullDomain)
		if err != nil {
			return err
		}
		// A record orphaned at the provider is preferable to blocking the
		// user's release.
		for _, r := range mirrors {
			if err := s.records.Delete(ctx, zone, r.ProviderRecordID); err != nil {
				s.logger.Printf("provider delete of %s during release failed: %v", r.ProviderRecordID, err)
			}
		}
	}

	settings, err := s.store.AllSettings(ctx)
	if err != nil {
		return err
	}
	// Refund is half the cost at today's pricing, not what was paid.
	zoneName := ""
	if zone != nil {
		zoneName = zone.Name
	}
	cost := claimCost(settings, zoneName)
	refund := cost / 2
	if refund < 1 {
		refund = 1
	}

	return s.store.InTx(ctx, func(tx DomainStore) error {
		if err := tx.SetUserDomainRecordID(ctx, ud.ID, nil); err != nil {
			return err
		}
		if len(mirrors) > 0 {
			for _, r := range mirrors {
				if err := tx.DeleteRecordByZoneAndProviderID(ctx, ud.ZoneID, r.ProviderRecordID); err != nil {
					return err
				}
			}
		} else if err := tx.DeleteRecordsByZoneAndName(ctx, ud.ZoneID, ud.FullDomain); err != nil {
			return err
		}

		deleted, err := tx.DeleteUserDomainByIDAndUser(ctx, ud.ID, userID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrNotFound
		}

		balance, err := tx.AdjustPoints(ctx, userID, refund)
		if err != nil {
			return err
		}
		relatedID := ud.ID
		return tx.InsertPointsTxn(ctx, model.PointsTransaction{
			UserID:       userID,
			Change:       refund,
			BalanceAfter: &balance,
			Type:         model.TxnDomainRelease,
			Remark:       fmt.Sprintf("released %s, refunded %d points", ud.FullDomain, refund),
			RelatedID:    &relatedID,
		})
	})
}

// Get returns one of the user's claims, or ErrNotFound.
func (s *DomainService) Get(ctx context.Context, userID, id int64) (*model.UserDomain, error) {
	ud, err := s.store.FindUserDomainByIDAndUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if ud == nil {
		return nil, fmt.Errorf("domain %d: %w", id, ErrNotFound)
	}
	return ud, nil
}

// ListOwnerships returns one page of the user's claims plus the total count.
func (s *DomainService) ListOwnerships(ctx context.Context, userID int64, page, size int) ([]model.UserDomain, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	return s.store.ListUserDomains(ctx, userID, size, (page-1)*size)
}

const (
	defaultBaseCost   = 10
	defaultRecordTTL  = 120
	settingDomainCost = "domain_cost_points"
	settingDefaultTTL = "default_ttl"
)

func claimCost(settings map[string]string, zoneName string) int {
	base := settingInt(settings, settingDomainCost, defaultBaseCost)
	return int(math.Ceil(float64(base) * tldMultiplier(zoneName)))
}

func defaultTTL(settings map[string]string) int {
	return settingInt(settings, settingDefaultTTL, defaultRecordTTL)
}

func settingInt(settings map[string]string, key string, fallback int) int {
	v, ok := settings[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// tldMultiplier prices premium TLDs above the base cost.
func tldMultiplier(zoneName string) float64 {
	lower := strings.ToLower(zoneName)
	switch {
	case strings.HasSuffix(lower, ".cn"), strings.HasSuffix(lower, ".com"):
		return 2.0
	case strings.HasSuffix(lower, ".top"):
		return 1.5
	default:
		return 1.0
	}
}

// normalizeNSValue strips the trailing root-label dot from each nameserver
// token so FQDN-form input is stored and pushed to the provider dotless.
func normalizeNSValue(value string) string {
	tokens := strings.Fields(value)
	for i, tok := range tokens {
		tokens[i] = strings.TrimSuffix(tok, ".")
	}
	return strings.Join(tokens, " ")
}

var (
	domainNameRe  = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)
	domainLabelRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

func validateRecord(recordType, value string) error {
	switch recordType {
	case "A":
		// Dotted-quad only; ParseIP alone would also admit IPv4-mapped
		// IPv6 literals like ::ffff:1.2.3.4.
		ip := net.ParseIP(value)
		if ip == nil || ip.To4() == nil || strings.Contains(value, ":") || strings.Count(value, ".") != 3 {
			return fmt.Errorf("%w: A record requires an IPv4 address", ErrInvalidRecord)
		}
	case "AAAA":
		if !strings.Contains(value, ":") {
			return fmt.Errorf("%w: AAAA record requires an IPv6 address", ErrInvalidRecord)
		}
	case "NS":
		tokens := strings.Fields(value)
		if len(tokens) == 0 {
			return fmt.Errorf("%w: NS record value must not be empty", ErrInvalidRecord)
		}
		for _, tok := range tokens {
			if !domainNameRe.MatchString(tok) && !domainLabelRe.MatchString(tok) {
				return fmt.Errorf("%w: NS record value %q is not a valid domain", ErrInvalidRecord, tok)
			}
		}
	case "CNAME", "TXT":
		// Unconstrained.
	default:
		return fmt.Errorf("%w: unsupported record type %q", ErrInvalidRecord, recordType)
	}
	return nil
}
