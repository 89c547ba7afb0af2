package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"domaindns/internal/model"
	"domaindns/internal/provider"
)

// memStore is an in-memory DomainStore, LedgerStore, and RecordStore used by
// the service tests. InsertUserDomain enforces the same uniqueness rules the
// real schema does: one claim per (user, domain), and exclusive names per
// zone except for NS and TXT.
type memStore struct {
	users    map[int64]*model.User
	settings map[string]string
	zones    map[int64]*model.Zone
	records  map[string]model.DNSRecord // keyed by provider record id
	domains  map[int64]*model.UserDomain
	txns     []model.PointsTransaction
	cards    map[int64]*model.Card
	invites  map[string]*model.InviteCode

	nextRecordID int64
	nextDomainID int64
	nextCardID   int64
	nextInviteID int64

	// insertDomainErr, when set, fails the next InsertUserDomain and is
	// then cleared. Simulates losing an insert race past the pre-checks.
	insertDomainErr error

	// beforeLedgerTx, when set, runs before a ledger transaction starts.
	// Simulates a concurrent redemption committing between the stale
	// pre-checks and this transaction.
	beforeLedgerTx func()
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]*model.User),
		settings: make(map[string]string),
		zones:    make(map[int64]*model.Zone),
		records:  make(map[string]model.DNSRecord),
		domains:  make(map[int64]*model.UserDomain),
		cards:    make(map[int64]*model.Card),
		invites:  make(map[string]*model.InviteCode),
	}
}

func (m *memStore) addUser(id int64, points int) *model.User {
	u := &model.User{ID: id, Username: fmt.Sprintf("user%d", id), Points: points, Active: true, Role: "user"}
	m.users[id] = u
	return u
}

func (m *memStore) addZone(id int64, name string, enabled bool) *model.Zone {
	z := &model.Zone{ID: id, ProviderZoneID: "pz-" + name, Name: name, Enabled: enabled}
	m.zones[id] = z
	return z
}

func (m *memStore) txnsOfType(userID int64, txnType string) []model.PointsTransaction {
	var out []model.PointsTransaction
	for _, t := range m.txns {
		if t.UserID == userID && t.Type == txnType {
			out = append(out, t)
		}
	}
	return out
}

func (m *memStore) InTx(ctx context.Context, fn func(tx DomainStore) error) error {
	return fn(m)
}

func (m *memStore) ResolveZone(ctx context.Context, selector string) (*model.Zone, error) {
	for _, z := range m.zones {
		if z.Name == selector || fmt.Sprint(z.ID) == selector || z.ProviderZoneID == selector {
			return z, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetZone(ctx context.Context, id int64) (*model.Zone, error) {
	return m.zones[id], nil
}

func (m *memStore) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	return m.users[id], nil
}

func (m *memStore) AllSettings(ctx context.Context) (map[string]string, error) {
	return m.settings, nil
}

func (m *memStore) InsertUserDomain(ctx context.Context, d model.UserDomain) (int64, error) {
	if m.insertDomainErr != nil {
		err := m.insertDomainErr
		m.insertDomainErr = nil
		return 0, err
	}
	for _, existing := range m.domains {
		if existing.UserID == d.UserID && existing.FullDomain == d.FullDomain {
			return 0, ErrDuplicateClaim
		}
		if existing.ZoneID == d.ZoneID && existing.FullDomain == d.FullDomain &&
			d.RecordType != "NS" && d.RecordType != "TXT" {
			return 0, ErrNameTaken
		}
	}
	m.nextDomainID++
	d.ID = m.nextDomainID
	d.CreatedAt = time.Now()
	m.domains[d.ID] = &d
	return d.ID, nil
}

func (m *memStore) FindUserDomainByIDAndUser(ctx context.Context, id, userID int64) (*model.UserDomain, error) {
	d, ok := m.domains[id]
	if !ok || d.UserID != userID {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (m *memStore) CountUserDomainsByUserAndDomain(ctx context.Context, userID int64, fullDomain string) (int, error) {
	n := 0
	for _, d := range m.domains {
		if d.UserID == userID && d.FullDomain == fullDomain {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListUserDomains(ctx context.Context, userID int64, limit, offset int) ([]model.UserDomain, int, error) {
	var all []model.UserDomain
	for _, d := range m.domains {
		if d.UserID == userID {
			all = append(all, *d)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memStore) DeleteUserDomainByIDAndUser(ctx context.Context, id, userID int64) (bool, error) {
	d, ok := m.domains[id]
	if !ok || d.UserID != userID {
		return false, nil
	}
	delete(m.domains, id)
	return true, nil
}

func (m *memStore) SetUserDomainRecordID(ctx context.Context, id int64, recordID *int64) error {
	if d, ok := m.domains[id]; ok {
		d.DNSRecordID = recordID
	}
	return nil
}

func (m *memStore) UpdateUserDomainRecordInfo(ctx context.Context, id int64, recordType, recordValue string, ttl *int, remark string) error {
	if d, ok := m.domains[id]; ok {
		d.RecordType = recordType
		d.RecordValue = recordValue
		d.TTL = ttl
		d.Remark = remark
	}
	return nil
}

func (m *memStore) UpsertRecord(ctx context.Context, r model.DNSRecord) error {
	if existing, ok := m.records[r.ProviderRecordID]; ok {
		r.ID = existing.ID
	} else {
		m.nextRecordID++
		r.ID = m.nextRecordID
	}
	m.records[r.ProviderRecordID] = r
	return nil
}

func (m *memStore) CountRecordsByZoneAndName(ctx context.Context, zoneID int64, name string) (int, error) {
	n := 0
	for _, r := range m.records {
		if r.ZoneID == zoneID && r.Name == name {
			n++
		}
	}
	return n, nil
}

func (m *memStore) FindRecordByZoneAndName(ctx context.Context, zoneID int64, name string) (*model.DNSRecord, error) {
	all, _ := m.FindAllRecordsByZoneAndName(ctx, zoneID, name)
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

func (m *memStore) FindAllRecordsByZoneAndName(ctx context.Context, zoneID int64, name string) ([]model.DNSRecord, error) {
	var out []model.DNSRecord
	for _, r := range m.records {
		if r.ZoneID == zoneID && r.Name == name {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListRecordsByZone(ctx context.Context, zoneID int64) ([]model.DNSRecord, error) {
	var out []model.DNSRecord
	for _, r := range m.records {
		if r.ZoneID == zoneID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DeleteRecordByZoneAndProviderID(ctx context.Context, zoneID int64, providerRecordID string) error {
	if r, ok := m.records[providerRecordID]; ok && r.ZoneID == zoneID {
		delete(m.records, providerRecordID)
		m.detachRecordRefs(r.ID)
	}
	return nil
}

func (m *memStore) DeleteRecordsByZoneAndName(ctx context.Context, zoneID int64, name string) error {
	for id, r := range m.records {
		if r.ZoneID == zoneID && r.Name == name {
			delete(m.records, id)
			m.detachRecordRefs(r.ID)
		}
	}
	return nil
}

// detachRecordRefs mirrors the schema's ON DELETE SET NULL on the weak
// ownership-to-mirror reference.
func (m *memStore) detachRecordRefs(recordID int64) {
	for _, d := range m.domains {
		if d.DNSRecordID != nil && *d.DNSRecordID == recordID {
			d.DNSRecordID = nil
		}
	}
}

func (m *memStore) AdjustPoints(ctx context.Context, userID int64, delta int) (int, error) {
	u, ok := m.users[userID]
	if !ok {
		return 0, fmt.Errorf("user %d not found", userID)
	}
	u.Points += delta
	return u.Points, nil
}

func (m *memStore) InsertPointsTxn(ctx context.Context, txn model.PointsTransaction) error {
	txn.ID = int64(len(m.txns) + 1)
	txn.CreatedAt = time.Now()
	m.txns = append(m.txns, txn)
	return nil
}

func (m *memStore) ListPointsTxns(ctx context.Context, userID int64, limit, offset int) ([]model.PointsTransaction, int, error) {
	var all []model.PointsTransaction
	for i := len(m.txns) - 1; i >= 0; i-- {
		if m.txns[i].UserID == userID {
			all = append(all, m.txns[i])
		}
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memStore) HasPointsTxn(ctx context.Context, userID int64, txnType string, relatedID *int64) (bool, error) {
	for _, t := range m.txns {
		if t.UserID != userID || t.Type != txnType {
			continue
		}
		if relatedID == nil {
			return true, nil
		}
		if t.RelatedID != nil && *t.RelatedID == *relatedID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FindCardByCode(ctx context.Context, code string) (*model.Card, error) {
	for _, c := range m.cards {
		if c.Code == code {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertCard(ctx context.Context, code string, points int, usageLimit *int, expiredAt *time.Time) (int64, error) {
	m.nextCardID++
	m.cards[m.nextCardID] = &model.Card{
		ID: m.nextCardID, Code: code, Points: points, Status: "ACTIVE",
		UsageLimit: usageLimit, ExpiredAt: expiredAt, CreatedAt: time.Now(),
	}
	return m.nextCardID, nil
}

func (m *memStore) ListCards(ctx context.Context, limit, offset int) ([]model.Card, int, error) {
	var all []model.Card
	for _, c := range m.cards {
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memStore) ConsumeCardUse(ctx context.Context, id int64, limit int) (int, bool, error) {
	c, ok := m.cards[id]
	if !ok || c.Status != "ACTIVE" {
		return 0, false, nil
	}
	if limit >= 0 && c.UsedCount >= limit {
		return 0, false, nil
	}
	c.UsedCount++
	return c.UsedCount, true, nil
}

func (m *memStore) MarkCardUsed(ctx context.Context, id, userID int64, at time.Time) error {
	if c, ok := m.cards[id]; ok {
		c.Status = "USED"
		c.UsedBy = &userID
	}
	return nil
}

func (m *memStore) FindInviteByCode(ctx context.Context, code string) (*model.InviteCode, error) {
	if inv, ok := m.invites[code]; ok {
		copied := *inv
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) FindInviteByOwner(ctx context.Context, ownerUserID int64) (*model.InviteCode, error) {
	for _, inv := range m.invites {
		if inv.OwnerUserID == ownerUserID {
			copied := *inv
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertInvite(ctx context.Context, code string, ownerUserID int64, maxUses *int, expiredAt *time.Time) error {
	m.nextInviteID++
	m.invites[code] = &model.InviteCode{
		ID: m.nextInviteID, Code: code, OwnerUserID: ownerUserID, Status: "ACTIVE",
		MaxUses: maxUses, ExpiredAt: expiredAt, CreatedAt: time.Now(),
	}
	return nil
}

func (m *memStore) ResetInviteByOwner(ctx context.Context, ownerUserID int64, code string, maxUses *int, expiredAt *time.Time) error {
	for old, inv := range m.invites {
		if inv.OwnerUserID == ownerUserID {
			delete(m.invites, old)
			inv.Code = code
			inv.MaxUses = maxUses
			inv.ExpiredAt = expiredAt
			inv.UsedCount = 0
			inv.Status = "ACTIVE"
			m.invites[code] = inv
			return nil
		}
	}
	return nil
}

func (m *memStore) IncrementInviteUse(ctx context.Context, code string) error {
	if inv, ok := m.invites[code]; ok {
		inv.UsedCount++
	}
	return nil
}

func (m *memStore) SetUserInviter(ctx context.Context, userID, inviterID int64) error {
	if u, ok := m.users[userID]; ok {
		u.InviterID = &inviterID
	}
	return nil
}

func (m *memStore) SetUserInviteCode(ctx context.Context, userID int64, code string) error {
	if u, ok := m.users[userID]; ok {
		u.InviteCode = code
	}
	return nil
}

// ledgerView adapts memStore to LedgerStore, whose InTx signature differs
// from DomainStore's.
type ledgerView struct {
	*memStore
}

func (v ledgerView) InTx(ctx context.Context, fn func(tx LedgerStore) error) error {
	if v.beforeLedgerTx != nil {
		v.beforeLedgerTx()
	}
	return fn(v)
}

// fakeProvider implements provider.Client in memory. Unknown record ids
// produce the same "Record does not exist" failure the real provider does.
type fakeProvider struct {
	records map[string]provider.Record

	createCalls int
	failCreates map[int]error // 1-based call number -> error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		records:     make(map[string]provider.Record),
		failCreates: make(map[int]error),
	}
}

func (p *fakeProvider) CreateRecord(ctx context.Context, zone string, r provider.Record) (provider.Record, error) {
	p.createCalls++
	if err, ok := p.failCreates[p.createCalls]; ok {
		return provider.Record{}, err
	}
	r.ID = uuid.NewString()
	p.records[r.ID] = r
	return r, nil
}

func (p *fakeProvider) UpdateRecord(ctx context.Context, zone string, r provider.Record) (provider.Record, error) {
	if _, ok := p.records[r.ID]; !ok {
		return provider.Record{}, fmt.Errorf("Record does not exist. (81044)")
	}
	p.records[r.ID] = r
	return r, nil
}

func (p *fakeProvider) DeleteRecord(ctx context.Context, zone string, providerRecordID string) error {
	if _, ok := p.records[providerRecordID]; !ok {
		return fmt.Errorf("Record does not exist. (81044)")
	}
	delete(p.records, providerRecordID)
	return nil
}

func (p *fakeProvider) ListRecords(ctx context.Context, zone string) ([]provider.Record, error) {
	var out []provider.Record
	for _, r := range p.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *fakeProvider) recordsNamed(name string) []provider.Record {
	var out []provider.Record
	for _, r := range p.records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}
