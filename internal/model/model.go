package model

import "time"

// Points transaction types. The ledger stores one of these on every row;
// the vocabulary is fixed and rows are never mutated or deleted.
const (
	TxnRegister           = "REGISTER"
	TxnInviteCode         = "INVITE_CODE"
	TxnInviteReward       = "INVITE_REWARD"
	TxnAdminAdjust        = "ADMIN_ADJUST"
	TxnCardRedeem         = "CARD_REDEEM"
	TxnDomainApply        = "DOMAIN_APPLY"
	TxnDomainRelease      = "DOMAIN_RELEASE"
	TxnVerificationReward = "VERIFICATION_REWARD"
)

type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	PassHash   string    `json:"-"`
	Role       string    `json:"role"`
	Points     int       `json:"points"`
	Active     bool      `json:"active"`
	AuthSource string    `json:"auth_source"` // "local" or "ldap"
	InviterID  *int64    `json:"inviter_id,omitempty"`
	InviteCode string    `json:"invite_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Zone is a DNS domain root available for subdomain issuance. Read-only to
// the provisioning workflow.
type Zone struct {
	ID             int64     `json:"id"`
	ProviderZoneID string    `json:"provider_zone_id"`
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"created_at"`
}

// DNSRecord is a local mirror row reflecting one provider-side record.
// At most one row exists per (zone id, provider record id); several rows may
// share a name (multi-value NS).
type DNSRecord struct {
	ID               int64     `json:"id"`
	ZoneID           int64     `json:"zone_id"`
	ProviderRecordID string    `json:"provider_record_id"`
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	Content          string    `json:"content"`
	TTL              int       `json:"ttl"`
	Proxied          bool      `json:"proxied"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UserDomain is one user's claim on a fully-qualified subdomain.
// DNSRecordID weakly references a mirror row; it is nulled before the mirror
// row is deleted.
type UserDomain struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ZoneID      int64     `json:"zone_id"`
	DNSRecordID *int64    `json:"dns_record_id,omitempty"`
	Prefix      string    `json:"prefix"`
	FullDomain  string    `json:"full_domain"`
	RecordType  string    `json:"record_type"`
	RecordValue string    `json:"record_value"`
	TTL         *int      `json:"ttl,omitempty"`
	Remark      string    `json:"remark,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PointsTransaction is an append-only ledger entry. The user's stored
// balance must equal the sum of Change over all of the user's rows.
type PointsTransaction struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Change       int       `json:"change"`
	BalanceAfter *int      `json:"balance_after,omitempty"`
	Type         string    `json:"type"`
	Remark       string    `json:"remark,omitempty"`
	RelatedID    *int64    `json:"related_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Card is a redeemable points voucher. UsageLimit -1 means unlimited;
// a nil limit is treated as single-use legacy data.
type Card struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	Points     int        `json:"points"`
	Status     string     `json:"status"` // ACTIVE or USED
	UsageLimit *int       `json:"usage_limit,omitempty"`
	UsedCount  int        `json:"used_count"`
	UsedBy     *int64     `json:"used_by,omitempty"`
	ExpiredAt  *time.Time `json:"expired_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type InviteCode struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	OwnerUserID int64      `json:"owner_user_id"`
	Status      string     `json:"status"`
	MaxUses     *int       `json:"max_uses,omitempty"`
	UsedCount   int        `json:"used_count"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Session struct {
	Token     string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type AuditEntry struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Action     string    `json:"action"`
	ZoneID     *int64    `json:"zone_id,omitempty"`
	ZoneName   string    `json:"zone_name,omitempty"`
	RecordName string    `json:"record_name,omitempty"`
	RecordType string    `json:"record_type,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	IPAddress  string    `json:"ip_address"`
	CreatedAt  time.Time `json:"created_at"`
}

// Stats aggregates shown on the admin dashboard.
type Stats struct {
	UserCount     int            `json:"user_count"`
	DomainCount   int            `json:"domain_count"`
	RecordCount   int            `json:"record_count"`
	TotalPoints   int64          `json:"total_points"`
	RecordsByType map[string]int `json:"records_by_type"`
}
