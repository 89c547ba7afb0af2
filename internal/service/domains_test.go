package service

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/suite"

	"domaindns/internal/model"
)

type DomainSuite struct {
	suite.Suite
	ctx      context.Context
	store    *memStore
	provider *fakeProvider
	svc      *DomainService
}

func (s *DomainSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = newMemStore()
	s.provider = newFakeProvider()
	logger := log.New(io.Discard, "", 0)
	records := NewRecordService(s.store, s.provider, logger)
	s.svc = NewDomainService(s.store, records, logger)

	s.store.addZone(1, "example.org", true)
	s.store.addZone(2, "shop.cn", true)
	s.store.addZone(3, "fancy.top", true)
	s.store.addZone(4, "closed.org", false)
	s.store.addUser(10, 100)
}

func TestDomainSuite(t *testing.T) {
	suite.Run(t, new(DomainSuite))
}

func (s *DomainSuite) TestClaimDebitsExactlyOnce() {
	id, err := s.svc.Claim(s.ctx, 10, "example.org", "blog", "A", "203.0.113.7", nil, "my blog")
	s.Require().NoError(err)
	s.Require().NotZero(id)

	ud, err := s.svc.Get(s.ctx, 10, id)
	s.Require().NoError(err)
	s.Equal("blog.example.org", ud.FullDomain)
	s.Equal("A", ud.RecordType)
	s.Equal("203.0.113.7", ud.RecordValue)
	s.Require().NotNil(ud.DNSRecordID, "claim should reference its mirror row")

	s.Equal(90, s.store.users[10].Points)
	applies := s.store.txnsOfType(10, model.TxnDomainApply)
	s.Require().Len(applies, 1)
	s.Equal(-10, applies[0].Change)
	s.Require().NotNil(applies[0].BalanceAfter)
	s.Equal(90, *applies[0].BalanceAfter)

	s.Len(s.provider.recordsNamed("blog.example.org"), 1)
}

func (s *DomainSuite) TestClaimCostFollowsZonePricing() {
	s.Run("cn zone doubles the base cost", func() {
		_, err := s.svc.Claim(s.ctx, 10, "shop.cn", "a", "A", "203.0.113.7", nil, "")
		s.Require().NoError(err)
		s.Equal(80, s.store.users[10].Points)
	})

	s.Run("top zone costs one and a half", func() {
		_, err := s.svc.Claim(s.ctx, 10, "fancy.top", "b", "A", "203.0.113.8", nil, "")
		s.Require().NoError(err)
		s.Equal(65, s.store.users[10].Points)
	})

	s.Run("cost rounds up from a configured base", func() {
		s.store.settings["domain_cost_points"] = "7"
		_, err := s.svc.Claim(s.ctx, 10, "fancy.top", "c", "A", "203.0.113.9", nil, "")
		s.Require().NoError(err)
		// ceil(7 * 1.5) = 11
		s.Equal(54, s.store.users[10].Points)
	})
}

func (s *DomainSuite) TestClaimInsufficientBalance() {
	s.store.addUser(11, 5)

	_, err := s.svc.Claim(s.ctx, 11, "example.org", "poor", "A", "203.0.113.7", nil, "")
	s.Require().ErrorIs(err, ErrInsufficientBalance)

	s.Equal(5, s.store.users[11].Points)
	s.Empty(s.store.txnsOfType(11, model.TxnDomainApply))
	s.Zero(s.provider.createCalls)
}

func (s *DomainSuite) TestClaimValidatesBeforeSideEffects() {
	s.Run("bad IPv4", func() {
		_, err := s.svc.Claim(s.ctx, 10, "example.org", "bad", "A", "not-an-ip", nil, "")
		s.Require().ErrorIs(err, ErrInvalidRecord)
	})

	s.Run("IPv6 in an A record", func() {
		_, err := s.svc.Claim(s.ctx, 10, "example.org", "bad", "A", "::1", nil, "")
		s.Require().ErrorIs(err, ErrInvalidRecord)
	})

	s.Run("IPv4-mapped IPv6 in an A record", func() {
		_, err := s.svc.Claim(s.ctx, 10, "example.org", "bad", "A", "::ffff:203.0.113.7", nil, "")
		s.Require().ErrorIs(err, ErrInvalidRecord)
	})

	s.Run("unsupported type", func() {
		_, err := s.svc.Claim(s.ctx, 10, "example.org", "bad", "MX", "mail.example.org", nil, "")
		s.Require().ErrorIs(err, ErrInvalidRecord)
	})

	s.Zero(s.provider.createCalls, "validation failures must not reach the provider")
	s.Equal(100, s.store.users[10].Points)
}

func (s *DomainSuite) TestClaimZoneUnavailable() {
	_, err := s.svc.Claim(s.ctx, 10, "closed.org", "x", "A", "203.0.113.7", nil, "")
	s.Require().ErrorIs(err, ErrZoneUnavailable)

	_, err = s.svc.Claim(s.ctx, 10, "nosuchzone.io", "x", "A", "203.0.113.7", nil, "")
	s.Require().ErrorIs(err, ErrZoneUnavailable)
}

func (s *DomainSuite) TestClaimDuplicateAndOccupied() {
	_, err := s.svc.Claim(s.ctx, 10, "example.org", "www", "A", "203.0.113.7", nil, "")
	s.Require().NoError(err)

	s.Run("same user cannot claim the same name twice", func() {
		_, err := s.svc.Claim(s.ctx, 10, "example.org", "www", "A", "203.0.113.8", nil, "")
		s.Require().ErrorIs(err, ErrDuplicateClaim)
	})

	s.Run("other users cannot claim an occupied name", func() {
		s.store.addUser(20, 100)
		_, err := s.svc.Claim(s.ctx, 20, "example.org", "www", "A", "203.0.113.9", nil, "")
		s.Require().ErrorIs(err, ErrNameTaken)
		s.Equal(100, s.store.users[20].Points)
	})

	s.Run("TXT on an occupied name is allowed", func() {
		s.store.addUser(21, 100)
		_, err := s.svc.Claim(s.ctx, 21, "example.org", "www", "TXT", "verification=abc", nil, "")
		s.Require().NoError(err)
	})
}

func (s *DomainSuite) TestClaimProviderFailureLeavesNoTrace() {
	s.provider.failCreates[1] = errors.New("cloudflare: 503")

	_, err := s.svc.Claim(s.ctx, 10, "example.org", "down", "A", "203.0.113.7", nil, "")
	var provErr *ProviderError
	s.Require().ErrorAs(err, &provErr)

	s.Equal(100, s.store.users[10].Points)
	s.Empty(s.store.txnsOfType(10, model.TxnDomainApply))
	s.Empty(s.store.domains)
	s.Empty(s.store.records)
}

func (s *DomainSuite) TestClaimMultiValueNS() {
	s.Run("each token becomes a provider record, one debit", func() {
		_, err := s.svc.Claim(s.ctx, 10, "example.org", "sub", "NS", "ns1.dns.example ns2.dns.example", nil, "")
		s.Require().NoError(err)
		s.Len(s.provider.recordsNamed("sub.example.org"), 2)
		s.Len(s.store.txnsOfType(10, model.TxnDomainApply), 1)
		s.Equal(90, s.store.users[10].Points)
	})

	s.Run("a failing secondary token does not fail the claim", func() {
		// Next claim: call 3 creates the first token, call 4 the second.
		s.provider.failCreates[4] = errors.New("cloudflare: 503")
		id, err := s.svc.Claim(s.ctx, 10, "example.org", "sub2", "NS", "ns1.dns.example ns2.dns.example", nil, "")
		s.Require().NoError(err)
		s.NotZero(id)
		s.Len(s.provider.recordsNamed("sub2.example.org"), 1)
	})

	s.Run("a failing first token fails the whole claim", func() {
		s.provider.failCreates[s.provider.createCalls+1] = errors.New("cloudflare: 503")
		_, err := s.svc.Claim(s.ctx, 10, "example.org", "sub3", "NS", "ns1.dns.example ns2.dns.example", nil, "")
		var provErr *ProviderError
		s.Require().ErrorAs(err, &provErr)
		s.Empty(s.provider.recordsNamed("sub3.example.org"))
	})
}

func (s *DomainSuite) TestClaimNSStripsTrailingDots() {
	s.Run("multi-value", func() {
		id, err := s.svc.Claim(s.ctx, 10, "example.org", "fqdn", "NS", "ns1.dns.example. ns2.dns.example.", nil, "")
		s.Require().NoError(err)

		recs := s.provider.recordsNamed("fqdn.example.org")
		s.Require().Len(recs, 2)
		contents := []string{recs[0].Content, recs[1].Content}
		s.ElementsMatch([]string{"ns1.dns.example", "ns2.dns.example"}, contents)

		ud, err := s.svc.Get(s.ctx, 10, id)
		s.Require().NoError(err)
		s.Equal("ns1.dns.example ns2.dns.example", ud.RecordValue)
	})

	s.Run("single value", func() {
		_, err := s.svc.Claim(s.ctx, 10, "example.org", "fqdn2", "NS", "ns1.dns.example.", nil, "")
		s.Require().NoError(err)

		recs := s.provider.recordsNamed("fqdn2.example.org")
		s.Require().Len(recs, 1)
		s.Equal("ns1.dns.example", recs[0].Content)
	})
}

func (s *DomainSuite) TestClaimInsertRaceCleansUpProviderRecords() {
	// The pre-checks pass but the insert loses to a concurrent claim.
	s.store.insertDomainErr = ErrNameTaken

	_, err := s.svc.Claim(s.ctx, 10, "example.org", "raced", "A", "203.0.113.7", nil, "")
	s.Require().ErrorIs(err, ErrNameTaken)

	s.Empty(s.provider.recordsNamed("raced.example.org"), "orphaned provider record must be deleted")
	s.Empty(s.store.records)
	s.Equal(100, s.store.users[10].Points)
	s.Empty(s.store.txnsOfType(10, model.TxnDomainApply))
}

func (s *DomainSuite) TestClaimTTL() {
	s.Run("default TTL comes from settings", func() {
		s.store.settings["default_ttl"] = "300"
		_, err := s.svc.Claim(s.ctx, 10, "example.org", "ttord", "A", "203.0.113.7", nil, "")
		s.Require().NoError(err)
		recs := s.provider.recordsNamed("ttord.example.org")
		s.Require().Len(recs, 1)
		s.Equal(300, recs[0].TTL)
	})

	s.Run("explicit TTL wins", func() {
		ttl := 3600
		id, err := s.svc.Claim(s.ctx, 10, "example.org", "ttl2", "A", "203.0.113.8", &ttl, "")
		s.Require().NoError(err)
		recs := s.provider.recordsNamed("ttl2.example.org")
		s.Require().Len(recs, 1)
		s.Equal(3600, recs[0].TTL)

		ud, err := s.svc.Get(s.ctx, 10, id)
		s.Require().NoError(err)
		s.Require().NotNil(ud.TTL)
		s.Equal(3600, *ud.TTL)
	})
}

func (s *DomainSuite) TestUpdateRecord() {
	id, err := s.svc.Claim(s.ctx, 10, "example.org", "app", "A", "203.0.113.7", nil, "")
	s.Require().NoError(err)

	s.Run("updates a single record in place", func() {
		err := s.svc.UpdateRecord(s.ctx, 10, id, "A", "203.0.113.99", nil, "moved")
		s.Require().NoError(err)

		recs := s.provider.recordsNamed("app.example.org")
		s.Require().Len(recs, 1)
		s.Equal("203.0.113.99", recs[0].Content)

		ud, err := s.svc.Get(s.ctx, 10, id)
		s.Require().NoError(err)
		s.Equal("203.0.113.99", ud.RecordValue)
		s.Equal("moved", ud.Remark)
	})

	s.Run("switching to multi-value NS replaces wholesale", func() {
		err := s.svc.UpdateRecord(s.ctx, 10, id, "NS", "ns1.dns.example ns2.dns.example", nil, "")
		s.Require().NoError(err)

		recs := s.provider.recordsNamed("app.example.org")
		s.Len(recs, 2)
		for _, r := range recs {
			s.Equal("NS", r.Type)
		}

		ud, err := s.svc.Get(s.ctx, 10, id)
		s.Require().NoError(err)
		s.Equal("NS", ud.RecordType)
		s.Require().NotNil(ud.DNSRecordID)
	})

	s.Run("rejects invalid values", func() {
		err := s.svc.UpdateRecord(s.ctx, 10, id, "A", "bogus", nil, "")
		s.Require().ErrorIs(err, ErrInvalidRecord)
	})

	s.Run("unknown claim", func() {
		err := s.svc.UpdateRecord(s.ctx, 10, 9999, "A", "203.0.113.1", nil, "")
		s.Require().ErrorIs(err, ErrNotFound)
	})

	s.Run("another user's claim looks like it does not exist", func() {
		s.store.addUser(30, 100)
		err := s.svc.UpdateRecord(s.ctx, 30, id, "A", "203.0.113.1", nil, "")
		s.Require().ErrorIs(err, ErrNotFound)
	})
}

func (s *DomainSuite) TestReleaseRefundsHalfAtCurrentPricing() {
	id, err := s.svc.Claim(s.ctx, 10, "example.org", "gone", "A", "203.0.113.7", nil, "")
	s.Require().NoError(err)
	s.Equal(90, s.store.users[10].Points)

	err = s.svc.Release(s.ctx, 10, id)
	s.Require().NoError(err)

	s.Equal(95, s.store.users[10].Points)
	releases := s.store.txnsOfType(10, model.TxnDomainRelease)
	s.Require().Len(releases, 1)
	s.Equal(5, releases[0].Change)
	s.Require().NotNil(releases[0].RelatedID)
	s.Equal(id, *releases[0].RelatedID)

	s.Empty(s.provider.recordsNamed("gone.example.org"))
	s.Empty(s.store.domains)
	s.Empty(s.store.records)
}

func (s *DomainSuite) TestReleaseDetachesCoClaimantMirrorReference() {
	aID, err := s.svc.Claim(s.ctx, 10, "example.org", "www", "A", "203.0.113.7", nil, "")
	s.Require().NoError(err)

	// A TXT claim may share the name, and its mirror reference resolves by
	// name, so it can point at the A claimant's row.
	s.store.addUser(22, 100)
	txtID, err := s.svc.Claim(s.ctx, 22, "example.org", "www", "TXT", "verification=abc", nil, "")
	s.Require().NoError(err)

	aClaim, err := s.svc.Get(s.ctx, 10, aID)
	s.Require().NoError(err)
	txtClaim, err := s.svc.Get(s.ctx, 22, txtID)
	s.Require().NoError(err)
	s.Require().NotNil(txtClaim.DNSRecordID)
	s.Require().NotNil(aClaim.DNSRecordID)
	s.Equal(*aClaim.DNSRecordID, *txtClaim.DNSRecordID, "both claims reference the first mirror row")

	// Releasing the A claim removes the shared mirror row; the TXT claim
	// must survive with its reference detached, not block the release.
	s.Require().NoError(s.svc.Release(s.ctx, 10, aID))
	s.Equal(95, s.store.users[10].Points)

	txtClaim, err = s.svc.Get(s.ctx, 22, txtID)
	s.Require().NoError(err)
	s.Nil(txtClaim.DNSRecordID)

	s.Require().NoError(s.svc.Release(s.ctx, 22, txtID))
	s.Equal(95, s.store.users[22].Points)
}

func (s *DomainSuite) TestReleaseIsNotRepeatable() {
	id, err := s.svc.Claim(s.ctx, 10, "example.org", "once", "A", "203.0.113.7", nil, "")
	s.Require().NoError(err)

	s.Require().NoError(s.svc.Release(s.ctx, 10, id))
	err = s.svc.Release(s.ctx, 10, id)
	s.Require().ErrorIs(err, ErrNotFound)

	s.Len(s.store.txnsOfType(10, model.TxnDomainRelease), 1, "no double refund")
	s.Equal(95, s.store.users[10].Points)
}

func (s *DomainSuite) TestReleaseUsesPricingAtReleaseTime() {
	id, err := s.svc.Claim(s.ctx, 10, "example.org", "repriced", "A", "203.0.113.7", nil, "")
	s.Require().NoError(err)
	s.Equal(90, s.store.users[10].Points)

	s.store.settings["domain_cost_points"] = "30"
	s.Require().NoError(s.svc.Release(s.ctx, 10, id))

	// Refund is 30/2, not 10/2.
	s.Equal(105, s.store.users[10].Points)
}

func (s *DomainSuite) TestReleaseRefundsAtLeastOnePoint() {
	s.store.settings["domain_cost_points"] = "1"
	id, err := s.svc.Claim(s.ctx, 10, "example.org", "cheap", "A", "203.0.113.7", nil, "")
	s.Require().NoError(err)
	s.Equal(99, s.store.users[10].Points)

	s.Require().NoError(s.svc.Release(s.ctx, 10, id))
	s.Equal(100, s.store.users[10].Points)
}

func (s *DomainSuite) TestReleaseSurvivesProviderFailure() {
	id, err := s.svc.Claim(s.ctx, 10, "example.org", "orphan", "A", "203.0.113.7", nil, "")
	s.Require().NoError(err)

	// Drop the provider-side record behind the service's back; the release
	// delete will fail but the release must still settle locally.
	recs := s.provider.recordsNamed("orphan.example.org")
	s.Require().Len(recs, 1)
	delete(s.provider.records, recs[0].ID)

	s.Require().NoError(s.svc.Release(s.ctx, 10, id))
	s.Empty(s.store.domains)
	s.Equal(95, s.store.users[10].Points)
}

func (s *DomainSuite) TestListOwnerships() {
	for _, prefix := range []string{"a", "b", "c"} {
		_, err := s.svc.Claim(s.ctx, 10, "example.org", prefix, "A", "203.0.113.7", nil, "")
		s.Require().NoError(err)
	}

	page1, total, err := s.svc.ListOwnerships(s.ctx, 10, 1, 2)
	s.Require().NoError(err)
	s.Equal(3, total)
	s.Len(page1, 2)

	page2, _, err := s.svc.ListOwnerships(s.ctx, 10, 2, 2)
	s.Require().NoError(err)
	s.Len(page2, 1)
}
