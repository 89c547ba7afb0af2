package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/libdns/cloudflare"
	"github.com/libdns/libdns"
)

// Record is one provider-side DNS record. ID is the provider-assigned
// record id; Name is fully-qualified.
type Record struct {
	ID      string
	Type    string
	Name    string
	Content string
	TTL     int
	Proxied bool
}

// Client is the provider-facing surface the record mirror consumes. Create
// returns the record as the provider stored it, including its assigned id.
type Client interface {
	CreateRecord(ctx context.Context, zone string, r Record) (Record, error)
	UpdateRecord(ctx context.Context, zone string, r Record) (Record, error)
	DeleteRecord(ctx context.Context, zone string, providerRecordID string) error
	ListRecords(ctx context.Context, zone string) ([]Record, error)
}

// Cloudflare talks to the Cloudflare API through libdns, authenticated by a
// scoped API token. Zones are addressed by their name.
type Cloudflare struct {
	p *cloudflare.Provider
}

func NewCloudflare(apiToken string) *Cloudflare {
	return &Cloudflare{p: &cloudflare.Provider{APIToken: apiToken}}
}

// libdns zones carry a trailing dot and record names are zone-relative.
func libdnsZone(zone string) string {
	return strings.TrimSuffix(zone, ".") + "."
}

func toLibdns(zone string, r Record) libdns.Record {
	return libdns.Record{
		ID:    r.ID,
		Type:  r.Type,
		Name:  libdns.RelativeName(strings.TrimSuffix(r.Name, "."), zone),
		Value: r.Content,
		TTL:   time.Duration(r.TTL) * time.Second,
	}
}

func fromLibdns(zone string, lr libdns.Record) Record {
	return Record{
		ID:      lr.ID,
		Type:    lr.Type,
		Name:    strings.TrimSuffix(libdns.AbsoluteName(lr.Name, zone), "."),
		Content: lr.Value,
		TTL:     int(lr.TTL / time.Second),
	}
}

func (c *Cloudflare) CreateRecord(ctx context.Context, zone string, r Record) (Record, error) {
	z := libdnsZone(zone)
	created, err := c.p.AppendRecords(ctx, z, []libdns.Record{toLibdns(z, r)})
	if err != nil {
		return Record{}, err
	}
	if len(created) == 0 {
		return Record{}, fmt.Errorf("provider returned no record for %s", r.Name)
	}
	return fromLibdns(z, created[0]), nil
}

func (c *Cloudflare) UpdateRecord(ctx context.Context, zone string, r Record) (Record, error) {
	z := libdnsZone(zone)
	updated, err := c.p.SetRecords(ctx, z, []libdns.Record{toLibdns(z, r)})
	if err != nil {
		return Record{}, err
	}
	if len(updated) == 0 {
		return Record{}, fmt.Errorf("provider returned no record for %s", r.Name)
	}
	return fromLibdns(z, updated[0]), nil
}

func (c *Cloudflare) DeleteRecord(ctx context.Context, zone string, providerRecordID string) error {
	z := libdnsZone(zone)
	_, err := c.p.DeleteRecords(ctx, z, []libdns.Record{{ID: providerRecordID}})
	return err
}

func (c *Cloudflare) ListRecords(ctx context.Context, zone string) ([]Record, error) {
	z := libdnsZone(zone)
	recs, err := c.p.GetRecords(ctx, z)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(recs))
	for _, lr := range recs {
		out = append(out, fromLibdns(z, lr))
	}
	return out, nil
}
