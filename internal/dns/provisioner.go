package dns

import (
	"context"
	"fmt"
	"strings"

	"github.com/blockgate/hosting/pkg/logger"
)

const (
	// srvService is the service prefix of every record this system writes.
	srvService = "_minecraft._tcp"

	defaultTTL = 300

	srvPriority = 0
	srvWeight   = 5
)

// Provisioner creates and deletes the SRV records that point players at
// the proxy fleet. A registrar failure surfaces to the caller; nothing is
// silently downgraded.
type Provisioner struct {
	client *PorkbunClient
}

// NewProvisioner wires a provisioner onto a registrar client.
func NewProvisioner(client *PorkbunClient) *Provisioner {
	return &Provisioner{client: client}
}

// CreateSRV publishes one SRV record `_minecraft._tcp.<subdomain>` with
// content `0 5 <port> <target>` and returns the registrar record id.
func (p *Provisioner) CreateSRV(ctx context.Context, domain, subdomain string, port int, target string, ttl int) (string, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	name := srvName(domain, subdomain)
	content := fmt.Sprintf("%d %d %d %s", srvPriority, srvWeight, port, qualifyTarget(target))

	id, err := p.client.CreateRecord(ctx, domain, name, "SRV", content, ttl, srvPriority)
	if err != nil {
		return "", fmt.Errorf("creating SRV %s.%s: %w", name, domain, err)
	}

	logger.Info("SRV record published", map[string]interface{}{
		"name":    name + "." + domain,
		"content": content,
		"id":      id,
	})

	return id, nil
}

// EnsureSRV publishes the SRV record unless an identical one already
// exists. The reconciler retries pending DNS through this so a retry
// after a half-finished create never duplicates the record.
func (p *Provisioner) EnsureSRV(ctx context.Context, domain, subdomain string, port int, target string, ttl int) (string, error) {
	records, err := p.client.RetrieveRecords(ctx, domain)
	if err != nil {
		return "", fmt.Errorf("listing records on %s: %w", domain, err)
	}

	name := srvName(domain, subdomain)
	fqdn := name + "." + domain
	content := fmt.Sprintf("%d %d %d %s", srvPriority, srvWeight, port, qualifyTarget(target))
	for _, r := range records {
		if r.Type != "SRV" {
			continue
		}
		if (r.Name == fqdn || r.Name == name) && r.Content == content {
			return r.ID, nil
		}
	}

	return p.CreateSRV(ctx, domain, subdomain, port, target, ttl)
}

// DeleteSRV removes every SRV record for the subdomain. Returns true iff
// at least one record was deleted; finding none is not an error, so a
// second delete of the same name reports false and succeeds.
func (p *Provisioner) DeleteSRV(ctx context.Context, domain, subdomain string) (bool, error) {
	records, err := p.client.RetrieveRecords(ctx, domain)
	if err != nil {
		return false, fmt.Errorf("listing records on %s: %w", domain, err)
	}

	name := srvName(domain, subdomain)
	fqdn := name + "." + domain

	deleted := 0
	for _, r := range records {
		if r.Type != "SRV" {
			continue
		}
		if r.Name != fqdn && r.Name != name {
			continue
		}
		if err := p.client.DeleteRecord(ctx, domain, r.ID); err != nil {
			return deleted > 0, fmt.Errorf("deleting SRV record %s: %w", r.ID, err)
		}
		deleted++
	}

	if deleted > 0 {
		logger.Info("SRV records removed", map[string]interface{}{
			"name":  fqdn,
			"count": deleted,
		})
	}

	return deleted > 0, nil
}

// ListRecords returns every record of the domain.
func (p *Provisioner) ListRecords(ctx context.Context, domain string) ([]Record, error) {
	return p.client.RetrieveRecords(ctx, domain)
}

// GetRecord fetches one record by id.
func (p *Provisioner) GetRecord(ctx context.Context, domain, id string) (*Record, error) {
	return p.client.RetrieveRecord(ctx, domain, id)
}

// srvName composes the record name, stripping a trailing `.<domain>`
// suffix that callers sometimes pass along with the subdomain.
func srvName(domain, subdomain string) string {
	sub := strings.TrimSuffix(subdomain, ".")
	sub = strings.TrimSuffix(sub, "."+domain)
	return srvService + "." + sub
}

// qualifyTarget makes the target fully qualified. A trailing dot stops
// the registrar from completing it relative to the zone.
func qualifyTarget(target string) string {
	if strings.HasSuffix(target, ".") {
		return target
	}
	return target + "."
}
