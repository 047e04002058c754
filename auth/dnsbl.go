package auth

import (
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/synqronlabs/courier/dns"
)

// Blocklisted queries each zone in BlocklistZones for ip and reports the
// first listing. The reason is the zone's TXT explanation, or
// "listed in <zone>" when it publishes none. Only IPv4 is checked; lookup
// failures count as not listed.
func (p *Pipeline) Blocklisted(ctx context.Context, ip net.IP) (bool, string) {
	if ip.To4() == nil {
		return false, ""
	}
	for _, zone := range p.BlocklistZones {
		zone = strings.TrimSuffix(zone, ".")
		name, err := dns.BlocklistName(ip, zone)
		if err != nil {
			return false, ""
		}
		if _, err := p.Resolver.LookupIP(ctx, name); err != nil {
			if !dns.IsNotFound(err) {
				p.logger().Warn("DNSBL lookup failed",
					slog.String("zone", zone),
					slog.Any("error", err),
				)
			}
			continue
		}

		reason := "listed in " + zone
		if txt, err := p.Resolver.LookupTXT(ctx, name); err == nil && len(txt.Records) > 0 {
			reason = txt.Records[0]
		}
		p.metrics().BlocklistHit(zone)
		return true, reason
	}
	return false, ""
}
