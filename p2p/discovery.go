package p2p

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Discovery periodically resolves DNS seed domains into bootstrap anchors
// and evicts peerstore entries that have gone stale, generalizing the node
// repo's seeds.Registry DNS-authority idea (there resolved with the
// standard net.Resolver) onto github.com/miekg/dns so the mesh can issue
// raw TXT queries against a specific resolver rather than the OS default —
// useful when bootstrap DNS is served by an anchor's own dnsstub rather
// than a public resolver.
type Discovery struct {
	server        *Server
	seedDomains   []string
	resolverAddr  string
	interval      time.Duration
	staleTimeout  time.Duration
	quit          chan struct{}
}

// NewDiscovery builds a Discovery loop. resolverAddr may be empty, in which
// case queries go over plain UDP to 127.0.0.1:53 (the system resolver
// configuration is not read) — operators pointing at an authoritative anchor's
// dnsstub instead set resolverAddr explicitly.
func NewDiscovery(server *Server, seedDomains []string, resolverAddr string, interval, staleTimeout time.Duration) *Discovery {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleTimeout <= 0 {
		staleTimeout = 15 * time.Minute
	}
	return &Discovery{
		server:       server,
		seedDomains:  seedDomains,
		resolverAddr: resolverAddr,
		interval:     interval,
		staleTimeout: staleTimeout,
		quit:         make(chan struct{}),
	}
}

func (d *Discovery) Start() { go d.run() }
func (d *Discovery) Stop()  { close(d.quit) }

func (d *Discovery) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.resolveAll()
			d.evictStale()
		case <-d.quit:
			return
		}
	}
}

func (d *Discovery) resolveAll() {
	for _, domain := range d.seedDomains {
		anchors, err := d.resolve(domain)
		if err != nil {
			d.server.logger.Warn("dns seed resolution failed", slog.String("domain", domain), slog.Any("error", err))
			continue
		}
		for _, a := range anchors {
			if d.server.peerstore != nil {
				_ = d.server.peerstore.Put(PeerstoreEntry{NodeID: a.NodeID, Endpoint: a.Endpoint, LastSeen: time.Now()})
			}
		}
	}
}

// resolve issues a TXT query for domain and parses "nodeid=...;endpoint=..."
// records into bootstrap anchors.
func (d *Discovery) resolve(domain string) ([]PeerAdvert, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)

	server := d.resolverAddr
	if server == "" {
		server = "127.0.0.1:53"
	}
	client := new(dns.Client)
	client.Timeout = 5 * time.Second

	resp, _, err := client.Exchange(m, server)
	if err != nil {
		return nil, fmt.Errorf("p2p: dns query %s: %w", domain, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("p2p: dns query %s: rcode %d", domain, resp.Rcode)
	}

	var anchors []PeerAdvert
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, chunk := range txt.Txt {
			if advert, ok := parseSeedTXT(chunk); ok {
				anchors = append(anchors, advert)
			}
		}
	}
	return anchors, nil
}

func parseSeedTXT(record string) (PeerAdvert, bool) {
	var advert PeerAdvert
	for _, field := range strings.Split(record, ";") {
		key, value, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "nodeid":
			advert.NodeID = strings.TrimSpace(value)
		case "endpoint":
			advert.Endpoint = strings.TrimSpace(value)
		}
	}
	return advert, advert.NodeID != "" && advert.Endpoint != ""
}

// evictStale drops peerstore entries not seen within staleTimeout, unless
// they are configured as persistent peers — a bootstrap anchor an operator
// pinned by hand should survive a long absence — or currently have an
// active connection, which keeps its LastSeen fresh by other means (a peer
// nobody else happens to gossip about must not be pruned out from under a
// live connection).
func (d *Discovery) evictStale() {
	if d.server.peerstore == nil {
		return
	}
	active := make(map[string]bool)
	for _, p := range d.server.Peers() {
		active[string(p.NodeID())] = true
	}
	cutoff := time.Now().Add(-d.staleTimeout)
	for _, entry := range d.server.peerstore.Snapshot() {
		if entry.Persistent || active[entry.NodeID] {
			continue
		}
		if entry.LastSeen.Before(cutoff) {
			_ = d.server.peerstore.Delete(entry.NodeID)
		}
	}
}
