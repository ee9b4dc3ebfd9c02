// Package discovery finds other lifxsync daemons on the local network and
// advertises this one.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/mdns"
	"github.com/sourcegraph/conc/pool"
)

const (
	ServiceType = "_lifxsync._tcp"
	Domain      = "local"

	maxProbes = 50
)

// Peer is a lifxsync daemon reachable over HTTP.
type Peer struct {
	Name    string `json:"name"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Active  bool   `json:"active"`
	Devices int    `json:"devices"`
	Version string `json:"version,omitempty"`
}

func (p Peer) URL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(p.Host, fmt.Sprint(p.Port)))
}

// Advertiser publishes this daemon over mDNS until Shutdown.
type Advertiser struct {
	server *mdns.Server
}

// Advertise announces the API listening on port. An empty instance uses the
// host name.
func Advertise(log logr.Logger, instance string, port int, info []string) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("hostname: %w", err)
		}
		instance = host
	}
	svc, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}
	log.WithName("mdns").Info("Advertising over mDNS", "instance", instance, "service", ServiceType, "port", port)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

type Scanner struct {
	log     logr.Logger
	client  *http.Client
	timeout time.Duration
}

func NewScanner(log logr.Logger, timeout time.Duration) *Scanner {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Scanner{
		log:     log.WithName("scanner"),
		client:  &http.Client{Timeout: 800 * time.Millisecond},
		timeout: timeout,
	}
}

// Peers queries mDNS for daemons and, when none answer, probes the local /24
// subnets on fallbackPort. Every candidate is confirmed through its /status
// endpoint.
func (s *Scanner) Peers(ctx context.Context, fallbackPort int) []Peer {
	candidates := s.queryMDNS(ctx)
	s.log.Info("mDNS query done", "found", len(candidates))

	if len(candidates) == 0 && fallbackPort > 0 {
		for _, subnet := range getLocalSubnets() {
			s.log.Info("Probing subnet for lifxsync daemons", "subnet", subnet+".0/24", "port", fallbackPort)
			for _, ip := range expandSubnet(subnet) {
				candidates = append(candidates, Peer{Name: ip, Host: ip, Port: fallbackPort})
			}
		}
	}
	return s.confirm(ctx, candidates)
}

func (s *Scanner) queryMDNS(ctx context.Context) []Peer {
	entries := make(chan *mdns.ServiceEntry, 10)
	var peers []Peer

	go func() {
		params := &mdns.QueryParam{
			Service:             ServiceType,
			Domain:              Domain,
			Timeout:             s.timeout,
			Entries:             entries,
			DisableIPv6:         true,
			WantUnicastResponse: true,
		}
		if err := mdns.Query(params); err != nil {
			s.log.Error(err, "mDNS query failed")
		}
		close(entries)
	}()

	for entry := range entries {
		if ctx.Err() != nil {
			continue
		}
		if entry.AddrV4 == nil {
			continue
		}
		s.log.V(1).Info("mDNS entry", "name", entry.Name, "addr", entry.AddrV4.String(), "port", entry.Port)
		peers = append(peers, Peer{
			Name: strings.TrimSuffix(entry.Name, "."+ServiceType+"."+Domain+"."),
			Host: entry.AddrV4.String(),
			Port: entry.Port,
		})
	}
	return peers
}

// confirm keeps the candidates whose /status answers, probing concurrently.
func (s *Scanner) confirm(ctx context.Context, candidates []Peer) []Peer {
	var (
		mu    sync.Mutex
		found []Peer
	)
	p := pool.New().WithMaxGoroutines(maxProbes)
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		p.Go(func() {
			peer, ok := s.probe(ctx, c)
			if !ok {
				return
			}
			mu.Lock()
			found = append(found, peer)
			mu.Unlock()
		})
	}
	p.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].Host < found[j].Host })
	return found
}

type statusBody struct {
	Active  bool   `json:"active"`
	Devices int    `json:"devices"`
	Version string `json:"version"`
}

func (s *Scanner) probe(ctx context.Context, p Peer) (Peer, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL()+"/status", nil)
	if err != nil {
		return p, false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return p, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p, false
	}
	var st statusBody
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return p, false
	}
	p.Active, p.Devices, p.Version = st.Active, st.Devices, st.Version
	return p, true
}

func getLocalSubnets() []string {
	var subnets []string
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil {
				continue
			}
			ones, bits := ipNet.Mask.Size()
			if ones == 0 || bits == 0 || ones > 24 {
				continue
			}
			subnets = append(subnets, fmt.Sprintf("%d.%d.%d", ip[0], ip[1], ip[2]))
		}
	}
	return subnets
}

func expandSubnet(prefix string) []string {
	ips := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		ips = append(ips, fmt.Sprintf("%s.%d", prefix, i))
	}
	return ips
}
