package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/logging"
)

const (
	// ServiceType is the mDNS service Miniservers advertise
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain
	ServiceDomain = "local."

	// DefaultScanTimeout is the default discovery window
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is used when the advertisement carries no port
	DefaultPort = 80
)

// serialPattern matches a Loxone MAC with or without separators.
var serialPattern = regexp.MustCompile(`(?i)50[:-]?4F[:-]?94(?:[:-]?[0-9A-F]{2}){3}`)

// browser is the part of the zeroconf resolver the scanner uses.
type browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Scanner handles mDNS discovery
type Scanner struct {
	// Timeout is the maximum time to wait for advertisements
	Timeout time.Duration

	newBrowser func() (browser, error)
}

// NewScanner creates a scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
		newBrowser: func() (browser, error) {
			return zeroconf.NewResolver(nil)
		},
	}
}

// Scan is a convenience wrapper around a scanner with the given timeout.
func Scan(ctx context.Context, timeout time.Duration) ([]*Miniserver, error) {
	s := NewScanner()
	if timeout > 0 {
		s.Timeout = timeout
	}
	return s.Scan(ctx)
}

// Scan collects every Miniserver that answers within the timeout. Each
// serial is reported once.
func (s *Scanner) Scan(ctx context.Context) ([]*Miniserver, error) {
	var (
		mu    sync.Mutex
		found []*Miniserver
	)
	err := s.browse(ctx, func(ms *Miniserver) bool {
		mu.Lock()
		defer mu.Unlock()
		for _, prev := range found {
			if prev.Serial == ms.Serial {
				return true
			}
		}
		found = append(found, ms)
		return true
	})
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return found, nil
}

// Find waits for the Miniserver with the given serial or MAC.
func (s *Scanner) Find(ctx context.Context, serial string) (*Miniserver, error) {
	want := normalizeSerial(serial)
	var (
		mu    sync.Mutex
		match *Miniserver
	)
	err := s.browse(ctx, func(ms *Miniserver) bool {
		if ms.Serial != want {
			return true
		}
		mu.Lock()
		match = ms
		mu.Unlock()
		return false
	})
	if err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	if match == nil {
		return nil, fmt.Errorf("miniserver %s not found within %s", serial, s.Timeout)
	}
	return match, nil
}

// browse feeds parsed entries to fn until the timeout or until fn returns
// false. It returns after the entry consumer has finished.
func (s *Scanner) browse(ctx context.Context, fn func(*Miniserver) bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := s.newBrowser()
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				ms := parseServiceEntry(entry)
				if ms == nil {
					continue
				}
				logging.Debug("Miniserver advertisement",
					zap.String("serial", ms.Serial),
					zap.String("address", ms.Address()),
				)
				if !fn(ms) {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		cancel()
		<-consumed
		return fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	<-consumed
	return nil
}

// parseServiceEntry converts an advertisement to a Miniserver, or nil when
// it does not come from one.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Miniserver {
	if entry == nil {
		return nil
	}

	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	serial := serialPattern.FindString(entry.Instance)
	if serial == "" {
		serial = serialPattern.FindString(entry.HostName)
	}
	if serial == "" {
		for _, txt := range entry.Text {
			if serial = serialPattern.FindString(txt); serial != "" {
				break
			}
		}
	}
	if serial == "" {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	return &Miniserver{
		Serial:       normalizeSerial(serial),
		Name:         entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

func normalizeSerial(s string) string {
	s = strings.NewReplacer(":", "", "-", "").Replace(s)
	return strings.ToUpper(s)
}
