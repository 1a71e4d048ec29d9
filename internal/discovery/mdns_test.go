package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(instance, host, ip string, port int, txt ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance},
		HostName:      host,
		Port:          port,
		Text:          txt,
	}
	if ip != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	}
	return e
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name       string
		entry      *zeroconf.ServiceEntry
		wantNil    bool
		wantSerial string
		wantAddr   string
	}{
		{
			name:       "serial in instance name",
			entry:      entry("Miniserver 504F94A0B1C2", "ms.local.", "192.168.1.77", 80),
			wantSerial: "504F94A0B1C2",
			wantAddr:   "192.168.1.77:80",
		},
		{
			name:       "serial in host name",
			entry:      entry("Home", "LoxoneMiniserver-504f94a0b1c2.local.", "10.0.0.5", 8080),
			wantSerial: "504F94A0B1C2",
			wantAddr:   "10.0.0.5:8080",
		},
		{
			name:       "MAC in TXT record",
			entry:      entry("Home", "home.local.", "10.0.0.6", 0, "path=/", "mac=50:4F:94:A0:B1:C3"),
			wantSerial: "504F94A0B1C3",
			wantAddr:   "10.0.0.6:80",
		},
		{
			name:    "other vendor",
			entry:   entry("Printer", "printer.local.", "10.0.0.7", 80, "mac=00:11:22:33:44:55"),
			wantNil: true,
		},
		{
			name:    "no address",
			entry:   entry("Miniserver 504F94A0B1C2", "ms.local.", "", 80),
			wantNil: true,
		},
		{
			name:    "nil entry",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseServiceEntry(tt.entry)
			if tt.wantNil {
				if got != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("parseServiceEntry() = nil")
			}
			if got.Serial != tt.wantSerial {
				t.Errorf("Serial = %v, want %v", got.Serial, tt.wantSerial)
			}
			if got.Address() != tt.wantAddr {
				t.Errorf("Address() = %v, want %v", got.Address(), tt.wantAddr)
			}
		})
	}
}

func TestMiniserverFormatting(t *testing.T) {
	ms := &Miniserver{Serial: "504F94A0B1C2", Name: "Home", IP: "fe80::1", Port: 80}
	if got := ms.MAC(); got != "50:4F:94:A0:B1:C2" {
		t.Errorf("MAC() = %v", got)
	}
	if got := ms.Address(); got != "[fe80::1]:80" {
		t.Errorf("Address() = %v", got)
	}
	if got := ms.String(); got != "Miniserver Home (504F94A0B1C2) at [fe80::1]:80" {
		t.Errorf("String() = %v", got)
	}
	if got := ms.GetMetadata("path"); got != "" {
		t.Errorf("GetMetadata() with nil map = %v", got)
	}
}

type fakeBrowser struct {
	entries []*zeroconf.ServiceEntry
	err     error
}

func (f *fakeBrowser) Browse(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
	if f.err != nil {
		return f.err
	}
	go func() {
		for _, e := range f.entries {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func scannerWith(b browser, timeout time.Duration) *Scanner {
	s := NewScanner()
	s.Timeout = timeout
	s.newBrowser = func() (browser, error) { return b, nil }
	return s
}

func TestScanDeduplicates(t *testing.T) {
	b := &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		entry("Home 504F94A0B1C2", "a.local.", "10.0.0.1", 80),
		entry("Printer", "p.local.", "10.0.0.2", 80),
		entry("Home 504F94A0B1C2", "a.local.", "10.0.0.1", 80),
		entry("Garage 504F94A0B1C9", "b.local.", "10.0.0.3", 80),
	}}

	found, err := scannerWith(b, 100*time.Millisecond).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Scan() found %d, want 2", len(found))
	}
	if found[0].Serial != "504F94A0B1C2" || found[1].Serial != "504F94A0B1C9" {
		t.Errorf("Scan() = %v, %v", found[0], found[1])
	}
}

func TestFind(t *testing.T) {
	b := &fakeBrowser{entries: []*zeroconf.ServiceEntry{
		entry("Home 504F94A0B1C2", "a.local.", "10.0.0.1", 80),
		entry("Garage 504F94A0B1C9", "b.local.", "10.0.0.3", 80),
	}}

	start := time.Now()
	ms, err := scannerWith(b, 5*time.Second).Find(context.Background(), "50:4f:94:a0:b1:c9")
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if ms.IP != "10.0.0.3" {
		t.Errorf("Find() IP = %v, want 10.0.0.3", ms.IP)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Find() did not stop after the match")
	}

	if _, err := scannerWith(b, 50*time.Millisecond).Find(context.Background(), "504F94FFFFFF"); err == nil {
		t.Error("Find() for an absent serial should fail")
	}
}

func TestScanBrowseError(t *testing.T) {
	s := scannerWith(&fakeBrowser{err: errors.New("no multicast")}, time.Second)
	if _, err := s.Scan(context.Background()); err == nil {
		t.Error("Scan() should return the browse error")
	}
}
