package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/muurk/loxone/internal/config"
	"github.com/muurk/loxone/internal/controls"
	"github.com/muurk/loxone/internal/graph"
	"github.com/muurk/loxone/internal/ident"
	"github.com/muurk/loxone/internal/offline"
	"github.com/muurk/loxone/internal/protocol"
	"github.com/muurk/loxone/internal/security"
	"github.com/muurk/loxone/internal/settings"
)

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		user     string
		security string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"no flags", "", "", "", "", 80, false},
		{"host only", "192.168.1.77", "", "", "192.168.1.77", 80, false},
		{"host and port", "192.168.1.77:8080", "admin", "token", "192.168.1.77", 8080, false},
		{"ipv6 with port", "[fe80::1]:80", "", "", "fe80::1", 80, false},
		{"bad port", "host:http", "", "", "", 0, true},
		{"bad security", "", "", "digest", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default()
			err := applyOverrides(c, tt.host, tt.user, tt.security, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("applyOverrides() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if c.Miniserver.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", c.Miniserver.Host, tt.wantHost)
			}
			if c.Miniserver.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", c.Miniserver.Port, tt.wantPort)
			}
			if tt.user != "" && c.Miniserver.User != tt.user {
				t.Errorf("User = %q, want %q", c.Miniserver.User, tt.user)
			}
		})
	}
}

func TestSessionOptions(t *testing.T) {
	c := config.Default()
	if _, err := sessionOptions(c, nil); err == nil {
		t.Error("sessionOptions() without host succeeded")
	}
	c.Miniserver.Host = "192.168.1.77"
	if _, err := sessionOptions(c, nil); err == nil {
		t.Error("sessionOptions() without user succeeded")
	}

	c.Miniserver.User = "admin"
	c.Miniserver.Security = "hash"
	c.Timeouts.UserErrorDelay = config.Duration(2 * time.Minute)
	store := settings.NewMemory(nil)
	opts, err := sessionOptions(c, store)
	if err != nil {
		t.Fatalf("sessionOptions() error = %v", err)
	}
	if opts.Client.Host != "192.168.1.77:80" {
		t.Errorf("Client.Host = %q", opts.Client.Host)
	}
	if opts.Client.Security != security.TypeHash {
		t.Errorf("Client.Security = %v, want hash", opts.Client.Security)
	}
	if opts.Client.Settings != store {
		t.Error("Client.Settings is not the given store")
	}
	if opts.Timeouts.UserErrorDelay != 2*time.Minute {
		t.Errorf("UserErrorDelay = %v, want 2m", opts.Timeouts.UserErrorDelay)
	}
	if opts.Timeouts.Client.MaxBinaryMessageKB != 3072 {
		t.Errorf("MaxBinaryMessageKB = %d, want 3072", opts.Timeouts.Client.MaxBinaryMessageKB)
	}
	if opts.Registry.Types() == 0 {
		t.Error("Registry is empty")
	}
}

func TestTroubleshooting(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{offline.New(offline.Unauthorized, "401"), "Check the user name and password"},
		{offline.New(offline.TooManyFailedLoginAttempts, "4003"), "The Miniserver has blocked this user after failed logins"},
		{offline.New(offline.CommunicationError, "eof"), "Ensure the Miniserver is powered on and reachable"},
	}
	for _, tt := range tests {
		if got := troubleshooting(tt.err); got[0] != tt.want {
			t.Errorf("troubleshooting(%v)[0] = %q, want %q", tt.err, got[0], tt.want)
		}
	}
}

func TestControlRows(t *testing.T) {
	raw := func(s string) json.RawMessage { b, _ := json.Marshal(s); return b }
	cfg := &protocol.AppConfig{
		MsInfo: &protocol.MsInfo{SerialNr: "504F94000001"},
		Rooms: map[string]protocol.Container{
			"10000000-0000-0000-0000000000000001": {UUID: "10000000-0000-0000-0000000000000001", Name: "Kitchen"},
		},
		Controls: map[string]protocol.ControlInfo{
			"30000000-0000-0000-0000000000000001": {
				UUIDAction: "30000000-0000-0000-0000000000000001", Name: "Ceiling", Type: "Switch",
				Room:   "10000000-0000-0000-0000000000000001",
				States: map[string]json.RawMessage{"active": raw("40000000-0000-0000-0000000000000001")},
			},
			"30000000-0000-0000-0000000000000002": {
				UUIDAction: "30000000-0000-0000-0000000000000002", Name: "Unknown", Type: "Webpage",
			},
		},
	}
	g := graph.New(controls.DefaultRegistry())
	g.Merge(cfg)
	g.Apply(protocol.StateUpdate{ID: ident.Parse("40000000-0000-0000-0000000000000001"), Value: 1})

	rows := controlRows(g)
	if len(rows) != 1 {
		t.Fatalf("controlRows() = %d rows, want 1 (unsupported types skipped)", len(rows))
	}
	r := rows[0]
	if r.Name != "Ceiling" || r.Room != "Kitchen" || r.Type != "Switch" || r.Value != "on" {
		t.Errorf("row = %+v", r)
	}
}
