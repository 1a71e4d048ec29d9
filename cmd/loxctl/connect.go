package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/term"

	"github.com/muurk/loxone/internal/client"
	"github.com/muurk/loxone/internal/config"
	"github.com/muurk/loxone/internal/controls"
	"github.com/muurk/loxone/internal/graph"
	"github.com/muurk/loxone/internal/offline"
	"github.com/muurk/loxone/internal/security"
	"github.com/muurk/loxone/internal/session"
	"github.com/muurk/loxone/internal/settings"
	"github.com/muurk/loxone/internal/ui"
	"github.com/muurk/loxone/internal/version"
)

// applyOverrides folds command line flags into the loaded configuration.
func applyOverrides(c *config.Config, host, user, security, level string) error {
	if host != "" {
		if h, p, err := net.SplitHostPort(host); err == nil {
			port, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("invalid port in --host %q", host)
			}
			c.Miniserver.Host, c.Miniserver.Port = h, port
		} else {
			c.Miniserver.Host = host
		}
	}
	if user != "" {
		c.Miniserver.User = user
	}
	if security != "" {
		c.Miniserver.Security = security
	}
	if level != "" {
		c.Log.Level = level
	}
	return c.Validate()
}

// openSettings opens the settings database and returns the store for the
// configured Miniserver. A configured password is written to the store so
// the security layer finds it.
func openSettings(c *config.Config) (*settings.DB, settings.Store, error) {
	if err := os.MkdirAll(filepath.Dir(c.Settings.Path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create settings directory: %w", err)
	}
	db, err := settings.Open(c.Settings.Path)
	if err != nil {
		return nil, nil, err
	}
	store := db.Namespace(c.Miniserver.Address())
	if c.Miniserver.Password != "" {
		if err := store.Set(settings.KeyPassword, c.Miniserver.Password); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return db, store, nil
}

// promptPassword asks for a password when neither a password nor a token is
// stored and stdin is a terminal.
func promptPassword(store settings.Store, user string) error {
	if _, ok := store.Get(settings.KeyPassword); ok {
		return nil
	}
	if _, ok := store.Get(settings.KeyAuthToken); ok {
		return nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", user)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	return store.Set(settings.KeyPassword, string(pw))
}

// sessionOptions builds session options from the configuration.
func sessionOptions(c *config.Config, store settings.Store) (session.Options, error) {
	if c.Miniserver.Host == "" {
		return session.Options{}, errors.New("no Miniserver host configured (use --host or miniserver.host)")
	}
	if c.Miniserver.User == "" {
		return session.Options{}, errors.New("no Miniserver user configured (use --user or miniserver.user)")
	}
	secType, err := security.ParseType(c.Miniserver.Security)
	if err != nil {
		return session.Options{}, err
	}
	info := c.Miniserver.ClientInfo
	if info == "" {
		info = version.ClientInfo()
	}

	ct := client.Timeouts{
		KeepalivePeriod:    c.Timeouts.KeepalivePeriod.D(),
		ResponseTimeout:    c.Timeouts.ResponseTimeout.D(),
		MaxBinaryMessageKB: c.Limits.MaxBinaryMessageKB,
		MaxTextMessageKB:   c.Limits.MaxTextMessageKB,
	}
	return session.Options{
		Client: client.Options{
			Host:               c.Miniserver.Address(),
			User:               c.Miniserver.User,
			Security:           secType,
			Settings:           store,
			KeepalivePeriod:    ct.KeepalivePeriod,
			ResponseTimeout:    ct.ResponseTimeout,
			MaxBinaryMessageKB: ct.MaxBinaryMessageKB,
			MaxTextMessageKB:   ct.MaxTextMessageKB,
			ClientInfo:         info,
		},
		Timeouts: session.Timeouts{
			FirstConnectDelay:       c.Timeouts.FirstConnectDelay.D(),
			ConnectErrorDelay:       c.Timeouts.ConnectErrorDelay.D(),
			UserErrorDelay:          c.Timeouts.UserErrorDelay.D(),
			CommunicationErrorDelay: c.Timeouts.CommunicationErrorDelay.D(),
			Client:                  ct,
		},
		Registry: controls.DefaultRegistry(),
	}, nil
}

// oneShot is a session used by a single command. It is ready once the
// structure file has been merged and state updates are enabled.
type oneShot struct {
	sess     *session.Session
	db       *settings.DB
	progress *ui.Progress
	ready    chan struct{}
	failed   chan error
	updates  chan struct{}
}

// connectOnce starts a session and waits until it is online, the first
// attempt fails or timeout passes.
func connectOnce(ctx context.Context, timeout time.Duration) (*oneShot, error) {
	db, store, err := openSettings(cfg)
	if err != nil {
		return nil, err
	}
	if err := promptPassword(store, cfg.Miniserver.User); err != nil {
		db.Close()
		return nil, err
	}
	opts, err := sessionOptions(cfg, store)
	if err != nil {
		db.Close()
		return nil, err
	}
	// no point waiting before the only attempt
	opts.Timeouts.FirstConnectDelay = time.Millisecond

	o := &oneShot{
		sess:     session.New(opts),
		db:       db,
		progress: ui.NewProgress("Connecting to "+cfg.Miniserver.Address(), ui.ConnectSteps),
		ready:    make(chan struct{}, 1),
		failed:   make(chan error, 1),
		updates:  make(chan struct{}, 1),
	}
	o.sess.AddListener(session.ListenerFuncs{
		Configuration: func(g *graph.Graph) {
			o.progress.CompleteStep(1, "")
			o.progress.CompleteStep(2, fmt.Sprintf("%d controls", len(g.Controls())))
			o.progress.StartStep(3, "")
		},
		Online: func() {
			o.progress.CompleteStep(3, "")
			select {
			case o.ready <- struct{}{}:
			default:
			}
		},
		Offline: func(reason offline.Reason, detail string) {
			select {
			case o.failed <- offline.New(reason, detail):
			default:
			}
		},
		StateUpdate: func(*graph.Control, string) {
			select {
			case o.updates <- struct{}{}:
			default:
			}
		},
	})

	o.progress.StartStep(1, "")
	if err := o.sess.Start(ctx); err != nil {
		o.close()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-o.ready:
		return o, nil
	case err := <-o.failed:
		o.fail(err.Error())
		o.close()
		return o, err
	case <-timer.C:
		err := fmt.Errorf("no connection to %s within %s", cfg.Miniserver.Address(), timeout)
		o.fail("timeout")
		o.close()
		return o, err
	case <-ctx.Done():
		o.close()
		return o, ctx.Err()
	}
}

// settle waits until no state update has arrived for quiet, or at most
// limit. The initial value tables follow right after updates are enabled.
func (o *oneShot) settle(ctx context.Context, quiet, limit time.Duration) {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	idle := time.NewTimer(quiet)
	defer idle.Stop()
	for {
		select {
		case <-o.updates:
			idle.Reset(quiet)
		case <-idle.C:
			return
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *oneShot) fail(msg string) {
	for _, s := range o.progress.Steps {
		if s.Status == ui.StepRunning {
			o.progress.FailStep(s.Number, msg)
			break
		}
	}
	o.progress.SkipRemaining("")
}

func (o *oneShot) close() {
	o.sess.Stop()
	o.db.Close()
}

// troubleshooting returns hints for a failed connection.
func troubleshooting(err error) []string {
	switch offline.ReasonOf(err) {
	case offline.Unauthorized:
		return []string{
			"Check the user name and password",
			"Set the password with miniserver.password or answer the prompt",
			"A revoked token is removed automatically, retry once",
		}
	case offline.TooManyFailedLoginAttempts:
		return []string{
			"The Miniserver has blocked this user after failed logins",
			"Wait for the block to expire before retrying",
		}
	default:
		return []string{
			"Ensure the Miniserver is powered on and reachable",
			"Verify host and port (loxctl discover lists Miniservers on the LAN)",
			"Try --security hash for firmware older than 9.0",
			"Run with --log-level debug for protocol details",
		}
	}
}

// controlRows converts the graph into table rows. Sub-controls are listed
// after their parent with the parent name as prefix.
func controlRows(g *graph.Graph) []ui.ControlRow {
	var rows []ui.ControlRow
	for _, ctl := range g.Controls() {
		if ctl.Parent() != "" {
			continue
		}
		row := controlRow(g, ctl, "")
		rows = append(rows, row)
		for _, child := range ctl.Children() {
			sub := controlRow(g, child, ctl.Name()+" / ")
			if sub.Room == "" {
				sub.Room = row.Room
			}
			rows = append(rows, sub)
		}
	}
	return rows
}

func controlRow(g *graph.Graph, ctl *graph.Control, prefix string) ui.ControlRow {
	row := ui.ControlRow{
		Name:  prefix + ctl.Name(),
		Type:  ctl.Type(),
		Value: ctl.Format(),
		ID:    ctl.ID().String(),
	}
	if room := g.Room(ctl.Room()); room != nil {
		row.Room = room.Name()
	}
	return row
}
