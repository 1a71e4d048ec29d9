package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/config"
	"github.com/muurk/loxone/internal/discovery"
	"github.com/muurk/loxone/internal/ident"
	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/metrics"
	"github.com/muurk/loxone/internal/mqttbridge"
	"github.com/muurk/loxone/internal/server"
	"github.com/muurk/loxone/internal/session"
	"github.com/muurk/loxone/internal/ui"
)

// Command flags
var (
	scanTimeout    time.Duration
	connectTimeout time.Duration
	rawAction      bool
	noSave         bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(controlsCmd)
	rootCmd.AddCommand(sendCmd)

	discoverCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for mDNS answers")
	discoverCmd.Flags().BoolVar(&noSave, "no-save", false, "Do not record found Miniservers in the config file")

	for _, c := range []*cobra.Command{controlsCmd, sendCmd} {
		c.Flags().DurationVar(&connectTimeout, "timeout", 30*time.Second, "How long to wait for the connection")
	}
	sendCmd.Flags().BoolVar(&rawAction, "raw", false, "Send <op> as a raw action string instead of a control operation")
}

// runCmd keeps a session open until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect and keep the Miniserver model up to date",
	Long: `Connect to the configured Miniserver and keep the connection up.

The session reconnects after failures: 10s after a failed connect, 60s after
rejected credentials and 30s after a communication error. It stops for good
when the Miniserver reports too many failed logins.

While running, loxctl serves /health, /metrics and /api/controls on
metrics.addr and, when mqtt.broker is set, publishes control states to MQTT
and accepts commands on <prefix>/<node>/<control>/set.

SIGHUP reloads the timeouts from the config file.`,
	Example: `  # Run with the config file
  loxctl run

  # Override the Miniserver and log verbosely
  loxctl run --host 192.168.1.77 --user admin --log-level debug`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	db, store, err := openSettings(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := promptPassword(store, cfg.Miniserver.User); err != nil {
		return err
	}
	opts, err := sessionOptions(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(opts)
	health := server.NewHealth()
	sess.AddListener(health)
	m := metrics.New(cfg.Miniserver.Address())
	sess.AddListener(m)

	if cfg.MQTT.Enabled() {
		bridge, err := startBridge(sess)
		if err != nil {
			return err
		}
		defer bridge.Close()
		sess.AddListener(bridge)
	}

	if cfg.Metrics.Addr != "" {
		srv, err := server.New(&server.Config{
			Addr:    cfg.Metrics.Addr,
			Backend: sess,
			Health:  health,
			Metrics: m.Handler(),
		})
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Warn("Server shutdown failed", zap.Error(err))
			}
		}()
	}

	if err := sess.Start(ctx); err != nil {
		return err
	}
	logging.Info("Session started",
		logging.Miniserver(cfg.Miniserver.Address()),
		zap.String("user", cfg.Miniserver.User),
		zap.String("security", cfg.Miniserver.Security),
	)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			reloadTimeouts(sess)
		case <-sess.Done():
			if err := sess.Err(); err != nil {
				fmt.Fprintln(os.Stderr, ui.RenderFailure("Session ended", err, troubleshooting(err)))
				return err
			}
			return nil
		case <-ctx.Done():
			logging.Info("Shutting down")
			sess.Stop()
			return nil
		}
	}
}

func startBridge(sess *session.Session) (*mqttbridge.Bridge, error) {
	bopts := mqttbridge.Options{
		Prefix: cfg.MQTT.TopicPrefix,
		Node:   cfg.Miniserver.Host,
		QoS:    cfg.MQTT.QoS,
	}
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "loxctl-" + cfg.Miniserver.Host
	}
	pub, err := mqttbridge.Dial(mqttbridge.BrokerOptions{
		Broker:      cfg.MQTT.Broker,
		ClientID:    clientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		WillTopic:   mqttbridge.StatusTopic(bopts),
		WillPayload: []byte("offline"),
		QoS:         cfg.MQTT.QoS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	bridge := mqttbridge.New(pub, sess, bopts)
	if err := bridge.Start(); err != nil {
		bridge.Close()
		return nil, fmt.Errorf("failed to start MQTT bridge: %w", err)
	}
	return bridge, nil
}

func reloadTimeouts(sess *session.Session) {
	c, err := config.Load(configPath)
	if err == nil {
		err = applyOverrides(c, hostFlag, userFlag, secFlag, logLevel)
	}
	if err != nil {
		logging.Error("Reload failed", zap.Error(err))
		return
	}
	opts, err := sessionOptions(c, nil)
	if err != nil {
		logging.Error("Reload failed", zap.Error(err))
		return
	}
	sess.Update(opts.Timeouts)
	logging.Info("Timeouts reloaded", zap.String("path", configPath))
}

// discoverCmd finds Miniservers on the LAN
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find Miniservers on the local network",
	Long: `Find Miniservers using mDNS/DNS-SD.

Found Miniservers are recorded under 'known' in the config file, keyed by
serial number, so their last address survives DHCP changes.`,
	Example: `  # Listen for 5 seconds (default)
  loxctl discover

  # Longer scan, do not touch the config file
  loxctl discover --timeout 15s --no-save`,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	fmt.Println(ui.RenderCommandHeader(ui.HeaderConfig{
		Title:   "Discover",
		Command: "loxctl discover",
		Params:  []ui.Field{{Key: "Timeout", Value: scanTimeout.String()}},
	}))
	fmt.Println()

	found, err := discovery.Scan(cmd.Context(), scanTimeout)
	if err != nil {
		fmt.Println(ui.RenderFailure("Discovery failed", err, []string{
			"Multicast must be allowed on this interface",
			"Use --host to connect to a known address",
		}))
		return err
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Serial < found[j].Serial })

	rows := make([]ui.MiniserverRow, 0, len(found))
	for _, ms := range found {
		_, known := cfg.Known[ms.Serial]
		rows = append(rows, ui.MiniserverRow{
			Serial:  ms.Serial,
			Name:    ms.Name,
			Address: ms.Address(),
			Known:   known,
		})
		cfg.RememberHost(ms.Serial, ms.Name, ms.IP)
	}
	fmt.Println(ui.RenderMiniservers(rows))

	if len(found) == 0 || noSave {
		return nil
	}
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Println()
	fmt.Println(ui.RenderSuccess("Recorded", ui.Field{Key: "Config", Value: configPath}))
	return nil
}

// controlsCmd lists controls with their current values
var controlsCmd = &cobra.Command{
	Use:   "controls",
	Short: "List controls and their current values",
	Long: `Connect once, load the structure file and print every supported control
grouped by room, with the value of its main state.`,
	Example: `  loxctl controls --host 192.168.1.77 --user admin`,
	RunE:    runControls,
}

func runControls(cmd *cobra.Command, args []string) error {
	printConnectHeader("Controls", "loxctl controls")

	o, err := connectOnce(cmd.Context(), connectTimeout)
	if err != nil {
		return reportConnectFailure(o, err)
	}
	defer o.close()

	o.settle(cmd.Context(), 300*time.Millisecond, 3*time.Second)
	fmt.Println(o.progress.Render())
	fmt.Println()
	fmt.Println(ui.RenderControls(controlRows(o.sess.Graph())))
	return nil
}

// sendCmd sends one command to a control
var sendCmd = &cobra.Command{
	Use:   "send <control-id> <op> [args...]",
	Short: "Send a command to a control",
	Long: `Connect once and send an operation to a control.

Operations depend on the control type, e.g. on/off for switches, set <value>
for dimmers, up/down/stop/fullup/fulldown/shade for blinds and mood <id> for
light controllers. With --raw, <op> is sent unchanged as the action string.`,
	Example: `  # Switch a light on
  loxctl send 0b734138-03ac-03c0-ffffeee000240011 on

  # Dim to 40%
  loxctl send 0b734138-03ac-03c0-ffffeee000240012 set 40

  # Raw action
  loxctl send 0b734138-03ac-03c0-ffffeee000240011 Pulse --raw`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	printConnectHeader("Send", "loxctl send")

	o, err := connectOnce(cmd.Context(), connectTimeout)
	if err != nil {
		return reportConnectFailure(o, err)
	}
	defer o.close()
	fmt.Println(o.progress.Render())
	fmt.Println()

	id, op := args[0], args[1]
	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
	defer cancel()
	if rawAction {
		err = o.sess.SendAction(ctx, id, op)
	} else {
		err = o.sess.Operate(ctx, id, op, args[2:]...)
	}
	if err != nil {
		tips := []string{"Run 'loxctl controls' to list control ids and types"}
		if errors.Is(err, session.ErrUnknownControl) {
			tips = append(tips, "Control ids are the UUIDs from the structure file")
		}
		fmt.Println(ui.RenderFailure("Command failed", err, tips))
		return err
	}

	details := []ui.Field{{Key: "Control", Value: id}, {Key: "Operation", Value: op}}
	if ctl := o.sess.Graph().Control(ident.Parse(id)); ctl != nil {
		details[0].Value = ctl.Name()
	}
	fmt.Println(ui.RenderSuccess("Command sent", details...))
	return nil
}

func printConnectHeader(title, command string) {
	fmt.Println(ui.RenderCommandHeader(ui.HeaderConfig{
		Title:   title,
		Command: command,
		Params: []ui.Field{
			{Key: "Miniserver", Value: cfg.Miniserver.Address()},
			{Key: "User", Value: cfg.Miniserver.User},
			{Key: "Security", Value: cfg.Miniserver.Security},
		},
	}))
	fmt.Println()
}

func reportConnectFailure(o *oneShot, err error) error {
	if o != nil {
		fmt.Println(o.progress.Render())
		fmt.Println()
	}
	fmt.Println(ui.RenderFailure("Connection failed", err, troubleshooting(err)))
	return err
}
