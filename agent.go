package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/dotside-studios/rfid-reader-agent/config"
	"github.com/dotside-studios/rfid-reader-agent/mirror"
	"github.com/dotside-studios/rfid-reader-agent/rfid"
	"github.com/dotside-studios/rfid-reader-agent/rfid/bluez"
	"github.com/dotside-studios/rfid-reader-agent/rfid/multidiscovery"
	"github.com/dotside-studios/rfid-reader-agent/rfid/serialport"
	"github.com/dotside-studios/rfid-reader-agent/server"
	"github.com/dotside-studios/rfid-reader-agent/tls"
)

// Snapshot is the agent's view of the reader session, kept current from
// the controller's events.
type Snapshot struct {
	Status       rfid.ConnectionStatus
	ReaderName   string
	BatteryLevel *int
	Inventorying bool
	LastEPC      string
	LastRSSI     int
	TagReads     int
	Trigger      rfid.TriggerState
}

type Agent struct {
	Logger *log.Logger
	Config config.Config

	Controller *rfid.Controller
	Server     *server.Server
	Mirror     *mirror.Mirror // nil unless a Redis address is configured

	// TLS files, set by Start when TLS is enabled
	CertFile string
	KeyFile  string
	CAFile   string

	discovery   *multidiscovery.MultiDiscovery
	commander   *serialport.Commander
	unsubscribe []func()

	mu       sync.RWMutex
	running  bool
	snapshot Snapshot
}

func NewAgent(cfg config.Config) *Agent {
	return &Agent{
		Logger:   log.New(os.Stderr, "[agent] ", log.LstdFlags),
		Config:   cfg,
		snapshot: Snapshot{Status: rfid.StatusDisconnected},
	}
}

// Running reports whether Start succeeded and Stop has not been called.
func (a *Agent) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Session returns the running controller, or nil when stopped.
func (a *Agent) Session() *rfid.Controller {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.running {
		return nil
	}
	return a.Controller
}

// Snapshot returns the latest session state.
func (a *Agent) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// observe folds a controller event into the snapshot.
func (a *Agent) observe(ev rfid.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch data := ev.Data.(type) {
	case rfid.ConnectionPayload:
		a.snapshot.Status = data.Status
		if data.Status == rfid.StatusConnected {
			a.snapshot.ReaderName = data.ReaderName
			a.snapshot.BatteryLevel = data.BatteryLevel
		} else {
			a.snapshot.ReaderName = ""
			a.snapshot.BatteryLevel = nil
		}
		if data.Status == rfid.StatusDisconnected {
			a.snapshot.Inventorying = false
			a.snapshot.Trigger = ""
		}
	case rfid.TagPayload:
		a.snapshot.LastEPC = data.EPC
		a.snapshot.LastRSSI = data.RSSI
		a.snapshot.TagReads++
	case rfid.TriggerPayload:
		a.snapshot.Trigger = data.State
	case rfid.InventoryPayload:
		a.snapshot.Inventorying = data.IsRunning
		if data.IsRunning {
			a.snapshot.TagReads = 0
		}
	}
}

// newDiscovery builds the discovery fan-in: USB serial ports first, then
// the BlueZ feed when Bluetooth is enabled.
func (a *Agent) newDiscovery() *multidiscovery.MultiDiscovery {
	entries := []multidiscovery.Entry{{
		Name: "usb",
		Discovery: serialport.NewDiscovery(serialport.DiscoveryOptions{
			PollInterval: a.Config.PollInterval,
		}),
	}}

	if a.Config.Bluetooth {
		bt, err := bluez.New(bluez.Options{Bindings: a.Config.RFCOMM})
		if err != nil {
			a.Logger.Printf("Warning: Bluetooth discovery unavailable: %v", err)
		} else {
			entries = append(entries, multidiscovery.Entry{Name: "bluetooth", Discovery: bt})
		}
	}

	return multidiscovery.New(entries...)
}

func (a *Agent) ensureTLS() error {
	if !a.Config.TLS {
		return nil
	}
	mgr := tls.NewManager(a.Config.ConfigDir)
	certFile, keyFile, err := mgr.EnsureCertificates()
	if err != nil {
		return fmt.Errorf("failed to prepare TLS certificates: %w", err)
	}
	a.CertFile, a.KeyFile, a.CAFile = certFile, keyFile, mgr.GetCACertFile()
	return nil
}

// Start wires the reader session, the optional mirror and the bridge, then
// initializes the session. The bridge runs in its own goroutine.
func (a *Agent) Start(ctx context.Context) error {
	if a.Running() {
		return errors.New("agent is already running")
	}

	if err := a.ensureTLS(); err != nil {
		return err
	}

	a.commander = serialport.NewCommander(serialport.Options{BaudRate: a.Config.BaudRate})
	a.discovery = a.newDiscovery()
	ctrl := rfid.NewController(rfid.Config{
		Commander:         a.commander,
		Discovery:         a.discovery,
		InventoryInterval: a.Config.InventoryInterval,
	})
	a.mu.Lock()
	a.Controller = ctrl
	a.mu.Unlock()
	a.unsubscribe = append(a.unsubscribe, ctrl.Events().Subscribe(a.observe))

	if a.Config.RedisAddr != "" {
		m, err := mirror.New(ctx, mirror.Options{
			Addr:      a.Config.RedisAddr,
			Password:  a.Config.RedisPassword,
			KeyPrefix: a.Config.RedisKey,
		})
		if err != nil {
			a.Logger.Printf("Warning: Redis mirror disabled: %v", err)
		} else {
			a.Mirror = m
			a.unsubscribe = append(a.unsubscribe, ctrl.Events().Subscribe(m.Handle))
		}
	}

	srv, err := server.New(server.Config{
		Controller:     ctrl,
		Port:           a.Config.Port,
		APISecret:      a.Config.APISecret,
		MDNS:           a.Config.MDNS,
		CertFile:       a.CertFile,
		KeyFile:        a.KeyFile,
		CAFile:         a.CAFile,
		CommandTimeout: a.Config.CommandTimeout,
	})
	if err != nil {
		a.teardown()
		return err
	}
	a.Server = srv

	go func() {
		if err := srv.Start(); err != nil {
			a.Logger.Printf("Bridge server error: %v", err)
		}
	}()

	if err := ctrl.Initialize(ctx); err != nil {
		a.teardown()
		return fmt.Errorf("failed to initialize reader session: %w", err)
	}
	if err := a.discovery.Start(); err != nil {
		a.Logger.Printf("Warning: %v", err)
	}

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	a.Logger.Printf("Agent started on port %d", a.Config.Port)
	return nil
}

// teardown releases everything Start created, in reverse order.
func (a *Agent) teardown() {
	if a.Server != nil {
		a.Server.Stop()
		a.Server = nil
	}
	if a.discovery != nil {
		a.discovery.Stop()
		a.discovery = nil
	}
	a.mu.Lock()
	ctrl := a.Controller
	a.Controller = nil
	a.mu.Unlock()
	if ctrl != nil {
		ctrl.Close()
	}
	for _, unsub := range a.unsubscribe {
		unsub()
	}
	a.unsubscribe = nil

	if a.Mirror != nil {
		if err := a.Mirror.Close(); err != nil {
			a.Logger.Printf("Mirror close error: %v", err)
		}
		a.Mirror = nil
	}
	if a.commander != nil {
		a.commander.Close()
		a.commander = nil
	}
}

func (a *Agent) Stop() {
	if !a.Running() {
		a.Logger.Println("Agent is not running")
		return
	}

	a.Logger.Println("Stopping agent...")
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.teardown()

	a.mu.Lock()
	a.snapshot = Snapshot{Status: rfid.StatusDisconnected}
	a.mu.Unlock()

	a.Logger.Println("Agent stopped successfully")
}

// BridgeURL returns the WebSocket address of the bridge on host.
func (a *Agent) BridgeURL(host string) string {
	scheme := "ws"
	if a.CertFile != "" && a.KeyFile != "" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, host, a.Config.Port, server.RouteWebSocket)
}

// CAURL returns the CA download address on host, or "" without TLS.
func (a *Agent) CAURL(host string) string {
	if a.CAFile == "" {
		return ""
	}
	return fmt.Sprintf("https://%s:%d%s", host, a.Config.Port, server.RouteCACert)
}
