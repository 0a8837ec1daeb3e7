// Package bluez discovers paired Bluetooth readers through BlueZ on the
// system D-Bus. Readers are reached over RFCOMM serial bindings, so each
// device is paired with the /dev/rfcommN node bound to its address.
package bluez

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/dotside-studios/rfid-reader-agent/rfid"
)

const (
	busName             = "org.bluez"
	deviceInterface     = "org.bluez.Device1"
	objectManager       = "org.freedesktop.DBus.ObjectManager"
	getManagedObjects   = objectManager + ".GetManagedObjects"
	signalAdded         = objectManager + ".InterfacesAdded"
	signalRemoved       = objectManager + ".InterfacesRemoved"
	propertiesInterface = "org.freedesktop.DBus.Properties"
	signalBuffer        = 16
)

// ManagedObjects is the GetManagedObjects reply shape.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// ObjectSource supplies BlueZ's object tree.
type ObjectSource interface {
	ManagedObjects(ctx context.Context) (ManagedObjects, error)
}

// busSource reads objects from a live D-Bus connection.
type busSource struct {
	conn *dbus.Conn
}

func (s busSource) ManagedObjects(ctx context.Context) (ManagedObjects, error) {
	var objs ManagedObjects
	call := s.conn.Object(busName, "/").CallWithContext(ctx, getManagedObjects, 0)
	if call.Err != nil {
		return nil, fmt.Errorf("failed to query BlueZ objects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("failed to decode BlueZ objects: %w", err)
	}
	return objs, nil
}

// ReadersFromObjects converts paired BlueZ devices to readers. bindings maps
// upper-case device addresses to RFCOMM device nodes; devices without a
// binding are still reported, with an empty transport address.
func ReadersFromObjects(objs ManagedObjects, bindings map[string]string) []rfid.Reader {
	paths := make([]string, 0, len(objs))
	for path := range objs {
		paths = append(paths, string(path))
	}
	sort.Strings(paths)

	var readers []rfid.Reader
	for _, path := range paths {
		props, ok := objs[dbus.ObjectPath(path)][deviceInterface]
		if !ok {
			continue
		}
		if !boolProp(props, "Paired") {
			continue
		}
		address := strings.ToUpper(stringProp(props, "Address"))
		if address == "" {
			continue
		}
		name := stringProp(props, "Alias")
		if name == "" {
			name = stringProp(props, "Name")
		}
		readers = append(readers, rfid.Reader{
			ID:          "bt:" + address,
			DisplayName: name,
			Transports: []rfid.Transport{{
				Kind:    rfid.TransportBluetooth,
				Address: bindings[address],
			}},
		})
	}
	return readers
}

func stringProp(props map[string]dbus.Variant, key string) string {
	v, ok := props[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func boolProp(props map[string]dbus.Variant, key string) bool {
	v, ok := props[key]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

// Discovery reports paired Bluetooth readers.
type Discovery struct {
	source   ObjectSource
	conn     *dbus.Conn // nil when built from a custom source
	bindings map[string]string
	logger   *log.Logger

	feeds rfid.FeedList

	mu      sync.Mutex
	set     *rfid.DiscoverySet
	paused  bool
	signals chan *dbus.Signal
	stopCh  chan struct{}
	stopped chan struct{}
}

// Options configures a Discovery.
type Options struct {
	// Bindings maps device addresses (AA:BB:CC:DD:EE:FF) to RFCOMM nodes.
	Bindings map[string]string
	Logger   *log.Logger
}

// New connects to the system bus and creates a Discovery.
func New(opts Options) (*Discovery, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	d := NewWithSource(busSource{conn: conn}, opts)
	d.conn = conn
	return d, nil
}

// NewWithSource creates a Discovery over an arbitrary object source.
func NewWithSource(source ObjectSource, opts Options) *Discovery {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[bluez] ", log.LstdFlags)
	}
	bindings := make(map[string]string, len(opts.Bindings))
	for addr, node := range opts.Bindings {
		bindings[strings.ToUpper(addr)] = node
	}
	return &Discovery{
		source:   source,
		bindings: bindings,
		logger:   opts.Logger,
		set:      rfid.NewDiscoverySet(),
	}
}

// Subscribe implements rfid.Discovery.
func (d *Discovery) Subscribe(feed rfid.DiscoveryFeed) func() {
	return d.feeds.Subscribe(feed)
}

// Refresh implements rfid.Discovery.
func (d *Discovery) Refresh(ctx context.Context) error {
	objs, err := d.source.ManagedObjects(ctx)
	if err != nil {
		return err
	}
	readers := ReadersFromObjects(objs, d.bindings)

	d.mu.Lock()
	added, updated, removed := d.set.Apply(readers)
	d.mu.Unlock()

	for _, r := range added {
		if r.Transports[0].Address == "" {
			d.logger.Printf("Paired device %s (%s) has no RFCOMM binding", r.Name(), r.ID)
		}
	}
	d.feeds.Notify(added, updated, removed)
	return nil
}

// Start watches BlueZ for devices appearing and disappearing and refreshes
// on every change. It is a no-op for discoveries without a bus connection.
func (d *Discovery) Start() error {
	if d.conn == nil {
		return nil
	}
	d.mu.Lock()
	if d.stopCh != nil {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	for _, member := range []string{"InterfacesAdded", "InterfacesRemoved"} {
		if err := d.conn.AddMatchSignal(
			dbus.WithMatchSender(busName),
			dbus.WithMatchInterface(objectManager),
			dbus.WithMatchMember(member),
		); err != nil {
			return fmt.Errorf("failed to watch %s: %w", member, err)
		}
	}
	if err := d.conn.AddMatchSignal(
		dbus.WithMatchSender(busName),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, deviceInterface),
	); err != nil {
		return fmt.Errorf("failed to watch device properties: %w", err)
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	d.conn.Signal(signals)

	d.mu.Lock()
	d.signals = signals
	d.stopCh = make(chan struct{})
	d.stopped = make(chan struct{})
	stopCh, stopped := d.stopCh, d.stopped
	d.mu.Unlock()

	go d.watch(signals, stopCh, stopped)
	return nil
}

func (d *Discovery) watch(signals <-chan *dbus.Signal, stopCh <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if !relevantSignal(sig) || d.isPaused() {
				continue
			}
			if err := d.Refresh(context.Background()); err != nil {
				d.logger.Printf("Refresh after %s failed: %v", sig.Name, err)
			}
		case <-stopCh:
			return
		}
	}
}

func relevantSignal(sig *dbus.Signal) bool {
	if sig == nil {
		return false
	}
	switch sig.Name {
	case signalAdded, signalRemoved, propertiesInterface + ".PropertiesChanged":
		return true
	}
	return false
}

// Stop ends the signal watch and releases the bus subscription.
func (d *Discovery) Stop() {
	d.mu.Lock()
	stopCh, stopped, signals := d.stopCh, d.stopped, d.signals
	d.stopCh, d.stopped, d.signals = nil, nil, nil
	d.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stopped
	d.conn.RemoveSignal(signals)
}

func (d *Discovery) isPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Pause implements rfid.Discovery.
func (d *Discovery) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume implements rfid.Discovery.
func (d *Discovery) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
}

// DidCauseOnPause implements rfid.Discovery.
func (d *Discovery) DidCauseOnPause() bool {
	return false
}
