package rfid

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Config holds the controller's collaborators.
type Config struct {
	Commander Commander
	Discovery Discovery // optional

	// Dispatcher receives every outbound event. When nil the controller
	// creates one and closes it on Close.
	Dispatcher *Dispatcher

	Clock             Clock
	InventoryInterval time.Duration
	InventoryTimeout  time.Duration // per request, DefaultInventoryTimeout when zero
	Logger            *log.Logger
}

// ConnectResult is returned by Connect. Connected is set once a reader is
// selected and its link is up or being brought up; Status tells the two
// apart.
type ConnectResult struct {
	Connected      bool
	Status         ConnectionStatus
	ReaderName     string
	RfidDevices    []string
	IgnoredDevices []string
}

// Controller owns the active reader and the inventory session. Every state
// transition runs on a single actor goroutine; exported methods and
// collaborator callbacks hand work to it.
type Controller struct {
	commander Commander
	discovery Discovery
	registry  *Registry
	events    *Dispatcher
	ownEvents bool
	clock     Clock
	inventory *InventorySession
	logger    *log.Logger

	qmu    sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	closeOnce sync.Once

	// Actor-owned state
	initialized    bool
	activeID       string
	lastNotified   ConnectionStatus
	unsubRegistry  func()
	unsubDiscovery func()
}

// NewController creates a controller and starts its actor.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[rfid] ", log.LstdFlags)
	}

	c := &Controller{
		commander: cfg.Commander,
		discovery: cfg.Discovery,
		registry:  NewRegistry(),
		events:    cfg.Dispatcher,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if c.events == nil {
		c.events = NewDispatcher(cfg.Clock)
		c.ownEvents = true
	}

	c.inventory = NewInventorySession(cfg.Commander, cfg.Clock, cfg.InventoryInterval, c.post, cfg.Logger)
	c.inventory.onTag = func(tag TagRead) {
		c.events.Emit(EventTag, TagPayload{EPC: tag.EPC, RSSI: tag.RSSI})
	}
	c.inventory.onFailure = c.emitInventoryStopped
	if cfg.InventoryTimeout > 0 {
		c.inventory.timeout = cfg.InventoryTimeout
	}

	go c.run()
	return c
}

// Events returns the dispatcher carrying the controller's events.
func (c *Controller) Events() *Dispatcher {
	return c.events
}

// Registry returns the reader registry. It is safe to read from any
// goroutine; mutations must go through the discovery feed methods.
func (c *Controller) Registry() *Registry {
	return c.registry
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		c.qmu.Lock()
		batch := c.queue
		c.queue = nil
		closed := c.closed
		c.qmu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-c.wake
	}
}

// post queues fn on the actor without waiting. It never blocks and is safe
// to call from the actor itself.
func (c *Controller) post(fn func()) bool {
	c.qmu.Lock()
	if c.closed {
		c.qmu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.qmu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the actor and waits for it. It must not be called from the
// actor.
func (c *Controller) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrControllerClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerClosed
	}
}

// Close tears the session down, as OnDestroy does, and stops the actor.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		_ = c.OnDestroy(context.Background())

		c.qmu.Lock()
		c.closed = true
		c.qmu.Unlock()
		select {
		case c.wake <- struct{}{}:
		default:
		}
		<-c.done

		if c.ownEvents {
			c.events.Close()
		}
	})
	return nil
}

// Host commands

// Initialize subscribes to the commander and the discovery feed, emits the
// current connection status and refreshes discovery. It is idempotent.
func (c *Controller) Initialize(ctx context.Context) error {
	var already bool
	if err := c.do(ctx, func() {
		already = c.initialized
		if !already {
			c.subscribe()
			c.notifyStatus(true)
		}
	}); err != nil {
		return err
	}
	if !already {
		c.refreshDiscovery(ctx)
	}
	return nil
}

// CheckConnection emits the current connection status and returns it.
func (c *Controller) CheckConnection(ctx context.Context) (ConnectionStatus, error) {
	var status ConnectionStatus
	err := c.do(ctx, func() {
		c.notifyStatus(true)
		status = c.status()
	})
	return status, err
}

// Connect refreshes discovery, selects a reader and starts connecting to it.
// It fails with NO_READER when no device passes the classifier.
func (c *Controller) Connect(ctx context.Context) (ConnectResult, error) {
	if err := c.Initialize(ctx); err != nil {
		return ConnectResult{}, err
	}
	c.refreshDiscovery(ctx)

	var (
		res     ConnectResult
		connErr error
	)
	if err := c.do(ctx, func() { res, connErr = c.connect() }); err != nil {
		return ConnectResult{}, err
	}
	return res, connErr
}

// Disconnect drops the active reader. It is a no-op without one.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.do(ctx, func() {
		if _, ok := c.activeReader(); !ok {
			return
		}
		c.logger.Println("Disconnect requested")
		c.releaseActive(true)
		c.notifyStatus(false)
	})
}

// Status returns the normalized connection status.
func (c *Controller) Status(ctx context.Context) (ConnectionStatus, error) {
	var status ConnectionStatus
	err := c.do(ctx, func() { status = c.status() })
	return status, err
}

// State returns the controller's state machine position.
func (c *Controller) State(ctx context.Context) (ControllerState, error) {
	var state ControllerState
	err := c.do(ctx, func() { state = c.state() })
	return state, err
}

// ReaderName returns the active reader's display name, or NoReaderName.
func (c *Controller) ReaderName(ctx context.Context) (string, error) {
	name := NoReaderName
	err := c.do(ctx, func() {
		if r, ok := c.activeReader(); ok {
			name = r.Name()
		}
	})
	return name, err
}

// ActiveReader returns a copy of the active reader.
func (c *Controller) ActiveReader(ctx context.Context) (Reader, bool, error) {
	var (
		r  Reader
		ok bool
	)
	err := c.do(ctx, func() { r, ok = c.activeReader() })
	return r, ok, err
}

// Readers returns the registry snapshot.
func (c *Controller) Readers(ctx context.Context) ([]Reader, error) {
	var readers []Reader
	err := c.do(ctx, func() { readers = c.registry.Snapshot() })
	return readers, err
}

// StartInventory starts the inventory session.
func (c *Controller) StartInventory(ctx context.Context) error {
	var startErr error
	if err := c.do(ctx, func() { startErr = c.startInventory() }); err != nil {
		return err
	}
	return startErr
}

// StopInventory stops the inventory session. It returns false when no
// session was running.
func (c *Controller) StopInventory(ctx context.Context) (bool, error) {
	var stopped bool
	err := c.do(ctx, func() { stopped = c.stopInventory(true) })
	return stopped, err
}

// IsInventorying reports whether the inventory session is running.
func (c *Controller) IsInventorying(ctx context.Context) (bool, error) {
	var active bool
	err := c.do(ctx, func() { active = c.inventory.Active() })
	return active, err
}

// Lifecycle hooks

// OnResume refreshes discovery, re-runs selection and attempts a reconnect
// unless the discovery itself caused the pause.
func (c *Controller) OnResume(ctx context.Context) error {
	var initialized bool
	if err := c.do(ctx, func() { initialized = c.initialized }); err != nil {
		return err
	}
	if !initialized {
		return nil
	}

	causedPause := false
	if c.discovery != nil {
		causedPause = c.discovery.DidCauseOnPause()
		c.discovery.Resume()
	}
	c.refreshDiscovery(ctx)

	return c.do(ctx, func() {
		c.reconcile(!causedPause)
		c.notifyStatus(true)
	})
}

// OnPause suspends discovery refresh.
func (c *Controller) OnPause(ctx context.Context) error {
	var initialized bool
	if err := c.do(ctx, func() { initialized = c.initialized }); err != nil {
		return err
	}
	if initialized && c.discovery != nil {
		c.discovery.Pause()
	}
	return nil
}

// OnDestroy disconnects the active reader and removes every subscription.
// Initialize may be called again afterwards.
func (c *Controller) OnDestroy(ctx context.Context) error {
	return c.do(ctx, func() {
		if !c.initialized {
			return
		}
		if _, ok := c.activeReader(); ok {
			c.releaseActive(true)
			c.notifyStatus(false)
		}
		c.unsubscribe()
		c.logger.Println("Reader session destroyed")
	})
}

// DiscoveryFeed

// ReaderAdded implements DiscoveryFeed.
func (c *Controller) ReaderAdded(r Reader) {
	r = r.Clone()
	c.post(func() {
		if err := c.registry.OnDiscovered(r); err != nil {
			c.logger.Printf("Ignoring discovered reader: %v", err)
		}
	})
}

// ReaderUpdated implements DiscoveryFeed.
func (c *Controller) ReaderUpdated(r Reader) {
	r = r.Clone()
	c.post(func() {
		if err := c.registry.OnUpdated(r); err != nil {
			c.logger.Printf("Ignoring reader update: %v", err)
		}
	})
}

// ReaderRemoved implements DiscoveryFeed.
func (c *Controller) ReaderRemoved(id string) {
	c.post(func() { c.registry.OnRemoved(id) })
}

// CommanderListener

// ConnectionStateChanged implements CommanderListener.
func (c *Controller) ConnectionStateChanged(readerID string, kind TransportKind, status TransportStatus) {
	c.post(func() { c.handleConnectionState(readerID, kind, status) })
}

// TriggerChanged implements CommanderListener.
func (c *Controller) TriggerChanged(state SwitchState) {
	c.post(func() {
		payload := NewTriggerPayload(state)
		c.logger.Printf("Trigger changed - State: %s", payload.State)
		c.events.Emit(EventTrigger, payload)
	})
}

// The methods below run on the actor.

type registryHook struct {
	c *Controller
}

func (h registryHook) ReaderAdded(r Reader) {
	h.c.reconcile(true)
}

func (h registryHook) ReaderUpdated(r Reader) {
	h.c.reconcile(false)
}

func (h registryHook) ReaderRemoved(id string) {
	c := h.c
	if id == c.activeID {
		c.logger.Printf("Active reader %s was removed", id)
		c.releaseActive(false)
		c.notifyStatus(false)
	}
	c.reconcile(false)
}

func (c *Controller) subscribe() {
	c.commander.SetListener(c)
	c.unsubRegistry = c.registry.Subscribe(registryHook{c: c})
	if c.discovery != nil {
		c.unsubDiscovery = c.discovery.Subscribe(c)
	}
	c.initialized = true
	c.logger.Println("Reader session initialized")
}

func (c *Controller) unsubscribe() {
	if c.unsubDiscovery != nil {
		c.unsubDiscovery()
		c.unsubDiscovery = nil
	}
	if c.unsubRegistry != nil {
		c.unsubRegistry()
		c.unsubRegistry = nil
	}
	c.commander.SetListener(nil)
	c.initialized = false
}

// refreshDiscovery runs off the actor; the notifications it produces are
// queued ahead of anything the caller posts afterwards.
func (c *Controller) refreshDiscovery(ctx context.Context) {
	if c.discovery == nil {
		return
	}
	if err := c.discovery.Refresh(ctx); err != nil {
		c.logger.Printf("Discovery refresh failed: %v", err)
	}
}

func (c *Controller) activeReader() (Reader, bool) {
	if c.activeID == "" {
		return Reader{}, false
	}
	return c.registry.Get(c.activeID)
}

func (c *Controller) status() ConnectionStatus {
	r, ok := c.activeReader()
	if !ok {
		return StatusDisconnected
	}
	return r.Status()
}

func (c *Controller) state() ControllerState {
	if _, ok := c.activeReader(); !ok {
		return StateNoReader
	}
	switch c.status() {
	case StatusConnected:
		return StateConnected
	case StatusConnecting:
		return StateConnecting
	default:
		return StateDisconnected
	}
}

// reconcile re-runs selection, applies the upgrade rule and, when asked,
// attempts a reconnect.
func (c *Controller) reconcile(reconnect bool) {
	readers := c.registry.Snapshot()

	var (
		current     *Reader
		currentKind TransportKind
	)
	if r, ok := c.activeReader(); ok {
		current = &r
		if t, ok := r.ActiveTransport(); ok {
			currentKind = t.Kind
		}
	}

	sel, ok := Select(readers, current, currentKind)
	if !ok {
		if len(readers) > 0 {
			c.logger.Println("No RFID readers found in reader list. Available devices:")
			for _, r := range readers {
				c.logger.Printf("  - %s", r.Name())
			}
		}
		return
	}

	switch {
	case current == nil:
		c.activeID = sel.Reader.ID
		c.logSelection(sel)
	case sel.Reader.ID != current.ID:
		c.logger.Printf("Upgrading from %s (%s) to USB reader %s", current.Name(), currentKind, sel.Reader.Name())
		c.releaseActive(true)
		c.activeID = sel.Reader.ID
		c.notifyStatus(false)
	}

	if reconnect {
		if err := c.connectActive(); err != nil {
			c.logger.Printf("Reconnect failed: %v", err)
		}
	}
}

func (c *Controller) logSelection(sel Selection) {
	switch sel.Reason {
	case "usb":
		c.logger.Printf("Selected USB RFID reader: %s", sel.Reader.Name())
	case "bluetooth":
		c.logger.Printf("Selected Bluetooth RFID reader: %s", sel.Reader.Name())
	default:
		c.logger.Printf("Selected first RFID reader: %s", sel.Reader.Name())
	}
}

// connectActive issues a connect for the active reader when it is neither
// connecting nor holding an active transport.
func (c *Controller) connectActive() error {
	r, ok := c.activeReader()
	if !ok {
		return nil
	}
	if r.IsConnecting {
		return nil
	}
	if _, busy := r.ActiveTransport(); busy {
		return nil
	}

	kind := TransportAny
	if !r.AllowMultipleTransports && r.LastSuccessfulTransport != "" {
		kind = r.LastSuccessfulTransport
	}

	c.registry.mutate(r.ID, func(x *Reader) { x.IsConnecting = true })
	if kind == TransportAny {
		c.logger.Printf("Connecting to %s", r.Name())
	} else {
		c.logger.Printf("Connecting to %s over %s", r.Name(), kind)
	}

	if err := c.commander.Connect(r, kind); err != nil {
		c.registry.mutate(r.ID, func(x *Reader) {
			x.IsConnecting = false
			x.LastConnectWasSuccessful = false
		})
		c.notifyStatus(true)
		return NewConnectFailedError("connect", err)
	}
	c.notifyStatus(false)
	return nil
}

func (c *Controller) connect() (ConnectResult, error) {
	readers := c.registry.Snapshot()
	rfidDevices, ignoredDevices := Classify(readers)
	res := ConnectResult{
		Status:         StatusDisconnected,
		RfidDevices:    rfidDevices,
		IgnoredDevices: ignoredDevices,
	}

	c.reconcile(false)
	r, ok := c.activeReader()
	if !ok {
		c.logger.Printf("No RFID reader among %d device(s)", len(readers))
		return res, NewNoReaderError("connect", ignoredDevices, len(readers))
	}
	res.ReaderName = r.Name()

	err := c.connectActive()
	res.Status = c.status()
	res.Connected = err == nil
	return res, err
}

// releaseActive stops inventory, disconnects the active reader and clears
// the active reference. The caller emits the resulting status.
func (c *Controller) releaseActive(disconnect bool) {
	r, ok := c.activeReader()
	c.stopInventory(disconnect)

	if ok {
		if disconnect {
			if err := c.commander.Disconnect(r); err != nil {
				c.logger.Printf("Disconnect of %s failed: %v", r.Name(), err)
			}
		}
		c.registry.mutate(r.ID, func(x *Reader) {
			x.IsConnecting = false
			x.setTransportStatus(TransportAny, TransportDisconnected)
		})
	}
	c.activeID = ""
}

func (c *Controller) handleConnectionState(readerID string, kind TransportKind, status TransportStatus) {
	if readerID == "" || readerID != c.activeID {
		c.logger.Printf("Ignoring %s notification for inactive reader %q", status, readerID)
		return
	}

	switch status {
	case TransportConnecting:
		c.registry.mutate(readerID, func(x *Reader) {
			x.IsConnecting = true
			if kind != TransportAny {
				x.setTransportStatus(kind, TransportConnecting)
			}
		})
		c.notifyStatus(false)

	case TransportConnected:
		r, _ := c.registry.mutate(readerID, func(x *Reader) {
			if kind == TransportAny && len(x.Transports) > 0 {
				kind = x.Transports[0].Kind
			}
			x.setTransportStatus(TransportAny, TransportDisconnected)
			x.setTransportStatus(kind, TransportConnected)
			x.IsConnecting = false
			x.LastConnectWasSuccessful = true
			x.LastSuccessfulTransport = kind
		})
		c.logger.Printf("Reader connected: %s (%s)", r.Name(), kind)
		c.configureTriggerReporting()
		c.notifyStatus(false)

	case TransportDisconnected:
		r, _ := c.registry.mutate(readerID, func(x *Reader) {
			wasConnected := x.Status() == StatusConnected
			x.IsConnecting = false
			x.setTransportStatus(kind, TransportDisconnected)
			if !wasConnected {
				x.LastConnectWasSuccessful = false
			}
		})
		if r.Status() == StatusConnected {
			// Another transport is still up.
			return
		}
		c.stopInventory(false)
		if !r.LastConnectWasSuccessful {
			c.logger.Printf("Connect to %s did not succeed, releasing reader", r.Name())
			c.activeID = ""
		} else {
			c.logger.Printf("Reader disconnected: %s", r.Name())
		}
		c.notifyStatus(false)
	}
}

func (c *Controller) configureTriggerReporting() {
	if err := c.commander.ConfigureTriggerReporting(); err != nil {
		c.logger.Printf("Error configuring trigger: %v", err)
		return
	}
	c.logger.Println("Trigger configured")
}

func (c *Controller) batteryLevel() int {
	ctx, cancel := context.WithTimeout(context.Background(), BatteryQueryTimeout)
	defer cancel()
	level, err := c.commander.BatteryLevel(ctx)
	if err != nil {
		c.logger.Printf("Battery query failed: %v", err)
		return 0
	}
	return level
}

// notifyStatus emits a connection event when the derived status differs
// from the last one emitted, or always when force is set.
func (c *Controller) notifyStatus(force bool) {
	status := c.status()
	if !force && status == c.lastNotified {
		return
	}
	c.lastNotified = status

	payload := ConnectionPayload{Status: status}
	if status == StatusConnected {
		r, _ := c.activeReader()
		level := c.batteryLevel()
		payload.ReaderName = r.Name()
		payload.BatteryLevel = &level
	}
	c.events.Emit(EventConnection, payload)
}

func (c *Controller) startInventory() error {
	if c.status() != StatusConnected {
		return NewNotConnectedError("startInventory")
	}
	if err := c.inventory.Start(); err != nil {
		return err
	}
	c.events.Emit(EventInventory, InventoryPayload{Status: InventoryStarted, IsRunning: true})
	return nil
}

func (c *Controller) stopInventory(abort bool) bool {
	if !c.inventory.Stop(abort) {
		return false
	}
	c.emitInventoryStopped()
	return true
}

func (c *Controller) emitInventoryStopped() {
	c.events.Emit(EventInventory, InventoryPayload{Status: InventoryStopped, IsRunning: false})
}
