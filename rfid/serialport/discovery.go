package serialport

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/dotside-studios/rfid-reader-agent/rfid"
)

// DefaultPollInterval is how often USB ports are enumerated.
const DefaultPollInterval = 2 * time.Second

// PortLister enumerates serial ports.
type PortLister func() ([]*enumerator.PortDetails, error)

// Discovery reports USB serial readers. It polls the port list because
// serial enumeration has no change notification.
type Discovery struct {
	list     PortLister
	clock    rfid.Clock
	interval time.Duration
	logger   *log.Logger

	feeds rfid.FeedList

	mu      sync.Mutex
	set     *rfid.DiscoverySet
	paused  bool
	stopCh  chan struct{}
	stopped chan struct{}
}

// DiscoveryOptions configures a Discovery.
type DiscoveryOptions struct {
	Lister       PortLister // defaults to enumerator.GetDetailedPortsList
	Clock        rfid.Clock
	PollInterval time.Duration
	Logger       *log.Logger
}

// NewDiscovery creates a USB port discovery. Call Start to begin polling.
func NewDiscovery(opts DiscoveryOptions) *Discovery {
	if opts.Lister == nil {
		opts.Lister = enumerator.GetDetailedPortsList
	}
	if opts.Clock == nil {
		opts.Clock = rfid.NewRealClock()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[serial] ", log.LstdFlags)
	}
	return &Discovery{
		list:     opts.Lister,
		clock:    opts.Clock,
		interval: opts.PollInterval,
		logger:   opts.Logger,
		set:      rfid.NewDiscoverySet(),
	}
}

// ReadersFromPorts converts USB port details to readers. Non-USB ports are
// skipped.
func ReadersFromPorts(ports []*enumerator.PortDetails) []rfid.Reader {
	var readers []rfid.Reader
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		id := "usb:" + p.Name
		if p.SerialNumber != "" {
			id = "usb:" + p.SerialNumber
		}
		name := strings.TrimSpace(p.Product)
		if name == "" {
			name = fmt.Sprintf("USB %s:%s", strings.ToUpper(p.VID), strings.ToUpper(p.PID))
		}
		readers = append(readers, rfid.Reader{
			ID:          id,
			DisplayName: name,
			Transports:  []rfid.Transport{{Kind: rfid.TransportUSB, Address: p.Name}},
		})
	}
	return readers
}

// Subscribe implements rfid.Discovery.
func (d *Discovery) Subscribe(feed rfid.DiscoveryFeed) func() {
	return d.feeds.Subscribe(feed)
}

// Refresh implements rfid.Discovery.
func (d *Discovery) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ports, err := d.list()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}

	d.mu.Lock()
	added, updated, removed := d.set.Apply(ReadersFromPorts(ports))
	d.mu.Unlock()

	for _, r := range added {
		d.logger.Printf("USB device found: %s (%s)", r.Name(), r.Transports[0].Address)
	}
	for _, id := range removed {
		d.logger.Printf("USB device removed: %s", id)
	}
	d.feeds.Notify(added, updated, removed)
	return nil
}

// Start begins polling until Stop is called.
func (d *Discovery) Start() error {
	d.mu.Lock()
	if d.stopCh != nil {
		d.mu.Unlock()
		return nil
	}
	d.stopCh = make(chan struct{})
	d.stopped = make(chan struct{})
	stopCh, stopped := d.stopCh, d.stopped
	d.mu.Unlock()

	ticker := d.clock.NewTicker(d.interval)
	go func() {
		defer close(stopped)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				if d.isPaused() {
					continue
				}
				if err := d.Refresh(context.Background()); err != nil {
					d.logger.Printf("Port poll failed: %v", err)
				}
			case <-stopCh:
				return
			}
		}
	}()
	return nil
}

// Stop ends polling and waits for the poller to exit.
func (d *Discovery) Stop() {
	d.mu.Lock()
	stopCh, stopped := d.stopCh, d.stopped
	d.stopCh, d.stopped = nil, nil
	d.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stopped
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

// DidCauseOnPause implements rfid.Discovery. Port polling never takes the
// host out of the foreground.
func (d *Discovery) DidCauseOnPause() bool {
	return false
}
