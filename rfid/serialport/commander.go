// Package serialport talks to RFID readers over serial links: USB CDC ports
// and Bluetooth RFCOMM bindings both appear as serial devices.
package serialport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/dotside-studios/rfid-reader-agent/rfid"
)

const (
	DefaultBaudRate  = 115200
	HandshakeTimeout = 2 * time.Second
	responseBuffer   = 256
)

var errNoLink = errors.New("no open serial link")

// Port is the part of serial.Port the commander uses.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the serial device at address.
type Opener func(address string, baudRate int) (Port, error)

// OpenSerial opens address with go.bug.st/serial in 8N1 mode.
func OpenSerial(address string, baudRate int) (Port, error) {
	port, err := serial.Open(address, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", address, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to reset input buffer: %w", err)
	}
	return port, nil
}

// pending is a command written to the reader whose terminator has not
// arrived yet.
type pending struct {
	sink chan Line // nil when the reply is discarded
}

// link is one open connection to a reader. The reader answers commands in
// the order they were written, so response lines always belong to the
// oldest pending command.
type link struct {
	readerID string
	kind     rfid.TransportKind
	port     Port

	mu    sync.Mutex
	queue []*pending
	wmu   sync.Mutex // keeps queue order equal to write order

	closeOnce sync.Once
	done      chan struct{}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		_ = l.port.Close()
	})
}

// send writes cmd and queues it for response routing. A nil sink discards
// the reply.
func (l *link) send(cmd string, sink chan Line) (*pending, error) {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	p := &pending{sink: sink}
	l.mu.Lock()
	l.queue = append(l.queue, p)
	l.mu.Unlock()

	if _, err := l.port.Write(FormatCommand(cmd)); err != nil {
		l.remove(p)
		return nil, fmt.Errorf("failed to write %q: %w", cmd, err)
	}
	return p, nil
}

func (l *link) remove(p *pending) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, q := range l.queue {
		if q == p {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// abandon detaches the requester from p. Lines still owed to p, up to its
// terminator, are discarded as they arrive.
func (l *link) abandon(p *pending) {
	l.mu.Lock()
	p.sink = nil
	l.mu.Unlock()
}

func (l *link) route(line Line) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return // unsolicited
	}
	head := l.queue[0]
	if line.IsTerminator() {
		l.queue[0] = nil
		l.queue = l.queue[1:]
	}
	if head.sink == nil {
		return
	}
	select {
	case head.sink <- line:
	default:
		// Request is not draining; the line is dropped.
	}
}

// Commander implements rfid.Commander over a serial line protocol. It holds
// at most one link at a time.
type Commander struct {
	open     Opener
	baudRate int
	logger   *log.Logger

	mu       sync.Mutex
	link     *link
	listener rfid.CommanderListener
	attempt  uint64

	slot chan struct{} // one request/response exchange at a time
}

// Options configures a Commander.
type Options struct {
	Opener   Opener // defaults to OpenSerial
	BaudRate int
	Logger   *log.Logger
}

// NewCommander creates a serial commander.
func NewCommander(opts Options) *Commander {
	if opts.Opener == nil {
		opts.Opener = OpenSerial
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[serial] ", log.LstdFlags)
	}
	return &Commander{
		open:     opts.Opener,
		baudRate: opts.BaudRate,
		logger:   opts.Logger,
		slot:     make(chan struct{}, 1),
	}
}

// SetListener implements rfid.Commander.
func (c *Commander) SetListener(l rfid.CommanderListener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *Commander) notify(readerID string, kind rfid.TransportKind, status rfid.TransportStatus) {
	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()
	if l != nil {
		l.ConnectionStateChanged(readerID, kind, status)
	}
}

// pickTransport resolves the transport to open. TransportAny prefers USB.
func pickTransport(reader rfid.Reader, kind rfid.TransportKind) (rfid.Transport, error) {
	if kind != rfid.TransportAny {
		t, ok := reader.Transport(kind)
		if !ok {
			return rfid.Transport{}, fmt.Errorf("reader %s has no %s transport", reader.ID, kind)
		}
		if t.Address == "" {
			return rfid.Transport{}, fmt.Errorf("reader %s has no serial binding for %s", reader.ID, kind)
		}
		return t, nil
	}
	for _, k := range []rfid.TransportKind{rfid.TransportUSB, rfid.TransportBluetooth, rfid.TransportOther} {
		if t, ok := reader.Transport(k); ok && t.Address != "" {
			return t, nil
		}
	}
	return rfid.Transport{}, fmt.Errorf("reader %s has no serial binding", reader.ID)
}

// Connect implements rfid.Commander. It validates the target, then opens the
// port and performs the handshake in the background.
func (c *Commander) Connect(reader rfid.Reader, kind rfid.TransportKind) error {
	t, err := pickTransport(reader, kind)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	old := c.link
	c.link = nil
	c.mu.Unlock()
	if old != nil {
		old.close()
	}

	go c.dial(attempt, reader.ID, t)
	return nil
}

func (c *Commander) dial(attempt uint64, readerID string, t rfid.Transport) {
	c.notify(readerID, t.Kind, rfid.TransportConnecting)
	c.logger.Printf("Opening %s for reader %s", t.Address, readerID)

	port, err := c.open(t.Address, c.baudRate)
	if err != nil {
		c.logger.Printf("Connect to %s failed: %v", t.Address, err)
		c.notify(readerID, t.Kind, rfid.TransportDisconnected)
		return
	}

	l := &link{readerID: readerID, kind: t.Kind, port: port, done: make(chan struct{})}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		l.close()
		return
	}
	c.link = l
	c.mu.Unlock()

	go c.readLoop(l)

	ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout)
	defer cancel()
	if _, err := c.requestOn(ctx, l, CmdVersion); err != nil {
		c.logger.Printf("Handshake with %s failed: %v", t.Address, err)
		if c.drop(l) {
			c.notify(readerID, t.Kind, rfid.TransportDisconnected)
		}
		return
	}

	c.logger.Printf("Serial link to %s established", t.Address)
	c.notify(readerID, t.Kind, rfid.TransportConnected)
}

// drop closes l and forgets it. It reports whether l was the current link.
func (c *Commander) drop(l *link) bool {
	c.mu.Lock()
	current := c.link == l
	if current {
		c.link = nil
	}
	c.mu.Unlock()
	l.close()
	return current
}

func (c *Commander) readLoop(l *link) {
	reader := bufio.NewReader(l.port)
	for {
		raw, err := reader.ReadString('\n')
		if line, ok := ParseLine(raw); ok {
			if line.Header == HeaderSwitch {
				c.trigger(ParseSwitch(line.Value))
			} else {
				l.route(line)
			}
		}
		if err != nil {
			select {
			case <-l.done:
			default:
				c.logger.Printf("Serial link to reader %s lost: %v", l.readerID, err)
			}
			if c.drop(l) {
				c.notify(l.readerID, l.kind, rfid.TransportDisconnected)
			}
			return
		}
	}
}

func (c *Commander) trigger(state rfid.SwitchState) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	if listener != nil {
		listener.TriggerChanged(state)
	}
}

func (c *Commander) currentLink() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil, errNoLink
	}
	return c.link, nil
}

// request writes cmd and collects the response lines up to the terminator.
func (c *Commander) request(ctx context.Context, cmd string) ([]Line, error) {
	l, err := c.currentLink()
	if err != nil {
		return nil, err
	}
	return c.requestOn(ctx, l, cmd)
}

func (c *Commander) requestOn(ctx context.Context, l *link, cmd string) ([]Line, error) {
	return c.exchange(ctx, l, cmd, nil)
}

// acquire waits for the request slot, giving up when ctx ends or l closes.
func (c *Commander) acquire(ctx context.Context, l *link) error {
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return errNoLink
	}
}

func (c *Commander) release() {
	<-c.slot
}

// exchange runs one command. When each is set it is called for every
// non-terminator line as it arrives. A cancelled exchange frees the slot at
// once; the reader's late reply to it is discarded by the link.
func (c *Commander) exchange(ctx context.Context, l *link, cmd string, each func(Line)) ([]Line, error) {
	if err := c.acquire(ctx, l); err != nil {
		return nil, err
	}
	defer c.release()

	sink := make(chan Line, responseBuffer)
	p, err := l.send(cmd, sink)
	if err != nil {
		return nil, err
	}

	var lines []Line
	for {
		select {
		case line := <-sink:
			switch line.Header {
			case HeaderOK:
				return lines, nil
			case HeaderError:
				return lines, &ResponseError{Command: cmd, Code: line.Value}
			}
			if each != nil {
				each(line)
			}
			if len(lines) < maxResponseLines {
				lines = append(lines, line)
			}
		case <-ctx.Done():
			l.abandon(p)
			return lines, ctx.Err()
		case <-l.done:
			return lines, errNoLink
		}
	}
}

// Disconnect implements rfid.Commander.
func (c *Commander) Disconnect(reader rfid.Reader) error {
	c.mu.Lock()
	c.attempt++
	l := c.link
	if l != nil && l.readerID != reader.ID {
		l = nil
	}
	if l != nil {
		c.link = nil
	}
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	c.logger.Printf("Closing serial link to reader %s", reader.ID)
	l.close()
	c.notify(l.readerID, l.kind, rfid.TransportDisconnected)
	return nil
}

// Inventory implements rfid.Commander. Tags are delivered while the response
// streams in.
func (c *Commander) Inventory(ctx context.Context, deliver func(rfid.TagRead)) error {
	l, err := c.currentLink()
	if err != nil {
		return err
	}
	parser := NewInventoryParser(deliver)
	_, err = c.exchange(ctx, l, CmdInventory, parser.Feed)
	if err == nil {
		parser.Flush()
	}
	return err
}

// BatteryLevel implements rfid.Commander.
func (c *Commander) BatteryLevel(ctx context.Context) (int, error) {
	lines, err := c.request(ctx, CmdBattery)
	if err != nil {
		return 0, err
	}
	for _, line := range lines {
		if line.Header == HeaderBattery {
			return ParseBattery(line.Value)
		}
	}
	return 0, errors.New("battery level missing from response")
}

// Abort implements rfid.Commander. The abort is written without taking the
// request slot so it can interrupt a request in progress. Its own
// acknowledgement is discarded.
func (c *Commander) Abort() error {
	l, err := c.currentLink()
	if err != nil {
		return err
	}
	_, err = l.send(CmdAbort, nil)
	return err
}

// ConfigureTriggerReporting implements rfid.Commander.
func (c *Commander) ConfigureTriggerReporting() error {
	ctx, cancel := context.WithTimeout(context.Background(), HandshakeTimeout)
	defer cancel()
	_, err := c.request(ctx, CmdSwitchAction)
	return err
}

// Close drops the current link without notifying.
func (c *Commander) Close() error {
	c.mu.Lock()
	c.attempt++
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l != nil {
		l.close()
	}
	return nil
}
