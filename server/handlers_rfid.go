package server

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/dotside-studios/rfid-reader-agent/protocol"
	"github.com/dotside-studios/rfid-reader-agent/rfid"
)

// ReaderController is the part of rfid.Controller the bridge drives.
type ReaderController interface {
	Initialize(ctx context.Context) error
	CheckConnection(ctx context.Context) (rfid.ConnectionStatus, error)
	Connect(ctx context.Context) (rfid.ConnectResult, error)
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) (rfid.ConnectionStatus, error)
	ReaderName(ctx context.Context) (string, error)
	StartInventory(ctx context.Context) error
	StopInventory(ctx context.Context) (bool, error)
	IsInventorying(ctx context.Context) (bool, error)
	Readers(ctx context.Context) ([]rfid.Reader, error)
	ActiveReader(ctx context.Context) (rfid.Reader, bool, error)
	OnResume(ctx context.Context) error
	OnPause(ctx context.Context) error
	Events() *rfid.Dispatcher
}

// RFIDHandler maps bridge commands onto the reader controller and forwards
// controller events to every client.
type RFIDHandler struct {
	controller ReaderController
	timeout    time.Duration
	logger     *log.Logger
}

// NewRFIDHandler creates a handler for controller. A zero timeout uses
// DefaultCommandTimeout.
func NewRFIDHandler(controller ReaderController, timeout time.Duration) *RFIDHandler {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &RFIDHandler{
		controller: controller,
		timeout:    timeout,
		logger:     log.New(os.Stderr, "[server] ", log.LstdFlags),
	}
}

// Register implements ServerHandler.
func (h *RFIDHandler) Register(s HandlerServer) error {
	routes := map[string]func(ctx context.Context) (any, error){
		protocol.CmdInitialize:      h.initialize,
		protocol.CmdCheckConnection: h.checkConnection,
		protocol.CmdConnect:         h.connect,
		protocol.CmdDisconnect:      h.disconnect,
		protocol.CmdGetStatus:       h.getStatus,
		protocol.CmdGetReaderName:   h.getReaderName,
		protocol.CmdStartInventory:  h.startInventory,
		protocol.CmdStopInventory:   h.stopInventory,
		protocol.CmdIsInventorying:  h.isInventorying,
		protocol.CmdListReaders:     h.listReaders,
		protocol.CmdResume:          h.resume,
		protocol.CmdPause:           h.pause,
	}
	for _, cmd := range protocol.Commands {
		if err := s.Handle(cmd, h.command(routes[cmd])); err != nil {
			return err
		}
	}

	s.StartLifecycle(func(ctx context.Context) {
		unsubscribe := h.controller.Events().Subscribe(s.BroadcastEvent)
		go func() {
			<-ctx.Done()
			unsubscribe()
		}()
	})
	return nil
}

// command wraps a controller call into a HandlerFunc that writes the
// response, success or failure, back to the requesting client.
func (h *RFIDHandler) command(run func(ctx context.Context) (any, error)) HandlerFunc {
	return func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		payload, err := run(ctx)
		if err != nil {
			h.logger.Printf("Command %s from %s failed: %v", req.Type, client.ShortID(), err)
			if sendErr := SendErrorResponse(client, req, ErrorPayloadFrom(err), err.Error()); sendErr != nil {
				return sendErr
			}
			return err
		}
		return SendSuccessResponse(client, req, payload)
	}
}

func (h *RFIDHandler) initialize(ctx context.Context) (any, error) {
	if err := h.controller.Initialize(ctx); err != nil {
		return nil, err
	}
	return h.getStatus(ctx)
}

func (h *RFIDHandler) checkConnection(ctx context.Context) (any, error) {
	status, err := h.controller.CheckConnection(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.StatusPayload{Status: string(status)}, nil
}

func (h *RFIDHandler) connect(ctx context.Context) (any, error) {
	res, err := h.controller.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.ConnectResultPayload{
		Connected:      res.Connected,
		Status:         string(res.Status),
		ReaderName:     res.ReaderName,
		RfidDevices:    nonNil(res.RfidDevices),
		IgnoredDevices: nonNil(res.IgnoredDevices),
	}, nil
}

func (h *RFIDHandler) disconnect(ctx context.Context) (any, error) {
	if err := h.controller.Disconnect(ctx); err != nil {
		return nil, err
	}
	return h.getStatus(ctx)
}

func (h *RFIDHandler) getStatus(ctx context.Context) (any, error) {
	status, err := h.controller.Status(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.StatusPayload{Status: string(status)}, nil
}

func (h *RFIDHandler) getReaderName(ctx context.Context) (any, error) {
	name, err := h.controller.ReaderName(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.ReaderNamePayload{ReaderName: name}, nil
}

func (h *RFIDHandler) startInventory(ctx context.Context) (any, error) {
	if err := h.controller.StartInventory(ctx); err != nil {
		return nil, err
	}
	return protocol.InventoryStatePayload{IsInventorying: true}, nil
}

func (h *RFIDHandler) stopInventory(ctx context.Context) (any, error) {
	stopped, err := h.controller.StopInventory(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.StopInventoryPayload{Stopped: stopped}, nil
}

func (h *RFIDHandler) isInventorying(ctx context.Context) (any, error) {
	active, err := h.controller.IsInventorying(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.InventoryStatePayload{IsInventorying: active}, nil
}

func (h *RFIDHandler) listReaders(ctx context.Context) (any, error) {
	readers, err := h.controller.Readers(ctx)
	if err != nil {
		return nil, err
	}
	active, ok, err := h.controller.ActiveReader(ctx)
	if err != nil {
		return nil, err
	}

	out := protocol.ListReadersPayload{Readers: make([]protocol.ReaderInfo, 0, len(readers))}
	for _, r := range readers {
		out.Readers = append(out.Readers, ReaderInfoFrom(r, ok && r.ID == active.ID))
	}
	return out, nil
}

func (h *RFIDHandler) resume(ctx context.Context) (any, error) {
	if err := h.controller.OnResume(ctx); err != nil {
		return nil, err
	}
	return h.getStatus(ctx)
}

func (h *RFIDHandler) pause(ctx context.Context) (any, error) {
	if err := h.controller.OnPause(ctx); err != nil {
		return nil, err
	}
	return h.getStatus(ctx)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
