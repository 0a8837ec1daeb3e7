package rfid

import (
	"testing"
)

type registryRecorder struct {
	calls []string
}

func (r *registryRecorder) ReaderAdded(x Reader)    { r.calls = append(r.calls, "added:"+x.ID) }
func (r *registryRecorder) ReaderUpdated(x Reader)  { r.calls = append(r.calls, "updated:"+x.ID) }
func (r *registryRecorder) ReaderRemoved(id string) { r.calls = append(r.calls, "removed:"+id) }

func TestRegistry_DiscoveryOrder(t *testing.T) {
	g := NewRegistry()
	for _, r := range []Reader{usbReader("b", "TSL 1128"), btReader("a", "TSL 1153"), usbReader("c", "RFID")} {
		if err := g.OnDiscovered(r); err != nil {
			t.Fatalf("OnDiscovered(%s) failed: %v", r.ID, err)
		}
	}

	snap := g.Snapshot()
	want := []string{"b", "a", "c"}
	if len(snap) != len(want) {
		t.Fatalf("Expected %d readers, got %d", len(want), len(snap))
	}
	for i, id := range want {
		if snap[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, snap[i].ID)
		}
	}
	if g.Len() != 3 {
		t.Errorf("Expected Len 3, got %d", g.Len())
	}
}

func TestRegistry_Validation(t *testing.T) {
	g := NewRegistry()
	if err := g.OnDiscovered(Reader{DisplayName: "TSL"}); err == nil {
		t.Error("Expected error for empty id")
	}
	if err := g.OnDiscovered(Reader{ID: "1", DisplayName: "TSL"}); err == nil {
		t.Error("Expected error for reader without transports")
	}
	if g.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", g.Len())
	}
}

func TestRegistry_Notifications(t *testing.T) {
	g := NewRegistry()
	rec := &registryRecorder{}
	unsubscribe := g.Subscribe(rec)

	_ = g.OnDiscovered(usbReader("1", "TSL 1128"))
	_ = g.OnDiscovered(usbReader("1", "TSL 1128 renamed")) // known id is an update
	_ = g.OnUpdated(btReader("2", "TSL 1153"))             // unknown id is an add
	if !g.OnRemoved("1") {
		t.Error("Expected OnRemoved to report a present reader")
	}
	if g.OnRemoved("missing") {
		t.Error("Expected OnRemoved to report an absent reader")
	}

	want := []string{"added:1", "updated:1", "added:2", "removed:1"}
	if len(rec.calls) != len(want) {
		t.Fatalf("Expected %v, got %v", want, rec.calls)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("Call %d: expected %s, got %s", i, want[i], rec.calls[i])
		}
	}

	unsubscribe()
	_ = g.OnDiscovered(usbReader("3", "TSL"))
	if len(rec.calls) != len(want) {
		t.Errorf("Expected no callbacks after unsubscribe, got %v", rec.calls)
	}
}

func TestRegistry_UpdatePreservesLinkState(t *testing.T) {
	g := NewRegistry()
	_ = g.OnDiscovered(usbReader("1", "TSL 1128"))
	g.mutate("1", func(r *Reader) {
		r.setTransportStatus(TransportUSB, TransportConnected)
		r.LastSuccessfulTransport = TransportUSB
		r.LastConnectWasSuccessful = true
	})

	updated := usbReader("1", "TSL 1128 (charging)")
	updated.Transports = append(updated.Transports, Transport{Kind: TransportBluetooth, Address: "/dev/rfcomm1"})
	if err := g.OnUpdated(updated); err != nil {
		t.Fatalf("OnUpdated failed: %v", err)
	}

	r, _ := g.Get("1")
	if r.DisplayName != "TSL 1128 (charging)" {
		t.Errorf("Expected name to change, got %q", r.DisplayName)
	}
	if r.Status() != StatusConnected {
		t.Errorf("Expected connection to survive the update, got %s", r.Status())
	}
	if bt, ok := r.Transport(TransportBluetooth); !ok || bt.Status != TransportDisconnected {
		t.Errorf("Expected new Bluetooth transport disconnected, got %+v", bt)
	}
	if !r.LastConnectWasSuccessful || r.LastSuccessfulTransport != TransportUSB {
		t.Errorf("Expected connect flags preserved, got %+v", r)
	}
}

func TestRegistry_CopiesAreIndependent(t *testing.T) {
	g := NewRegistry()
	_ = g.OnDiscovered(usbReader("1", "TSL 1128"))

	r, _ := g.Get("1")
	r.Transports[0].Status = TransportConnected
	r.DisplayName = "changed"

	again, _ := g.Get("1")
	if again.DisplayName != "TSL 1128" || again.Transports[0].Status != TransportDisconnected {
		t.Errorf("Expected stored reader to be unchanged, got %+v", again)
	}
}

func TestRegistry_Clear(t *testing.T) {
	g := NewRegistry()
	rec := &registryRecorder{}
	g.Subscribe(rec)
	_ = g.OnDiscovered(usbReader("1", "TSL"))
	_ = g.OnDiscovered(usbReader("2", "TSL"))
	g.Clear()

	if g.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", g.Len())
	}
	if rec.calls[len(rec.calls)-1] != "removed:2" {
		t.Errorf("Expected removals to be notified, got %v", rec.calls)
	}
}

func TestReader_Status(t *testing.T) {
	dual := Reader{ID: "1", Transports: []Transport{{Kind: TransportUSB}, {Kind: TransportBluetooth}}}

	tests := []struct {
		name   string
		mutate func(r *Reader)
		want   ConnectionStatus
	}{
		{"idle", func(r *Reader) {}, StatusDisconnected},
		{"connecting flag", func(r *Reader) { r.IsConnecting = true }, StatusConnecting},
		{"connecting transport", func(r *Reader) { r.Transports[1].Status = TransportConnecting }, StatusConnecting},
		{"connected wins", func(r *Reader) {
			r.IsConnecting = true
			r.Transports[0].Status = TransportConnecting
			r.Transports[1].Status = TransportConnected
		}, StatusConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := dual.Clone()
			tt.mutate(&r)
			if got := r.Status(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestReader_Name(t *testing.T) {
	if got := (Reader{}).Name(); got != UnknownReaderName {
		t.Errorf("Expected %q, got %q", UnknownReaderName, got)
	}
	if got := (Reader{DisplayName: "TSL"}).Name(); got != "TSL" {
		t.Errorf("Expected TSL, got %q", got)
	}
}
