package multidiscovery

import (
	"context"
	"errors"
	"testing"

	"github.com/dotside-studios/rfid-reader-agent/rfid"
)

type feedLog struct {
	calls []string
}

func (f *feedLog) ReaderAdded(r rfid.Reader)   { f.calls = append(f.calls, "added:"+r.ID) }
func (f *feedLog) ReaderUpdated(r rfid.Reader) { f.calls = append(f.calls, "updated:"+r.ID) }
func (f *feedLog) ReaderRemoved(id string)     { f.calls = append(f.calls, "removed:"+id) }

func usb(id string) rfid.Reader {
	return rfid.Reader{ID: id, DisplayName: "TSL 1128", Transports: []rfid.Transport{{Kind: rfid.TransportUSB, Address: "/dev/ttyACM0"}}}
}

func bt(id string) rfid.Reader {
	return rfid.Reader{ID: id, DisplayName: "TSL 1153", Transports: []rfid.Transport{{Kind: rfid.TransportBluetooth, Address: "/dev/rfcomm0"}}}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMultiDiscovery_ForwardsInOrder(t *testing.T) {
	usbSource := rfid.NewMockDiscovery(usb("usb:1"))
	btSource := rfid.NewMockDiscovery(bt("bt:1"))
	md := New(Entry{Name: "usb", Discovery: usbSource}, Entry{Name: "bluetooth", Discovery: btSource})

	feed := &feedLog{}
	md.Subscribe(feed)
	if err := md.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if want := []string{"added:usb:1", "added:bt:1"}; !equal(feed.calls, want) {
		t.Errorf("Expected %v, got %v", want, feed.calls)
	}
	if owner, _ := md.Owner("bt:1"); owner != "bluetooth" {
		t.Errorf("Expected bluetooth owner, got %q", owner)
	}
	if names := md.Names(); !equal(names, []string{"usb", "bluetooth"}) {
		t.Errorf("Unexpected names: %v", names)
	}
}

func TestMultiDiscovery_ConflictingIDs(t *testing.T) {
	a := rfid.NewMockDiscovery(usb("same"))
	b := rfid.NewMockDiscovery(bt("same"))
	md := New(Entry{Name: "a", Discovery: a}, Entry{Name: "b", Discovery: b})
	feed := &feedLog{}
	md.Subscribe(feed)

	_ = md.Refresh(context.Background())
	b.Remove("same")

	if want := []string{"added:same"}; !equal(feed.calls, want) {
		t.Errorf("Expected only the first source's reader, got %v", feed.calls)
	}
}

func TestMultiDiscovery_Remove(t *testing.T) {
	src := rfid.NewMockDiscovery(usb("usb:1"), usb("usb:2"))
	md := New(Entry{Name: "usb", Discovery: src})
	feed := &feedLog{}
	md.Subscribe(feed)
	_ = md.Refresh(context.Background())
	feed.calls = nil

	if err := md.Remove("usb"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if want := []string{"removed:usb:1", "removed:usb:2"}; !equal(feed.calls, want) {
		t.Errorf("Expected %v, got %v", want, feed.calls)
	}
	if src.Subscribers() != 0 {
		t.Error("Expected the source subscription to be released")
	}
	if err := md.Remove("usb"); err == nil {
		t.Error("Expected error removing an unknown discovery")
	}
}

func TestMultiDiscovery_AddValidation(t *testing.T) {
	md := New()
	if err := md.Add("", rfid.NewMockDiscovery()); err == nil {
		t.Error("Expected error for empty name")
	}
	if err := md.Add("x", nil); err == nil {
		t.Error("Expected error for nil discovery")
	}
	_ = md.Add("x", rfid.NewMockDiscovery())
	if err := md.Add("x", rfid.NewMockDiscovery()); err == nil {
		t.Error("Expected error for duplicate name")
	}
}

func TestMultiDiscovery_RefreshErrors(t *testing.T) {
	ok := rfid.NewMockDiscovery()
	broken := rfid.NewMockDiscovery()
	broken.RefreshError = errors.New("adapter off")

	md := New(Entry{Name: "ok", Discovery: ok}, Entry{Name: "broken", Discovery: broken})
	if err := md.Refresh(context.Background()); err != nil {
		t.Errorf("Expected partial failure to be tolerated, got %v", err)
	}

	only := New(Entry{Name: "broken", Discovery: broken})
	if err := only.Refresh(context.Background()); err == nil {
		t.Error("Expected error when every discovery fails")
	}
}

func TestMultiDiscovery_PauseResume(t *testing.T) {
	a := rfid.NewMockDiscovery()
	b := rfid.NewMockDiscovery()
	md := New(Entry{Name: "a", Discovery: a}, Entry{Name: "b", Discovery: b})

	md.Pause()
	if !a.IsPaused() || !b.IsPaused() {
		t.Error("Expected every source to be paused")
	}
	md.Resume()
	if a.IsPaused() || b.IsPaused() {
		t.Error("Expected every source to be resumed")
	}

	if md.DidCauseOnPause() {
		t.Error("Expected false when no source caused the pause")
	}
	b.CausedPause = true
	if !md.DidCauseOnPause() {
		t.Error("Expected true when a source caused the pause")
	}
}
