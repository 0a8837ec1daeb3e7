package rfid

import "testing"

func ids(readers []Reader) []string {
	out := make([]string, 0, len(readers))
	for _, r := range readers {
		out = append(out, r.ID)
	}
	return out
}

func equalStrings(a, b []string) bool {
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

func TestDiscoverySet_Apply(t *testing.T) {
	s := NewDiscoverySet()

	added, updated, removed := s.Apply([]Reader{usbReader("1", "TSL"), btReader("2", "TSL 1153")})
	if !equalStrings(ids(added), []string{"1", "2"}) || len(updated) != 0 || len(removed) != 0 {
		t.Fatalf("Unexpected first diff: %v %v %v", ids(added), ids(updated), removed)
	}

	renamed := btReader("2", "TSL 1153 (low battery)")
	added, updated, removed = s.Apply([]Reader{usbReader("1", "TSL"), renamed, usbReader("3", "RFID")})
	if !equalStrings(ids(added), []string{"3"}) || !equalStrings(ids(updated), []string{"2"}) || len(removed) != 0 {
		t.Fatalf("Unexpected second diff: %v %v %v", ids(added), ids(updated), removed)
	}

	added, updated, removed = s.Apply([]Reader{usbReader("3", "RFID")})
	if len(added) != 0 || len(updated) != 0 || !equalStrings(removed, []string{"1", "2"}) {
		t.Fatalf("Unexpected third diff: %v %v %v", ids(added), ids(updated), removed)
	}
	if !equalStrings(ids(s.List()), []string{"3"}) {
		t.Errorf("Unexpected set contents: %v", ids(s.List()))
	}
}

func TestDiscoverySet_IgnoresStatusChanges(t *testing.T) {
	s := NewDiscoverySet()
	s.Apply([]Reader{usbReader("1", "TSL")})

	r := usbReader("1", "TSL")
	r.Transports[0].Status = TransportConnected
	r.IsConnecting = true
	_, updated, _ := s.Apply([]Reader{r})
	if len(updated) != 0 {
		t.Errorf("Expected link state to be ignored, got update for %v", ids(updated))
	}
}

func TestFeedList_Notify(t *testing.T) {
	var f FeedList
	rec := &registryRecorder{}
	unsubscribe := f.Subscribe(rec)

	f.Notify([]Reader{usbReader("1", "TSL")}, []Reader{usbReader("2", "TSL")}, []string{"3"})
	want := []string{"added:1", "updated:2", "removed:3"}
	if !equalStrings(rec.calls, want) {
		t.Errorf("Expected %v, got %v", want, rec.calls)
	}

	unsubscribe()
	if f.Len() != 0 {
		t.Errorf("Expected no feeds, got %d", f.Len())
	}
}
