package idmap

import (
	"testing"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

func TestRoundTrip(t *testing.T) {
	m := New()
	m.Register("DE*GEF*E0001*1", "49*822*083431571*1")
	m.Register("DE*GEF*E0001*2", "49*822*083431571*2")

	pairs := map[models.EVSEID]models.EVSEID{
		"DE*GEF*E0001*1": "49*822*083431571*1",
		"DE*GEF*E0001*2": "49*822*083431571*2",
	}
	for local, remote := range pairs {
		if got := m.MapOutgoing(local); got != remote {
			t.Errorf("MapOutgoing(%s) = %s, want %s", local, got, remote)
		}
		if got := m.MapIncoming(m.MapOutgoing(local)); got != local {
			t.Errorf("round trip for %s = %s", local, got)
		}
		if got := m.MapOutgoing(m.MapIncoming(remote)); got != remote {
			t.Errorf("reverse round trip for %s = %s", remote, got)
		}
	}
}

func TestIdentityFallback(t *testing.T) {
	m := New()
	if got := m.MapOutgoing("DE*GEF*E9999*9"); got != "DE*GEF*E9999*9" {
		t.Fatalf("MapOutgoing fallback = %s", got)
	}
	if got := m.MapIncoming("49*822*000000000*0"); got != "49*822*000000000*0" {
		t.Fatalf("MapIncoming fallback = %s", got)
	}
}

func TestReRegisterReplacesPairing(t *testing.T) {
	m := New()
	m.Register("local-1", "remote-1")
	m.Register("local-1", "remote-2")

	if got := m.MapOutgoing("local-1"); got != "remote-2" {
		t.Fatalf("MapOutgoing = %s, want remote-2", got)
	}
	// Stale inverse must fall back to identity.
	if got := m.MapIncoming("remote-1"); got != "remote-1" {
		t.Fatalf("MapIncoming(remote-1) = %s, want identity", got)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
}
