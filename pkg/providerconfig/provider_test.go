package providerconfig

import "testing"

func TestWithDefaults(t *testing.T) {
	p := Provider{Host: "news.example.com"}.WithDefaults()
	if p.Port != defaultPort {
		t.Errorf("expected default port %d, got %d", defaultPort, p.Port)
	}
	if p.Connections != defaultConnections {
		t.Errorf("expected default connections %d, got %d", defaultConnections, p.Connections)
	}

	clamped := Provider{Host: "x", Connections: -5}.WithDefaults()
	if clamped.Connections != minConnections {
		t.Errorf("expected connections clamped to %d, got %d", minConnections, clamped.Connections)
	}
}

func TestNormalizeDropsHostless(t *testing.T) {
	in := []Provider{
		{Name: "no-host"},
		{Name: "ok", Host: "news.example.com", Connections: 5},
	}
	out := Normalize(in)
	if len(out) != 1 || out[0].Name != "ok" {
		t.Fatalf("expected hostless provider dropped, got %+v", out)
	}
}

func TestTotalConnectionsClampedToOne(t *testing.T) {
	if got := TotalConnections(nil); got != 1 {
		t.Errorf("expected 1 for empty provider list, got %d", got)
	}
	providers := []Provider{{Connections: 3}, {Connections: 4}}
	if got := TotalConnections(providers); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
}
