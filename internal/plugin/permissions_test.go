package plugin

import "testing"

func TestGrantsAllowsMatchesConfiguredCapabilities(t *testing.T) {
	g := Grants{HTTPEgress: true, ProcessSpawn: true}

	cases := []struct {
		cap  Capability
		want bool
	}{
		{CapHTTPEgress, true},
		{CapFilesystemMount, false},
		{CapProcessSpawn, true},
		{CapDirectoryRemove, false},
	}
	for _, tc := range cases {
		if got := g.Allows(tc.cap); got != tc.want {
			t.Fatalf("Allows(%s) = %v, want %v", tc.cap, got, tc.want)
		}
	}
}

func TestCapabilityStringIsStable(t *testing.T) {
	names := map[Capability]string{
		CapHTTPEgress:      "http_egress",
		CapFilesystemMount: "filesystem_mount",
		CapProcessSpawn:    "process_spawn",
		CapDirectoryRemove: "directory_remove",
	}
	for cap, want := range names {
		if got := cap.String(); got != want {
			t.Fatalf("Capability(%d).String() = %q, want %q", cap, got, want)
		}
	}
}

func TestCapabilityDeniedErrorMessage(t *testing.T) {
	err := &CapabilityDeniedError{Plugin: "pterodactyl", Capability: CapProcessSpawn}
	want := "plugin pterodactyl: capability process_spawn denied"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
