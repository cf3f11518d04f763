package ingest

import "testing"

func TestParseDeviceIndex(t *testing.T) {
	cases := []struct {
		uri  string
		want string
	}{
		{"0", "/dev/video0"},
		{"2", "/dev/video2"},
		{"/dev/video0", "/dev/video0"},
		{"  1  ", "/dev/video1"},
		{"video=Integrated Camera", "/dev/video0"},
	}

	for _, c := range cases {
		t.Run(c.uri, func(t *testing.T) {
			if got := parseDeviceIndex(c.uri); got != c.want {
				t.Errorf("parseDeviceIndex(%q) = %q, want %q", c.uri, got, c.want)
			}
		})
	}
}
