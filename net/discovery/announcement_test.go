package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		in   string
		want Announcement
	}{
		{"10.0.0.2", Announcement{Host: "10.0.0.2"}},
		{" 10.0.0.2\n", Announcement{Host: "10.0.0.2"}},
		{"192.168.2.1:50000", Announcement{Host: "192.168.2.1", Port: 50000}},
		{"fe80::1", Announcement{Host: "fe80::1"}},
		{"[fe80::1]:5006", Announcement{Host: "fe80::1", Port: 5006}},
		{"raspberry-pi.local", Announcement{Host: "raspberry-pi.local"}},
		{"hub:5006", Announcement{Host: "hub", Port: 5006}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, in := range []string{
		"\xff\xfe",
		"",
		"   ",
		"10.0.0.2:",
		"10.0.0.2:0",
		"10.0.0.2:70000",
		"10.0.0.2:port",
		"-bad-.host",
		"hello world",
		"a..b",
		"host:1:2",
	} {
		_, err := Decode([]byte(in))
		assert.ErrorIs(t, err, ErrMalformedAnnouncement, "input %q", in)
	}

	_, err := Decode(make([]byte, maxAnnouncementSize+1))
	assert.ErrorIs(t, err, ErrMalformedAnnouncement)
}

func TestAnnouncementAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.2", Announcement{Host: "10.0.0.2"}.Address())
	assert.Equal(t, "10.0.0.2:5006", Announcement{Host: "10.0.0.2", Port: 5006}.Address())
	assert.Equal(t, "[fe80::1]:5006", Announcement{Host: "fe80::1", Port: 5006}.Address())

	ann, err := Decode(Announcement{Host: "10.0.0.2", Port: 5006}.Encode())
	require.NoError(t, err)
	assert.Equal(t, Announcement{Host: "10.0.0.2", Port: 5006}, ann)
}
