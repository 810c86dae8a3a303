package tracker_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"craftshop/storefront/tracker"
)

func TestFingerprintIsStable(t *testing.T) {
	env := testEnv(&location{})
	fp := tracker.ComputeFingerprint(env)

	assert.Len(t, fp, 8)
	assert.Equal(t, fp, tracker.ComputeFingerprint(env))

	env.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) Firefox/125.0"
	assert.NotEqual(t, fp, tracker.ComputeFingerprint(env))
}

func TestFingerprintCoversPlatformAndTimezone(t *testing.T) {
	env := testEnv(&location{})
	fp := tracker.ComputeFingerprint(env)

	platform := env
	platform.Platform = "MacIntel"
	assert.NotEqual(t, fp, tracker.ComputeFingerprint(platform))

	zone := env
	zone.Timezone = "America/Chicago"
	assert.NotEqual(t, fp, tracker.ComputeFingerprint(zone))
}

func TestFingerprintWithoutCanvas(t *testing.T) {
	env := testEnv(&location{})
	env.CanvasHash = nil
	want := tracker.ComputeFingerprint(env)

	for name, fn := range map[string]func() (string, error){
		"error": func() (string, error) { return "", errors.New("canvas blocked") },
		"empty": func() (string, error) { return "", nil },
		"panic": func() (string, error) { panic("no 2d context") },
	} {
		t.Run(name, func(t *testing.T) {
			env.CanvasHash = fn
			assert.Equal(t, want, tracker.ComputeFingerprint(env))
		})
	}
}

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want tracker.Device
	}{
		{
			"iphone safari",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			tracker.Device{DeviceType: "mobile", Browser: "safari", OS: "ios"},
		},
		{
			"ipad",
			"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			tracker.Device{DeviceType: "tablet", Browser: "safari", OS: "ios"},
		},
		{
			"android phone",
			"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36",
			tracker.Device{DeviceType: "mobile", Browser: "chrome", OS: "android"},
		},
		{
			"android tablet",
			"Mozilla/5.0 (Linux; Android 13; SM-X200) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			tracker.Device{DeviceType: "tablet", Browser: "chrome", OS: "android"},
		},
		{
			"edge on windows",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 Edg/124.0",
			tracker.Device{DeviceType: "desktop", Browser: "edge", OS: "windows"},
		},
		{
			"firefox on mac",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:125.0) Gecko/20100101 Firefox/125.0",
			tracker.Device{DeviceType: "desktop", Browser: "firefox", OS: "macos"},
		},
		{
			"opera on linux",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 OPR/109.0",
			tracker.Device{DeviceType: "desktop", Browser: "opera", OS: "linux"},
		},
		{"empty", "", tracker.Device{DeviceType: "desktop", Browser: "other", OS: "other"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tracker.ParseUserAgent(tt.ua))
		})
	}
}
