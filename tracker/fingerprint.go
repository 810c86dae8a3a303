package tracker

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// Environment is the ambient browser context the tracker reads. Location and
// Referrer are functions because they change as the visitor navigates.
type Environment struct {
	UserAgent      string
	Language       string
	Platform       string
	ScreenWidth    int
	ScreenHeight   int
	ColorDepth     int
	PixelRatio     float64
	TimezoneOffset int // minutes from UTC
	Timezone       string

	// CanvasHash renders a fixed canvas scene and hashes the pixels. It may
	// be nil or fail when canvas is unavailable.
	CanvasHash func() (string, error)
	Location   func() string
	Referrer   func() string
}

func (e Environment) location() string {
	if e.Location == nil {
		return ""
	}
	return e.Location()
}

func (e Environment) referrer() string {
	if e.Referrer == nil {
		return ""
	}
	return e.Referrer()
}

const noCanvas = "no-canvas"

func (e Environment) canvas() (hash string) {
	if e.CanvasHash == nil {
		return noCanvas
	}
	defer func() {
		if recover() != nil {
			hash = noCanvas
		}
	}()
	h, err := e.CanvasHash()
	if err != nil || h == "" {
		return noCanvas
	}
	return h
}

// ComputeFingerprint hashes the environment's stable signals. It is not a
// security measure, only a way to correlate anonymous visits from the same
// browser profile. A missing canvas yields a less distinctive but still
// stable value.
func ComputeFingerprint(env Environment) string {
	signals := []string{
		env.UserAgent,
		env.Language,
		env.Platform,
		fmt.Sprintf("%dx%dx%d", env.ScreenWidth, env.ScreenHeight, env.ColorDepth),
		strconv.FormatFloat(env.PixelRatio, 'f', -1, 64),
		strconv.Itoa(env.TimezoneOffset),
		env.Timezone,
		env.canvas(),
	}
	h := fnv.New32a()
	// fnv writes never fail
	_, _ = h.Write([]byte(strings.Join(signals, "|")))
	return fmt.Sprintf("%08x", h.Sum32())
}
