// Package useragent generates realistic desktop Chrome user-agent strings.
//
// Only Chromium-family agents are produced: the session runs inside headless
// Chromium, and advertising another engine would contradict the JS fingerprint
// the page exposes.
package useragent

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// platforms are the OS tokens as they appear in current Chrome builds.
// Chrome freezes the macOS and Windows versions in the UA string.
var platforms = []string{
	"Windows NT 10.0; Win64; x64",
	"Windows NT 10.0; Win64; x64",
	"Macintosh; Intel Mac OS X 10_15_7",
	"X11; Linux x86_64",
}

// chromeMajors is a rolling window of recent stable Chrome majors.
var chromeMajors = []int{128, 129, 130, 131, 132, 133, 134}

const template = "Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36"

// Generator picks user agents at random. The zero value is not usable; call New.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Generator seeded from the runtime's random source.
func New() *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded returns a deterministic Generator for tests.
func NewSeeded(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Random returns a new user-agent string.
func (g *Generator) Random() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	platform := platforms[g.rng.IntN(len(platforms))]
	major := chromeMajors[g.rng.IntN(len(chromeMajors))]
	return fmt.Sprintf(template, platform, major)
}
