package logger

import (
	"strconv"
	"strings"
	"sync"
)

// ratioSampler lets numerator out of every denominator events through. Each
// key keeps its own counter so a busy event kind cannot starve a rare one.
type ratioSampler struct {
	mu          sync.Mutex
	numerator   int
	denominator int
	counters    map[string]int
}

func newRatioSampler(numerator, denominator int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(numerator, denominator)
	return s
}

// Set configures the sampling ratio and resets every counter. A non-positive
// part disables sampling so every event passes.
func (s *ratioSampler) Set(numerator, denominator int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]int)
	if numerator <= 0 || denominator <= 0 {
		s.numerator = 0
		s.denominator = 0
		return
	}
	if numerator > denominator {
		numerator = denominator
	}
	s.numerator = numerator
	s.denominator = denominator
}

// Allow reports whether the next unkeyed event should pass sampling.
func (s *ratioSampler) Allow() bool { return s.AllowKey("") }

// AllowKey reports whether the next event under key should pass sampling.
// The first event of every window passes.
func (s *ratioSampler) AllowKey(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denominator <= 0 || s.numerator <= 0 {
		return true
	}
	n := s.counters[key] + 1
	if n > s.denominator {
		n = 1
	}
	s.counters[key] = n
	return n <= s.numerator
}

// parseRatioSpec reads "n/d" or a bare "d" (meaning 1/d). Anything else,
// including "0", yields 0/0.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if num, den, ok := strings.Cut(spec, "/"); ok {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 != nil || err2 != nil {
			return 0, 0
		}
		return n, d
	}
	v, err := strconv.Atoi(spec)
	if err != nil || v <= 0 {
		return 0, 0
	}
	return 1, v
}
