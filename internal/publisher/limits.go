package publisher

import (
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimits are conservative; override per platform with PUBLISH_<PLATFORM>_RPS
// and PUBLISH_<PLATFORM>_BURST.
func DefaultRateLimits() map[string]RateLimitConfig {
	return map[string]RateLimitConfig{
		"facebook":  {RequestsPerSecond: 1, Burst: 2},
		"instagram": {RequestsPerSecond: 1, Burst: 2},
		"twitter":   {RequestsPerSecond: 1, Burst: 1},
		"linkedin":  {RequestsPerSecond: 1, Burst: 2},
	}
}

var fallbackRateLimit = RateLimitConfig{RequestsPerSecond: 1, Burst: 1}

func envPrefix(platform string) string {
	return "PUBLISH_" + strings.ToUpper(strings.ReplaceAll(platform, "-", "_")) + "_"
}

// RateLimitFromEnv overlays the platform's env overrides on def. Invalid or non-positive
// values are ignored.
func RateLimitFromEnv(getenv func(string) string, platform string, def RateLimitConfig) RateLimitConfig {
	if getenv == nil {
		return def
	}
	prefix := envPrefix(platform)
	if v := getenv(prefix + "RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			def.RequestsPerSecond = f
		}
	}
	if v := getenv(prefix + "BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			def.Burst = n
		}
	}
	return def
}

// limiterSet lazily builds one limiter per platform. Limiters are shared by every publish
// attempt in the process.
type limiterSet struct {
	mu       sync.Mutex
	getenv   func(string) string
	defaults map[string]RateLimitConfig
	limiters map[string]*rate.Limiter
}

func newLimiterSet(getenv func(string) string, defaults map[string]RateLimitConfig) *limiterSet {
	if defaults == nil {
		defaults = DefaultRateLimits()
	}
	return &limiterSet{getenv: getenv, defaults: defaults, limiters: map[string]*rate.Limiter{}}
}

func (s *limiterSet) config(platform string) RateLimitConfig {
	def, ok := s.defaults[platform]
	if !ok {
		def = fallbackRateLimit
	}
	return RateLimitFromEnv(s.getenv, platform, def)
}

func (s *limiterSet) get(platform string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lim, ok := s.limiters[platform]; ok {
		return lim
	}
	cfg := s.config(platform)
	lim := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	s.limiters[platform] = lim
	return lim
}
