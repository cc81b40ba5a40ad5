package watchdog

import (
	"math/rand"
	"time"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	QuietFor time.Duration // default: 30s, no location or status change for this long means signal lost

	// Re-announce cadence while the courier stays quiet, by how long it has been quiet.
	Recheck1 time.Duration // quiet < 2m, default: 30s
	Recheck2 time.Duration // quiet < 10m, default: 1m
	Recheck3 time.Duration // quiet < 1h, default: 5m
	Recheck4 time.Duration // default: 15m

	Jitter time.Duration // default: 0
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		QuietFor: 30 * time.Second,
		Recheck1: 30 * time.Second,
		Recheck2: 1 * time.Minute,
		Recheck3: 5 * time.Minute,
		Recheck4: 15 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.QuietFor <= 0 {
		cfg.QuietFor = def.QuietFor
	}
	if cfg.Recheck1 <= 0 {
		cfg.Recheck1 = def.Recheck1
	}
	if cfg.Recheck2 <= 0 {
		cfg.Recheck2 = def.Recheck2
	}
	if cfg.Recheck3 <= 0 {
		cfg.Recheck3 = def.Recheck3
	}
	if cfg.Recheck4 <= 0 {
		cfg.Recheck4 = def.Recheck4
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func (p *Planner) QuietFor() time.Duration {
	return p.cfg.QuietFor
}

// RecheckDelay says when to look at a quiet order again. A nil lastSeen means
// the courier never reported at all.
func (p *Planner) RecheckDelay(now time.Time, lastSeen *time.Time) time.Duration {
	var d time.Duration
	quiet := time.Duration(1<<63 - 1)
	if lastSeen != nil {
		quiet = now.Sub(*lastSeen)
	}
	switch {
	case quiet < 2*time.Minute:
		d = p.cfg.Recheck1
	case quiet < 10*time.Minute:
		d = p.cfg.Recheck2
	case quiet < time.Hour:
		d = p.cfg.Recheck3
	default:
		d = p.cfg.Recheck4
	}
	if p.cfg.Jitter > 0 {
		sec := int(p.cfg.Jitter.Seconds())
		if sec > 0 {
			d += time.Duration(p.r.Intn(sec+1)) * time.Second
		}
	}
	return d
}
