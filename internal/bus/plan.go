package bus

import (
	"sort"
	"time"

	"github.com/nexus-edge/serial-driver/internal/domain"
)

// buildPlan groups a device's registers into the minimal sequence of read
// queries that covers every register, honoring the device's coalescing
// limits. Registers merge into one query only when they share kind and
// poll interval, the address gap to the previous register fits the hole
// budget, and the merged range fits the per-read ceiling.
//
// The walk is over a stable sort by (kind, address), so identical inputs
// always produce the identical query sequence.
func buildPlan(s *Session) []*Query {
	regs := make([]*domain.Register, len(s.polled))
	copy(regs, s.polled)
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].Kind != regs[j].Kind {
			return regs[i].Kind.Order() < regs[j].Kind.Order()
		}
		return regs[i].Address < regs[j].Address
	})

	var queries []*Query
	var run []*domain.Register
	var runStart, prevEnd int
	var prevInterval time.Duration
	hasHoles := false

	flush := func() {
		if len(run) > 0 {
			queries = append(queries, newReadQuery(s, run, hasHoles))
		}
	}

	for _, reg := range regs {
		newEnd := int(reg.End())
		extend := len(run) > 0 &&
			reg.Kind == run[0].Kind &&
			reg.PollInterval == prevInterval &&
			int(reg.Address) >= prevEnd &&
			int(reg.Address) <= prevEnd+s.maxHole(reg.Kind) &&
			newEnd-runStart <= s.maxElements(reg.Kind)

		if !extend {
			flush()
			run = nil
			runStart = int(reg.Address)
			hasHoles = false
		} else if int(reg.Address) != prevEnd {
			hasHoles = true
		}
		run = append(run, reg)
		prevEnd = newEnd
		prevInterval = reg.PollInterval
	}
	flush()

	return queries
}

// maxHole returns the permitted address gap inside one query for the kind.
func (s *Session) maxHole(kind domain.RegisterKind) int {
	if kind.Info().SingleBit {
		return s.cfg.MaxBitHole
	}
	return s.cfg.MaxRegHole
}

// maxElements returns the element budget of one read query for the kind,
// the device limit clamped to the protocol ceiling.
func (s *Session) maxElements(kind domain.RegisterKind) int {
	ceiling := int(kind.Info().MaxRead)
	if kind.Info().SingleBit {
		return ceiling
	}
	if s.cfg.MaxReadRegisters > 0 && s.cfg.MaxReadRegisters < ceiling {
		return s.cfg.MaxReadRegisters
	}
	return ceiling
}
