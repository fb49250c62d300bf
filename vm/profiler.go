package vm

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Profiler counts executions per instruction to find a program's hot spots.
// Counters are atomic, so one Profiler may be shared by VMs running the
// same program concurrently.
type Profiler struct {
	program *Program
	counts  []atomic.Uint64
}

// InstructionCount pairs an instruction index with its execution count.
type InstructionCount struct {
	Index int
	Inst  Instruction
	Count uint64
}

// ProfilerStats contains aggregate profiling statistics.
type ProfilerStats struct {
	Executed uint64            // Total instructions executed
	Covered  int               // Instructions executed at least once
	Total    int               // Instructions in the program, labels excluded
	ByOpcode map[Opcode]uint64 // Executions per opcode
}

// NewProfiler creates a profiler for program.
func NewProfiler(program *Program) *Profiler {
	return &Profiler{
		program: program,
		counts:  make([]atomic.Uint64, program.Len()),
	}
}

// WithProfiler records every executed instruction in p. The profiler must
// have been created for the VM's program.
func WithProfiler(p *Profiler) Option {
	return func(v *VM) { v.profiler = p }
}

// record increments the count for instruction i.
func (p *Profiler) record(i int) {
	if i >= 0 && i < len(p.counts) {
		p.counts[i].Add(1)
	}
}

// Count returns how many times instruction i has executed.
func (p *Profiler) Count(i int) uint64 {
	if i < 0 || i >= len(p.counts) {
		return 0
	}
	return p.counts[i].Load()
}

// Top returns the n most executed instructions, ties broken by index.
// Instructions that never ran are omitted.
func (p *Profiler) Top(n int) []InstructionCount {
	var all []InstructionCount
	for i := range p.counts {
		if c := p.counts[i].Load(); c > 0 {
			all = append(all, InstructionCount{Index: i, Inst: p.program.Code[i], Count: c})
		}
	}
	sort.SliceStable(all, func(a, b int) bool {
		return all[a].Count > all[b].Count
	})
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	stats := ProfilerStats{ByOpcode: make(map[Opcode]uint64)}
	for i, inst := range p.program.Code {
		if inst.Op == OpRegister {
			continue
		}
		stats.Total++
		c := p.counts[i].Load()
		if c == 0 {
			continue
		}
		stats.Covered++
		stats.Executed += c
		stats.ByOpcode[inst.Op] += c
	}
	return stats
}

// Report renders the n hottest instructions with their source positions.
func (p *Profiler) Report(n int) string {
	var sb strings.Builder
	stats := p.Stats()
	fmt.Fprintf(&sb, "; %d instructions executed, %d of %d covered\n", stats.Executed, stats.Covered, stats.Total)
	for _, ic := range p.Top(n) {
		fmt.Fprintf(&sb, "%10d  %04d  %-20s", ic.Count, ic.Index, ic.Inst)
		if loc, ok := p.program.Location(ic.Index); ok {
			fmt.Fprintf(&sb, " ; line %s", loc)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Reset clears all counts.
func (p *Profiler) Reset() {
	for i := range p.counts {
		p.counts[i].Store(0)
	}
}
