package vm

import (
	"fmt"
	"sort"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Whitespace program: %d instructions\n", p.Len()))

	// Labels
	labels := p.Labels()
	if len(labels) > 0 {
		names := make([]string, 0, len(labels))
		for l := range labels {
			names = append(names, l)
		}
		sort.Slice(names, func(i, j int) bool { return labels[names[i]] < labels[names[j]] })

		sb.WriteString("; Labels:\n")
		for _, l := range names {
			sb.WriteString(fmt.Sprintf(";   %-20s -> %04d\n", labelDisplay(l), labels[l]))
		}
	}
	sb.WriteString("\n")

	// Code section
	sb.WriteString("; Code:\n")
	for i, inst := range p.Code {
		line := DisassembleInstruction(inst)
		if loc, ok := p.Location(i); ok {
			sb.WriteString(fmt.Sprintf("%04d  %-30s ; line %d:%d\n", i, line, loc.Line, loc.Column))
		} else {
			sb.WriteString(fmt.Sprintf("%04d  %s\n", i, line))
		}
	}

	return sb.String()
}

// DisassembleInstruction formats one instruction with its prefix, e.g.
// "PUSH 72            [SS]".
func DisassembleInstruction(inst Instruction) string {
	info := GetOpcodeInfo(inst.Op)
	if info.Prefix == "" {
		return info.Name
	}
	text := inst.String()
	if inst.Op == OpPush && inst.Value >= 32 && inst.Value < 127 {
		text += fmt.Sprintf(" '%c'", rune(inst.Value))
	}
	return fmt.Sprintf("%-18s [%s]", text, info.Prefix)
}
