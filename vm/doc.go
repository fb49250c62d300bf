// Package vm implements the Whitespace virtual machine.
//
// This package contains:
//   - Opcode metadata and the Instruction and Program types
//   - The execution Context (stack, heap, call stack, labels)
//   - The interpreter loop and its runtime errors
//   - Interactor, the host I/O capability
//   - Disassembly and per-instruction profiling
package vm
