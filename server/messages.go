package server

// Service and procedure names shared by the Connect and gRPC transports.
const (
	ServiceName    = "whiteplanes.v1.InterpreterService"
	RunProcedure   = "/" + ServiceName + "/Run"
	CheckProcedure = "/" + ServiceName + "/Check"
)

// RunRequest asks the service to execute a program. Exactly one of Source
// and Program must be set; Program is a compiled envelope from vm/dist.
type RunRequest struct {
	Source   string `cbor:"1,keyasint,omitempty"`
	Program  []byte `cbor:"2,keyasint,omitempty"`
	Input    string `cbor:"3,keyasint,omitempty"` // Read by INC/INN
	MaxSteps int    `cbor:"4,keyasint,omitempty"` // Lowers the server limit
}

// RunResponse reports the final state of a run. A runtime fault is not an
// RPC error: the partial output and state are still returned.
type RunResponse struct {
	RunID  string          `cbor:"1,keyasint"`
	Output string          `cbor:"2,keyasint,omitempty"`
	Stack  []int64         `cbor:"3,keyasint,omitempty"`
	Heap   map[int64]int64 `cbor:"4,keyasint,omitempty"`
	Steps  int             `cbor:"5,keyasint,omitempty"`
	Fault  *Fault          `cbor:"6,keyasint,omitempty"`
}

// Fault describes a runtime error.
type Fault struct {
	Kind    string `cbor:"1,keyasint"` // vm.KindName, e.g. "stack-underflow"
	Message string `cbor:"2,keyasint"`
	Counter int    `cbor:"3,keyasint"`
	Line    int    `cbor:"4,keyasint,omitempty"`
	Column  int    `cbor:"5,keyasint,omitempty"`
}

// CheckRequest asks for compilation without execution.
type CheckRequest struct {
	Source string `cbor:"1,keyasint"`
}

// CheckResponse carries the compile result.
type CheckResponse struct {
	Valid        bool         `cbor:"1,keyasint"`
	Instructions int          `cbor:"2,keyasint,omitempty"`
	Listing      string       `cbor:"3,keyasint,omitempty"`
	Diagnostics  []Diagnostic `cbor:"4,keyasint,omitempty"`
}

// Diagnostic is a problem found in source text.
type Diagnostic struct {
	Severity string `cbor:"1,keyasint"` // "error" or "warning"
	Message  string `cbor:"2,keyasint"`
	Line     int    `cbor:"3,keyasint"`
	Column   int    `cbor:"4,keyasint"`
}
