package qsvm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCircuit is returned for gates on missing wires or with the
// wrong number of parameters.
var ErrInvalidCircuit = errors.New("qsvm: invalid circuit")

// Circuit is a gate sequence on NumQubits wires, measured on every wire
// Shots times. Shots == 0 asks a device for exact probabilities.
type Circuit struct {
	NumQubits int            `json:"num_qubits"`
	Gates     []GateOp       `json:"gates"`
	Shots     int            `json:"shots"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type GateOp struct {
	Name   string    `json:"name"`
	Qubits []int     `json:"qubits"`
	Params []float64 `json:"params,omitempty"`
}

type gateDef struct {
	wires    int
	params   int
	rotation bool
	qasm     string
}

var gateDefs = map[string]gateDef{
	"H":    {wires: 1, qasm: "h"},
	"X":    {wires: 1, qasm: "x"},
	"Z":    {wires: 1, qasm: "z"},
	"RX":   {wires: 1, params: 1, rotation: true, qasm: "rx"},
	"RY":   {wires: 1, params: 1, rotation: true, qasm: "ry"},
	"RZ":   {wires: 1, params: 1, rotation: true, qasm: "rz"},
	"CNOT": {wires: 2, qasm: "cx"},
	"CZ":   {wires: 2, qasm: "cz"},
	"ZZ":   {wires: 2, params: 1, rotation: true, qasm: "rzz"},
}

func NewCircuit(numQubits int) *Circuit {
	return &Circuit{NumQubits: numQubits}
}

func (c *Circuit) Append(name string, qubits []int, params ...float64) *Circuit {
	c.Gates = append(c.Gates, GateOp{Name: name, Qubits: qubits, Params: params})
	return c
}

// Compose appends other's gates after c's, returning a new circuit.
func (c *Circuit) Compose(other *Circuit) *Circuit {
	out := &Circuit{
		NumQubits: max(c.NumQubits, other.NumQubits),
		Shots:     c.Shots,
		Gates:     make([]GateOp, 0, len(c.Gates)+len(other.Gates)),
	}
	out.Gates = append(out.Gates, c.Gates...)
	out.Gates = append(out.Gates, other.Gates...)
	return out
}

// Adjoint returns the inverse circuit: gates reversed, rotation angles
// negated. H, X, Z, CNOT and CZ are self-inverse.
func (c *Circuit) Adjoint() *Circuit {
	out := &Circuit{
		NumQubits: c.NumQubits,
		Shots:     c.Shots,
		Gates:     make([]GateOp, len(c.Gates)),
	}
	for i, g := range c.Gates {
		inv := GateOp{Name: g.Name, Qubits: append([]int(nil), g.Qubits...)}
		if def, ok := gateDefs[g.Name]; ok && def.rotation {
			inv.Params = make([]float64, len(g.Params))
			for j, p := range g.Params {
				inv.Params[j] = -p
			}
		} else {
			inv.Params = append([]float64(nil), g.Params...)
		}
		out.Gates[len(c.Gates)-1-i] = inv
	}
	return out
}

func (c *Circuit) Validate() error {
	if c.NumQubits <= 0 {
		return fmt.Errorf("%w: %d qubits", ErrInvalidCircuit, c.NumQubits)
	}
	if c.Shots < 0 {
		return fmt.Errorf("%w: negative shots", ErrInvalidCircuit)
	}

	for i, g := range c.Gates {
		def, ok := gateDefs[g.Name]
		if !ok {
			return fmt.Errorf("%w: gate %d: unknown gate %q", ErrInvalidCircuit, i, g.Name)
		}
		if len(g.Qubits) != def.wires {
			return fmt.Errorf("%w: gate %d: %s takes %d wires, got %d", ErrInvalidCircuit, i, g.Name, def.wires, len(g.Qubits))
		}
		if len(g.Params) != def.params {
			return fmt.Errorf("%w: gate %d: %s takes %d params, got %d", ErrInvalidCircuit, i, g.Name, def.params, len(g.Params))
		}
		for _, q := range g.Qubits {
			if q < 0 || q >= c.NumQubits {
				return fmt.Errorf("%w: gate %d: wire %d out of range", ErrInvalidCircuit, i, q)
			}
		}
		if def.wires == 2 && g.Qubits[0] == g.Qubits[1] {
			return fmt.Errorf("%w: gate %d: %s on a single wire", ErrInvalidCircuit, i, g.Name)
		}
	}

	return nil
}

// Simulate evolves |0...0> through the circuit.
func (c *Circuit) Simulate() (*StateVector, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	sv := NewStateVector(c.NumQubits)
	for _, g := range c.Gates {
		switch g.Name {
		case "H":
			sv.Apply1(g.Qubits[0], hadamard())
		case "X":
			sv.Apply1(g.Qubits[0], pauliX())
		case "Z":
			sv.Apply1(g.Qubits[0], pauliZ())
		case "RX":
			sv.Apply1(g.Qubits[0], rotationX(g.Params[0]))
		case "RY":
			sv.Apply1(g.Qubits[0], rotationY(g.Params[0]))
		case "RZ":
			sv.Apply1(g.Qubits[0], rotationZ(g.Params[0]))
		case "CNOT":
			sv.ApplyControlled(g.Qubits[0], g.Qubits[1], pauliX())
		case "CZ":
			sv.ApplyControlled(g.Qubits[0], g.Qubits[1], pauliZ())
		case "ZZ":
			sv.ApplyZZ(g.Qubits[0], g.Qubits[1], g.Params[0])
		}
	}

	return sv, nil
}

// QASM renders the circuit as OpenQASM 3 with a final measurement of every
// wire.
func (c *Circuit) QASM() string {
	var b strings.Builder

	fmt.Fprintf(&b, "OPENQASM 3.0;\ninclude \"stdgates.inc\";\nqubit[%d] q;\nbit[%d] c;\n\n", c.NumQubits, c.NumQubits)

	for _, g := range c.Gates {
		name := strings.ToLower(g.Name)
		if def, ok := gateDefs[g.Name]; ok {
			name = def.qasm
		}
		b.WriteString(name)

		if len(g.Params) > 0 {
			b.WriteByte('(')
			for i, p := range g.Params {
				if i > 0 {
					b.WriteString(", ")
				}
				fmt.Fprintf(&b, "%.12g", p)
			}
			b.WriteByte(')')
		}

		for i, q := range g.Qubits {
			if i == 0 {
				b.WriteByte(' ')
			} else {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "q[%d]", q)
		}
		b.WriteString(";\n")
	}

	b.WriteString("\nc = measure q;\n")
	return b.String()
}
