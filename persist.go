package graphcorral

import (
	"fmt"
	"strings"
)

// ResultGraph selects which graph view a computation returns
type ResultGraph int

// Supported ResultGraph values
const (
	// Original returns the input graph, unchanged
	Original ResultGraph = iota
	// New returns a newly materialized graph
	New
)

func (r ResultGraph) String() string {
	switch r {
	case Original:
		return "ORIGINAL"
	case New:
		return "NEW"
	}
	return fmt.Sprintf("ResultGraph(%d)", int(r))
}

// ParseResultGraph parses the String form of a ResultGraph
func ParseResultGraph(s string) (ResultGraph, error) {
	switch strings.ToUpper(s) {
	case "ORIGINAL":
		return Original, nil
	case "NEW":
		return New, nil
	}
	return Original, fmt.Errorf("%w: unknown result graph %q", ErrInvalidConfiguration, s)
}

// MarshalText implements encoding.TextMarshaler
func (r ResultGraph) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *ResultGraph) UnmarshalText(text []byte) error {
	parsed, err := ParseResultGraph(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Persist selects which computed data survives the computation
type Persist int

// Supported Persist values
const (
	// Nothing keeps no computed data
	Nothing Persist = iota
	// VertexProperties keeps vertices and their computed properties
	VertexProperties
	// Edges keeps vertices, their computed properties and all edges
	Edges
)

func (p Persist) String() string {
	switch p {
	case Nothing:
		return "NOTHING"
	case VertexProperties:
		return "VERTEX_PROPERTIES"
	case Edges:
		return "EDGES"
	}
	return fmt.Sprintf("Persist(%d)", int(p))
}

// ParsePersist parses the String form of a Persist
func ParsePersist(s string) (Persist, error) {
	switch strings.ToUpper(s) {
	case "NOTHING":
		return Nothing, nil
	case "VERTEX_PROPERTIES":
		return VertexProperties, nil
	case "EDGES":
		return Edges, nil
	}
	return Nothing, fmt.Errorf("%w: unknown persist %q", ErrInvalidConfiguration, s)
}

// MarshalText implements encoding.TextMarshaler
func (p Persist) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Persist) UnmarshalText(text []byte) error {
	parsed, err := ParsePersist(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Materialization is the resolved ResultGraph and Persist pairing of a
// submission. It does not change once resolved.
type Materialization struct {
	ResultGraph ResultGraph
	Persist     Persist
}

// HasEdges reports whether graph data written under this materialization
// carries edges.
func (m Materialization) HasEdges() bool {
	return m.Persist == Edges
}

// resolveMaterialization picks the ResultGraph and Persist of a submission.
// Explicit caller choices win. Otherwise the vertex program preferences are
// used, or ORIGINAL/NOTHING when there is no vertex program.
func resolveMaterialization(program *VertexProgram, resultGraph *ResultGraph, persist *Persist) (Materialization, error) {
	m := Materialization{
		ResultGraph: Original,
		Persist:     Nothing,
	}
	if program != nil {
		m.ResultGraph = program.PreferredResultGraph
		m.Persist = program.PreferredPersist
	}
	if resultGraph != nil {
		m.ResultGraph = *resultGraph
	}
	if persist != nil {
		m.Persist = *persist
	}

	if m.ResultGraph == Original && m.Persist != Nothing {
		return Materialization{}, &CombinationError{ResultGraph: m.ResultGraph, Persist: m.Persist}
	}
	return m, nil
}
