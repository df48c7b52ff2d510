package graphcorral

import (
	"fmt"
	"io/ioutil"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// hiddenPrefix marks memory keys reserved for the computer itself
const hiddenPrefix = "~"

// IterationKey is the hidden memory key holding the number of BSP
// iterations, populated when memory derivation is enabled
const IterationKey = hiddenPrefix + "iteration"

// VertexProgram describes the computation handed to the BSP engine.
// A VertexProgram must not be modified once it has been submitted.
type VertexProgram struct {
	Name string `yaml:"name" json:"name"`
	// MemoryKeys are the computation memory keys the program populates
	MemoryKeys []string `yaml:"memory_keys" json:"memoryKeys,omitempty"`
	// Combiner names an optional message combiner known to the BSP engine
	Combiner             string      `yaml:"combiner" json:"combiner,omitempty"`
	PreferredResultGraph ResultGraph `yaml:"preferred_result_graph" json:"preferredResultGraph"`
	PreferredPersist     Persist     `yaml:"preferred_persist" json:"preferredPersist"`
	// MapReducers are the map-reduce jobs the program needs run after it
	MapReducers []MapReduce `yaml:"map_reducers" json:"mapReducers,omitempty"`
	// RequiresDirectObjects is set by programs that need to hand the
	// engine objects that cannot be serialized into State
	RequiresDirectObjects bool `yaml:"requires_direct_objects" json:"requiresDirectObjects,omitempty"`
	// State is the serialized program configuration given to the BSP engine
	State map[string]string `yaml:"state" json:"state,omitempty"`
}

func (p *VertexProgram) String() string {
	return fmt.Sprintf("vertexprogram[%s]", p.Name)
}

// MapReduce describes a map-reduce job and the memory keys it contributes
type MapReduce struct {
	Name       string            `yaml:"name" json:"name"`
	MemoryKeys []string          `yaml:"memory_keys" json:"memoryKeys"`
	Config     map[string]string `yaml:"config" json:"config,omitempty"`
}

func (mr MapReduce) String() string {
	return fmt.Sprintf("mapreduce[%s]", mr.Name)
}

// memoryDerivationName is the name of the synthetic map-reduce job that
// aggregates vertex program memory
const memoryDerivationName = "memory-derivation"

// newMemoryMapReduce builds the synthetic job that derives the vertex
// program memory, including the hidden iteration key
func newMemoryMapReduce(program *VertexProgram) MapReduce {
	keys := make([]string, 0, len(program.MemoryKeys)+1)
	keys = append(keys, program.MemoryKeys...)
	keys = append(keys, IterationKey)
	return MapReduce{
		Name:       memoryDerivationName,
		MemoryKeys: keys,
		Config: map[string]string{
			"memory_keys": strings.Join(keys, ","),
		},
	}
}

// mapReduceSet is an insertion-ordered set of map-reduce jobs keyed by name
type mapReduceSet struct {
	jobs  []MapReduce
	names map[string]struct{}
}

func (s *mapReduceSet) add(mr MapReduce) bool {
	if s.names == nil {
		s.names = make(map[string]struct{})
	}
	if _, exists := s.names[mr.Name]; exists {
		return false
	}
	s.names[mr.Name] = struct{}{}
	s.jobs = append(s.jobs, mr)
	return true
}

func (s *mapReduceSet) len() int {
	return len(s.jobs)
}

func (s *mapReduceSet) list() []MapReduce {
	jobs := make([]MapReduce, len(s.jobs))
	copy(jobs, s.jobs)
	return jobs
}

// LoadProgram reads a VertexProgram from a YAML file
func LoadProgram(path string) (*VertexProgram, error) {
	contents, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProgram(contents)
}

// ParseProgram decodes a YAML VertexProgram description
func ParseProgram(contents []byte) (*VertexProgram, error) {
	program := &VertexProgram{}
	if err := yaml.UnmarshalStrict(contents, program); err != nil {
		return nil, fmt.Errorf("could not parse vertex program: %w", err)
	}
	if program.Name == "" {
		return nil, fmt.Errorf("%w: vertex program has no name", ErrInvalidConfiguration)
	}
	return program, nil
}
