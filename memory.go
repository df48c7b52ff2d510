package graphcorral

import (
	"fmt"
	"sort"
	"time"
)

// memory is the computation memory of a single submission. It is only
// mutated by the goroutine running the submission's pipeline.
type memory struct {
	// owners maps a declared key to the phases allowed to write it
	owners    map[string]map[string]struct{}
	values    map[string]interface{}
	iteration int
	runtime   time.Duration
}

func newMemory() *memory {
	return &memory{
		owners: make(map[string]map[string]struct{}),
		values: make(map[string]interface{}),
	}
}

func (m *memory) declare(owner string, keys []string) {
	for _, key := range keys {
		if m.owners[key] == nil {
			m.owners[key] = make(map[string]struct{})
		}
		m.owners[key][owner] = struct{}{}
	}
}

func (m *memory) declareProgramKeys(program *VertexProgram) {
	m.declare(program.String(), program.MemoryKeys)
}

func (m *memory) declareMapReduceKeys(mr MapReduce) {
	m.declare(mr.String(), mr.MemoryKeys)
}

// merge writes the contributions of the named phase. Every contributed key
// must have been declared by that phase; nothing is written otherwise.
func (m *memory) merge(owner string, contributions map[string]interface{}) error {
	for key := range contributions {
		if _, ok := m.owners[key][owner]; !ok {
			return fmt.Errorf("%w: %s wrote %q", ErrUndeclaredMemoryKey, owner, key)
		}
	}

	for key, value := range contributions {
		if key == IterationKey {
			iteration, err := toInt(value)
			if err != nil {
				return fmt.Errorf("invalid %s value: %w", IterationKey, err)
			}
			m.iteration = iteration
			continue
		}
		m.values[key] = value
	}
	return nil
}

func toInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		// JSON decoded numbers
		return int(v), nil
	}
	return 0, fmt.Errorf("%v is not a number", value)
}

func (m *memory) setRuntime(runtime time.Duration) {
	m.runtime = runtime
}

// snapshot freezes the written values into an immutable Snapshot
func (m *memory) snapshot() Snapshot {
	values := make(map[string]interface{}, len(m.values))
	for key, value := range m.values {
		values[key] = value
	}
	return Snapshot{
		values:    values,
		iteration: m.iteration,
		runtime:   m.runtime,
	}
}

// Snapshot is an immutable view of computation memory
type Snapshot struct {
	values    map[string]interface{}
	iteration int
	runtime   time.Duration
}

// Get returns the value written for key
func (s Snapshot) Get(key string) (interface{}, bool) {
	value, ok := s.values[key]
	return value, ok
}

// Has reports whether a value was written for key
func (s Snapshot) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns the written keys in sorted order
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of written keys
func (s Snapshot) Len() int {
	return len(s.values)
}

// AsMap returns a copy of the written values
func (s Snapshot) AsMap() map[string]interface{} {
	values := make(map[string]interface{}, len(s.values))
	for key, value := range s.values {
		values[key] = value
	}
	return values
}

// Iteration returns the number of BSP iterations, when it was derived
func (s Snapshot) Iteration() int {
	return s.iteration
}

// Runtime returns the wall-clock time of the computation
func (s Snapshot) Runtime() time.Duration {
	return s.runtime
}
