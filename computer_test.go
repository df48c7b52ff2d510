package graphcorral

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcongdon/graphcorral/internal/pkg/corfs"
)

type testGraph struct {
	input  string
	output string
}

func newTestGraph(t *testing.T) testGraph {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	require.NoError(t, os.MkdirAll(input, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(input, "edges.csv"), []byte("1,2\n2,3\n"), 0666))
	return testGraph{
		input:  input,
		output: filepath.Join(dir, "output"),
	}
}

func newTestComputer(engine Engine, graph testGraph, options ...Option) *Computer {
	options = append([]Option{
		WithInputLocation(graph.input),
		WithOutputLocation(graph.output),
		WithStageArtifacts(false),
		WithDeriveMemory(false),
	}, options...)
	c := NewComputer(engine, options...)
	c.fs = &corfs.LocalFileSystem{}
	return c
}

func submitAndWait(t *testing.T, c *Computer) (*Result, error) {
	future, err := c.Submit(context.Background())
	require.NoError(t, err)
	return future.Get(context.Background())
}

func testProgram() *VertexProgram {
	return &VertexProgram{
		Name:                 "pagerank",
		MemoryKeys:           []string{"converged"},
		PreferredResultGraph: New,
		PreferredPersist:     VertexProperties,
	}
}

func TestSubmitNoComputation(t *testing.T) {
	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t))

	future, err := c.Submit(context.Background())
	assert.Nil(t, future)
	assert.True(t, errors.Is(err, ErrNoComputation))
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.Empty(t, engine.launched())
}

func TestSubmitTwice(t *testing.T) {
	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t)).
		MapReduce(MapReduce{Name: "count"})

	result, err := submitAndWait(t, c)
	require.NoError(t, err)
	assert.NotNil(t, result)

	future, err := c.Submit(context.Background())
	assert.Nil(t, future)
	assert.True(t, errors.Is(err, ErrAlreadySubmitted))
	assert.Equal(t, []string{"count"}, engine.launchedNames())
}

func TestRejectedSubmitConsumesComputer(t *testing.T) {
	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t))

	_, err := c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrNoComputation))

	c.MapReduce(MapReduce{Name: "count"})
	_, err = c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadySubmitted))
	assert.Empty(t, engine.launched())
}

func TestJobOrdering(t *testing.T) {
	engine := &recordingEngine{}
	program := testProgram()
	program.MapReducers = []MapReduce{{Name: "program-mr"}}

	c := newTestComputer(engine, newTestGraph(t), WithDeriveMemory(true)).
		Program(program).
		MapReduce(MapReduce{Name: "declared"}).
		MapReduce(MapReduce{Name: "declared", MemoryKeys: []string{"ignored"}})

	_, err := submitAndWait(t, c)
	require.NoError(t, err)

	assert.Equal(t, []string{"pagerank", "declared", "program-mr", memoryDerivationName}, engine.launchedNames())
	jobs := engine.launched()
	assert.Equal(t, VertexProgramJob, jobs[0].kind)
	for _, job := range jobs[1:] {
		assert.Equal(t, MapReduceJobKind, job.kind)
	}
	assert.Empty(t, jobs[1].mapReduce.MapReduce.MemoryKeys)
}

func TestJobsRunOneAfterAnother(t *testing.T) {
	engine := &recordingEngine{jobTime: 5 * time.Millisecond}
	c := newTestComputer(engine, newTestGraph(t)).
		Program(testProgram()).
		MapReduce(MapReduce{Name: "a"}).
		MapReduce(MapReduce{Name: "b"}).
		MapReduce(MapReduce{Name: "c"})

	_, err := submitAndWait(t, c)
	require.NoError(t, err)

	jobs := engine.launched()
	require.Len(t, jobs, 4)
	assert.Equal(t, []string{"pagerank", "a", "b", "c"}, engine.launchedNames())
	for i, job := range jobs {
		assert.False(t, job.finished.IsZero(), "%s never finished", job.name)
		assert.False(t, job.finished.Before(job.started.Add(engine.jobTime)))
		if i > 0 {
			previous := jobs[i-1]
			assert.False(t, job.started.Before(previous.finished),
				"%s started before %s finished", job.name, previous.name)
		}
	}
}

func TestEdgesNewKeepsGraph(t *testing.T) {
	engine := &recordingEngine{
		contributions: map[string]map[string]interface{}{
			"count": {"vertices": 3},
		},
	}
	graph := newTestGraph(t)
	c := newTestComputer(engine, graph).
		Program(testProgram()).
		MapReduce(MapReduce{Name: "count", MemoryKeys: []string{"vertices"}}).
		Result(New).
		Persist(Edges)

	result, err := submitAndWait(t, c)
	require.NoError(t, err)

	intermediate := filepath.Join(graph.output, intermediateGraphDir)
	assert.Equal(t, Graph{
		Location:    intermediate,
		ResultGraph: New,
		Persist:     Edges,
		HasEdges:    true,
	}, result.Graph)
	assert.DirExists(t, intermediate)

	jobs := engine.launched()
	require.Len(t, jobs, 2)
	assert.False(t, jobs[0].vertex.DiscardOutput)
	assert.True(t, jobs[0].vertex.OutputHasEdges)
	assert.Equal(t, graph.input, jobs[0].vertex.InputLocation)
	assert.Equal(t, intermediate, jobs[0].vertex.OutputLocation)
	assert.Equal(t, intermediate, jobs[1].mapReduce.InputLocation)
	assert.True(t, jobs[1].mapReduce.InputHasEdges)

	value, ok := result.Memory.Get("vertices")
	assert.True(t, ok)
	assert.Equal(t, 3, value)
	assert.Equal(t, result.Runtime, result.Memory.Runtime())
}

func TestEdgesNewWithoutMapReduces(t *testing.T) {
	engine := &recordingEngine{}
	graph := newTestGraph(t)
	c := newTestComputer(engine, graph).
		Program(testProgram()).
		Result(New).
		Persist(Edges)

	result, err := submitAndWait(t, c)
	require.NoError(t, err)

	intermediate := filepath.Join(graph.output, intermediateGraphDir)
	jobs := engine.launched()
	require.Len(t, jobs, 1)
	assert.Equal(t, VertexProgramJob, jobs[0].kind)
	assert.False(t, jobs[0].vertex.DiscardOutput)
	assert.Equal(t, intermediate, jobs[0].vertex.OutputLocation)
	assert.True(t, jobs[0].vertex.OutputHasEdges)

	assert.DirExists(t, intermediate)
	assert.Equal(t, Graph{
		Location:    intermediate,
		ResultGraph: New,
		Persist:     Edges,
		HasEdges:    true,
	}, result.Graph)
	assert.Equal(t, 0, result.Memory.Len())
}

func TestMapReduceOnlyDefaults(t *testing.T) {
	engine := &recordingEngine{}
	graph := newTestGraph(t)
	c := newTestComputer(engine, graph).
		MapReduce(MapReduce{Name: "count"})

	result, err := submitAndWait(t, c)
	require.NoError(t, err)

	assert.Equal(t, Graph{
		Location:    graph.input,
		ResultGraph: Original,
		Persist:     Nothing,
		HasEdges:    true,
	}, result.Graph)

	jobs := engine.launched()
	require.Len(t, jobs, 1)
	assert.Equal(t, graph.input, jobs[0].mapReduce.InputLocation)
	assert.False(t, jobs[0].mapReduce.InputHasEdges)
	assert.NoDirExists(t, filepath.Join(graph.output, intermediateGraphDir))
}

func TestStagingWithoutLibsSucceeds(t *testing.T) {
	t.Setenv(LibsEnvVar, "")
	hook := test.NewGlobal()
	defer hook.Reset()

	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t), WithStageArtifacts(true)).
		Program(testProgram())

	_, err := submitAndWait(t, c)
	require.NoError(t, err)

	var warnings []string
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel && strings.Contains(entry.Message, LibsEnvVar) {
			warnings = append(warnings, entry.Message)
		}
	}
	assert.Len(t, warnings, 1)

	jobs := engine.launched()
	require.Len(t, jobs, 1)
	assert.Empty(t, jobs[0].vertex.Archives)
}

func TestStagedArchivesReachJobs(t *testing.T) {
	libs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(libs, "engine.zip"), []byte("archive"), 0666))
	t.Setenv(LibsEnvVar, libs)

	home := t.TempDir()
	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t), WithStageArtifacts(true)).
		Program(testProgram()).
		MapReduce(MapReduce{Name: "count"})
	c.fs = &corfs.LocalFileSystem{Home: home}

	_, err := submitAndWait(t, c)
	require.NoError(t, err)

	staged := filepath.Join(home, remoteLibsDir, "engine.zip")
	assert.FileExists(t, staged)
	for _, job := range engine.launched() {
		if job.kind == VertexProgramJob {
			assert.Equal(t, []string{staged}, job.vertex.Archives)
		} else {
			assert.Equal(t, []string{staged}, job.mapReduce.Archives)
		}
	}
}

func TestVertexFailureAbortsMapReduces(t *testing.T) {
	engineErr := errors.New("out of workers")
	engine := &recordingEngine{vertexErr: engineErr}
	c := newTestComputer(engine, newTestGraph(t)).
		Program(testProgram()).
		MapReduce(MapReduce{Name: "count"})

	result, err := submitAndWait(t, c)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, engineErr))

	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, VertexProgramJob, jobErr.Kind)
	assert.Equal(t, "pagerank", jobErr.Name)
	assert.Equal(t, []string{"pagerank"}, engine.launchedNames())
}

func TestMapReduceFailureAbortsLaterJobs(t *testing.T) {
	engineErr := errors.New("reducer crashed")
	engine := &recordingEngine{
		mapReduceErrs: map[string]error{"first": engineErr},
	}
	c := newTestComputer(engine, newTestGraph(t)).
		MapReduce(MapReduce{Name: "first"}).
		MapReduce(MapReduce{Name: "second"})

	_, err := submitAndWait(t, c)
	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, MapReduceJobKind, jobErr.Kind)
	assert.Equal(t, "first", jobErr.Name)
	assert.Equal(t, []string{"first"}, engine.launchedNames())
}

func TestNothingCleansUpGraph(t *testing.T) {
	engine := &recordingEngine{}
	graph := newTestGraph(t)
	c := newTestComputer(engine, graph).
		Program(testProgram()).
		MapReduce(MapReduce{Name: "count"}).
		Result(New).
		Persist(Nothing)

	result, err := submitAndWait(t, c)
	require.NoError(t, err)

	jobs := engine.launched()
	require.Len(t, jobs, 2)
	assert.False(t, jobs[0].vertex.DiscardOutput)
	assert.False(t, jobs[1].mapReduce.InputHasEdges)
	assert.NoDirExists(t, filepath.Join(graph.output, intermediateGraphDir))
	assert.False(t, result.Graph.HasEdges)
}

func TestNothingWithoutMapReducesDiscardsOutput(t *testing.T) {
	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t)).
		Program(testProgram()).
		Persist(Nothing)

	_, err := submitAndWait(t, c)
	require.NoError(t, err)

	jobs := engine.launched()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].vertex.DiscardOutput)
	assert.Empty(t, jobs[0].vertex.OutputLocation)
}

func TestStaleOutputIsCleared(t *testing.T) {
	engine := &recordingEngine{}
	graph := newTestGraph(t)
	stale := filepath.Join(graph.output, intermediateGraphDir, "part-old")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0777))
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0666))

	c := newTestComputer(engine, graph).
		Program(testProgram()).
		Persist(Nothing)

	_, err := submitAndWait(t, c)
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
}

func TestIsolationNotSupported(t *testing.T) {
	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t)).
		Program(testProgram()).
		Isolation(DirtyBSP)

	_, err := c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrIsolationNotSupported))
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.Empty(t, engine.launched())
}

func TestProgramRequirements(t *testing.T) {
	var programTests = []struct {
		name    string
		program *VertexProgram
	}{
		{"direct objects", &VertexProgram{Name: "p", RequiresDirectObjects: true}},
		{"no name", &VertexProgram{}},
		{"hidden key", &VertexProgram{Name: "p", MemoryKeys: []string{IterationKey}}},
		{"duplicate key", &VertexProgram{Name: "p", MemoryKeys: []string{"a", "a"}}},
		{"unnamed map reducer", &VertexProgram{Name: "p", MapReducers: []MapReduce{{}}}},
	}

	for _, test := range programTests {
		t.Run(test.name, func(t *testing.T) {
			engine := &recordingEngine{}
			c := newTestComputer(engine, newTestGraph(t)).Program(test.program)

			_, err := c.Submit(context.Background())
			assert.True(t, errors.Is(err, ErrProgramRequirements))
			assert.Empty(t, engine.launched())
		})
	}
}

func TestInvalidCombination(t *testing.T) {
	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t)).
		Program(testProgram()).
		Result(Original).
		Persist(Edges)

	_, err := c.Submit(context.Background())
	var combinationErr *CombinationError
	require.True(t, errors.As(err, &combinationErr))
	assert.Equal(t, Original, combinationErr.ResultGraph)
	assert.Equal(t, Edges, combinationErr.Persist)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.Empty(t, engine.launched())
}

func TestMissingLocations(t *testing.T) {
	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t), WithInputLocation("")).
		Program(testProgram())
	_, err := c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	c = newTestComputer(engine, newTestGraph(t), WithOutputLocation("")).
		MapReduce(MapReduce{Name: "count"})
	_, err = c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))

	c = newTestComputer(engine, newTestGraph(t), WithInputLocation("")).
		MapReduce(MapReduce{Name: "count"})
	_, err = c.Submit(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.Empty(t, engine.launched())
}

func TestInputNotFound(t *testing.T) {
	engine := &recordingEngine{}
	graph := newTestGraph(t)
	graph.input = filepath.Join(graph.input, "missing")
	c := newTestComputer(engine, graph).
		Program(testProgram())

	_, err := submitAndWait(t, c)
	assert.True(t, errors.Is(err, ErrInputNotFound))
	assert.Empty(t, engine.launched())
}

func TestUndeclaredMemoryKeyFails(t *testing.T) {
	engine := &recordingEngine{
		contributions: map[string]map[string]interface{}{
			"count": {"undeclared": 1},
		},
	}
	c := newTestComputer(engine, newTestGraph(t)).
		MapReduce(MapReduce{Name: "count", MemoryKeys: []string{"vertices"}})

	_, err := submitAndWait(t, c)
	assert.True(t, errors.Is(err, ErrUndeclaredMemoryKey))
}

func TestMemoryVisibleToLaterJobs(t *testing.T) {
	engine := &recordingEngine{
		contributions: map[string]map[string]interface{}{
			"first": {"vertices": 3},
		},
	}
	c := newTestComputer(engine, newTestGraph(t)).
		MapReduce(MapReduce{Name: "first", MemoryKeys: []string{"vertices"}}).
		MapReduce(MapReduce{Name: "second"})

	result, err := submitAndWait(t, c)
	require.NoError(t, err)

	jobs := engine.launched()
	require.Len(t, jobs, 2)
	assert.Empty(t, jobs[0].mapReduce.Memory)
	assert.Equal(t, map[string]interface{}{"vertices": 3}, jobs[1].mapReduce.Memory)
	assert.Equal(t, []string{"vertices"}, result.Memory.Keys())
}

func TestDerivedMemoryIteration(t *testing.T) {
	engine := &recordingEngine{
		contributions: map[string]map[string]interface{}{
			memoryDerivationName: {"converged": true, IterationKey: float64(12)},
		},
	}
	c := newTestComputer(engine, newTestGraph(t), WithDeriveMemory(true)).
		Program(testProgram())

	result, err := submitAndWait(t, c)
	require.NoError(t, err)

	assert.Equal(t, 12, result.Memory.Iteration())
	assert.True(t, result.Memory.Has("converged"))
	assert.False(t, result.Memory.Has(IterationKey))
}

func TestAbandonedContextDoesNotStopJobs(t *testing.T) {
	engine := &recordingEngine{}
	c := newTestComputer(engine, newTestGraph(t)).
		Program(testProgram()).
		MapReduce(MapReduce{Name: "count"})

	ctx, cancel := context.WithCancel(context.Background())
	future, err := c.Submit(ctx)
	require.NoError(t, err)
	cancel()

	_, err = future.Get(context.Background())
	require.NoError(t, err)
	for _, job := range engine.launched() {
		assert.NoError(t, job.ctxErr)
	}
	assert.Len(t, engine.launched(), 2)
}

func TestComputerString(t *testing.T) {
	c := NewComputer(&recordingEngine{})
	assert.Equal(t, "graphcorral[mapreduce]", c.String())
	c.Program(testProgram())
	assert.Equal(t, "graphcorral[vertexprogram[pagerank]]", c.String())
	assert.False(t, c.Features().DirectObjects)
}
