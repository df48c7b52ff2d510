package graphcorral

import (
	"context"
	"fmt"
	"time"

	"github.com/bcongdon/graphcorral/internal/pkg/corfs"
	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	pb "gopkg.in/cheggaaa/pb.v1"
)

// intermediateGraphDir is the directory, under the output location, that the
// vertex program writes its graph to
const intermediateGraphDir = "~g"

// pipeline is a single submission of a Computer. Its phases run strictly
// one after another on one goroutine.
type pipeline struct {
	id      string
	engine  Engine
	fs      corfs.FileSystem
	inputFS corfs.FileSystem
	stager  *artifactStager

	libsPath        string
	program         *VertexProgram
	mapReduces      mapReduceSet
	deriveMemory    bool
	materialization Materialization
	inputLocation   string
	outputLocation  string

	memory   *memory
	archives []string
	// materialized is set once the vertex program has written its graph
	materialized bool

	logger  *log.Entry
	start   time.Time
	verbose bool
}

func (p *pipeline) intermediateLocation() string {
	return p.fs.Join(p.outputLocation, intermediateGraphDir)
}

func (p *pipeline) run(ctx context.Context) (*Result, error) {
	if err := p.clearStaleOutput(); err != nil {
		return nil, err
	}

	if p.stager != nil {
		archives, err := p.stager.stage(ctx, p.libsPath)
		if err != nil {
			return nil, fmt.Errorf("artifact staging failed: %w", err)
		}
		p.archives = archives
		p.logger.Debugf("Staged %d archives", len(archives))
	}

	if p.program != nil {
		for _, mr := range p.program.MapReducers {
			p.mapReduces.add(mr)
		}
		if p.deriveMemory {
			p.mapReduces.add(newMemoryMapReduce(p.program))
		}
		p.memory.declareProgramKeys(p.program)

		if err := p.runVertexProgram(ctx); err != nil {
			return nil, err
		}
	}

	if err := p.runMapReduces(ctx); err != nil {
		return nil, err
	}

	if p.materialization.Persist == Nothing {
		p.cleanup()
	}

	runtime := time.Since(p.start)
	p.memory.setRuntime(runtime)
	p.logger.Infof("Computation finished in %s", humanize.RelTime(p.start, time.Now(), "", ""))

	return &Result{
		Graph:   p.outputGraph(),
		Memory:  p.memory.snapshot(),
		Runtime: runtime,
	}, nil
}

// clearStaleOutput removes graph data left behind by an earlier computation
// writing to the same output location
func (p *pipeline) clearStaleOutput() error {
	if p.program == nil {
		return nil
	}
	location := p.intermediateLocation()
	exists, err := p.fs.Exists(location)
	if err != nil {
		return fmt.Errorf("could not check output location %s: %w", location, err)
	}
	if !exists {
		return nil
	}
	p.logger.Debugf("Removing stale graph output at %s", location)
	if err := p.fs.Delete(location); err != nil {
		return fmt.Errorf("could not remove stale output %s: %w", location, err)
	}
	return nil
}

func (p *pipeline) runVertexProgram(ctx context.Context) error {
	exists, err := p.inputFS.Exists(p.inputLocation)
	if err != nil {
		return fmt.Errorf("could not check input location %s: %w", p.inputLocation, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrInputNotFound, p.inputLocation)
	}

	job := VertexJob{
		SubmissionID:   p.id,
		Program:        *p.program,
		InputLocation:  p.inputLocation,
		OutputHasEdges: p.materialization.HasEdges(),
		Archives:       p.archives,
	}
	// The graph is only written back when persisted or read by a map reducer
	if p.materialization.Persist == Nothing && p.mapReduces.len() == 0 {
		job.DiscardOutput = true
	} else {
		job.OutputLocation = p.intermediateLocation()
	}

	logger := p.logger.WithField("job", p.program.Name)
	logger.Infof("Launching %s (discard output: %t)", p.program, job.DiscardOutput)

	start := time.Now()
	err = p.engine.RunVertexProgram(ctx, job)
	jobDuration.WithLabelValues(string(VertexProgramJob)).Observe(time.Since(start).Seconds())
	jobsTotal.WithLabelValues(string(VertexProgramJob), statusLabel(err)).Inc()
	if err != nil {
		logger.Errorf("%s failed -- aborting all subsequent map-reduce jobs", p.program)
		return &JobError{Kind: VertexProgramJob, Name: p.program.Name, Err: err}
	}

	p.materialized = !job.DiscardOutput
	return nil
}

// mapReduceInput returns the location map-reduce jobs read from: the graph
// written by the vertex program, or the input graph when there is none
func (p *pipeline) mapReduceInput() string {
	if p.program != nil {
		return p.intermediateLocation()
	}
	return p.inputLocation
}

func (p *pipeline) runMapReduces(ctx context.Context) error {
	jobs := p.mapReduces.list()
	if len(jobs) == 0 {
		return nil
	}

	bar := pb.New(len(jobs)).Prefix("MapReduce")
	bar.NotPrint = !p.verbose
	bar.Start()
	defer bar.Finish()

	for _, mr := range jobs {
		p.memory.declareMapReduceKeys(mr)

		job := MapReduceJob{
			SubmissionID:  p.id,
			MapReduce:     mr,
			InputLocation: p.mapReduceInput(),
			InputHasEdges: p.materialization.HasEdges(),
			Memory:        p.memory.snapshot().AsMap(),
			Archives:      p.archives,
		}

		logger := p.logger.WithField("job", mr.Name)
		logger.Infof("Launching %s", mr)

		start := time.Now()
		contributions, err := p.engine.RunMapReduce(ctx, job)
		jobDuration.WithLabelValues(string(MapReduceJobKind)).Observe(time.Since(start).Seconds())
		jobsTotal.WithLabelValues(string(MapReduceJobKind), statusLabel(err)).Inc()
		if err != nil {
			return &JobError{Kind: MapReduceJobKind, Name: mr.Name, Err: err}
		}

		if err := p.memory.merge(mr.String(), contributions); err != nil {
			return err
		}
		logger.Debugf("%s contributed %d memory keys", mr, len(contributions))
		bar.Increment()
	}
	return nil
}

// cleanup deletes the intermediate graph when nothing is persisted.
// Failures are logged and otherwise ignored.
func (p *pipeline) cleanup() {
	if !p.materialized {
		return
	}
	location := p.intermediateLocation()
	exists, err := p.fs.Exists(location)
	if err != nil {
		p.logger.Warnf("Could not check %s for cleanup: %s", location, err)
		return
	}
	if !exists {
		return
	}
	p.logger.Debugf("Deleting unpersisted graph output at %s", location)
	if err := p.fs.Delete(location); err != nil {
		p.logger.Warnf("Could not delete %s: %s", location, err)
	}
}

// outputGraph returns the graph handle selected by the materialization
func (p *pipeline) outputGraph() Graph {
	if p.materialization.ResultGraph == Original {
		return Graph{
			Location:    p.inputLocation,
			ResultGraph: Original,
			Persist:     p.materialization.Persist,
			HasEdges:    true,
		}
	}
	return Graph{
		Location:    p.intermediateLocation(),
		ResultGraph: New,
		Persist:     p.materialization.Persist,
		HasEdges:    p.materialization.HasEdges(),
	}
}
