package graphcorral

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type recordedJob struct {
	kind      JobKind
	name      string
	vertex    VertexJob
	mapReduce MapReduceJob
	// ctxErr is the state of the job context when the job started
	ctxErr   error
	started  time.Time
	finished time.Time
}

// recordingEngine records every launched job in launch order
type recordingEngine struct {
	mu   sync.Mutex
	jobs []recordedJob

	vertexErr     error
	mapReduceErrs map[string]error
	contributions map[string]map[string]interface{}
	// jobTime is how long every job runs
	jobTime time.Duration
}

func (e *recordingEngine) start(job recordedJob) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	job.started = time.Now()
	e.jobs = append(e.jobs, job)
	return len(e.jobs) - 1
}

func (e *recordingEngine) finish(index int) {
	time.Sleep(e.jobTime)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs[index].finished = time.Now()
}

func (e *recordingEngine) RunVertexProgram(ctx context.Context, job VertexJob) error {
	index := e.start(recordedJob{
		kind:   VertexProgramJob,
		name:   job.Program.Name,
		vertex: job,
		ctxErr: ctx.Err(),
	})
	defer e.finish(index)

	if e.vertexErr != nil {
		return e.vertexErr
	}
	if job.DiscardOutput {
		return nil
	}
	if err := os.MkdirAll(job.OutputLocation, 0777); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(job.OutputLocation, "part-00000"), []byte("1,2\n"), 0666)
}

func (e *recordingEngine) RunMapReduce(ctx context.Context, job MapReduceJob) (map[string]interface{}, error) {
	index := e.start(recordedJob{
		kind:      MapReduceJobKind,
		name:      job.MapReduce.Name,
		mapReduce: job,
		ctxErr:    ctx.Err(),
	})
	defer e.finish(index)

	if err := e.mapReduceErrs[job.MapReduce.Name]; err != nil {
		return nil, err
	}
	return e.contributions[job.MapReduce.Name], nil
}

func (e *recordingEngine) launched() []recordedJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	jobs := make([]recordedJob, len(e.jobs))
	copy(jobs, e.jobs)
	return jobs
}

func (e *recordingEngine) launchedNames() []string {
	var names []string
	for _, job := range e.launched() {
		names = append(names, job.name)
	}
	return names
}
