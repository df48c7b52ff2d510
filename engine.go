package graphcorral

import "context"

// VertexJob is everything a BSP engine needs to run a vertex program
type VertexJob struct {
	SubmissionID   string
	Program        VertexProgram
	InputLocation  string
	OutputLocation string
	// DiscardOutput is set when nothing downstream reads the job output.
	// OutputLocation is empty in that case.
	DiscardOutput  bool
	OutputHasEdges bool
	// Archives are staged executables workers must load
	Archives []string
}

// MapReduceJob is everything a map-reduce engine needs to run one job
type MapReduceJob struct {
	SubmissionID  string
	MapReduce     MapReduce
	InputLocation string
	InputHasEdges bool
	// Memory holds what earlier phases have written so far
	Memory   map[string]interface{}
	Archives []string
}

// BSPEngine runs vertex programs. A job either succeeds as a whole or fails.
type BSPEngine interface {
	RunVertexProgram(ctx context.Context, job VertexJob) error
}

// MapReduceEngine runs map-reduce jobs and reports their memory
// contributions by key.
type MapReduceEngine interface {
	RunMapReduce(ctx context.Context, job MapReduceJob) (map[string]interface{}, error)
}

// Engine runs both phases of a graph computation
type Engine interface {
	BSPEngine
	MapReduceEngine
}
