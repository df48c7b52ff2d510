package graphcorral

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bcongdon/graphcorral/internal/pkg/corfs"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Isolation is the level of isolation between vertex program iterations
type Isolation int

// Isolation levels. Only BSP is supported.
const (
	// BSP makes messages and property changes visible only in the next iteration
	BSP Isolation = iota
	// DirtyBSP makes changes visible as soon as they happen
	DirtyBSP
)

func (i Isolation) String() string {
	switch i {
	case BSP:
		return "BSP"
	case DirtyBSP:
		return "DIRTY_BSP"
	}
	return fmt.Sprintf("Isolation(%d)", int(i))
}

// Features describes what a Computer supports
type Features struct {
	// DirectObjects is true when programs may hand unserializable objects
	// to the engine
	DirectObjects bool
}

// Computer configures and submits a graph computation: an optional vertex
// program run by a BSP engine followed by map-reduce jobs. A Computer can
// be submitted only once.
type Computer struct {
	engine Engine
	config *config
	guard  submissionGuard
	fs     corfs.FileSystem

	program     *VertexProgram
	mapReduces  mapReduceSet
	resultGraph *ResultGraph
	persist     *Persist

	// err records an invalid setter call; Submit returns it
	err error
}

// config configures a Computer's execution of submissions
type config struct {
	InputLocation     string
	OutputLocation    string
	DeriveMemory      bool
	StageArtifacts    bool
	ArtifactExtension string
	MaxConcurrency    int
	FunctionName      string
	LambdaMemory      int64
	LambdaTimeout     int64
	LambdaManageRole  bool
	LambdaRoleARN     string
	Verbose           bool
}

func newConfig() *config {
	loadConfig() // Load viper config from settings file(s) and environment
	return &config{
		InputLocation:     viper.GetString("input_location"),
		OutputLocation:    viper.GetString("output_location"),
		DeriveMemory:      viper.GetBool("derive_memory"),
		StageArtifacts:    viper.GetBool("stage_artifacts"),
		ArtifactExtension: viper.GetString("artifact_extension"),
		MaxConcurrency:    viper.GetInt("max_concurrency"),
		FunctionName:      viper.GetString("function_name"),
		LambdaMemory:      viper.GetInt64("lambda_memory"),
		LambdaTimeout:     viper.GetInt64("lambda_timeout"),
		LambdaManageRole:  viper.GetBool("lambda_manage_role"),
		LambdaRoleARN:     viper.GetString("lambda_role_arn"),
		Verbose:           viper.GetBool("verbose"),
	}
}

// Option allows configuration of a Computer
type Option func(*config)

// NewComputer creates a Computer whose jobs are run by engine
func NewComputer(engine Engine, options ...Option) *Computer {
	c := &Computer{
		engine: engine,
		config: newConfig(),
	}
	for _, f := range options {
		f(c.config)
	}
	log.Debugf("Loaded config: %#v", c.config)
	return c
}

// WithInputLocation sets the location of the input graph
func WithInputLocation(location string) Option {
	return func(c *config) {
		c.InputLocation = location
	}
}

// WithOutputLocation sets the location computed graph data is written under
func WithOutputLocation(location string) Option {
	return func(c *config) {
		c.OutputLocation = location
	}
}

// WithDeriveMemory enables the extra map-reduce job that aggregates the
// vertex program memory
func WithDeriveMemory(derive bool) Option {
	return func(c *config) {
		c.DeriveMemory = derive
	}
}

// WithStageArtifacts toggles staging of the archives listed in $GRAPHCORRAL_LIBS
func WithStageArtifacts(stage bool) Option {
	return func(c *config) {
		c.StageArtifacts = stage
	}
}

// WithArtifactExtension sets the file extension of archives to stage
func WithArtifactExtension(ext string) Option {
	return func(c *config) {
		c.ArtifactExtension = ext
	}
}

// WithMaxConcurrency bounds the number of concurrent artifact uploads
func WithMaxConcurrency(n int) Option {
	return func(c *config) {
		c.MaxConcurrency = n
	}
}

// Isolation sets the isolation level. Only BSP is supported; any other
// level makes Submit fail.
func (c *Computer) Isolation(isolation Isolation) *Computer {
	if isolation != BSP {
		c.err = fmt.Errorf("%w: %s", ErrIsolationNotSupported, isolation)
	}
	return c
}

// Result sets the graph view the computation returns
func (c *Computer) Result(resultGraph ResultGraph) *Computer {
	c.resultGraph = &resultGraph
	return c
}

// Persist sets which computed data survives the computation
func (c *Computer) Persist(persist Persist) *Computer {
	c.persist = &persist
	return c
}

// Program sets the vertex program
func (c *Computer) Program(program *VertexProgram) *Computer {
	c.program = program
	return c
}

// MapReduce adds a map-reduce job. Jobs run in the order they are added;
// adding a job with the name of an existing job has no effect.
func (c *Computer) MapReduce(mr MapReduce) *Computer {
	if !c.mapReduces.add(mr) {
		log.Debugf("Ignoring duplicate %s", mr)
	}
	return c
}

// Features reports what the Computer supports
func (c *Computer) Features() Features {
	return Features{
		DirectObjects: false,
	}
}

func (c *Computer) String() string {
	if c.program == nil {
		return "graphcorral[mapreduce]"
	}
	return fmt.Sprintf("graphcorral[%s]", c.program)
}

// validateProgram checks the vertex program against what the computer supports
func (c *Computer) validateProgram(program *VertexProgram) error {
	if program.Name == "" {
		return fmt.Errorf("%w: vertex program has no name", ErrProgramRequirements)
	}
	if program.RequiresDirectObjects && !c.Features().DirectObjects {
		return fmt.Errorf("%w: %s requires direct objects", ErrProgramRequirements, program)
	}

	seen := make(map[string]struct{}, len(program.MemoryKeys))
	for _, key := range program.MemoryKeys {
		if key == "" || strings.HasPrefix(key, hiddenPrefix) {
			return fmt.Errorf("%w: %s declares invalid memory key %q", ErrProgramRequirements, program, key)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s declares memory key %q twice", ErrProgramRequirements, program, key)
		}
		seen[key] = struct{}{}
	}

	for _, mr := range program.MapReducers {
		if mr.Name == "" {
			return fmt.Errorf("%w: %s requires a map reducer with no name", ErrProgramRequirements, program)
		}
	}
	return nil
}

// remoteFileSystem returns the file system that computed data and staged
// archives are written to
func (c *Computer) remoteFileSystem() corfs.FileSystem {
	if c.fs != nil {
		return c.fs
	}
	return corfs.InferFilesystem(c.config.OutputLocation)
}

func (c *Computer) inputFileSystem() corfs.FileSystem {
	if c.fs != nil {
		return c.fs
	}
	return corfs.InferFilesystem(c.config.InputLocation)
}

// Submit validates the configuration and starts the computation.
// Configuration errors are returned before anything is launched; failures
// of the computation itself are reported through the returned Future.
// Cancelling ctx after Submit returns does not stop the computation.
func (c *Computer) Submit(ctx context.Context) (*Future, error) {
	if err := c.guard.trySubmit(); err != nil {
		return nil, err
	}
	start := time.Now()

	materialization, err := c.checkSubmission()
	if err != nil {
		submissionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	submissionID := uuid.New().String()
	logger := log.WithFields(log.Fields{
		"submission": submissionID,
	})

	p := &pipeline{
		id:              submissionID,
		engine:          c.engine,
		fs:              c.remoteFileSystem(),
		inputFS:         c.inputFileSystem(),
		program:         c.program,
		mapReduces:      mapReduceSet{},
		deriveMemory:    c.config.DeriveMemory,
		materialization: materialization,
		inputLocation:   c.config.InputLocation,
		outputLocation:  c.config.OutputLocation,
		memory:          newMemory(),
		logger:          logger,
		start:           start,
		verbose:         c.config.Verbose,
	}
	for _, mr := range c.mapReduces.list() {
		p.mapReduces.add(mr)
	}
	if c.config.StageArtifacts {
		p.stager = &artifactStager{
			local:       &corfs.LocalFileSystem{},
			remote:      p.fs,
			extension:   c.config.ArtifactExtension,
			concurrency: c.config.MaxConcurrency,
			logger:      logger,
		}
		p.libsPath = os.Getenv(LibsEnvVar)
	}

	logger.Infof("Submitting %s (result graph %s, persist %s)", c, materialization.ResultGraph, materialization.Persist)

	future := newFuture(submissionID)
	go func() {
		result, err := p.run(context.WithoutCancel(ctx))
		if err != nil {
			logger.Errorf("Computation failed: %s", err)
		}
		submissionsTotal.WithLabelValues(statusLabel(err)).Inc()
		if deliverErr := future.deliver(result, err); deliverErr != nil {
			logger.Error(deliverErr)
		}
	}()
	return future, nil
}

// checkSubmission runs every configuration check that must pass before
// anything is launched
func (c *Computer) checkSubmission() (Materialization, error) {
	if c.err != nil {
		return Materialization{}, c.err
	}
	if c.program == nil && c.mapReduces.len() == 0 {
		return Materialization{}, ErrNoComputation
	}
	if c.program != nil {
		if err := c.validateProgram(c.program); err != nil {
			return Materialization{}, err
		}
	}
	// Map reducers read the input graph directly when there is no program
	if c.config.InputLocation == "" {
		return Materialization{}, fmt.Errorf("%w: no input location", ErrInvalidConfiguration)
	}
	if c.config.OutputLocation == "" {
		return Materialization{}, fmt.Errorf("%w: no output location", ErrInvalidConfiguration)
	}
	return resolveMaterialization(c.program, c.resultGraph, c.persist)
}
