package graphcorral

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var (
	lambdaFlag   = flag.Bool("lambda", false, "Run jobs in AWS Lambda")
	undeployFlag = flag.Bool("undeploy", false, "Undeploy the Lambda function and IAM permissions")
	inputFlag    = flag.StringP("input", "i", "", "Input graph location (can be local or in S3)")
	outputFlag   = flag.StringP("output", "o", "", "Output location (can be local or in S3)")
	deriveFlag   = flag.Bool("derive-memory", false, "Derive the vertex program memory with an extra map-reduce job")
	programFlag  = flag.StringP("program", "p", "", "YAML vertex program description")
	verboseFlag  = flag.BoolP("verbose", "v", false, "Output verbose logs")
	metricsFile  = flag.String("metrics-file", "", "write prometheus metrics to `file` once the computation finishes")
	memprofile   = flag.String("memprofile", "", "write memory profile to `file`")
)

// Main runs the Computer as a command line program. Inside AWS Lambda it
// instead serves the jobs sent by a Computer started with --lambda, using
// the engine the Computer was created with.
func (c *Computer) Main() {
	flag.Parse()

	if *verboseFlag || c.config.Verbose {
		c.config.Verbose = true
		log.SetLevel(log.DebugLevel)
	}

	if runningInLambda() {
		lambdaEngine = c.engine
		lambda.Start(handleRequest)
	}

	if *inputFlag != "" {
		c.config.InputLocation = *inputFlag
	}
	if *outputFlag != "" {
		c.config.OutputLocation = *outputFlag
	}
	if *deriveFlag {
		c.config.DeriveMemory = true
	}
	if *programFlag != "" {
		program, err := LoadProgram(*programFlag)
		if err != nil {
			log.Fatal(err)
		}
		c.Program(program)
	}

	if *lambdaFlag || *undeployFlag {
		executor := newLambdaExecutor(c.config.FunctionName)
		if *undeployFlag {
			if err := executor.Undeploy(c.config); err != nil {
				log.Fatal(err)
			}
			return
		}
		if err := executor.Deploy(c.config); err != nil {
			log.Fatal(err)
		}
		c.engine = executor
	}

	ctx := context.Background()
	future, err := c.Submit(ctx)
	if err != nil {
		log.Fatal(err)
	}
	result, err := future.Get(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Computation Time: %s\n", result.Runtime)
	fmt.Printf("Result Graph: %s (persist %s)\n", result.Graph.Location, result.Graph.Persist)
	for _, key := range result.Memory.Keys() {
		value, _ := result.Memory.Get(key)
		fmt.Printf("  %s = %v\n", key, value)
	}

	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, prometheus.DefaultGatherer); err != nil {
			log.Fatal("could not write metrics: ", err)
		}
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
		f.Close()
	}
}
