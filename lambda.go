package graphcorral

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/bcongdon/graphcorral/internal/pkg/coriam"
	"github.com/bcongdon/graphcorral/internal/pkg/corlambda"
)

// lambdaRoleName is the IAM role assumed by the deployed function when
// graphcorral manages its permissions
const lambdaRoleName = "graphcorral-engine"

var (
	// lambdaEngine runs the jobs received by the deployed function
	lambdaEngine Engine
)

// runningInLambda infers if the program is running in AWS lambda via inspection of the environment
func runningInLambda() bool {
	expectedEnvVars := []string{"LAMBDA_TASK_ROOT", "AWS_EXECUTION_ENV", "LAMBDA_RUNTIME_DIR"}
	for _, envVar := range expectedEnvVars {
		if os.Getenv(envVar) == "" {
			return false
		}
	}
	return true
}

// task is the payload sent to the deployed function. Exactly one of
// Vertex and MapReduce is set, according to Kind.
type task struct {
	SubmissionID string
	Kind         JobKind
	Vertex       *VertexJob    `json:",omitempty"`
	MapReduce    *MapReduceJob `json:",omitempty"`
}

// taskResult is returned by the deployed function
type taskResult struct {
	Memory map[string]interface{}
}

func handleRequest(ctx context.Context, task task) (string, error) {
	if lambdaEngine == nil {
		return "", fmt.Errorf("no engine configured for %s task", task.Kind)
	}
	logger := log.WithFields(log.Fields{
		"submission": task.SubmissionID,
		"kind":       task.Kind,
	})

	var result taskResult
	switch task.Kind {
	case VertexProgramJob:
		if task.Vertex == nil {
			return "", fmt.Errorf("%s task has no vertex job", task.Kind)
		}
		logger.Debugf("Running %s", &task.Vertex.Program)
		if err := lambdaEngine.RunVertexProgram(ctx, *task.Vertex); err != nil {
			return "", err
		}
	case MapReduceJobKind:
		if task.MapReduce == nil {
			return "", fmt.Errorf("%s task has no map-reduce job", task.Kind)
		}
		logger.Debugf("Running %s", task.MapReduce.MapReduce)
		contributions, err := lambdaEngine.RunMapReduce(ctx, *task.MapReduce)
		if err != nil {
			return "", err
		}
		result.Memory = contributions
	default:
		return "", fmt.Errorf("unknown task kind: %q", task.Kind)
	}

	payload, err := json.Marshal(result)
	return string(payload), err
}

// loadTaskResult decodes the string returned by handleRequest, which lambda
// encodes as a JSON string
func loadTaskResult(payload []byte) (taskResult, error) {
	var result taskResult

	payloadStr, err := strconv.Unquote(string(payload))
	if err != nil {
		return result, fmt.Errorf("malformed task result %q: %w", payload, err)
	}
	err = json.Unmarshal([]byte(payloadStr), &result)
	return result, err
}

// lambdaExecutor is an Engine that forwards every job to a deployed copy of
// the running binary
type lambdaExecutor struct {
	*corlambda.LambdaClient
	iamClient    *coriam.IAMClient
	functionName string
}

func newLambdaExecutor(functionName string) *lambdaExecutor {
	return &lambdaExecutor{
		LambdaClient: corlambda.NewLambdaClient(),
		iamClient:    coriam.NewIAMClient(),
		functionName: functionName,
	}
}

func (l *lambdaExecutor) invoke(ctx context.Context, t task) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return l.Invoke(l.functionName, payload)
}

// RunVertexProgram runs job in the deployed function
func (l *lambdaExecutor) RunVertexProgram(ctx context.Context, job VertexJob) error {
	_, err := l.invoke(ctx, task{
		SubmissionID: job.SubmissionID,
		Kind:         VertexProgramJob,
		Vertex:       &job,
	})
	return err
}

// RunMapReduce runs job in the deployed function and returns its memory
// contributions
func (l *lambdaExecutor) RunMapReduce(ctx context.Context, job MapReduceJob) (map[string]interface{}, error) {
	payload, err := l.invoke(ctx, task{
		SubmissionID: job.SubmissionID,
		Kind:         MapReduceJobKind,
		MapReduce:    &job,
	})
	if err != nil {
		return nil, err
	}
	result, err := loadTaskResult(payload)
	if err != nil {
		return nil, err
	}
	return result.Memory, nil
}

// Deploy deploys the function, provisioning its IAM role first when
// graphcorral manages it
func (l *lambdaExecutor) Deploy(c *config) error {
	roleARN := c.LambdaRoleARN
	if c.LambdaManageRole {
		var err error
		roleARN, err = l.iamClient.DeployPermissions(lambdaRoleName)
		if err != nil {
			return fmt.Errorf("could not deploy lambda permissions: %w", err)
		}
	}
	if roleARN == "" {
		return fmt.Errorf("%w: lambda_role_arn must be set when lambda_manage_role is false", ErrInvalidConfiguration)
	}

	function := &corlambda.FunctionConfig{
		Name:       l.functionName,
		RoleARN:    roleARN,
		Timeout:    c.LambdaTimeout,
		MemorySize: c.LambdaMemory,
	}
	if err := l.DeployFunction(function); err != nil {
		return fmt.Errorf("could not deploy lambda function %s: %w", l.functionName, err)
	}
	return nil
}

// Undeploy deletes the function and, when graphcorral manages it, its role
func (l *lambdaExecutor) Undeploy(c *config) error {
	log.Infof("Undeploying function '%s'", l.functionName)
	if err := l.DeleteFunction(l.functionName); err != nil {
		return fmt.Errorf("could not delete lambda function %s: %w", l.functionName, err)
	}
	if !c.LambdaManageRole {
		return nil
	}
	if err := l.iamClient.DeletePermissions(lambdaRoleName); err != nil {
		return fmt.Errorf("could not delete lambda permissions: %w", err)
	}
	return nil
}
