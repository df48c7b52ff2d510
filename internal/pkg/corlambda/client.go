package corlambda

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// LambdaClient wraps the AWS Lambda API and provides functions for
// deploying and invoking lambda functions
type LambdaClient struct {
	Client lambdaiface.LambdaAPI
	// Package builds the deployment archive. Defaults to cross compiling
	// the current main package.
	Package func() ([]byte, error)
}

// FunctionConfig holds the configuration of an individual Lambda function
type FunctionConfig struct {
	Name       string
	RoleARN    string
	Timeout    int64
	MemorySize int64
}

// NewLambdaClient initializes a new LambdaClient
func NewLambdaClient() *LambdaClient {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return &LambdaClient{
		Client: lambda.New(sess),
	}
}

func functionNeedsUpdate(functionCode []byte, cfg *lambda.FunctionConfiguration) bool {
	codeHash := sha256.New()
	codeHash.Write(functionCode)
	codeHashDigest := base64.StdEncoding.EncodeToString(codeHash.Sum(nil))
	return codeHashDigest != aws.StringValue(cfg.CodeSha256)
}

func configNeedsUpdate(function *FunctionConfig, cfg *lambda.FunctionConfiguration) bool {
	return function.RoleARN != aws.StringValue(cfg.Role) ||
		function.Timeout != aws.Int64Value(cfg.Timeout) ||
		function.MemorySize != aws.Int64Value(cfg.MemorySize)
}

// DeployFunction deploys the current directory as a lamba function.
// The function is created if it does not exist, and its code and
// configuration are updated when they differ from what is deployed.
func (l *LambdaClient) DeployFunction(function *FunctionConfig) error {
	packager := l.Package
	if packager == nil {
		packager = buildPackage
	}
	functionCode, err := packager()
	if err != nil {
		return fmt.Errorf("could not build lambda package: %w", err)
	}
	log.Debugf("Lambda package size: %s", humanize.Bytes(uint64(len(functionCode))))

	exists, err := l.getFunction(function.Name)
	if exists != nil && err == nil {
		if functionNeedsUpdate(functionCode, exists.Configuration) {
			log.Infof("Updating Lambda function code for '%s'", function.Name)
			if err := l.updateFunction(function, functionCode); err != nil {
				return err
			}
		} else {
			log.Infof("Function '%s' code is already up-to-date", function.Name)
		}
		if configNeedsUpdate(function, exists.Configuration) {
			log.Infof("Updating Lambda function configuration for '%s'", function.Name)
			return l.updateConfiguration(function)
		}
		return nil
	}

	log.Infof("Creating Lambda function '%s'", function.Name)
	return l.createFunction(function, functionCode)
}

// DeleteFunction tears down the given function
func (l *LambdaClient) DeleteFunction(functionName string) error {
	deleteInput := &lambda.DeleteFunctionInput{
		FunctionName: aws.String(functionName),
	}

	log.Infof("Deleting function '%s'", functionName)
	_, err := l.Client.DeleteFunction(deleteInput)
	return err
}

func crossCompile(binName string) (string, error) {
	tmpDir, err := ioutil.TempDir("", "")
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(tmpDir, binName)

	args := []string{
		"build",
		"-o", outputPath,
		"-ldflags", "-s -w",
		".",
	}
	cmd := exec.Command("go", args...)

	cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH=amd64", "CGO_ENABLED=0")

	combinedOut, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s\n%s", err, combinedOut)
	}

	return outputPath, nil
}

func buildPackage() ([]byte, error) {
	log.Debug("Compiling binary for Lambda")
	binFile, err := crossCompile("lambda_artifact")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(binFile))

	binReader, err := os.Open(binFile)
	if err != nil {
		return nil, err
	}
	defer binReader.Close()

	return zipExecutable("main", binReader)
}

// zipExecutable packs the executable read from r into a zip archive
// under the given name, marked as a Unix executable.
func zipExecutable(name string, r io.Reader) ([]byte, error) {
	zipBuf := new(bytes.Buffer)
	archive := zip.NewWriter(zipBuf)
	header := &zip.FileHeader{
		Name:           name,
		ExternalAttrs:  (0777 << 16), // File permissions
		CreatorVersion: (3 << 8),     // Magic number indicating a Unix creator
	}

	writer, err := archive.CreateHeader(header)
	if err != nil {
		return nil, err
	}

	if _, err = io.Copy(writer, r); err != nil {
		return nil, err
	}

	if err := archive.Close(); err != nil {
		return nil, err
	}

	return zipBuf.Bytes(), nil
}

func (l *LambdaClient) updateFunction(function *FunctionConfig, code []byte) error {
	updateArgs := &lambda.UpdateFunctionCodeInput{
		ZipFile:      code,
		FunctionName: aws.String(function.Name),
	}

	_, err := l.Client.UpdateFunctionCode(updateArgs)
	return err
}

func (l *LambdaClient) updateConfiguration(function *FunctionConfig) error {
	updateArgs := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(function.Name),
		Role:         aws.String(function.RoleARN),
		Timeout:      aws.Int64(function.Timeout),
		MemorySize:   aws.Int64(function.MemorySize),
	}

	_, err := l.Client.UpdateFunctionConfiguration(updateArgs)
	return err
}

func (l *LambdaClient) createFunction(function *FunctionConfig, code []byte) error {
	funcCode := &lambda.FunctionCode{
		ZipFile: code,
	}

	createArgs := &lambda.CreateFunctionInput{
		Code:         funcCode,
		FunctionName: aws.String(function.Name),
		Handler:      aws.String("main"),
		Runtime:      aws.String(lambda.RuntimeGo1X),
		Role:         aws.String(function.RoleARN),
		Timeout:      aws.Int64(function.Timeout),
		MemorySize:   aws.Int64(function.MemorySize),
	}

	_, err := l.Client.CreateFunction(createArgs)
	return err
}

func (l *LambdaClient) getFunction(functionName string) (*lambda.GetFunctionOutput, error) {
	getInput := &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName),
	}

	return l.Client.GetFunction(getInput)
}

// Invoke invokes the given Lambda function with the given payload.
// A function error reported by Lambda is returned as a Go error.
func (l *LambdaClient) Invoke(functionName string, payload []byte) ([]byte, error) {
	invokeInput := &lambda.InvokeInput{
		FunctionName: aws.String(functionName),
		Payload:      payload,
	}

	output, err := l.Client.Invoke(invokeInput)
	if err != nil {
		return nil, err
	}
	if output.FunctionError != nil {
		return nil, fmt.Errorf("function error (%s): %s", *output.FunctionError, output.Payload)
	}
	return output.Payload, nil
}
