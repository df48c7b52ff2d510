package coriam

import (
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/aws/aws-sdk-go/service/iam/iamiface"
	log "github.com/sirupsen/logrus"
)

// IAMClient manages the IAM role that deployed graph engine functions run as
type IAMClient struct {
	iamiface.IAMAPI
}

// AssumePolicyDocument lets Lambda assume the deployed role
const AssumePolicyDocument = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Sid": "",
      "Effect": "Allow",
      "Principal": {
        "Service": [
          "lambda.amazonaws.com"
        ]
      },
      "Action": "sts:AssumeRole"
    }
  ]
}`

// AttachPolicyDocument grants engine functions access to graph storage
// and to the execution log
const AttachPolicyDocument = `{
    "Version": "2012-10-17",
    "Statement": [
        {
            "Effect": "Allow",
            "Action": [
                "logs:CreateLogGroup",
                "logs:CreateLogStream",
                "logs:PutLogEvents"
            ],
            "Resource": "arn:aws:logs:*:*:*"
        },
        {
            "Effect": "Allow",
            "Action": [
                "s3:*"
            ],
            "Resource": "arn:aws:s3:::*"
        }
    ]
}`

const graphcorralPolicyName = "graphcorral-permissions"

// policyDocumentMatches compares a (possibly url-encoded) policy document
// returned by IAM with the expected document.
func policyDocumentMatches(actual *string, expected string) bool {
	if actual == nil {
		return false
	}
	decoded, err := url.QueryUnescape(*actual)
	if err != nil {
		decoded = *actual
	}
	return decoded == expected
}

func (iamClient *IAMClient) deployRole(roleName string) (roleARN string, err error) {
	getParams := &iam.GetRoleInput{
		RoleName: aws.String(roleName),
	}
	exists, err := iamClient.GetRole(getParams)

	// Role already exists
	if exists != nil && err == nil {
		log.Debugf("IAM Role '%s' already exists", roleName)
		if !policyDocumentMatches(exists.Role.AssumeRolePolicyDocument, AssumePolicyDocument) {
			log.Debugf("Updating assume role policy of '%s'", roleName)
			updateParams := &iam.UpdateAssumeRolePolicyInput{
				PolicyDocument: aws.String(AssumePolicyDocument),
				RoleName:       aws.String(roleName),
			}
			if _, err := iamClient.UpdateAssumeRolePolicy(updateParams); err != nil {
				return "", err
			}
		}
		return aws.StringValue(exists.Role.Arn), nil
	}

	createParams := &iam.CreateRoleInput{
		AssumeRolePolicyDocument: aws.String(AssumePolicyDocument),
		RoleName:                 aws.String(roleName),
	}
	log.Debugf("Creating IAM role '%s'", roleName)
	role, err := iamClient.CreateRole(createParams)
	if err != nil {
		return "", err
	}
	return aws.StringValue(role.Role.Arn), nil
}

func (iamClient *IAMClient) deployPolicy(roleName string) error {
	getParams := &iam.GetRolePolicyInput{
		RoleName:   aws.String(roleName),
		PolicyName: aws.String(graphcorralPolicyName),
	}

	exists, err := iamClient.GetRolePolicy(getParams)

	// Policy already exists and is current
	if exists != nil && err == nil && policyDocumentMatches(exists.PolicyDocument, AttachPolicyDocument) {
		log.Debugf("Policy '%s' already exists", graphcorralPolicyName)
		return nil
	}

	putParams := &iam.PutRolePolicyInput{
		PolicyName:     aws.String(graphcorralPolicyName),
		PolicyDocument: aws.String(AttachPolicyDocument),
		RoleName:       aws.String(roleName),
	}

	log.Debugf("Putting policy '%s'", graphcorralPolicyName)
	_, err = iamClient.PutRolePolicy(putParams)
	return err
}

// DeployPermissions creates (or updates) the role and its inline policy,
// returning the role ARN
func (iamClient *IAMClient) DeployPermissions(roleName string) (roleARN string, err error) {
	roleARN, err = iamClient.deployRole(roleName)
	if err != nil {
		return roleARN, err
	}

	err = iamClient.deployPolicy(roleName)

	return roleARN, err
}

// DeletePermissions removes the inline policy and then the role
func (iamClient *IAMClient) DeletePermissions(roleName string) error {
	deletePolicyParams := &iam.DeleteRolePolicyInput{
		RoleName:   aws.String(roleName),
		PolicyName: aws.String(graphcorralPolicyName),
	}
	if _, err := iamClient.DeleteRolePolicy(deletePolicyParams); err != nil {
		return err
	}

	deleteRoleParams := &iam.DeleteRoleInput{
		RoleName: aws.String(roleName),
	}
	_, err := iamClient.DeleteRole(deleteRoleParams)
	return err
}

// NewIAMClient initializes a new IAMClient
func NewIAMClient() *IAMClient {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return &IAMClient{
		iam.New(sess),
	}
}
