//go:build s3
// +build s3

package storetest

// Exercises the S3 store against an external service, usually a local Minio:
//
//	env "AWS_ACCESS_KEY_ID=XXXXX" "AWS_SECRET_ACCESS_KEY=YYYY" go test -tags=s3 -run S3

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/MITLibraries/archival-packaging-tool/store"
)

func getSession() *session.Session {
	// This config is for a local hosted Minio.
	s3Config := &aws.Config{
		Endpoint:         aws.String("http://localhost:9000"),
		Region:           aws.String("us-east-1"),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	}
	return session.New(s3Config)
}

func TestS3Conformance(t *testing.T) {
	Conformance(t, store.NewS3("apt-test", "", getSession()))
}

func TestS3Stress(t *testing.T) {
	s := store.NewS3("apt-test", "stress/", getSession())
	Stress(t, s, 100*1000*1000)
}
