package store

import (
	"context"
	"io"
	"log"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	raven "github.com/getsentry/raven-go"
)

// A S3 store represents a store that is kept on AWS S3 storage.
// Do not change Bucket or Prefix concurrently with calls using the structure.
type S3 struct {
	svc      *s3.S3
	uploader *s3manager.Uploader
	Bucket   string
	Prefix   string
}

// NewS3 creates a new S3 store. It will use the given bucket and will prepend
// prefix to all keys. This is to allow for a bucket to be used for more than
// one store. For example if prefix were "cache/" then an Open("hello") would
// look for the key "cache/hello" in the bucket. The authorization method and
// credentials in the session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket:   bucket,
		Prefix:   prefix,
		svc:      s3.New(awsSession),
		uploader: s3manager.NewUploader(awsSession),
	}
}

// Open returns a reader streaming the content for the given key, along with
// the object's size.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	}
	output, err := s.svc.GetObjectWithContext(ctx, input)
	if err != nil {
		if e, ok := err.(awserr.Error); ok &&
			(e.Code() == s3.ErrCodeNoSuchKey || e.Code() == "NotFound") {
			return nil, 0, ErrNotExist
		}
		log.Println("S3 Open:", s.Bucket, s.Prefix+key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": s.Prefix + key})
		return nil, 0, err
	}
	return output.Body, aws.Int64Value(output.ContentLength), nil
}

// Create returns a WriteCloser uploading content to the given key. The data
// is streamed to S3 as it is written using the multipart interface, so the
// total size does not need to be known in advance. The upload is not
// complete until Close returns. An existing object under the key is
// replaced.
func (s *S3) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &s3WriteCloser{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(s.Bucket),
			Key:    aws.String(s.Prefix + key),
			Body:   pr,
		})
		if err != nil {
			log.Println("S3 Create:", s.Bucket, s.Prefix+key, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": s.Prefix + key})
			// unblock any writer still feeding the pipe
			pr.CloseWithError(err)
			w.err = err
		}
	}()
	return w, nil
}

// s3WriteCloser feeds an upload running in its own goroutine. Close flushes
// the pipe and then waits for the upload to finish.
type s3WriteCloser struct {
	pw   *io.PipeWriter
	done chan struct{}
	err  error
}

func (w *s3WriteCloser) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3WriteCloser) Close() error {
	err := w.pw.Close()
	<-w.done
	if w.err != nil {
		return w.err
	}
	return err
}
