package store

// The BlackPearl speaks an S3-like protocol, but every data transfer runs
// through a bulk job that the appliance schedules against its cache. That
// makes the flow different enough from S3 to keep separate.

import (
	"context"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/SpectraLogic/ds3_go_sdk/ds3"
	ds3models "github.com/SpectraLogic/ds3_go_sdk/ds3/models"
	raven "github.com/getsentry/raven-go"
)

// A BlackPearl store represents a store that is kept on a SpectraLogic's
// BlackPearl appliance.
// Do not change Bucket or Prefix concurrently with calls using the structure.
type BlackPearl struct {
	client  *ds3.Client
	Bucket  string
	Prefix  string
	TempDir string // where to make temp files. "" uses default place
}

var (
	// make sure it implements the Store interface
	_ Store = &BlackPearl{}
)

// NewBlackPearl creates a new BlackPearl store. It will use the given bucket
// and will prepend prefix to all keys. This is to allow for a bucket to be
// used for more than one store. The credentials in the client are used for
// all accesses.
func NewBlackPearl(bucket, prefix string, client *ds3.Client) *BlackPearl {
	return &BlackPearl{
		Bucket: bucket,
		Prefix: prefix,
		client: client,
	}
}

// Open returns a reader for the content of the given key, along with its
// size. The appliance may need to recall content from tape, so the entire
// object is staged into a temporary file first. The temporary file is
// removed when the reader is closed.
func (bp *BlackPearl) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	size, err := bp.stat(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.CreateTemp(bp.TempDir, "bp-download-")
	if err != nil {
		return nil, 0, err
	}
	result := &tempFileReadCloser{f}
	err = bp.downloadObject(ctx, f, bp.Prefix+key)
	if err != nil {
		log.Println("BlackPearl Open:", bp.Bucket, bp.Prefix+key, err)
		raven.CaptureError(err, map[string]string{
			"Bucket": bp.Bucket,
			"Key":    bp.Prefix + key})
		result.Close() // this will remove the temp file
		return nil, 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		result.Close()
		return nil, 0, err
	}
	return result, size, nil
}

// Create returns a WriteCloser to upload content to the given key. The bulk
// PUT interface needs to know the total size up front, so data is staged
// into a temporary file and transferred to the appliance when Close() is
// called. An existing object under the key is replaced.
func (bp *BlackPearl) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	f, err := os.CreateTemp(bp.TempDir, "bp-upload-")
	if err != nil {
		return nil, err
	}
	return &bpWriteCloser{
		ctx:      ctx,
		client:   bp.client,
		bucket:   bp.Bucket,
		key:      bp.Prefix + key,
		tempfile: f,
	}, nil
}

// stat checks whether a key exists, and if so returns its size. The prefix
// is added to the key before checking.
func (bp *BlackPearl) stat(key string) (int64, error) {
	info, err := bp.client.HeadObject(
		ds3models.NewHeadObjectRequest(
			bp.Bucket,
			bp.Prefix+key,
		))
	if err != nil {
		if e, ok := err.(ds3models.BadStatusCodeError); ok && e.ActualStatusCode == 404 {
			return 0, ErrNotExist
		}
		return 0, err
	}
	x := info.Headers.Get("Content-Length")
	if x == "" {
		return 0, nil
	}
	xx, err := strconv.Atoi(x)
	return int64(xx), err
}

// tempFileReadCloser wraps a file so the file is deleted when the reader is
// closed.
type tempFileReadCloser struct {
	*os.File
}

func (tf *tempFileReadCloser) Close() error {
	name := tf.File.Name()
	err := tf.File.Close()
	err2 := os.Remove(name)
	if err == nil {
		err = err2
	}
	return err
}

// downloadObject copies the entire contents of the given object into the
// provided writer.
func (bp *BlackPearl) downloadObject(ctx context.Context, w io.Writer, key string) error {
	request := ds3models.NewGetBulkJobSpectraS3Request(bp.Bucket, []string{key})
	resp, err := bp.client.GetBulkJobSpectraS3(request)
	if err != nil {
		return err
	}

	jobID := resp.MasterObjectList.JobId
	chunkCount := len(resp.MasterObjectList.Objects)

	for ; chunkCount > 0; chunkCount-- {
		// wait until the appliance has staged something for us
		chunks, err := waitForBlackPearl(ctx, bp.client, jobID)
		if err != nil {
			return err
		}
		for _, chunk := range chunks {
			log.Println("blackpearl download", key, "offset", chunk.offset)
			input := ds3models.NewGetObjectRequest(bp.Bucket, key).
				WithJob(jobID).
				WithOffset(chunk.offset)
			response, err := bp.client.GetObject(input)
			if err != nil {
				return err
			}
			_, err = io.Copy(w, response.Content)
			response.Content.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// bpWriteCloser does an upload to the BlackPearl appliance using the bulk
// PUT interface.
type bpWriteCloser struct {
	ctx      context.Context
	client   *ds3.Client
	bucket   string
	key      string // with prefix, if any
	tempfile *os.File
}

func (wc *bpWriteCloser) Write(p []byte) (int, error) {
	return wc.tempfile.Write(p)
}

// Close takes the temporary file and uploads it to the BlackPearl. This call
// will not return until either the file has been completely transferred to
// the appliance or an error occurs. Either way, the temporary file is
// deleted.
func (wc *bpWriteCloser) Close() error {
	defer func() {
		if wc.tempfile != nil {
			name := wc.tempfile.Name()
			wc.tempfile.Close()
			err := os.Remove(name)
			if err != nil {
				log.Println("bpWriteCloser", err)
			}
		}
	}()

	info, err := wc.tempfile.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	// The appliance refuses a bulk PUT over an existing object, so remove
	// any previous version first.
	err = wc.deleteObject()
	if err != nil {
		return err
	}

	// Start the bulk request with only this one file to upload.
	request := ds3models.NewPutBulkJobSpectraS3Request(
		wc.bucket,
		[]ds3models.Ds3PutObject{{Name: wc.key, Size: size}}).
		WithVerifyAfterWrite(true)
	resp, err := wc.client.PutBulkJobSpectraS3(request)
	if err != nil {
		log.Println("BlackPearl Create:", wc.bucket, wc.key, err)
		raven.CaptureError(err, map[string]string{
			"Bucket": wc.bucket,
			"Key":    wc.key})
		return err
	}

	jobID := resp.MasterObjectList.JobId
	chunkCount := len(resp.MasterObjectList.Objects)

	for ; chunkCount > 0; chunkCount-- {
		// wait until the appliance is ready for an upload
		chunks, err := waitForBlackPearl(wc.ctx, wc.client, jobID)
		if err != nil {
			return err
		}

		for _, chunk := range chunks {
			_, err = wc.tempfile.Seek(chunk.offset, io.SeekStart)
			if err != nil {
				return err
			}
			err = wc.uploadbuffer(jobID, wc.tempfile, chunk)
			if err != nil {
				log.Println("BlackPearl Close:", wc.bucket, wc.key, err)
				return err
			}
		}
	}
	return nil
}

// deleteObject removes the object under wc.key. It is not an error if the
// object doesn't exist.
func (wc *bpWriteCloser) deleteObject() error {
	_, err := wc.client.DeleteObject(
		ds3models.NewDeleteObjectRequest(
			wc.bucket,
			wc.key,
		))
	if e, ok := err.(ds3models.BadStatusCodeError); ok && e.ActualStatusCode == 404 {
		err = nil
	}
	return err
}

func (wc *bpWriteCloser) uploadbuffer(jobID string, r io.Reader, c chunk) error {
	rr := &limitedSizeReader{io.LimitedReader{R: r, N: c.length}}
	input := ds3models.NewPutObjectRequest(wc.bucket, wc.key, rr).
		WithJob(jobID).
		WithOffset(c.offset)

	_, err := wc.client.PutObject(input)
	return err
}

// limitedSizeReader adds a Size() function. This is needed for the
// BlackPearl SDK.
type limitedSizeReader struct {
	io.LimitedReader
}

func (s *limitedSizeReader) Size() (int64, error) {
	return s.N, nil
}

type chunk struct {
	name   string
	offset int64
	length int64
}

// waitForBlackPearl blocks until the BlackPearl is ready to transfer more
// chunks for the given job, or the context is canceled.
func waitForBlackPearl(ctx context.Context, client *ds3.Client, jobID string) ([]chunk, error) {
	for {
		input := ds3models.NewGetJobChunksReadyForClientProcessingSpectraS3Request(jobID)
		resp, err := client.GetJobChunksReadyForClientProcessingSpectraS3(input)
		if err != nil {
			return nil, err
		}

		// Can any chunks be processed?
		numberOfChunks := len(resp.MasterObjectList.Objects)
		if numberOfChunks > 0 {
			var result []chunk
			for _, c := range resp.MasterObjectList.Objects {
				for _, d := range c.Objects {
					result = append(result, chunk{
						name:   stringValue(d.Name),
						offset: d.Offset,
						length: d.Length,
					})
				}
			}
			return result, nil
		}

		// An empty list means the appliance's cache is saturated and we
		// should wait the number of seconds given in the Retry-After header
		// before asking again.
		timeout := 10 * time.Second // default to 10 seconds
		if s := resp.Headers.Get("Retry-After"); s != "" {
			v, err := strconv.Atoi(s)
			if err == nil && v > 0 {
				timeout = time.Duration(v) * time.Second
			}
		}
		log.Println("waiting for blackpearl", timeout.Seconds())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
		}
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
