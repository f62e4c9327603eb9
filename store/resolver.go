package store

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/SpectraLogic/ds3_go_sdk/ds3"
	"github.com/SpectraLogic/ds3_go_sdk/ds3/networking"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
)

// Resolver turns object URIs into a store and a key inside that store. It
// understands the special schemes "s3:" and "blackpearl:"; everything else
// is treated as a path on the local file system. Use "blackpearls:" for a
// https connection to a BlackPearl device.
//
//	s3://bucket/path/to/object
//	blackpearl://host:port/bucket/path/to/object
//	file:///path/to/object, or a bare path
//
// Stores are cached, so objects in the same bucket share a connection. A
// Resolver is safe for concurrent use.
type Resolver struct {
	// S3Endpoint, when set, overrides the AWS endpoint. This is for running
	// against a local object store such as Minio during development.
	S3Endpoint string

	m      sync.Mutex
	stores map[string]Store
}

// Resolve returns the store holding the object the URI names, and the
// object's key within that store.
func (r *Resolver) Resolve(location string) (Store, string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, "", err
	}
	switch u.Scheme {
	case "", "file":
		if u.Path == "" {
			return nil, "", fmt.Errorf("no path in %s", location)
		}
		s, err := r.getstore("file:", func() (Store, error) {
			return NewFileSystem(""), nil
		})
		return s, u.Path, err
	case "s3":
		bucket := u.Host
		key := strings.TrimPrefix(u.Path, "/")
		if bucket == "" {
			return nil, "", fmt.Errorf("no bucket name in %s", location)
		}
		if key == "" {
			return nil, "", fmt.Errorf("no object key in %s", location)
		}
		s, err := r.getstore("s3:"+bucket, func() (Store, error) {
			conf := &aws.Config{}
			if r.S3Endpoint != "" {
				conf.Endpoint = aws.String(r.S3Endpoint)
				conf.Region = aws.String("us-east-1")
				// disable SSL for local development
				if strings.Contains(r.S3Endpoint, "localhost") ||
					strings.Contains(r.S3Endpoint, "127.0.0.1") {
					conf.DisableSSL = aws.Bool(true)
					conf.S3ForcePathStyle = aws.Bool(true)
				}
			}
			return NewS3(bucket, "", session.New(conf)), nil
		})
		return s, key, err
	case "blackpearl", "blackpearls":
		bucket, key := splitBucketKey(u.Path)
		if bucket == "" {
			return nil, "", fmt.Errorf("no bucket name in %s", location)
		}
		if key == "" {
			return nil, "", fmt.Errorf("no object key in %s", location)
		}
		s, err := r.getstore("blackpearl:"+u.Host+"/"+bucket, func() (Store, error) {
			accessKey := os.Getenv("DS3_ACCESS_KEY")
			secretKey := os.Getenv("DS3_SECRET_KEY")
			switch {
			case accessKey == "":
				return nil, fmt.Errorf("DS3_ACCESS_KEY missing")
			case secretKey == "":
				return nil, fmt.Errorf("DS3_SECRET_KEY missing")
			}
			endpoint := &url.URL{
				Scheme: "http",
				Host:   u.Host,
			}
			if u.Scheme == "blackpearls" {
				endpoint.Scheme = "https"
			}
			client := ds3.NewClientBuilder(
				endpoint,
				&networking.Credentials{AccessId: accessKey, Key: secretKey},
			).BuildClient()
			bp := NewBlackPearl(bucket, "", client)
			bp.TempDir = os.Getenv("DS3_TEMPDIR") // okay if returns ""
			return bp, nil
		})
		return s, key, err
	}
	return nil, "", fmt.Errorf("unsupported scheme %q in %s", u.Scheme, location)
}

// getstore returns the cached store under id, calling create to make it if
// this is the first time id has been seen.
func (r *Resolver) getstore(id string, create func() (Store, error)) (Store, error) {
	r.m.Lock()
	defer r.m.Unlock()
	s, ok := r.stores[id]
	if !ok {
		var err error
		s, err = create()
		if err != nil {
			return nil, err
		}
		if r.stores == nil {
			r.stores = make(map[string]Store)
		}
		r.stores[id] = s
	}
	return s, nil
}

// splitBucketKey takes a path and separates the bucket name from the object
// key inside the bucket.
//
// examples:
//
//	"" -> ("", "")
//	"/bucket" -> ("bucket", "")
//	"/bucket/path/to/object" -> ("bucket", "path/to/object")
func splitBucketKey(location string) (bucket, key string) {
	location = strings.TrimPrefix(location, "/")
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		key = v[1]
	}
	return
}
