//go:build blackpearl
// +build blackpearl

package store

// Tests the BlackPearl interface code with an external service. Can use actual
// device, or the simulator.
//
// To run from the command line
//
//	env "DS3_ACCESS_KEY=XXXXX" "DS3_SECRET_KEY=YYYY" "DS3_ENDPOINT=" go test -tags=blackpearl -run BP
//
// Using the Spectra Logic BlackPearl Simulator
//  - Machine image is on this page:
//      https://developer.spectralogic.com/downloads/
//  - Documentation: https://developer.spectralogic.com/sim-install/
//
// Set up the machine using the documentation, create a bucket "apt-test" and
// then run
//
//	env "DS3_ACCESS_KEY=YmVuZG8=" \
//	    "DS3_SECRET_KEY=kG8RYsbf" \
//	    "DS3_ENDPOINT=http://192.168.1.70:8080" \
//	    go test -tags=blackpearl -run BP
//
// Replace the keys with those for the user you created and the IP address with
// the one the simulator is using.

import (
	"context"
	"hash/fnv"
	"io"
	"net/url"
	"os"
	"testing"

	"github.com/SpectraLogic/ds3_go_sdk/ds3"
	"github.com/SpectraLogic/ds3_go_sdk/ds3/networking"
)

const testBucketBP = "apt-test"

func getClient(t *testing.T) *ds3.Client {
	// Create a client from environment variables. Since the simulator doesn't
	// have a valid SSL certificate, we need to build it ourselves.

	endpoint := os.Getenv("DS3_ENDPOINT")
	accessKey := os.Getenv("DS3_ACCESS_KEY")
	secretKey := os.Getenv("DS3_SECRET_KEY")

	switch {
	case endpoint == "":
		t.Fatal("DS3_ENDPOINT missing")
	case accessKey == "":
		t.Fatal("DS3_ACCESS_KEY missing")
	case secretKey == "":
		t.Fatal("DS3_SECRET_KEY missing")
	}

	endpointUrl, err := url.Parse(endpoint)
	if err != nil {
		t.Fatal(err)
	}

	return ds3.NewClientBuilder(
		endpointUrl,
		&networking.Credentials{AccessId: accessKey, Key: secretKey}).
		WithIgnoreServerCertificate(true).
		BuildClient()
}

func TestBPOpenMissing(t *testing.T) {
	bp := NewBlackPearl(testBucketBP, "", getClient(t))
	_, _, err := bp.Open(context.Background(), "no-such-key-anywhere")
	if err != ErrNotExist {
		t.Errorf("Open returned %v, expected ErrNotExist", err)
	}
}

func TestBPCreate(t *testing.T) {
	ctx := context.Background()
	bp := NewBlackPearl(testBucketBP, "create/", getClient(t))

	// Try to write first (short) file.
	add(t, bp, "first", "abcdefghijklmnopqrstuvwxyz")
	if text := getbody(t, bp, "first"); text != "abcdefghijklmnopqrstuvwxyz" {
		t.Errorf("read back %q", text)
	}

	// now write second (larger) file
	w, err := bp.Create(ctx, "second")
	if err != nil {
		t.Fatal(err)
	}
	hash := fnv.New64a() // to verify correctness
	totallength := int64(0)
	for totallength < 100_000_000 {
		const data = "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz"
		hash.Write([]byte(data))
		n, err := w.Write([]byte(data))
		if err != nil {
			t.Error(err)
		}
		totallength += int64(n)
	}
	err = w.Close()
	if err != nil {
		t.Error(err)
	}
	uploadHash := hash.Sum64()

	// does the uploaded file have a matching hash?
	r, size, err := bp.Open(ctx, "second")
	if err != nil {
		t.Fatal(err)
	}
	if size != totallength {
		t.Error("Uploaded item length is", size, "expected", totallength)
	}
	hash.Reset()
	nn, err := io.Copy(hash, r)
	if err != nil {
		t.Error(err)
	}
	err = r.Close()
	if err != nil {
		t.Error(err)
	}
	if nn != size {
		t.Error("Read", nn, "expected", size)
	}
	if uploadHash != hash.Sum64() {
		t.Error("Read hash", hash.Sum64(), "expected", uploadHash)
	}
}

func TestBPReplace(t *testing.T) {
	bp := NewBlackPearl(testBucketBP, "replace/", getClient(t))
	add(t, bp, "item", "version one")
	add(t, bp, "item", "version two")
	if text := getbody(t, bp, "item"); text != "version two" {
		t.Errorf("read back %q", text)
	}
}
