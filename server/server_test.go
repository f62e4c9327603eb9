package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/facebookgo/clock"
	"github.com/spf13/afero"

	"github.com/MITLibraries/archival-packaging-tool/bagger"
	"github.com/MITLibraries/archival-packaging-tool/store"
)

func TestWelcome(t *testing.T) {
	text := getbody(t, "GET", "/", 200)
	if !strings.Contains(text, "APT") {
		t.Errorf("Received %#v", text)
	}
}

func TestAlgorithms(t *testing.T) {
	text := getbody(t, "GET", "/algorithms", 200)
	var response struct {
		Algorithms []string `json:"algorithms"`
	}
	if err := json.Unmarshal([]byte(text), &response); err != nil {
		t.Fatalf("%s: %s", text, err)
	}
	if len(response.Algorithms) != 14 {
		t.Errorf("Received %d algorithms: %v", len(response.Algorithms), response.Algorithms)
	}
	names := strings.Join(response.Algorithms, " ")
	for _, expected := range []string{"md5", "sha256", "blake2b", "shake_256"} {
		if !strings.Contains(names, expected) {
			t.Errorf("algorithm list %s is missing %s", names, expected)
		}
	}
}

func TestDebugVars(t *testing.T) {
	text := getbody(t, "GET", "/debug/vars", 200)
	var vars map[string]interface{}
	if err := json.Unmarshal([]byte(text), &vars); err != nil {
		t.Errorf("/debug/vars is not JSON: %s", err)
	}
}

func TestBagBadRequests(t *testing.T) {
	// not JSON at all
	postjson(t, "/bag", "this is not json", 400)

	// no secret on a server requiring one
	postjson(t, "/bag", `{"input_files":[],"output_zip_s3_uri":"mem://out/x.zip"}`, 401)
	postjson(t, "/bag", body(t, &bagger.Request{
		InputFiles:      []bagger.InputFile{{URI: "mem://in/f1.txt", Filepath: "f1.txt"}},
		OutputZipS3URI:  "mem://out/x.zip",
		ChallengeSecret: "wrong",
	}), 401)

	// authenticated but unworkable requests
	text := postjson(t, "/bag", body(t, &bagger.Request{
		ChallengeSecret: testSecret,
	}), 400)
	if !strings.Contains(text, "no input files") {
		t.Errorf("Received %#v", text)
	}
	text = postjson(t, "/bag", body(t, &bagger.Request{
		InputFiles:      []bagger.InputFile{{URI: "mem://in/f1.txt", Filepath: "../f1.txt"}},
		OutputZipS3URI:  "mem://out/x.zip",
		ChallengeSecret: testSecret,
	}), 400)
	if !strings.Contains(text, "escapes the payload directory") {
		t.Errorf("Received %#v", text)
	}
	text = postjson(t, "/bag", body(t, &bagger.Request{
		InputFiles:          []bagger.InputFile{{URI: "mem://in/f1.txt", Filepath: "f1.txt"}},
		OutputZipS3URI:      "mem://out/x.zip",
		ChallengeSecret:     testSecret,
		ChecksumsToGenerate: []string{"rot13"},
	}), 400)
	if !strings.Contains(text, "rot13") {
		t.Errorf("Received %#v", text)
	}
}

func TestBagSuccess(t *testing.T) {
	text := postjson(t, "/bag", body(t, &bagger.Request{
		InputFiles: []bagger.InputFile{
			{URI: "mem://in/f1.txt", Filepath: "f1.txt"},
			{URI: "mem://in/deep/f2.txt", Filepath: "sub/f2.txt"},
		},
		OutputZipS3URI:  "mem://out/bags/ok.zip",
		ChallengeSecret: testSecret,
	}), 200)
	var result bagger.Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		t.Fatalf("%s: %s", text, err)
	}
	if !result.Success {
		t.Fatalf("Received %#v", result)
	}
	if result.Error != nil {
		t.Errorf("Error = %q", *result.Error)
	}
	if result.OutputZipS3URI != "mem://out/bags/ok.zip" {
		t.Errorf("OutputZipS3URI = %q", result.OutputZipS3URI)
	}
	if len(result.Bag.Entries) == 0 {
		t.Error("result has no bag entries")
	}
	// the archive really is in the destination store
	rc, _, err := testDest.Open(context.Background(), "bags/ok.zip")
	if err != nil {
		t.Fatalf("delivered bag missing: %s", err)
	}
	rc.Close()
}

func TestBagFailureInBand(t *testing.T) {
	text := postjson(t, "/bag", body(t, &bagger.Request{
		InputFiles:      []bagger.InputFile{{URI: "mem://in/no-such-file", Filepath: "f.txt"}},
		OutputZipS3URI:  "mem://out/bags/failed.zip",
		ChallengeSecret: testSecret,
	}), 200)
	var result bagger.Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		t.Fatalf("%s: %s", text, err)
	}
	if result.Success {
		t.Fatalf("Received %#v", result)
	}
	if result.Error == nil || !strings.Contains(*result.Error, "fetching mem://in/no-such-file") {
		t.Errorf("Received %#v", result)
	}
	if len(result.Bag.Entries) != 0 {
		t.Errorf("failed result has bag entries: %v", result.Bag.Entries)
	}
	if _, _, err := testDest.Open(context.Background(), "bags/failed.zip"); err == nil {
		t.Error("a bag was delivered for a failed request")
	}
}

func TestSecretValidator(t *testing.T) {
	var table = []struct {
		configured string
		presented  string
		valid      bool
	}{
		{"", "", true},
		{"", "anything", true},
		{"s3cret", "s3cret", true},
		{"s3cret", "", false},
		{"s3cret", "S3cret", false},
		{"s3cret", "s3cret ", false},
	}
	for _, test := range table {
		v := NewValidator(test.configured)
		if got := v.SecretValid(test.presented); got != test.valid {
			t.Errorf("configured %q presented %q: valid = %v",
				test.configured, test.presented, got)
		}
	}
}

// body marshals a request for posting.
func body(t *testing.T, req *bagger.Request) string {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func postjson(t *testing.T, route string, content string, expstatus int) string {
	t.Helper()
	req, err := http.NewRequest("POST", testServer.URL+route, strings.NewReader(content))
	if err != nil {
		t.Fatal("Problem creating request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(route, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(route, err)
	}
	if resp.StatusCode != expstatus {
		t.Errorf("%s: Expected status %d and received %d (%s)",
			route, expstatus, resp.StatusCode, data)
	}
	return string(data)
}

func getbody(t *testing.T, verb, route string, expstatus int) string {
	t.Helper()
	req, err := http.NewRequest(verb, testServer.URL+route, nil)
	if err != nil {
		t.Fatal("Problem creating request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(route, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != expstatus {
		t.Errorf("%s: Expected status %d and received %d",
			route, expstatus, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(route, err)
	}
	return string(data)
}

// testResolver maps URI hosts to stores, so "mem://in/a.txt" resolves
// to stores["in"] with the key "a.txt".
type testResolver struct {
	stores map[string]store.Store
}

func (tr testResolver) Resolve(uri string) (store.Store, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", err
	}
	s, ok := tr.stores[u.Host]
	if !ok {
		return nil, "", fmt.Errorf("no store for %s", u.Host)
	}
	return s, strings.TrimPrefix(u.Path, "/"), nil
}

const testSecret = "s3cret"

var (
	testServer *httptest.Server
	testDest   *store.Memory
)

func init() {
	source := store.NewMemory()
	testDest = store.NewMemory()
	for key, content := range map[string]string{
		"f1.txt":      "first file",
		"deep/f2.txt": "second file",
	} {
		w, err := source.Create(context.Background(), key)
		if err != nil {
			panic(err)
		}
		io.WriteString(w, content)
		if err := w.Close(); err != nil {
			panic(err)
		}
	}
	srv := &Server{
		Bagger: &bagger.Bagger{
			Resolver: testResolver{stores: map[string]store.Store{
				"in":  source,
				"out": testDest,
			}},
			WorkDir: "/work",
			FS:      afero.NewMemMapFs(),
			Clock:   clock.NewMock(),
		},
		Validator: NewValidator(testSecret),
	}
	testServer = httptest.NewServer(srv.addRoutes())
}
