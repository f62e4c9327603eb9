// Apt is a command line front end for the archival packaging tool. It
// can run the bagging pipeline locally, submit requests to a running
// aptd, and verify finished bag archives.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"

	"github.com/antonholmquist/jason"

	"github.com/MITLibraries/archival-packaging-tool/bagger"
	"github.com/MITLibraries/archival-packaging-tool/bagit"
	"github.com/MITLibraries/archival-packaging-tool/store"
)

// various command line flags, with default values

var (
	server     = flag.String("server", "http://localhost:14000", "aptd server to use")
	secret     = flag.String("secret", "", "challenge secret to send (default $CHALLENGE_SECRET)")
	workdir    = flag.String("workdir", "", "staging directory for local bagging")
	s3endpoint = flag.String("s3-endpoint", "", "alternate S3 endpoint, e.g. a local minio")
	verbose    = flag.Bool("v", false, "display more information")
	usage      = `
apt <command> <command arguments>

Possible commands:
    bag <request.json>
        run the bagging pipeline locally and print the result

    submit <request.json>
        send the request to an aptd server and print the result

    validate <bag.zip>
        verify every checksum inside a finished bag archive
`
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println(usage)
		return
	}

	switch args[0] {
	case "bag":
		if len(args) != 2 {
			fmt.Println("Usage: apt <flags> bag <request.json>")
			os.Exit(1)
		}
		dobag(args[1])
	case "submit":
		if len(args) != 2 {
			fmt.Println("Usage: apt <flags> submit <request.json>")
			os.Exit(1)
		}
		dosubmit(args[1])
	case "validate":
		if len(args) != 2 {
			fmt.Println("Usage: apt <flags> validate <bag.zip>")
			os.Exit(1)
		}
		dovalidate(args[1])
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

func readrequest(path string) *bagger.Request {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	var req bagger.Request
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Println("Error decoding request:", err)
		os.Exit(1)
	}
	if *verbose {
		req.Verbose = true
	}
	return &req
}

func dobag(path string) {
	req := readrequest(path)
	bg := &bagger.Bagger{
		Resolver: &store.Resolver{S3Endpoint: *s3endpoint},
		WorkDir:  *workdir,
	}
	result := bg.Process(context.Background(), req)
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
	if !result.Success {
		os.Exit(1)
	}
}

func dosubmit(path string) {
	req := readrequest(path)
	if req.ChallengeSecret == "" {
		req.ChallengeSecret = getsecret()
	}
	body, err := json.Marshal(req)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	resp, err := http.Post(*server+"/bag", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		text, _ := io.ReadAll(resp.Body)
		fmt.Printf("Received status %d from server: %s\n", resp.StatusCode, text)
		os.Exit(1)
	}
	v, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		fmt.Println("Error decoding response:", err)
		os.Exit(1)
	}
	elapsed, _ := v.GetFloat64("elapsed")
	success, _ := v.GetBoolean("success")
	if !success {
		message, _ := v.GetString("error")
		fmt.Printf("FAILED in %.2fs: %s\n", elapsed, message)
		os.Exit(1)
	}
	output, _ := v.GetString("output_zip_s3_uri")
	fmt.Printf("OK %s (%.2fs)\n", output, elapsed)
	if *verbose {
		entries, err := v.GetObject("bag", "entries")
		if err != nil {
			return
		}
		var names []string
		for name := range entries.Map() {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println("   ", name)
		}
	}
}

func dovalidate(path string) {
	f, err := os.Open(path)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	rb, err := bagit.NewReader(f, fi.Size())
	if err != nil {
		fmt.Printf("%s: %s\n", path, err)
		os.Exit(1)
	}
	problems := rb.Verify()
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Printf("%s: %s\n", path, p)
		}
		os.Exit(1)
	}
	fmt.Printf("%s: ok, %d files verified\n", path, len(rb.Entries()))
}

// getsecret returns the challenge secret to attach to submitted
// requests: the -secret flag if given, otherwise $CHALLENGE_SECRET.
func getsecret() string {
	if *secret != "" {
		return *secret
	}
	return os.Getenv("CHALLENGE_SECRET")
}
