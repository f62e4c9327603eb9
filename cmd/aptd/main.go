// Aptd is the archival packaging tool's HTTP daemon. It accepts bagging
// requests, assembles each one into a zipped BagIt bag, and delivers the
// archive to the requested location.
//
// Configuration comes from an optional TOML file, command line flags,
// and the environment. Flags override the file. The environment
// variables CHALLENGE_SECRET, SENTRY_DSN, and WORKSPACE_ROOT_DIR fill
// in anything left unset, which is how the secrets are expected to
// arrive in production.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	raven "github.com/getsentry/raven-go"

	"github.com/MITLibraries/archival-packaging-tool/bagger"
	"github.com/MITLibraries/archival-packaging-tool/server"
	"github.com/MITLibraries/archival-packaging-tool/store"
)

type config struct {
	Port            string
	PProfPort       string
	WorkDir         string
	Workers         int
	FetchTimeout    duration
	DeliverTimeout  duration
	ChallengeSecret string
	SentryDSN       string
	S3Endpoint      string
}

// duration lets timeouts be written as "90s" or "15m" in the file.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func main() {
	var (
		configFile = flag.String("config", "", "path to a configuration file")
		port       = flag.String("port", "14000", "port number to listen on")
		pprofPort  = flag.String("pprof", "", "port number for pprof, empty disables")
		workDir    = flag.String("workdir", "", "staging directory, empty means the system temp dir")
		s3Endpoint = flag.String("s3-endpoint", "", "alternate S3 endpoint, e.g. a local minio")
	)
	flag.Parse()

	var conf config
	if *configFile != "" {
		log.Println("Reading configuration", *configFile)
		if _, err := toml.DecodeFile(*configFile, &conf); err != nil {
			log.Fatalln("Error reading configuration:", err)
		}
	}
	// flags passed on the command line win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			conf.Port = *port
		case "pprof":
			conf.PProfPort = *pprofPort
		case "workdir":
			conf.WorkDir = *workDir
		case "s3-endpoint":
			conf.S3Endpoint = *s3Endpoint
		}
	})
	if conf.Port == "" {
		conf.Port = *port
	}
	// secrets come from the environment when the file has none
	if conf.ChallengeSecret == "" {
		conf.ChallengeSecret = os.Getenv("CHALLENGE_SECRET")
	}
	if conf.SentryDSN == "" {
		conf.SentryDSN = os.Getenv("SENTRY_DSN")
	}
	if conf.WorkDir == "" {
		conf.WorkDir = os.Getenv("WORKSPACE_ROOT_DIR")
	}

	if conf.SentryDSN != "" {
		log.Println("Sending errors to Sentry")
		if err := raven.SetDSN(conf.SentryDSN); err != nil {
			log.Fatalln("Error configuring Sentry:", err)
		}
		raven.SetRelease(server.Version)
	}

	s := &server.Server{
		PortNumber: conf.Port,
		PProfPort:  conf.PProfPort,
		Bagger: &bagger.Bagger{
			Resolver:       &store.Resolver{S3Endpoint: conf.S3Endpoint},
			WorkDir:        conf.WorkDir,
			Workers:        conf.Workers,
			FetchTimeout:   conf.FetchTimeout.Duration,
			DeliverTimeout: conf.DeliverTimeout.Duration,
		},
		Validator: server.NewValidator(conf.ChallengeSecret),
	}

	// shut down nicely on SIGINT and SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Received interrupt, shutting down")
		s.Stop()
	}()

	if err := s.Run(); err != nil {
		log.Fatalln(err)
	}
}
