// Package server implements the archival packaging tool's REST API.
package server

import (
	"encoding/json"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server

	"github.com/facebookgo/httpdown"
	"github.com/julienschmidt/httprouter"

	"github.com/MITLibraries/archival-packaging-tool/bagger"
	"github.com/MITLibraries/archival-packaging-tool/digest"
)

// Version is the version string reported by the welcome route. It is
// overridden at link time for release builds.
var Version = "devel"

// Server holds the configuration for an aptd API server.
//
// Set all the public fields and then call Run. Run will listen on the
// given port and handle requests until Stop is called. Do not change
// any fields after calling Run.
type Server struct {
	// Port number to listen on. The cmd sets the usual default.
	PortNumber string
	PProfPort  string

	// Bagger runs the pipeline for POST /bag. Run will panic if
	// Bagger is nil.
	Bagger *bagger.Bagger

	// Validator checks the challenge secret presented with each
	// bagging request. If this is nil then no checking is done.
	Validator SecretValidator

	server httpdown.Server // used to close our listening socket
}

// Run starts the server. It blocks listening for and handling http
// requests until Stop is called.
func (s *Server) Run() error {
	log.Println("==========")
	log.Printf("Starting APT Server version %s", Version)

	if s.Bagger == nil {
		panic("No pipeline given. Bagger is nil.")
	}
	if s.Validator == nil {
		log.Println("No challenge secret configured")
		s.Validator = AnySecret{}
	}

	// for pprof
	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	log.Println("Listening on", s.PortNumber)

	h := httpdown.HTTP{}
	var err error
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop shuts down the listening socket and waits for the in-flight
// requests to drain.
func (s *Server) Stop() error {
	return s.server.Stop()
}

func (s *Server) addRoutes() http.Handler {
	var routes = []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		{"POST", "/bag", s.BagHandler},
		{"GET", "/algorithms", AlgorithmsHandler},

		// other
		{"GET", "/", WelcomeHandler},
		{"GET", "/debug/vars", VarHandler}, // standard route for expvars data
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method,
			route.route,
			logWrapper(route.handler))
	}
	return r
}

// logWrapper takes a handler and returns a handler which does the same thing,
// after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "APT (%s)\n", Version)
}

// AlgorithmsHandler returns the list of checksum algorithms a request
// may ask for.
func AlgorithmsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(map[string][]string{
		"algorithms": digest.Names(),
	})
}

// VarHandler adapts the expvar default handler to the httprouter three parameter handler.
func VarHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// this code is taken from the stdlib expvar package.
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\n")
	first := true
	expvar.Do(func(kv expvar.KeyValue) {
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
	})
	fmt.Fprintf(w, "\n}\n")
}
