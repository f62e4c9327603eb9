package server

import (
	"encoding/json"
	"expvar"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/MITLibraries/archival-packaging-tool/bagger"
)

var (
	xBagRequests = expvar.NewInt("bag.requests")
	xBagFailures = expvar.NewInt("bag.failures")
)

// BagHandler handles POST /bag. The body is a bagger.Request. Requests
// that cannot start a pipeline are refused up front: 400 when the body
// does not decode or does not validate, 401 when the challenge secret
// is wrong. Otherwise the pipeline runs and the response is a 200 with
// a bagger.Result, which reports success or failure in-band.
func (s *Server) BagHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req bagger.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "cannot decode request:", err)
		return
	}
	if !s.Validator.SecretValid(req.ChallengeSecret) {
		w.WriteHeader(401)
		fmt.Fprintln(w, "Forbidden")
		return
	}
	if err := req.Validate(); err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}

	xBagRequests.Add(1)
	result := s.Bagger.Process(r.Context(), &req)
	if !result.Success {
		xBagFailures.Add(1)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.Encode(result)
}
