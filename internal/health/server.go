package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const checkTimeout = 3 * time.Second

// Checker holds the checks behind /healthz. Nil checks are omitted.
type Checker struct {
	DBPing  func(ctx context.Context) error
	RPCPing func(ctx context.Context) error
	// Phase reports the engine phase and whether it is terminal.
	Phase func() (name string, faulted bool)
}

// Report is the /healthz response body.
type Report struct {
	Status   string `json:"status"`
	DB       string `json:"db,omitempty"`
	RPC      string `json:"rpc,omitempty"`
	RPCError string `json:"rpc_error,omitempty"`
	Phase    string `json:"phase,omitempty"`
}

// Healthy is false when any check failed or the engine faulted.
func (r Report) Healthy() bool {
	return r.Status == "ok" && r.DB != "fail" && r.RPC != "fail"
}

// Check runs every configured check.
func (c Checker) Check(ctx context.Context) Report {
	rep := Report{Status: "ok"}
	if c.DBPing != nil {
		rep.DB, _ = ping(ctx, c.DBPing)
	}
	if c.RPCPing != nil {
		var err error
		if rep.RPC, err = ping(ctx, c.RPCPing); err != nil {
			rep.RPCError = err.Error()
		}
	}
	if c.Phase != nil {
		var faulted bool
		rep.Phase, faulted = c.Phase()
		if faulted {
			rep.Status = "faulted"
		}
	}
	return rep
}

func ping(ctx context.Context, fn func(context.Context) error) (string, error) {
	if err := fn(ctx); err != nil {
		return "fail", err
	}
	return "ok", nil
}

// Handler serves /healthz.
func Handler(checker Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		rep := checker.Check(ctx)
		code := http.StatusOK
		if !rep.Healthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(rep)
	})
	return mux
}

// Serve starts the /healthz server in the background.
func Serve(addr string, checker Checker) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(checker),
		ReadHeaderTimeout: checkTimeout,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
