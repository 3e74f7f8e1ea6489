// Package health provides the status endpoint served while a CI
// workload runs on an instance.
package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/liftci/liftci/internal/buildinfo"
)

// Response represents the status response body.
type Response struct {
	Status       string    `json:"status"`
	ServiceName  string    `json:"service_name"`
	Version      string    `json:"version"`
	Commit       string    `json:"commit"`
	BuildTime    string    `json:"build_time"`
	GoVersion    string    `json:"go_version"`
	OS           string    `json:"os"`
	Architecture string    `json:"architecture"`
	RunName      string    `json:"run_name"`
	Branch       string    `json:"branch"`
	Timestamp    time.Time `json:"timestamp"`
}

// Handler responds to status requests. It reports build info and the
// run identity. The status is always "running" (200 OK): this is a
// liveness check with no external dependencies to verify -- if the
// workload has died, the instance self-destructs and the endpoint
// disappears with it.
func Handler(runName, branch string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := Response{
			Status:       "running",
			ServiceName:  "liftci",
			Version:      buildinfo.Version,
			Commit:       buildinfo.Commit,
			BuildTime:    buildinfo.BuildTime,
			GoVersion:    runtime.Version(),
			OS:           runtime.GOOS,
			Architecture: runtime.GOARCH,
			RunName:      runName,
			Branch:       branch,
			Timestamp:    time.Now().UTC(),
		}

		_ = json.NewEncoder(w).Encode(response)
	}
}
