// Package launch assembles the templated startup payload for a CI
// instance and creates the instance through a cloud backend. The
// payload is header + workload + trailer, with __KEY__ placeholders
// substituted at launch time so secrets reach the instance without a
// side channel.
package launch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/liftci/liftci/internal/cloud"
)

// Instance defaults matching the historical CI setup.
const (
	DefaultRegion = "nyc3"
	DefaultSize   = "c-32"
	DefaultImage  = "ubuntu-20-04-x64"
)

// Tags applied to every CI instance.
var instanceTags = []string{"ci", "binary-lifting"}

// Vars is the set of __KEY__ substitutions applied to the payload.
type Vars map[string]string

// ExpandVars replaces every occurrence of __KEY__ in script with the
// corresponding value. Unknown tokens are left intact so a skipped
// substitution is visible downstream (the runner treats a leftover
// branch placeholder as "use the default branch").
func ExpandVars(script string, vars Vars) string {
	for k, v := range vars {
		script = strings.ReplaceAll(script, "__"+k+"__", v)
	}
	return script
}

// ParseExtraVars parses a "k=v,k2=v2" flag value into Vars. Entries
// without an '=' are skipped.
func ParseExtraVars(s string) Vars {
	vars := Vars{}
	if s == "" {
		return vars
	}
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		vars[k] = v
	}
	return vars
}

// Assemble expands vars over header, workload, and trailer and joins
// them in that order.
func Assemble(header, workload, trailer string, vars Vars) string {
	return strings.Join([]string{
		ExpandVars(header, vars),
		ExpandVars(workload, vars),
		ExpandVars(trailer, vars),
	}, "\n")
}

// DefaultRunName returns the date-stamped default run identifier.
func DefaultRunName(now time.Time) string {
	return "ci-run-" + now.Format("2006-01-02")
}

// Request describes one instance launch.
type Request struct {
	// Name identifies the run (not the provider hostname).
	Name string

	// Region, Size, Image select the instance shape. Zero values use
	// the package defaults.
	Region string
	Size   string
	Image  string

	// Header, Workload, Trailer are the three script parts joined into
	// the startup payload.
	Header   string
	Workload string
	Trailer  string

	// Vars are the __KEY__ substitutions.
	Vars Vars
}

// Launcher creates CI instances with assembled startup payloads.
type Launcher struct {
	instances cloud.Instances
	logger    *slog.Logger
}

// New creates a Launcher.
func New(instances cloud.Instances, logger *slog.Logger) *Launcher {
	return &Launcher{instances: instances, logger: logger}
}

// Payload returns the fully assembled startup payload for req.
func (l *Launcher) Payload(req Request) string {
	return Assemble(req.Header, req.Workload, req.Trailer, req.Vars)
}

// DumpPayload writes the assembled payload to w without touching the
// cloud. Used for inspecting what an instance would execute.
func (l *Launcher) DumpPayload(req Request, w io.Writer) error {
	if _, err := io.WriteString(w, l.Payload(req)); err != nil {
		return fmt.Errorf("dumping payload: %w", err)
	}
	return nil
}

// Launch creates the instance. A failed create is fatal for the run;
// there is no retry.
func (l *Launcher) Launch(ctx context.Context, req Request) (string, error) {
	if req.Name == "" {
		req.Name = DefaultRunName(time.Now())
	}
	if req.Region == "" {
		req.Region = DefaultRegion
	}
	if req.Size == "" {
		req.Size = DefaultSize
	}
	if req.Image == "" {
		req.Image = DefaultImage
	}

	l.logger.Info("launching CI instance",
		slog.String("name", req.Name),
		slog.String("size", req.Size),
		slog.String("region", req.Region),
	)

	id, err := l.instances.Create(ctx, cloud.CreateRequest{
		Name:     req.Name,
		Region:   req.Region,
		Size:     req.Size,
		Image:    req.Image,
		UserData: l.Payload(req),
		Tags:     instanceTags,
	})
	if err != nil {
		return "", fmt.Errorf("launching %s: %w", req.Name, err)
	}

	l.logger.Info("CI instance launched",
		slog.String("name", req.Name),
		slog.String("id", id),
	)

	return id, nil
}
