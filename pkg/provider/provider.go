// Package provider fetches apps and build records from the CI provider API.
package provider

import (
	"context"
	"fmt"
	"time"
)

// App is a CI project registered with the provider.
type App struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	ProjectType string `json:"project_type"`
	IsDisabled  bool   `json:"is_disabled"`
}

// Build is one CI execution. Timestamps are nil until the build reaches the
// corresponding phase.
type Build struct {
	Slug                         string     `json:"slug"`
	BuildNumber                  int        `json:"build_number"`
	Status                       int        `json:"status"`
	TriggeredAt                  *time.Time `json:"triggered_at"`
	StartedOnWorkerAt            *time.Time `json:"started_on_worker_at"`
	EnvironmentPrepareFinishedAt *time.Time `json:"environment_prepare_finished_at"`
	FinishedAt                   *time.Time `json:"finished_at"`
}

// Client reads apps and builds from the provider.
type Client interface {
	// ListApps returns every app visible to the token, disabled ones included.
	ListApps(ctx context.Context) ([]App, error)

	// ListBuilds returns the builds of an app triggered inside [after, before),
	// both given in UNIX seconds.
	ListBuilds(ctx context.Context, appSlug string, after, before int64) ([]Build, error)
}

// EnabledApps filters out disabled apps, keeping order.
func EnabledApps(apps []App) []App {
	enabled := make([]App, 0, len(apps))

	for _, app := range apps {
		if !app.IsDisabled {
			enabled = append(enabled, app)
		}
	}

	return enabled
}

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
