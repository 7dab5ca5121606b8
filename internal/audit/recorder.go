package audit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/casinoscope/casinoscopecom/internal/geoip"
	"github.com/casinoscope/casinoscopecom/internal/telemetry/metrics"
)

type geoResolver interface {
	GetIPGeoInfo(ctx context.Context, ip string) (*geoip.Info, error)
}

// Recorder is the audit sink used by the auth service and the rate limiter.
// Writes are best-effort: a failure to persist an audit event is logged and
// swallowed, it must never fail the request that produced it.
type Recorder struct {
	repo           eventsRepo
	metricsManager *metrics.Manager
	geo            geoResolver
}

func NewRecorder(repo eventsRepo, metricsManager *metrics.Manager) *Recorder {
	return &Recorder{
		repo:           repo,
		metricsManager: metricsManager,
	}
}

// WithGeo turns on location enrichment of high severity events
func (rec *Recorder) WithGeo(geo geoResolver) *Recorder {
	rec.geo = geo
	return rec
}

func (rec *Recorder) Record(ctx context.Context, event *Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if rec.metricsManager != nil {
		rec.metricsManager.CounterSecurityEvents.
			WithLabelValues(string(event.Type), string(event.Severity)).
			Inc()
	}

	rec.enrichWithGeo(ctx, event)

	if err := rec.repo.Add(ctx, event); err != nil {
		log.Errorf("audit: failed to store %s event: %s", event.Type, err)
	}
}

// enrichWithGeo adds coarse location to high and critical events, the
// ones a reviewer of the audit log actually inspects. Best-effort with a
// short deadline, a slow geo lookup must not slow down sign in.
func (rec *Recorder) enrichWithGeo(ctx context.Context, event *Event) {
	if rec.geo == nil || event.IPAddress == "" {
		return
	}
	if event.Severity != SeverityHigh && event.Severity != SeverityCritical {
		return
	}

	geoCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	info, err := rec.geo.GetIPGeoInfo(geoCtx, event.IPAddress)
	if err != nil {
		log.Debugf("audit: geo enrichment for %s failed: %s", event.IPAddress, err)
		return
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata["geo_city"] = info.City
	event.Metadata["geo_country"] = info.Country
}

// FailedLogins exposes the lockout feed of the underlying repo
func (rec *Recorder) FailedLogins(ctx context.Context, email string, since time.Time) ([]Event, error) {
	return rec.repo.FailedLogins(ctx, email, since)
}
