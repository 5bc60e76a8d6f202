// Package report builds onboarding status snapshots and publishes them to a
// local directory and/or S3-compatible storage.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// snapshotTimeFormat is used in snapshot object names.
const snapshotTimeFormat = "20060102T150405Z"

// Summary counts users per onboarding stage.
type Summary struct {
	Total         int `json:"total"`
	Invited       int `json:"invited"`
	GroupCreated  int `json:"group_created"`
	SourceCreated int `json:"source_created"`
	Complete      int `json:"complete"`
}

// Snapshot is the onboarding status of one environment at a point in time.
type Snapshot struct {
	Environment config.Environment `json:"environment"`
	GeneratedAt time.Time          `json:"generated_at"`
	Summary     Summary            `json:"summary"`
	Users       []state.Status     `json:"users"`
}

// Build creates a snapshot from the statuses of env.
func Build(env config.Environment, statuses []state.Status, now time.Time) *Snapshot {
	s := &Snapshot{
		Environment: env,
		GeneratedAt: now.UTC(),
		Users:       statuses,
	}

	if s.Users == nil {
		s.Users = []state.Status{}
	}

	for _, st := range statuses {
		s.Summary.Total++

		if st.Invited {
			s.Summary.Invited++
		}

		if st.GroupCreated {
			s.Summary.GroupCreated++
		}

		if st.SourceCreated {
			s.Summary.SourceCreated++
		}

		if st.Complete() {
			s.Summary.Complete++
		}
	}

	return s
}

// Names returns the object names a snapshot is published under: a
// timestamped copy and a rolling latest.json.
func (s *Snapshot) Names() []string {
	env := string(s.Environment)

	return []string{
		path.Join(env, "status-"+s.GeneratedAt.Format(snapshotTimeFormat)+".json"),
		path.Join(env, "latest.json"),
	}
}

// Writer stores a named object.
type Writer interface {
	Name() string
	Write(ctx context.Context, name string, data []byte) error
}

// Publisher writes snapshots to every configured destination.
type Publisher struct {
	log     logrus.FieldLogger
	writers []Writer
}

// ErrNoDestination is returned when neither a directory nor S3 is configured.
var ErrNoDestination = errors.New("no report destination configured (report.dir or report.s3)")

// NewPublisher creates a Publisher for the configured destinations.
func NewPublisher(log logrus.FieldLogger, cfg *config.ReportConfig) (*Publisher, error) {
	var writers []Writer

	if cfg.Dir != "" {
		writers = append(writers, NewLocalWriter(cfg.Dir))
	}

	if cfg.S3 != nil && cfg.S3.Enabled {
		if cfg.S3.Bucket == "" {
			return nil, errors.New("report.s3.bucket is required")
		}

		writers = append(writers, NewS3Writer(log, cfg.S3))
	}

	if len(writers) == 0 {
		return nil, ErrNoDestination
	}

	return newPublisher(log, writers...), nil
}

func newPublisher(log logrus.FieldLogger, writers ...Writer) *Publisher {
	return &Publisher{
		log:     log.WithField("component", "report"),
		writers: writers,
	}
}

// Publish writes every snapshot to every destination concurrently and
// returns the written locations.
func (p *Publisher) Publish(ctx context.Context, snapshots ...*Snapshot) ([]string, error) {
	type object struct {
		name string
		data []byte
	}

	objects := make([]object, 0, 2*len(snapshots))

	for _, s := range snapshots {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding %s snapshot: %w", s.Environment, err)
		}

		for _, name := range s.Names() {
			objects = append(objects, object{name: name, data: data})
		}
	}

	locations := make([]string, len(p.writers)*len(objects))

	g, gctx := errgroup.WithContext(ctx)

	for wi, w := range p.writers {
		for oi, obj := range objects {
			idx := wi*len(objects) + oi

			g.Go(func() error {
				if err := w.Write(gctx, obj.name, obj.data); err != nil {
					return fmt.Errorf("writing %s to %s: %w", obj.name, w.Name(), err)
				}

				locations[idx] = w.Name() + ":" + obj.name

				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.log.WithFields(logrus.Fields{
		"snapshots":    len(snapshots),
		"destinations": len(p.writers),
	}).Info("Published status report")

	return locations, nil
}
