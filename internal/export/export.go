package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/getsentry/proxyprof/internal/classprofile"
	"github.com/getsentry/proxyprof/internal/storageutil"
	"github.com/getsentry/proxyprof/internal/timeutil"
)

type (
	Exporter interface {
		Export(ctx context.Context, s Snapshot) error
	}

	// BlobExporter writes each snapshot as lz4 compressed JSON.
	BlobExporter struct {
		Storage storageutil.ObjectHandler
		Prefix  string
	}

	// MessageWriter is the part of a kafka.Writer the exporter needs.
	MessageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	}

	// KafkaExporter sends each snapshot as a JSON message keyed by class, so
	// the snapshots of a class land on the same partition.
	KafkaExporter struct {
		Writer MessageWriter
		Topic  string
	}
)

func (e BlobExporter) Export(ctx context.Context, s Snapshot) error {
	return storageutil.CompressedWrite(ctx, e.Storage, s.StoragePath(e.Prefix), s)
}

func (e KafkaExporter) Export(ctx context.Context, s Snapshot) error {
	b, err := gojson.Marshal(s)
	if err != nil {
		return err
	}
	return e.Writer.WriteMessages(ctx, kafka.Message{
		Topic: e.Topic,
		Key:   []byte(s.Class),
		Value: b,
	})
}

// ExportAll snapshots every non-empty profile of r and hands the snapshot to
// each exporter.
func ExportAll(ctx context.Context, r *classprofile.Registry, exporters []Exporter, now time.Time) (int, error) {
	return ExportProfiles(ctx, r.Profiles(), exporters, now)
}

// ExportProfiles exports the non-empty profiles among profiles. It keeps
// going on failure and returns all errors joined, along with the number of
// profiles exported.
func ExportProfiles(ctx context.Context, profiles []*classprofile.ClassProfile, exporters []Exporter, now time.Time) (int, error) {
	var (
		errs     []error
		exported int
	)
	for _, p := range profiles {
		if p.Empty() {
			continue
		}
		s := TakeSnapshot(p, now)
		for _, e := range exporters {
			if err := e.Export(ctx, s); err != nil {
				errs = append(errs, fmt.Errorf("export: %s: %w", s.Class, err))
			}
		}
		exported++
	}
	return exported, errors.Join(errs...)
}

// Run exports the profiles of r every interval until ctx is done. Failures
// are logged and reported but do not stop the loop.
func Run(ctx context.Context, r *classprofile.Registry, exporters []Exporter, interval time.Duration, clock timeutil.Clock) error {
	if len(exporters) == 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := ExportAll(ctx, r, exporters, clock.Now())
		if err != nil {
			log.Error().Err(err).Msg("can't export profiles")
			sentry.CaptureException(err)
			continue
		}
		log.Debug().Int("profiles", n).Msg("profiles exported")
	}
}
