package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"

	"github.com/getsentry/proxyprof/internal/envutil"
	"github.com/getsentry/proxyprof/internal/logutil"
)

// cleanup deletes the snapshots under prefix last modified before
// timeLimit and returns how many were deleted.
func cleanup(ctx context.Context, bucket *blob.Bucket, prefix string, timeLimit time.Time) (int, error) {
	var deleted int
	it := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return deleted, nil
		}
		if err != nil {
			return deleted, err
		}
		if obj.IsDir || !timeLimit.After(obj.ModTime) {
			continue
		}
		if err := bucket.Delete(ctx, obj.Key); err != nil {
			return deleted, err
		}
		deleted++
	}
}

func main() {
	bucketURL := envutil.GetEnvOrFallback("EXPORT_BUCKET_URL", "file:///var/lib/proxyprof")
	prefix := envutil.GetEnvOrFallback("EXPORT_PREFIX", "class-profiles")

	logutil.ConfigureLogger(os.Getenv("LOG_LEVEL"))

	err := sentry.Init(sentry.ClientOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("can't initialize sentry")
	}

	retentionDays, err := envutil.GetIntOrFallback("SNAPSHOT_RETENTION_DAYS", 30)
	if err != nil {
		log.Fatal().Err(err).Msg("can't parse retention days")
	}

	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		log.Fatal().Err(err).Msg("can't open the bucket")
	}
	defer bucket.Close()

	c := cron.New()
	_, err = c.AddFunc("@daily", func() {
		timeLimit := time.Now().Add(time.Hour * 24 * -1 * time.Duration(retentionDays))
		deleted, err := cleanup(ctx, bucket, prefix+"/", timeLimit)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("error cleaning up snapshots")
			return
		}
		log.Info().Int("deleted", deleted).Msg("snapshots cleaned up")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("can't set up cron function")
	}

	exitSignal := make(chan os.Signal, 1)
	signal.Notify(exitSignal, os.Interrupt)

	go func() {
		<-exitSignal

		c.Stop()
	}()

	c.Run()
}
