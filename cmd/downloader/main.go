package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gojson "github.com/goccy/go-json"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/getsentry/proxyprof/internal/export"
	"github.com/getsentry/proxyprof/internal/storageprovider"
	"github.com/getsentry/proxyprof/internal/storageutil"
)

const workers = 16

// download decodes every snapshot received on objects and writes it as
// plain JSON under root, keeping the object path. Snapshots already
// downloaded are skipped.
func download(ctx context.Context, storage storageutil.ObjectHandler, root string, objects chan string, errorsChan chan error, wg *sync.WaitGroup) {
	defer wg.Done()

	for objectName := range objects {
		path := filepath.Join(root, filepath.FromSlash(objectName)+".json")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			errorsChan <- err
			continue
		}

		var s export.Snapshot
		if err := storageutil.UnmarshalCompressed(ctx, storage, objectName, &s); err != nil {
			errorsChan <- fmt.Errorf("%s: %w", objectName, err)
			continue
		}

		b, err := gojson.MarshalIndent(s, "", "  ")
		if err != nil {
			errorsChan <- err
			continue
		}
		if err := os.WriteFile(path, b, 0644); err != nil {
			errorsChan <- err
			continue
		}

		log.Println(objectName)
	}
}

// listSnapshots sends the name of every object under prefix on objects.
func listSnapshots(ctx context.Context, bucket *blob.Bucket, prefix string, objects chan<- string) error {
	it := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if obj.IsDir || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		objects <- obj.Key
	}
}

// downloadAll downloads the snapshots under prefix to destination and
// returns the number of failed downloads.
func downloadAll(ctx context.Context, bucket *blob.Bucket, prefix, destination string) (int, error) {
	storage := &storageprovider.Blob{Bucket: bucket}

	var wg sync.WaitGroup

	objects := make(chan string)
	errorsChan := make(chan error)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go download(ctx, storage, destination, objects, errorsChan, &wg)
	}

	failed := make(chan int)
	go func() {
		var n int
		for err := range errorsChan {
			log.Println(err)
			n++
		}
		failed <- n
	}()

	err := listSnapshots(ctx, bucket, prefix, objects)

	close(objects)
	wg.Wait()
	close(errorsChan)
	return <-failed, err
}

func main() {
	args := os.Args[1:]
	if len(args) != 3 {
		fmt.Println("./downloader <bucket URL> <snapshot prefix> <destination directory>")
		return
	}

	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, args[0])
	if err != nil {
		log.Fatal(err)
	}
	defer bucket.Close()

	failed, err := downloadAll(ctx, bucket, args[1], args[2])
	if err != nil {
		log.Fatal(err)
	}
	if failed > 0 {
		log.Fatalf("%d snapshots could not be downloaded", failed)
	}
}
