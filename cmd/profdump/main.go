package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gojek/heimdall/v7/httpclient"

	"github.com/getsentry/proxyprof/internal/classprofile"
	"github.com/getsentry/proxyprof/internal/report"
)

type client struct {
	addr string
	http *httpclient.Client
}

func newClient(addr string, timeout time.Duration, retries int) *client {
	return &client{
		addr: addr,
		http: httpclient.NewClient(
			httpclient.WithHTTPTimeout(timeout),
			httpclient.WithRetryCount(retries),
		),
	}
}

func (c *client) get(path string, query url.Values, v interface{}) error {
	u := c.addr + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := c.http.Get(u, http.Header{"Accept": []string{"application/json"}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, b)
	}
	return gojson.NewDecoder(resp.Body).Decode(v)
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("profdump", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "address of the proxyprof service")
	class := fs.String("class", "", "class to dump, all classes are listed when empty")
	mode := fs.String("mode", "both", "what to dump: flat, tree or both")
	sortKey := fs.String("sort", "seen", "flat sort key: seen, method, calls, total or avg")
	order := fs.String("order", "seen", "tree sibling order: seen or time")
	timeout := fs.Duration("timeout", 10*time.Second, "timeout of each request")
	retries := fs.Int("retries", 2, "number of retries of a failed request")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c := newClient(*addr, *timeout, *retries)

	if *class == "" {
		var classes []string
		if err := c.get("/classes", nil, &classes); err != nil {
			return err
		}
		for _, name := range classes {
			fmt.Fprintln(stdout, name)
		}
		return nil
	}

	dumpFlat := *mode == "flat" || *mode == "both"
	dumpTree := *mode == "tree" || *mode == "both"
	if !dumpFlat && !dumpTree {
		return fmt.Errorf("unknown mode %q", *mode)
	}

	base := "/classes/" + url.PathEscape(*class)
	fmt.Fprintln(stdout, *class)
	if dumpFlat {
		var stats []classprofile.FlatStat
		if err := c.get(base+"/flat", url.Values{"sort": {*sortKey}}, &stats); err != nil {
			return err
		}
		fmt.Fprintln(stdout)
		if err := report.WriteFlat(stdout, stats); err != nil {
			return err
		}
	}
	if dumpTree {
		var stats []classprofile.TreeStat
		if err := c.get(base+"/tree", url.Values{"order": {*order}}, &stats); err != nil {
			return err
		}
		fmt.Fprintln(stdout)
		if err := report.WriteTree(stdout, stats); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
