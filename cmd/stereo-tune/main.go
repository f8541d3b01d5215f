// Command stereo-tune reads or updates the block matching parameters of a
// running stereo process through its debug server.
//
//	stereo-tune                                 # print current parameters
//	stereo-tune uniqueness_ratio=20 block_size=15
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/stereo.depth/internal/disparity"
	"github.com/banshee-data/stereo.depth/internal/httputil"
)

const paramsPath = "/debug/params"

var (
	addr    = flag.String("addr", "http://127.0.0.1:8090", "Base URL of the stereo debug server")
	timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
)

func main() {
	flag.Parse()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := tune(ctx, httputil.NewClient(*addr, nil), flag.Args(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// tune fetches the parameters, or posts the given updates, and prints the
// resulting set.
func tune(ctx context.Context, c *httputil.Client, args []string, out io.Writer) error {
	var p disparity.Params
	if len(args) == 0 {
		if err := c.GetJSON(ctx, paramsPath, &p); err != nil {
			return fmt.Errorf("get params: %w", err)
		}
	} else {
		update, err := parseAssignments(args)
		if err != nil {
			return err
		}
		if err := c.PostJSON(ctx, paramsPath, update, &p); err != nil {
			return fmt.Errorf("set params: %w", err)
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// parseAssignments turns key=value arguments into a partial params
// document. Every parameter is an integer.
func parseAssignments(args []string) (map[string]int, error) {
	update := make(map[string]int, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		update[k] = n
	}
	return update, nil
}
