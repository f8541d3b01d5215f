// Command list-cams probes local video devices and prints the indices
// that deliver frames at the requested size.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/stereo.depth/internal/camera"
	"github.com/banshee-data/stereo.depth/internal/camera/gstcam"
)

var (
	maxProbe = flag.Int("max", gstcam.MaxProbe, "Number of device indices to probe")
	width    = flag.Int("width", 640, "Probe frame width")
	height   = flag.Int("height", 480, "Probe frame height")
	timeout  = flag.Duration("timeout", 2*time.Second, "Per-device frame timeout")
	asJSON   = flag.Bool("json", false, "Print a JSON array instead of one line per device")
	verbose  = flag.Bool("v", false, "Log probe details to stderr")
)

func main() {
	flag.Parse()
	if *verbose {
		gstcam.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	}

	found := gstcam.Enumerate(*maxProbe, *width, *height, *timeout)
	if *asJSON {
		if found == nil {
			found = []int{}
		}
		if err := json.NewEncoder(os.Stdout).Encode(found); err != nil {
			log.Fatalf("encode: %v", err)
		}
		return
	}
	if len(found) == 0 {
		fmt.Fprintln(os.Stderr, "no cameras found")
		os.Exit(1)
	}
	for _, i := range found {
		fmt.Printf("%d\t%s\n", i, camera.DevicePath(i))
	}
}
