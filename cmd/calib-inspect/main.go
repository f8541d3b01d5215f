// Command calib-inspect prints a stereo calibration file, checks that
// rectification maps can be built from it, and can rewrite it in the
// canonical layout or emit an ideal calibration for synthetic rigs.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/stereo.depth/internal/calibration"
	"github.com/banshee-data/stereo.depth/internal/fsutil"
	"github.com/banshee-data/stereo.depth/internal/rectify"
)

var (
	calibPath = flag.String("calib", "calibration.json", "Calibration file to inspect")
	rewrite   = flag.String("rewrite", "", "Write the loaded calibration back out to this path")
	ideal     = flag.Bool("ideal", false, "Generate an ideal calibration instead of loading one")
	width     = flag.Int("width", 1280, "Image width for -ideal")
	height    = flag.Int("height", 1024, "Image height for -ideal")
	focal     = flag.Float64("focal", 1000, "Focal length in pixels for -ideal")
	baseline  = flag.Float64("baseline", 0.1, "Baseline for -ideal, in calibration units")
)

func main() {
	flag.Parse()
	fsys := fsutil.OSFileSystem{}

	var p *calibration.Params
	if *ideal {
		p = calibration.Ideal(*width, *height, *focal, *baseline)
	} else {
		var err error
		if p, err = calibration.Load(fsys, *calibPath); err != nil {
			log.Fatalf("%v", err)
		}
	}

	describe(os.Stdout, p)

	stage, err := rectify.NewStage(p)
	if err != nil {
		log.Fatalf("rectification maps: %v", err)
	}
	left, right := stage.Maps()
	fmt.Println()
	fmt.Println("rectification map corners (dst -> src):")
	for _, c := range [][2]int{{0, 0}, {p.Width - 1, 0}, {0, p.Height - 1}, {p.Width - 1, p.Height - 1}} {
		lx, ly := left.At(c[0], c[1])
		rx, ry := right.At(c[0], c[1])
		fmt.Printf("  (%4d,%4d)  left (%8.2f,%8.2f)  right (%8.2f,%8.2f)\n", c[0], c[1], lx, ly, rx, ry)
	}

	if *rewrite != "" {
		if err := calibration.Save(fsys, *rewrite, p); err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Printf("\nwrote %s\n", *rewrite)
	}
}

func describe(w io.Writer, p *calibration.Params) {
	fmt.Fprintf(w, "size:      %dx%d\n", p.Width, p.Height)
	fmt.Fprintf(w, "baseline:  %.6f\n", p.Baseline())
	for _, side := range []struct {
		name string
		cam  calibration.Camera
	}{{"left", p.Left}, {"right", p.Right}} {
		c := side.cam
		fmt.Fprintf(w, "\n%s camera\n", side.name)
		fmt.Fprintf(w, "  reprojection error: %.4f\n", c.ReprojError)
		fmt.Fprintf(w, "  roi: %v\n", c.ROI)
		fmt.Fprintf(w, "  distortion: %v\n", c.DistCoeffs)
		fmt.Fprintf(w, "  K =\n%v\n", mat.Formatted(c.Matrix, mat.Prefix("      "), mat.Squeeze()))
		fmt.Fprintf(w, "  P =\n%v\n", mat.Formatted(c.Proj, mat.Prefix("      "), mat.Squeeze()))
	}
	fmt.Fprintf(w, "\nR =\n%v\n", mat.Formatted(p.RotMatrix, mat.Prefix("    "), mat.Squeeze()))
	fmt.Fprintf(w, "T =\n%v\n", mat.Formatted(p.TransVec, mat.Prefix("    "), mat.Squeeze()))
}
