// Command vexel decodes images and writes them as PPM or BMP. Each
// argument may be a file or a glob pattern; a file that fails to decode
// is reported and skipped, never fatal to the batch.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	vexel "github.com/aplefull/vexel-sub001"
)

var (
	outDir    = flag.String("out", "", "output directory (default: alongside the input)")
	outFormat = flag.String("format", "ppm", "output format: ppm or bmp")
	infoOnly  = flag.Bool("info", false, "print image metadata, do not convert")
	verbose   = flag.Bool("v", false, "verbose logging")
)

func main() {
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if *outFormat != "ppm" && *outFormat != "bmp" {
		log.Fatalf("unknown output format %q", *outFormat)
	}

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] file|glob ...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}

	files := expandArgs(flag.Args())
	if len(files) == 0 {
		log.Fatal("no input files matched")
	}

	ok := 0
	for _, path := range files {
		if err := processFile(path); err != nil {
			log.WithField("file", path).WithError(err).Error("skipped")

			continue
		}

		ok++
	}

	log.Infof("%d of %d files processed", ok, len(files))
	if ok == 0 {
		os.Exit(1)
	}
}

// expandArgs resolves glob patterns; a pattern with no matches is kept
// verbatim so the open error names it.
func expandArgs(args []string) []string {
	var files []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil || len(matches) == 0 {
			files = append(files, arg)

			continue
		}

		files = append(files, matches...)
	}

	return files
}

func processFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := vexel.Open(f)
	if err != nil {
		return err
	}

	if *infoOnly {
		printInfo(path, d.Info())

		return nil
	}

	img, err := d.Decode()
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"file":   path,
		"size":   fmt.Sprintf("%dx%d", img.Width, img.Height),
		"pixels": img.Format.String(),
	}).Debug("decoded")

	return writeOutput(path, img)
}

func printInfo(path string, info vexel.ImageInfo) {
	fmt.Printf("%s: %s %+v\n", path, info.ImageFormat(), info)
}

func writeOutput(path string, img vexel.Image) error {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	dir := filepath.Dir(path)
	if *outDir != "" {
		dir = *outDir
	}

	outPath := filepath.Join(dir, base+"."+*outFormat)

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if *outFormat == "bmp" {
		err = vexel.WriteBMP(out, img)
	} else {
		err = vexel.WritePPM(out, img)
	}

	if err != nil {
		return err
	}

	log.WithFields(log.Fields{"in": path, "out": outPath}).Info("converted")

	return out.Close()
}
