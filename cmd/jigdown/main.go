// Package main provides jigdown, a minimal command-line front end over the
// core reconstruction library: given a .jigdo manifest and its .template,
// rebuild the target image in place.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jigimage/jigimage/pkg/fetch"
	"github.com/jigimage/jigimage/pkg/imagelayout"
	"github.com/jigimage/jigimage/pkg/reconstruct"
	"github.com/jigimage/jigimage/pkg/resolver"
	"github.com/jigimage/jigimage/pkg/template"
)

var (
	outputPath   string
	templatePath string
	threads      int
	mirrorSpecs  stringListFlag
)

// stringListFlag collects a repeatable flag.Value, used for --mirror.
type stringListFlag []string

func (s *stringListFlag) String() string { return strings.Join(*s, ",") }
func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func init() {
	flag.StringVar(&outputPath, "output", "", "Output image path")
	flag.StringVar(&outputPath, "o", "", "Output image path (shorthand)")
	flag.StringVar(&templatePath, "template", "", "Template file path (overrides the manifest's Template key)")
	flag.StringVar(&templatePath, "t", "", "Template file path (shorthand)")
	flag.IntVar(&threads, "threads", 16, "Worker pool size")
	flag.IntVar(&threads, "j", 16, "Worker pool size (shorthand)")
	flag.Var(&mirrorSpecs, "mirror", "Add a runtime mirror: NAME=URL_or_path (repeatable)")
	flag.Var(&mirrorSpecs, "m", "Add a runtime mirror (shorthand)")
}

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(log); err != nil {
		log.WithError(err).Error("reconstruction failed")
		os.Exit(1)
	}
}

func run(log *logrus.Logger) error {
	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one positional argument: <jigdo-path>")
	}
	jigdoPath := flag.Arg(0)

	jigdoFile, err := os.Open(jigdoPath)
	if err != nil {
		return fmt.Errorf("opening jigdo file: %w", err)
	}
	defer jigdoFile.Close()

	manifest, err := parseJigdo(jigdoFile)
	if err != nil {
		return fmt.Errorf("parsing jigdo manifest: %w", err)
	}

	for _, spec := range mirrorSpecs {
		if err := resolver.AddServerMirror(manifest, spec); err != nil {
			return fmt.Errorf("applying --mirror %q: %w", spec, err)
		}
	}

	tplPath := templatePath
	if tplPath == "" {
		tplPath = manifest.TemplateFilename
	}
	rawTemplate, err := os.ReadFile(tplPath)
	if err != nil {
		return fmt.Errorf("reading template: %w", err)
	}

	log.WithField("template", tplPath).Info("decoding template")
	decoded, err := template.Decode(rawTemplate)
	if err != nil {
		return fmt.Errorf("decoding template: %w", err)
	}

	outPath := outputPath
	if outPath == "" {
		outPath = manifest.ImageFilename
	}

	img, err := imagelayout.Open(outPath, decoded.Table.TotalSize())
	if err != nil {
		return fmt.Errorf("opening output image: %w", err)
	}
	defer img.Close()

	if !img.Existing {
		log.Info("scatter-writing verbatim regions")
		var verbatimPos uint64
		for _, d := range decoded.Table.Data {
			chunk := decoded.VerbatimData[verbatimPos : verbatimPos+d.Size]
			if err := img.ScatterWrite(d.Offset, chunk); err != nil {
				return fmt.Errorf("scatter-writing data entry at offset %d: %w", d.Offset, err)
			}
			verbatimPos += d.Size
		}
	}

	log.WithFields(logrus.Fields{
		"files":   len(decoded.Table.Files),
		"threads": threads,
	}).Info("reconstructing component files")

	r := reconstruct.New(img, manifest, decoded.Table, fetch.NewHTTPFetcher(),
		reconstruct.WithWorkerCount(threads))

	stopProgress := reportProgressOnSIGUSR1(log, r)
	defer stopProgress()

	ok, err := r.Run()
	if err != nil {
		return fmt.Errorf("reconstruction: %w", err)
	}
	if !ok {
		return fmt.Errorf("whole-image MD5 mismatch: reconstructed image does not match manifest")
	}

	log.WithField("image", outPath).Info("reconstruction complete")
	return nil
}

// reportProgressOnSIGUSR1 prints each worker slot's current URI, bytes
// fetched so far, and total size whenever the process receives SIGUSR1,
// per spec.md §4.F's signal-driven progress reporter. Snapshot takes the
// reconstructor's dedicated worker-state lock, so this never blocks a
// worker mid-fetch. The returned func stops the handler and must be
// called once reconstruction finishes.
func reportProgressOnSIGUSR1(log *logrus.Logger, r *reconstruct.Reconstructor) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigCh:
				for _, p := range r.Snapshot() {
					if p.Idle {
						continue
					}
					log.WithFields(logrus.Fields{
						"slot":  p.SlotID,
						"uri":   p.URI,
						"bytes": p.BytesFetched,
						"total": p.TotalSize,
					}).Info("worker progress")
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
