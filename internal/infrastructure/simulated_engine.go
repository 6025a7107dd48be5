package infrastructure

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"convertapi/internal/interfaces"
)

// SimulatedEngine stands in for a real converter: it waits, then writes a
// text artifact describing the conversion it would have done.
type SimulatedEngine struct {
	artifacts interfaces.ArtifactStore
	delay     time.Duration
	now       func() time.Time
}

func NewSimulatedEngine(artifacts interfaces.ArtifactStore, delay time.Duration) *SimulatedEngine {
	return &SimulatedEngine{artifacts: artifacts, delay: delay, now: time.Now}
}

// OutputFilename names the result as <base>_converted_<unix-ms><ext>.
func OutputFilename(input, ext string, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return fmt.Sprintf("%s_converted_%d%s", base, at.UnixMilli(), ext)
}

func (e *SimulatedEngine) Convert(ctx context.Context, req interfaces.ConversionRequest) (*interfaces.ConversionOutput, error) {
	in, size, err := e.artifacts.Open(ctx, req.InputRef)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	read, err := io.Copy(io.Discard, in)
	in.Close()
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if size > 0 && read != size {
		return nil, fmt.Errorf("input truncated: read %d of %d bytes", read, size)
	}

	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	finished := e.now()
	name := OutputFilename(req.InputFilename, req.Tool.OutputFormat, finished)

	var b strings.Builder
	fmt.Fprintf(&b, "Simulated conversion result\n")
	fmt.Fprintf(&b, "Job: %s\n", req.JobID)
	fmt.Fprintf(&b, "Tool: %s (%s)\n", req.Tool.Name, req.Tool.Type)
	fmt.Fprintf(&b, "Input: %s (%d bytes)\n", req.InputFilename, read)
	fmt.Fprintf(&b, "Output format: %s\n", req.Tool.OutputFormat)
	if len(req.Options) > 0 {
		keys := make([]string, 0, len(req.Options))
		for k := range req.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Options:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s = %s\n", k, req.Options[k])
		}
	}
	fmt.Fprintf(&b, "Completed at: %s\n", finished.UTC().Format(time.RFC3339))

	out, err := e.artifacts.Save(ctx, name, strings.NewReader(b.String()))
	if err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	return &interfaces.ConversionOutput{Filename: name, Ref: out.Ref, Size: out.Size}, nil
}
