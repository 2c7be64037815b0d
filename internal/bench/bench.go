// Package bench measures render latency and realtime factor for the
// avatarperf bench command.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/example/go-avatar-perf/internal/audio"
)

// RunResult is the timing of one render.
type RunResult struct {
	Index    int
	Emotion  string
	Cold     bool // first run for its emotion
	Duration time.Duration
	Audio    time.Duration
	RTF      float64
}

// Stats holds aggregate timing statistics across runs.
type Stats struct {
	Min     time.Duration
	Max     time.Duration
	Mean    time.Duration
	MeanRTF float64
}

// RenderFunc produces one clip. The harness closes it.
type RenderFunc func(ctx context.Context, emotion string) (*audio.Clip, error)

// Run renders runs clips per emotion, in emotion order.
func Run(ctx context.Context, emotions []string, runs int, render RenderFunc) ([]RunResult, error) {
	if runs < 1 {
		return nil, errors.New("runs must be at least 1")
	}
	if len(emotions) == 0 {
		return nil, errors.New("no emotions to benchmark")
	}

	results := make([]RunResult, 0, runs*len(emotions))
	for _, id := range emotions {
		for i := range runs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			start := time.Now()
			clip, err := render(ctx, id)
			took := time.Since(start)
			if err != nil {
				return nil, fmt.Errorf("%s run %d: %w", id, i+1, err)
			}
			if clip == nil {
				return nil, fmt.Errorf("%s run %d: render produced no audio", id, i+1)
			}
			dur := clip.Duration()
			_ = clip.Close()

			results = append(results, RunResult{
				Index:    i,
				Emotion:  id,
				Cold:     i == 0,
				Duration: took,
				Audio:    dur,
				RTF:      CalcRTF(took, dur),
			})
		}
	}
	return results, nil
}

// ComputeStats aggregates runs. An empty slice yields zero Stats.
func ComputeStats(runs []RunResult) Stats {
	if len(runs) == 0 {
		return Stats{}
	}
	mn, mx := runs[0].Duration, runs[0].Duration
	var sum time.Duration
	var rtf float64
	for _, r := range runs {
		mn = min(mn, r.Duration)
		mx = max(mx, r.Duration)
		sum += r.Duration
		rtf += r.RTF
	}
	return Stats{
		Min:     mn,
		Max:     mx,
		Mean:    sum / time.Duration(len(runs)),
		MeanRTF: rtf / float64(len(runs)),
	}
}

// CalcRTF returns render time over audio time, or 0 for empty audio.
func CalcRTF(renderDur, audioDur time.Duration) float64 {
	if audioDur <= 0 {
		return 0
	}
	return float64(renderDur) / float64(audioDur)
}

// CheckRTFThreshold returns an error if meanRTF > threshold.
// A threshold of 0 disables the gate.
func CheckRTFThreshold(meanRTF, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if meanRTF > threshold {
		return fmt.Errorf("mean RTF %.3f exceeds threshold %.3f", meanRTF, threshold)
	}
	return nil
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// FormatTable writes a human-readable table of results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-12s  %-4s  %-5s  %10s  %10s  %8s\n", "Emotion", "Run", "Cold", "MS", "Audio(ms)", "RTF")
	fmt.Fprintln(sb, strings.Repeat("-", 58))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-12s  %-4d  %-5s  %10.1f  %10.1f  %8.3f\n",
			r.Emotion, r.Index+1, cold, ms(r.Duration), ms(r.Audio), r.RTF)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 58))
	fmt.Fprintf(sb, "min %.1f ms  mean %.1f ms  max %.1f ms  mean RTF %.3f\n",
		ms(stats.Min), ms(stats.Mean), ms(stats.Max), stats.MeanRTF)

	fmt.Fprint(w, sb.String())
}

type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Emotion    string  `json:"emotion"`
	Index      int     `json:"index"`
	Cold       bool    `json:"cold"`
	DurationMS float64 `json:"duration_ms"`
	AudioMS    float64 `json:"audio_ms"`
	RTF        float64 `json:"rtf"`
}

type jsonStats struct {
	MinMS   float64 `json:"min_ms"`
	MeanMS  float64 `json:"mean_ms"`
	MaxMS   float64 `json:"max_ms"`
	MeanRTF float64 `json:"mean_rtf"`
}

// FormatJSON writes a JSON report of results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) error {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:   ms(stats.Min),
			MeanMS:  ms(stats.Mean),
			MaxMS:   ms(stats.Max),
			MeanRTF: stats.MeanRTF,
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Emotion:    r.Emotion,
			Index:      r.Index,
			Cold:       r.Cold,
			DurationMS: ms(r.Duration),
			AudioMS:    ms(r.Audio),
			RTF:        r.RTF,
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jr)
}
