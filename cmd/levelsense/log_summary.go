package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"levelsense/internal/ahrs"
	"levelsense/internal/monitoring"
	"levelsense/internal/motion"
	"levelsense/internal/replay"
)

type logSummary struct {
	Segments    int
	Accel       int
	Gyro        int
	Discarded   int
	Duration    time.Duration

	// Offsets are taken from every accepted sample once tracking.
	FrontMean, FrontStd float64
	SideMean, SideStd   float64
	Final               ahrs.Snapshot
}

type noSleep struct{}

func (noSleep) Sleep(context.Context, time.Duration) error { return nil }

// summarizeSampleLog replays records through a fresh engine as fast as
// possible and collects offset statistics. Nothing is persisted.
func summarizeSampleLog(records []replay.Record, profile ahrs.Profile) (logSummary, error) {
	var s logSummary
	if len(records) == 0 {
		return s, nil
	}

	eng, err := ahrs.New(ahrs.Config{Profile: profile})
	if err != nil {
		return s, err
	}

	// The engine logs per-sample rejections; the summary counts them instead.
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	defer monitoring.SetLogger(prev)

	samples := 0
	for _, r := range records {
		if r.IsStart() {
			s.Segments++
		} else {
			samples++
		}
	}
	if samples == 0 {
		s.Final = eng.Snapshot()
		return s, nil
	}

	var front, side []float64
	hasSamples := false
	base := time.Unix(0, 0).UTC()
	err = replay.Play(context.Background(), records, 1, false, noSleep{}, func(at time.Duration, r replay.Record) error {
		hasSamples = true
		if at > s.Duration {
			s.Duration = at
		}
		switch r.Kind {
		case motion.Accelerometer:
			s.Accel++
		case motion.Gyroscope:
			s.Gyro++
		}

		snap, err := eng.Handle(r.Kind, r.Payload, base.Add(at))
		if err != nil {
			s.Discarded++
			return nil
		}
		front = append(front, snap.Offsets.FrontHeight)
		side = append(side, snap.Offsets.SideHeight)
		return nil
	})
	if err != nil {
		return s, err
	}
	if s.Segments == 0 && hasSamples {
		s.Segments = 1
	}

	s.Final = eng.Snapshot()
	if len(front) == 0 {
		return s, nil
	}
	s.FrontMean, s.FrontStd = stat.MeanStdDev(front, nil)
	s.SideMean, s.SideStd = stat.MeanStdDev(side, nil)
	if len(front) == 1 {
		// Sample stddev is undefined for one value.
		s.FrontStd, s.SideStd = 0, 0
	}
	return s, nil
}

func printLogSummary(w io.Writer, path string, profile ahrs.Profile) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := summarizeSampleLog(recs, profile)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "accelerometer_samples: %d\n", s.Accel)
	fmt.Fprintf(w, "gyroscope_samples: %d\n", s.Gyro)
	fmt.Fprintf(w, "discarded: %d\n", s.Discarded)
	fmt.Fprintf(w, "duration: %s\n", s.Duration)
	fmt.Fprintf(w, "mount: %s\n", s.Final.Mount)
	fmt.Fprintf(w, "front_in: mean=%.3f stddev=%.3f\n", s.FrontMean, s.FrontStd)
	fmt.Fprintf(w, "side_in: mean=%.3f stddev=%.3f\n", s.SideMean, s.SideStd)
	fmt.Fprintf(w, "final: front=%.3f side=%.3f pitch=%.3f roll=%.3f\n",
		s.Final.Offsets.FrontHeight, s.Final.Offsets.SideHeight,
		s.Final.Attitude.Pitch, s.Final.Attitude.Roll)
	return nil
}
