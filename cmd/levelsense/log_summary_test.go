package main

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"levelsense/internal/ahrs"
	"levelsense/internal/geometry"
	"levelsense/internal/motion"
	"levelsense/internal/orientation"
	"levelsense/internal/replay"
)

func testProfile() ahrs.Profile {
	return ahrs.Profile{
		Installation: orientation.Front,
		Trailer:      geometry.Trailer{LengthToJack: 240, Width: 96, Row: 11, Column: 5},
	}
}

func TestSummarizeSampleLog(t *testing.T) {
	level := motion.Encode(motion.Raw{Y: 16384})
	still := motion.Encode(motion.Raw{})

	recs := []replay.Record{
		{At: 0},
		{At: 0, Kind: motion.Accelerometer, Payload: level},
		{At: 20 * time.Millisecond, Kind: motion.Gyroscope, Payload: still},
		{At: 40 * time.Millisecond, Kind: motion.Accelerometer, Payload: []byte{0x00, 0x01}},
		{At: 0},
		{At: 5 * time.Second, Kind: motion.Accelerometer, Payload: level},
		{At: 5*time.Second + 60*time.Millisecond, Kind: motion.Gyroscope, Payload: still},
	}

	s, err := summarizeSampleLog(recs, testProfile())
	if err != nil {
		t.Fatalf("summarizeSampleLog() error: %v", err)
	}
	if s.Segments != 2 {
		t.Fatalf("segments=%d want 2", s.Segments)
	}
	if s.Accel != 3 || s.Gyro != 2 {
		t.Fatalf("accel=%d gyro=%d want 3/2", s.Accel, s.Gyro)
	}
	if s.Discarded != 1 {
		t.Fatalf("discarded=%d want 1", s.Discarded)
	}
	// 40ms in the first segment plus 60ms in the second.
	if s.Duration != 100*time.Millisecond {
		t.Fatalf("duration=%s want 100ms", s.Duration)
	}
	if math.Abs(s.FrontMean) > 1e-9 || math.Abs(s.FrontStd) > 1e-9 || math.Abs(s.SideMean) > 1e-9 {
		t.Fatalf("expected level statistics, got %+v", s)
	}
	if s.Final.Mount != motion.StandingUp {
		t.Fatalf("final mount=%s", s.Final.Mount)
	}
}

func TestSummarizeSampleLog_Empty(t *testing.T) {
	s, err := summarizeSampleLog(nil, testProfile())
	if err != nil {
		t.Fatalf("summarizeSampleLog() error: %v", err)
	}
	if s.Segments != 0 || s.Accel != 0 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestSummarizeSampleLog_StartMarkersOnly(t *testing.T) {
	s, err := summarizeSampleLog([]replay.Record{{At: 0}, {At: time.Minute}}, testProfile())
	if err != nil {
		t.Fatalf("summarizeSampleLog() error: %v", err)
	}
	if s.Segments != 2 || s.Accel != 0 || s.Gyro != 0 || s.Final.Valid {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestSummarizeSampleLog_InvalidProfile(t *testing.T) {
	p := testProfile()
	p.Trailer.Row = -1
	recs := []replay.Record{{At: 0, Kind: motion.Accelerometer, Payload: motion.Encode(motion.Raw{Y: 16384})}}
	if _, err := summarizeSampleLog(recs, p); err == nil {
		t.Fatalf("expected error for invalid profile")
	}
}

func TestPrintLogSummary_PrintsExpectedFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "samples.log")

	w, err := replay.CreateWriter(logPath)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	now := time.Now()
	if err := w.WriteSample(now, motion.Accelerometer, motion.Encode(motion.Raw{Y: 16384})); err != nil {
		_ = w.Close()
		t.Fatalf("WriteSample() error: %v", err)
	}
	if err := w.WriteSample(now.Add(40*time.Millisecond), motion.Gyroscope, motion.Encode(motion.Raw{})); err != nil {
		_ = w.Close()
		t.Fatalf("WriteSample() error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	var buf bytes.Buffer
	if err := printLogSummary(&buf, logPath, testProfile()); err != nil {
		t.Fatalf("printLogSummary() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"path: " + logPath,
		"segments: 1",
		"accelerometer_samples: 1",
		"gyroscope_samples: 1",
		"discarded: 0",
		"duration: 40ms",
		"mount: standing_up",
		"front_in: mean=0.000",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestPrintLogSummary_EmptyPath(t *testing.T) {
	if err := printLogSummary(&bytes.Buffer{}, "  ", testProfile()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
