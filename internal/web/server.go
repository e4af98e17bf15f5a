package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"levelsense/internal/ahrs"
	"levelsense/internal/calibration"
)

// LevelController exposes the engine actions the API needs.
type LevelController interface {
	Snapshot() ahrs.Snapshot
	Calibrate(ctx context.Context) (calibration.Baseline, error)
}

type Deps struct {
	Status      *Status
	Level       LevelController
	Broadcaster *LevelBroadcaster
	Logs        *LogBuffer
	Profile     ProfileStore
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// CalibrateResponse is the POST /api/calibrate body. Persisted is false when
// the baseline is in effect but the store rejected it.
type CalibrateResponse struct {
	OK        bool                 `json:"ok"`
	Persisted bool                 `json:"persisted"`
	Error     string               `json:"error,omitempty"`
	Baseline  calibration.Baseline `json:"baseline"`
	Level     ahrs.Snapshot        `json:"level"`
}

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, d.Status.Snapshot(time.Now().UTC()))
	})

	mux.HandleFunc("/api/calibrate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if d.Level == nil {
			http.Error(w, "engine unavailable", http.StatusNotFound)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		b, err := d.Level.Calibrate(ctx)
		if errors.Is(err, ahrs.ErrNoAttitude) {
			http.Error(w, "no attitude yet: wait for sensor data", http.StatusConflict)
			return
		}
		resp := CalibrateResponse{OK: true, Persisted: err == nil, Baseline: b}
		if err != nil {
			resp.Error = err.Error()
		}
		resp.Level = d.Level.Snapshot()
		d.Status.SetLevel(time.Now().UTC(), resp.Level)
		d.Broadcaster.ResetSmoothing()
		d.Broadcaster.Publish(resp.Level)
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("/api/level/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if d.Broadcaster == nil {
			http.Error(w, "stream unavailable", http.StatusNotFound)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, ch := d.Broadcaster.Subscribe(4)
		defer d.Broadcaster.Unsubscribe(id)

		_, _ = w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				b, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: level\ndata: %s\n\n", b); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})

	mux.Handle("/api/profile", d.Profile.Handler())

	if d.Logs != nil {
		mux.Handle("/api/logs", d.Logs.Handler())
	}

	if d.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		lvl := d.Status.Level()
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>levelsense</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>levelsense</h1>")
		_, _ = fmt.Fprintf(w, "<p>Live data: <a href=\"/api/status\">/api/status</a>, <a href=\"/api/level/stream\">/api/level/stream</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>installation=%s\nmount=%s\ncalibrated=%t\nfront_in=%.2f\nside_in=%.2f</pre>",
			html.EscapeString(lvl.Installation.String()), html.EscapeString(lvl.Mount.String()),
			lvl.Calibrated, lvl.Offsets.FrontHeight, lvl.Offsets.SideHeight,
		)
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		// Request contexts end with ctx so open streams close on shutdown.
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
