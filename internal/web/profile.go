package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"levelsense/internal/ahrs"
	"levelsense/internal/config"
	"levelsense/internal/geometry"
	"levelsense/internal/orientation"
)

// ProfilePayload is the GET/POST body of /api/profile.
type ProfilePayload struct {
	Installation string           `json:"installation"`
	Trailer      geometry.Trailer `json:"trailer"`
}

var profilePostKeys = []string{"installation", "trailer"}

// decodeProfileStrict accepts exactly one JSON object with every key in
// profilePostKeys, no unknown or duplicate keys and no nulls.
func decodeProfileStrict(body []byte) (ProfilePayload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	allowed := make(map[string]struct{}, len(profilePostKeys))
	for _, k := range profilePostKeys {
		allowed[k] = struct{}{}
	}
	seen := make(map[string]struct{}, len(profilePostKeys))

	tok, err := dec.Token()
	if err != nil {
		return ProfilePayload{}, fmt.Errorf("invalid json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return ProfilePayload{}, errors.New("invalid json: expected object")
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return ProfilePayload{}, fmt.Errorf("invalid json: %w", err)
		}
		key, _ := kt.(string)
		if _, ok := allowed[key]; !ok {
			return ProfilePayload{}, fmt.Errorf("invalid json: unknown key %q", key)
		}
		if _, dup := seen[key]; dup {
			return ProfilePayload{}, fmt.Errorf("invalid json: duplicate key %q", key)
		}
		seen[key] = struct{}{}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return ProfilePayload{}, fmt.Errorf("invalid json: %w", err)
		}
		if strings.TrimSpace(string(raw)) == "null" {
			return ProfilePayload{}, fmt.Errorf("invalid json: %q cannot be null", key)
		}
	}
	if _, err := dec.Token(); err != nil {
		return ProfilePayload{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ProfilePayload{}, errors.New("invalid json: trailing data")
	}
	for _, k := range profilePostKeys {
		if _, ok := seen[k]; !ok {
			return ProfilePayload{}, fmt.Errorf("invalid json: missing required key %q", k)
		}
	}

	var out ProfilePayload
	dec2 := json.NewDecoder(bytes.NewReader(body))
	dec2.DisallowUnknownFields()
	if err := dec2.Decode(&out); err != nil {
		return ProfilePayload{}, fmt.Errorf("invalid json: %w", err)
	}
	return out, nil
}

func (p ProfilePayload) engineProfile() (ahrs.Profile, error) {
	inst, err := orientation.ParseInstallation(p.Installation)
	if err != nil {
		return ahrs.Profile{}, err
	}
	out := ahrs.Profile{Installation: inst, Trailer: p.Trailer}
	return out, out.Validate()
}

func profilePayloadFrom(p ahrs.Profile) ProfilePayload {
	return ProfilePayload{Installation: p.Installation.String(), Trailer: p.Trailer}
}

// ProfileStore reads and writes the profile section of the YAML config.
type ProfileStore struct {
	ConfigPath string
	// Apply, when set, makes a validated profile effective before it is
	// saved. If Apply fails nothing is saved.
	Apply func(ctx context.Context, p ahrs.Profile) error
}

func (s ProfileStore) load() (config.Config, ahrs.Profile, error) {
	cfg, err := config.Load(s.ConfigPath)
	if err != nil {
		return config.Config{}, ahrs.Profile{}, err
	}
	p, err := cfg.EngineProfile()
	return cfg, p, err
}

func (s ProfileStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(s.ConfigPath) == "" {
			http.Error(w, "profile not available (no config path)", http.StatusNotImplemented)
			return
		}

		switch r.Method {
		case http.MethodGet:
			_, p, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, profilePayloadFrom(p))

		case http.MethodPost:
			if ct := strings.TrimSpace(r.Header.Get("Content-Type")); ct != "application/json" {
				http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, fmt.Sprintf("read failed: %v", err), http.StatusBadRequest)
				return
			}
			in, err := decodeProfileStrict(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			next, err := in.engineProfile()
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid profile: %v", err), http.StatusBadRequest)
				return
			}

			cfg, prev, err := s.load()
			if err != nil {
				http.Error(w, fmt.Sprintf("load failed: %v", err), http.StatusInternalServerError)
				return
			}
			if s.Apply != nil {
				if err := s.Apply(r.Context(), next); err != nil {
					http.Error(w, fmt.Sprintf("apply failed: %v", err), http.StatusBadRequest)
					return
				}
			}
			cfg.SetEngineProfile(next)
			if err := config.Save(s.ConfigPath, cfg); err != nil {
				// Keep the runtime consistent with disk.
				if s.Apply != nil {
					_ = s.Apply(r.Context(), prev)
				}
				http.Error(w, fmt.Sprintf("save failed: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, profilePayloadFrom(next))

		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
