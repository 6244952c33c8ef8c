package opshttp

import (
	"encoding/json"
	"net/http"
	"time"
)

// settingsStatus is what /-/settings reports. It must never carry the
// secret header name or value.
type settingsStatus struct {
	Loaded         bool      `json:"loaded"`
	Title          string    `json:"title"`
	StyleSource    string    `json:"style_source"`
	StyleHash      string    `json:"style_hash"`
	StyleFile      string    `json:"style_file,omitempty"`
	SecretRequired bool      `json:"secret_required"`
	LoadedAt       time.Time `json:"loaded_at,omitzero"`
}

func settingsHandler(src SettingsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := src.Get()
		st := settingsStatus{
			Loaded:         ok,
			Title:          s.Meta.Title,
			StyleSource:    string(s.StyleSource),
			StyleHash:      s.StyleHash(),
			StyleFile:      s.StyleFile,
			SecretRequired: s.Secret.Required,
			LoadedAt:       s.LoadedAt,
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(st)
	}
}
