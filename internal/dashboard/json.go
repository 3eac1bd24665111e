package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/storage"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

// SampleJSON is one sample on the wire.
type SampleJSON struct {
	T string  `json:"t"`
	V float64 `json:"v"`
}

// WindowJSON is the response of /api/window.
type WindowJSON struct {
	From     string                  `json:"from"`
	To       string                  `json:"to"`
	Channels map[string][]SampleJSON `json:"channels"`
}

// RangeJSON is the response of /api/range, newest-first.
type RangeJSON struct {
	Channel string       `json:"channel"`
	Samples []SampleJSON `json:"samples"`
}

// SummaryJSON is the statistics of one channel over one window.
type SummaryJSON struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Count int64    `json:"count"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Mean  *float64 `json:"mean,omitempty"`
	P50   *float64 `json:"p50,omitempty"`
	P90   *float64 `json:"p90,omitempty"`
	P99   *float64 `json:"p99,omitempty"`
	First string   `json:"first,omitempty"`
	Last  string   `json:"last,omitempty"`
}

// ErrorJSON is the body of every error response.
type ErrorJSON struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type statsJSON struct {
	Store  storage.ServiceStats `json:"store"`
	Poller PollerStats          `json:"poller"`
}

func formatSample(s types.Sample) SampleJSON {
	return SampleJSON{T: s.Timestamp.UTC().Format(types.ISOLayout), V: s.Value}
}

func formatWindow(window types.Window, from, to time.Time) WindowJSON {
	out := WindowJSON{
		From:     from.UTC().Format(types.ISOLayout),
		To:       to.UTC().Format(types.ISOLayout),
		Channels: make(map[string][]SampleJSON, len(window)),
	}
	for name, samples := range window {
		js := make([]SampleJSON, len(samples))
		for i, s := range samples {
			js[i] = formatSample(s)
		}
		out.Channels[name] = js
	}
	return out
}

func formatRange(name string, samples []types.Sample) RangeJSON {
	out := RangeJSON{Channel: name, Samples: make([]SampleJSON, len(samples))}
	for i, s := range samples {
		out.Samples[i] = formatSample(s)
	}
	return out
}

func formatLatest(latest map[string]types.Sample) map[string]SampleJSON {
	out := make(map[string]SampleJSON, len(latest))
	for name, s := range latest {
		out[name] = formatSample(s)
	}
	return out
}

func formatSummary(s types.Summary) SummaryJSON {
	out := SummaryJSON{
		From:  s.From.UTC().Format(types.ISOLayout),
		To:    s.To.UTC().Format(types.ISOLayout),
		Count: s.Count,
		P50:   s.P50,
		P90:   s.P90,
		P99:   s.P99,
	}
	if s.Count > 0 {
		lo, hi, mean := s.Min, s.Max, s.Mean
		out.Min, out.Max, out.Mean = &lo, &hi, &mean
		out.First = s.First.UTC().Format(types.ISOLayout)
		out.Last = s.Last.UTC().Format(types.ISOLayout)
	}
	return out
}

func formatSummaries(summaries map[string]types.Summary) map[string]SummaryJSON {
	out := make(map[string]SummaryJSON, len(summaries))
	for name, s := range summaries {
		out[name] = formatSummary(s)
	}
	return out
}

func formatBuckets(buckets map[string][]types.Summary) map[string][]SummaryJSON {
	out := make(map[string][]SummaryJSON, len(buckets))
	for name, bs := range buckets {
		js := make([]SummaryJSON, len(bs))
		for i, b := range bs {
			js[i] = formatSummary(b)
		}
		out[name] = js
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("encode response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError answers with the status and code name of err.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Warn("request failed",
			"component", "dashboard", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, ErrorJSON{
		Error: err.Error(),
		Code:  errors.CodeName(errors.ErrorToCode(err)),
	})
}
