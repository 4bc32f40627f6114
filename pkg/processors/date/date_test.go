package date

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

func run(t *testing.T, cfg registry.Config, source map[string]interface{}) (*document.Doc, bool, string) {
	t.Helper()
	p, err := Create(cfg)
	require.NoError(t, err)
	doc := document.New(source)
	res, err := p.Process(context.Background(), doc)
	require.NoError(t, err)
	return doc, res.Succeeded, res.Reason
}

func TestDateFormats(t *testing.T) {
	tests := []struct {
		name   string
		cfg    registry.Config
		value  interface{}
		expect interface{}
	}{
		{
			name:   "common log to RFC3339 UTC",
			cfg:    registry.Config{"formats": []interface{}{"CommonLog"}, "outputTimezone": "UTC"},
			value:  "10/Oct/2000:13:55:36 -0700",
			expect: "2000-10-10T20:55:36Z",
		},
		{
			name:   "second format matches",
			cfg:    registry.Config{"formats": []interface{}{"RFC3339", "DateTime"}},
			value:  "2024-03-01 08:30:00",
			expect: "2024-03-01T08:30:00Z",
		},
		{
			name:   "input timezone applies to zoneless values",
			cfg:    registry.Config{"format": "DateTime", "timezone": "Europe/Berlin", "outputTimezone": "UTC"},
			value:  "2024-01-15 12:00:00",
			expect: "2024-01-15T11:00:00Z",
		},
		{
			name:   "unix seconds",
			cfg:    registry.Config{"format": "UNIX", "outputFormat": "DateOnly"},
			value:  float64(86400),
			expect: "1970-01-02",
		},
		{
			name:   "unix millis from string",
			cfg:    registry.Config{"format": "UNIX_MS"},
			value:  "1000",
			expect: "1970-01-01T00:00:01Z",
		},
		{
			name:   "to unix millis",
			cfg:    registry.Config{"format": "RFC3339", "outputFormat": "UNIX_MS"},
			value:  "1970-01-01T00:00:02Z",
			expect: int64(2000),
		},
		{
			name:   "custom layout",
			cfg:    registry.Config{"format": "02.01.2006", "outputFormat": "DateOnly"},
			value:  "31.12.1999",
			expect: "1999-12-31",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg["field"] = "ts"
			doc, ok, reason := run(t, tt.cfg, map[string]interface{}{"ts": tt.value})
			require.True(t, ok, reason)
			got, _ := doc.Get("ts")
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestDateTarget(t *testing.T) {
	doc, ok, _ := run(t, registry.Config{"field": "raw.time", "target": "@timestamp", "format": "DateOnly"},
		map[string]interface{}{"raw": map[string]interface{}{"time": "2024-02-29"}})
	require.True(t, ok)

	got, _ := doc.Get("@timestamp")
	assert.Equal(t, "2024-02-29T00:00:00Z", got)
	orig, _ := doc.Get("raw.time")
	assert.Equal(t, "2024-02-29", orig)
}

func TestDateFailures(t *testing.T) {
	_, ok, reason := run(t, registry.Config{"field": "ts", "format": "RFC3339"}, map[string]interface{}{})
	assert.False(t, ok)
	assert.Contains(t, reason, "missing")

	_, ok, reason = run(t, registry.Config{"field": "ts", "formats": []interface{}{"RFC3339", "UNIX"}},
		map[string]interface{}{"ts": "yesterday"})
	assert.False(t, ok)
	assert.Contains(t, reason, "2 formats")

	_, ok, _ = run(t, registry.Config{"field": "ts", "format": "DateOnly"}, map[string]interface{}{"ts": true})
	assert.False(t, ok)
}

func TestCreateErrors(t *testing.T) {
	tests := map[string]registry.Config{
		"missing field":   {"format": "RFC3339"},
		"missing formats": {"field": "ts"},
		"bad timezone":    {"field": "ts", "format": "RFC3339", "timezone": "Mars/Olympus"},
		"bad out zone":    {"field": "ts", "format": "RFC3339", "outputTimezone": "Nowhere"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Create(cfg)
			assert.ErrorIs(t, err, registry.ErrInvalidConfig)
		})
	}
}
