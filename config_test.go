package microgrid_test

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/go-microgrid/go-microgrid"
)

func TestLoadConfig(t *testing.T) {
	doc := `
max_data_age: 10s
resampling_period: 200ms
`
	cfg, err := microgrid.LoadConfig(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := microgrid.DefaultConfig()
	want.MaxDataAge = 10 * time.Second
	want.ResamplingPeriod = 200 * time.Millisecond
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigEmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := microgrid.LoadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(microgrid.DefaultConfig(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	if _, err := microgrid.LoadConfig(strings.NewReader("max_data_age_sec: 5")); err == nil {
		t.Fatal("LoadConfig with unknown field succeeded")
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	if _, err := microgrid.LoadConfig(strings.NewReader("max_data_age: -5s")); err == nil {
		t.Fatal("LoadConfig with negative max_data_age succeeded")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*microgrid.Config)
	}{
		{name: "zero max_data_age", mutate: func(c *microgrid.Config) { c.MaxDataAge = 0 }},
		{name: "zero max_blocking_duration", mutate: func(c *microgrid.Config) { c.MaxBlockingDuration = 0 }},
		{name: "zero resampling_period", mutate: func(c *microgrid.Config) { c.ResamplingPeriod = 0 }},
		{name: "zero broadcast_queue_depth", mutate: func(c *microgrid.Config) { c.BroadcastQueueDepth = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := microgrid.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate succeeded, want error")
			}
		})
	}

	if err := microgrid.DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}
