package main

import (
	"flag"
	"testing"
)

func TestThresholdOverride(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want *float64
	}{
		{"not given", []string{}, nil},
		{"explicit zero", []string{"--threshold", "0"}, ptr(0.0)},
		{"negative", []string{"--threshold", "-1"}, ptr(-1.0)},
		{"positive", []string{"--threshold", "0.8"}, ptr(0.8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("match", flag.ContinueOnError)
			threshold := fs.Float64("threshold", 0, "")
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			got := thresholdOverride(fs, threshold)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("got %v, want nil override", *got)
			case tt.want != nil && got == nil:
				t.Errorf("got nil, want %v", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("got %v, want %v", *got, *tt.want)
			}
		})
	}
}

func ptr(v float64) *float64 { return &v }
