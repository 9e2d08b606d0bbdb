package main

import (
	"testing"

	"github.com/mvanberg/mlarrays/types"
)

func TestParseShape(t *testing.T) {
	tests := []struct {
		in      string
		want    types.ImageShape
		wantErr bool
	}{
		{"224x224x3", types.ImageShape{Height: 224, Width: 224, Channels: 3}, false},
		{"1X1X1", types.ImageShape{Height: 1, Width: 1, Channels: 1}, false},
		{"224x224", types.ImageShape{}, true},
		{"axbxc", types.ImageShape{}, true},
		{"0x4x3", types.ImageShape{}, true},
		{"4x4x2", types.ImageShape{}, true},
	}

	for _, tt := range tests {
		got, err := parseShape(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseShape(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseShape(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
