package internal

import (
	"slices"
	"testing"
)

func TestParseXrandr(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []ScreenRegion
	}{
		{
			name: "dual head with primary",
			output: `Screen 0: minimum 320 x 200, current 4480 x 1440, maximum 16384 x 16384
eDP-1 connected 1920x1080+0+360 (normal left inverted right x axis y axis) 344mm x 194mm
   1920x1080     60.02*+  59.93
DP-1 connected primary 2560x1440+1920+0 (normal left inverted right x axis y axis) 597mm x 336mm
   2560x1440     59.95*+
HDMI-1 disconnected (normal left inverted right x axis y axis)
`,
			want: []ScreenRegion{
				{X: 0, Y: 360, Width: 1920, Height: 1080},
				{X: 1920, Y: 0, Width: 2560, Height: 1440},
			},
		},
		{
			name: "connected but disabled output",
			output: `Screen 0: minimum 320 x 200, current 1920 x 1080, maximum 16384 x 16384
eDP-1 connected primary 1920x1080+0+0 (normal left inverted right x axis y axis) 344mm x 194mm
DP-2 connected (normal left inverted right x axis y axis)
`,
			want: []ScreenRegion{{Width: 1920, Height: 1080}},
		},
		{
			name: "rotated output",
			output: `DP-1 connected 1080x1920+2560+0 left (normal left inverted right x axis y axis) 527mm x 296mm
`,
			want: []ScreenRegion{{X: 2560, Width: 1080, Height: 1920}},
		},
		{
			name:   "nothing connected",
			output: "Screen 0: minimum 8 x 8, current 1024 x 768, maximum 32767 x 32767\nVirtual-1 disconnected\n",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseXrandr(tt.output)
			if !slices.Equal(got, tt.want) {
				t.Errorf("parseXrandr() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
