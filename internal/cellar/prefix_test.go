package cellar

import "testing"

func TestPrefixFor(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
	}{
		{"darwin", "arm64", "/opt/homebrew"},
		{"darwin", "amd64", "/usr/local"},
		{"linux", "amd64", "/home/linuxbrew/.linuxbrew"},
		{"linux", "arm64", "/home/linuxbrew/.linuxbrew"},
	}
	for _, tt := range tests {
		if got := prefixFor(tt.goos, tt.goarch); got != tt.want {
			t.Errorf("prefixFor(%s, %s) = %q, want %q", tt.goos, tt.goarch, got, tt.want)
		}
	}
}
