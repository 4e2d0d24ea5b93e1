package mediaserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndex(t *testing.T) {
	idx := NewIndex([]string{
		"/media/Movies/Akira (1988)/Akira (1988) - tt0094625 - 1080p - (Akira.1988.1080p.mkv).mkv",
		`D:\Media\TV\Show\Season 01\Show - S01E01.MKV`,
	})

	tests := []struct {
		path string
		want bool
	}{
		{"/library/Movies/Akira (1988)/akira (1988) - tt0094625 - 1080p - (akira.1988.1080p.mkv).mkv", true},
		{"/other/root/Show - S01E01.mkv", true},
		{"/other/root/Show - S01E01.mp4", true},
		{"/other/root/Show - S01E02.mkv", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, idx.Contains(tt.path), tt.path)
	}
}
