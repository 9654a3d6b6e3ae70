package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPath string
		wantUser string
		wantErr  bool
	}{
		{
			name:     "standard ftp url",
			url:      "ftp://ftp.example.com/pub/data/file.csv",
			wantHost: "ftp.example.com:21",
			wantPath: "/pub/data/file.csv",
		},
		{
			name:     "ftp url with port",
			url:      "ftp://ftp.example.com:2121/data/file.txt",
			wantHost: "ftp.example.com:2121",
			wantPath: "/data/file.txt",
		},
		{
			name:     "ftp url with credentials",
			url:      "ftp://buoy:pw@ftp.example.com/argo/profiles.zip",
			wantHost: "ftp.example.com:21",
			wantPath: "/argo/profiles.zip",
			wantUser: "buoy",
		},
		{name: "http scheme rejected", url: "http://example.com/file.csv", wantErr: true},
		{name: "empty path", url: "ftp://ftp.example.com", wantErr: true},
		{name: "invalid url", url: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, target.host)
			assert.Equal(t, tt.wantPath, target.path)
			assert.Equal(t, tt.wantUser, target.user)
		})
	}
}

func TestFTPCredentials(t *testing.T) {
	f := NewFTPFetcher(Options{})
	user, pass := f.credentials(ftpTarget{})
	assert.Equal(t, "anonymous", user)
	assert.Equal(t, "anonymous@", pass)

	f = NewFTPFetcher(Options{Username: "cfg", Password: "x"})
	user, _ = f.credentials(ftpTarget{})
	assert.Equal(t, "cfg", user)

	user, pass = f.credentials(ftpTarget{user: "url", password: "y"})
	assert.Equal(t, "url", user)
	assert.Equal(t, "y", pass)
}
