// Package web holds the page of the virtual memory monitor.
package web

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

//go:embed dist/*
var dist embed.FS

// Assets returns the files of the monitoring page. When dir is not empty the
// files are read from it, so that the page can be edited while a monitor
// runs. Otherwise the page built into the binary is served.
func Assets(dir string) (http.FileSystem, error) {
	if dir != "" {
		_, err := os.Stat(filepath.Join(dir, "index.html"))
		if err != nil {
			return nil, fmt.Errorf("monitor page: %w", err)
		}

		return http.Dir(dir), nil
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		return nil, err
	}

	return http.FS(sub), nil
}
