package cascade

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
)

const gocvModule = "gocv.io/x/gocv"

// EnvCascadeDir names an extra directory searched for cascade files.
const EnvCascadeDir = "FACECAM_CASCADE_DIR"

// ErrCascadeNotFound is returned when no candidate location holds the file.
var ErrCascadeNotFound = errors.New("cascade file not found")

// openCVDataDirs are the haarcascades directories of common OpenCV installs.
var openCVDataDirs = []string{
	"/usr/local/share/opencv4/haarcascades",
	"/usr/share/opencv4/haarcascades",
	"/usr/local/share/opencv/haarcascades",
	"/usr/share/opencv/haarcascades",
	"/opt/homebrew/share/opencv4/haarcascades",
}

// ResolvePath returns path when it exists. Otherwise the file name is looked
// up in $FACECAM_CASCADE_DIR, the OpenCV data directories and the data/
// directory of the gocv module in the module cache, which ships the stock
// frontal face cascade.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrCascadeNotFound)
	}
	if isFile(path) {
		return path, nil
	}

	name := filepath.Base(path)
	tried := []string{path}
	for _, dir := range SearchDirs() {
		candidate := filepath.Join(dir, name)
		if isFile(candidate) {
			return candidate, nil
		}
		tried = append(tried, candidate)
	}
	return "", fmt.Errorf("%w: tried %s", ErrCascadeNotFound, strings.Join(tried, ", "))
}

// SearchDirs lists the fallback directories in lookup order.
func SearchDirs() []string {
	var dirs []string
	if dir := os.Getenv(EnvCascadeDir); dir != "" {
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, openCVDataDirs...)
	if dir := gocvDataDir(); dir != "" {
		dirs = append(dirs, dir)
	}
	return dirs
}

func gocvDataDir() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	version := ""
	for _, dep := range info.Deps {
		if dep.Path == gocvModule {
			version = dep.Version
			if dep.Replace != nil {
				if filepath.IsAbs(dep.Replace.Path) {
					return filepath.Join(dep.Replace.Path, "data")
				}
				return ""
			}
			break
		}
	}
	if version == "" {
		return ""
	}
	cache := moduleCache()
	if cache == "" {
		return ""
	}
	return filepath.Join(cache, gocvModule+"@"+version, "data")
}

func moduleCache() string {
	if dir := os.Getenv("GOMODCACHE"); dir != "" {
		return dir
	}
	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		gopath = filepath.Join(home, "go")
	}
	// GOPATH may list several entries; the first holds the module cache
	if i := strings.IndexRune(gopath, filepath.ListSeparator); i >= 0 {
		gopath = gopath[:i]
	}
	return filepath.Join(gopath, "pkg", "mod")
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
