package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestIntegration builds the aptcheck binary and runs it against local HTTP
// repositories, asserting on exit codes and the JSON report.
func TestIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	projectRoot, err := getProjectRoot()
	if err != nil {
		t.Fatalf("Failed to find project root: %v", err)
	}

	t.Log("Building aptcheck binary...")
	binPath := filepath.Join(t.TempDir(), "aptcheck")
	build := exec.Command("go", "build", "-o", binPath, "./cmd/aptcheck")
	build.Dir = projectRoot
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build aptcheck: %v\n%s", err, out)
	}

	t.Run("DirtyRepository", func(t *testing.T) {
		testDirtyRepository(t, binPath)
	})
	t.Run("CleanRepository", func(t *testing.T) {
		testCleanRepository(t, binPath)
	})
	t.Run("BadConfiguration", func(t *testing.T) {
		testBadConfiguration(t, binPath)
	})
}

const cleanPackages = `Package: hello
Version: 2.10-3
Architecture: amd64
Source: hello
Maintainer: Jane Doe <jane@example.org>
Priority: optional
Section: utils
Filename: pool/main/h/hello/hello_2.10-3_amd64.deb
Size: 53456
SHA256: 3c1c8a525e0a2286f3b072f2256a6c0821e542afdf5db2b6b1b152f60b3001b0
Description: example greeter
`

const cleanSources = `Package: hello
Version: 2.10-3
Binary: hello
Architecture: any
Format: 3.0 (quilt)
Directory: pool/main/h/hello
Files:
 d5b9a1a0289875dac1189cbb06ff5c49 1201 hello_2.10-3.dsc
`

// dirtyPackages adds a package with an unsatisfiable dependency
const dirtyPackages = cleanPackages + `
Package: broken
Version: 1.0
Architecture: amd64
Source: broken
Maintainer: Jane Doe <jane@example.org>
Priority: optional
Section: utils
Depends: absent-lib (>= 2.0)
Filename: pool/main/b/broken/broken_1.0_amd64.deb
Size: 1000
SHA256: 3c1c8a525e0a2286f3b072f2256a6c0821e542afdf5db2b6b1b152f60b3001b0
Description: has an unresolvable dependency
`

const dirtySources = cleanSources + `
Package: broken
Version: 1.0
Binary: broken
Architecture: any
Format: 3.0 (quilt)
Directory: pool/main/b/broken
Files:
 d5b9a1a0289875dac1189cbb06ff5c49 900 broken_1.0.dsc
`

func serveRepository(t *testing.T, packages, sources string) *httptest.Server {
	t.Helper()
	release := `Suite: stable
Codename: stable
Date: Sat, 29 Aug 2026 10:00:00 UTC
Architectures: amd64
Components: main
SHA256:
 0000000000000000000000000000000000000000000000000000000000000001 1 unused/entry
`
	mux := http.NewServeMux()
	mux.HandleFunc("/dists/stable/InRelease", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, release)
	})
	mux.HandleFunc("/dists/stable/main/binary-amd64/Packages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, packages)
	})
	mux.HandleFunc("/dists/stable/main/source/Sources", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sources)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runAptcheck(t *testing.T, binPath string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(binPath, args...)
	out, err := cmd.CombinedOutput()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		t.Fatalf("Failed to run aptcheck: %v\n%s", err, out)
	}
	return string(out), code
}

func testDirtyRepository(t *testing.T, binPath string) {
	srv := serveRepository(t, dirtyPackages, dirtySources)
	reportPath := filepath.Join(t.TempDir(), "report.json")

	out, code := runAptcheck(t, binPath, "check", srv.URL, "--suite", "stable", "--output", reportPath)
	if code != 1 {
		t.Errorf("exit code = %d, want 1 (issues found)\n%s", code, out)
	}
	if !strings.Contains(out, "absent-lib") {
		t.Errorf("output does not name the unresolved dependency:\n%s", out)
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("JSON report not written: %v", err)
	}
	var report struct {
		Summary struct {
			Errors   int `json:"errors"`
			Warnings int `json:"warnings"`
		} `json:"summary"`
		Diagnostics []json.RawMessage `json:"diagnostics"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("Report is not valid JSON: %v", err)
	}
	if report.Summary.Errors != 1 || len(report.Diagnostics) == 0 {
		t.Errorf("report summary = %+v with %d diagnostics", report.Summary, len(report.Diagnostics))
	}
}

func testCleanRepository(t *testing.T, binPath string) {
	srv := serveRepository(t, cleanPackages, cleanSources)

	out, code := runAptcheck(t, binPath, "check", srv.URL, "--suite", "stable")
	if code != 0 {
		t.Errorf("exit code = %d, want 0\n%s", code, out)
	}
}

func testBadConfiguration(t *testing.T, binPath string) {
	// No suite and no flat path
	out, code := runAptcheck(t, binPath, "check", "http://127.0.0.1:1/debian")
	if code != 2 {
		t.Errorf("exit code = %d, want 2 (run failure)\n%s", code, out)
	}
}

func getProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found above %s", dir)
		}
		dir = parent
	}
}
