package fetch

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apt-tools/aptcheck/internal/control"
	"github.com/apt-tools/aptcheck/internal/deb"
	"github.com/apt-tools/aptcheck/internal/report"
)

// IndexEntry is one "checksum size path" line of a Release checksum section
type IndexEntry struct {
	Checksum string
	Size     int64
	Path     string
}

// Release is the parsed Release/InRelease stanza of a repository snapshot.
// It declares the suite's scope and the checksums of every index file.
type Release struct {
	Record *control.Record

	Origin        string
	Label         string
	Suite         string
	Codename      string
	Date          string
	Components    []string
	Architectures []deb.Arch

	// MD5Sum and SHA256 key entries by index path relative to the
	// dists/<suite>/ directory.
	MD5Sum map[string]IndexEntry
	SHA256 map[string]IndexEntry
}

// ParseRelease parses the first stanza of a Release file
func ParseRelease(data []byte, file string) (*Release, error) {
	p := control.NewParser(bytes.NewReader(data), file)
	rec, err := p.Next()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", file, err)
	}

	r := &Release{
		Record:        rec,
		Origin:        rec.Value("Origin"),
		Label:         rec.Value("Label"),
		Suite:         rec.Value("Suite"),
		Codename:      rec.Value("Codename"),
		Date:          rec.Value("Date"),
		Components:    strings.Fields(rec.Value("Components")),
		Architectures: deb.ParseArchList(rec.Value("Architectures")),
		MD5Sum:        parseChecksumSection(rec.Value("MD5Sum")),
		SHA256:        parseChecksumSection(rec.Value("SHA256")),
	}
	return r, nil
}

// parseChecksumSection parses the multi-line "checksum size path" entries
func parseChecksumSection(raw string) map[string]IndexEntry {
	out := make(map[string]IndexEntry)
	for _, line := range strings.Split(raw, "\n") {
		parts := strings.Fields(line)
		if len(parts) != 3 {
			continue
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		out[parts[2]] = IndexEntry{Checksum: parts[0], Size: size, Path: parts[2]}
	}
	return out
}

// Compliance checks the Release stanza against the policy requirements for
// repository release files and returns policy diagnostics for violations.
func (r *Release) Compliance() []report.Diagnostic {
	var out []report.Diagnostic
	fail := func(field, format string, args ...interface{}) {
		out = append(out, report.Diagnostic{
			Severity: report.SeverityWarning,
			Category: report.CategoryPolicy,
			Code:     report.CodePolicyViolation,
			Message:  fmt.Sprintf(format, args...),
			Origin:   report.Provenance{File: r.Record.File, Line: r.Record.Line, Field: field},
		})
	}

	if r.Suite == "" && r.Codename == "" {
		fail("Suite", "release declares neither Suite nor Codename")
	}
	if len(r.Architectures) == 0 {
		fail("Architectures", "release declares no architectures")
	}
	if len(r.Components) == 0 {
		fail("Components", "release declares no components")
	}
	if r.Date == "" {
		fail("Date", "release has no Date field")
	}
	if len(r.SHA256) == 0 {
		fail("SHA256", "release carries no SHA256 checksums")
	}
	return out
}

// VerifyIndex checks a fetched index body against the Release checksum
// entry for its path. Unlisted paths pass; apt only trusts listed ones, but
// flat repositories frequently omit sections.
func (r *Release) VerifyIndex(path string, body []byte) error {
	if e, ok := r.SHA256[path]; ok {
		sum := sha256.Sum256(body)
		if hex.EncodeToString(sum[:]) != e.Checksum {
			return fmt.Errorf("%s: SHA256 mismatch against Release", path)
		}
		if e.Size != int64(len(body)) {
			return fmt.Errorf("%s: size %d does not match Release entry %d", path, len(body), e.Size)
		}
		return nil
	}
	if e, ok := r.MD5Sum[path]; ok {
		sum := md5.Sum(body)
		if hex.EncodeToString(sum[:]) != e.Checksum {
			return fmt.Errorf("%s: MD5 mismatch against Release", path)
		}
		return nil
	}
	logrus.Debugf("Index %s is not listed in Release checksums", path)
	return nil
}

// Repo locates a repository: its base URL plus either a suite (standard
// dists layout) or a flat path.
type Repo struct {
	BaseURL  string
	Suite    string
	FlatPath string
}

// normalizedBase returns the base URL with a trailing slash
func (r Repo) normalizedBase() string {
	if strings.HasSuffix(r.BaseURL, "/") {
		return r.BaseURL
	}
	return r.BaseURL + "/"
}

// Flat reports whether the repository uses the flat layout
func (r Repo) Flat() bool {
	return r.Suite == ""
}

// distsURL returns the dists/<suite>/ directory URL, or the flat directory
func (r Repo) distsURL() string {
	if r.Flat() {
		p := strings.TrimPrefix(r.FlatPath, "./")
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			return r.normalizedBase()
		}
		return r.normalizedBase() + p + "/"
	}
	return r.normalizedBase() + "dists/" + r.Suite + "/"
}

// ReleaseURLs returns candidate URLs for the signed and unsigned release
// files: InRelease first, then Release (+ Release.gpg).
func (r Repo) ReleaseURLs() (inRelease, release, releaseGPG string) {
	base := r.distsURL()
	return base + "InRelease", base + "Release", base + "Release.gpg"
}

// BinaryIndexPath returns the Packages path relative to the dists
// directory, without a compression suffix.
func (r Repo) BinaryIndexPath(component string, arch deb.Arch) string {
	if r.Flat() {
		return "Packages"
	}
	return fmt.Sprintf("%s/binary-%s/Packages", component, arch)
}

// SourceIndexPath returns the Sources path relative to the dists directory
func (r Repo) SourceIndexPath(component string) string {
	if r.Flat() {
		return "Sources"
	}
	return component + "/source/Sources"
}

// FileURL resolves a pool-relative Filename field against the base URL
func (r Repo) FileURL(filename string) string {
	if strings.HasPrefix(filename, "http://") || strings.HasPrefix(filename, "https://") {
		return filename
	}
	return r.normalizedBase() + strings.TrimPrefix(filename, "/")
}

// Index holds one fetched, decompressed index with its provenance
type Index struct {
	// Path is the index path relative to the dists directory.
	Path string
	Body []byte
}

// FetchIndex downloads an index, trying the compressed variants in order,
// verifies it against the Release checksums, and returns the decompressed
// body. ErrNotFound is returned only when every variant is missing.
func FetchIndex(ctx context.Context, client *Client, repo Repo, release *Release, path string) (*Index, error) {
	base := repo.distsURL()
	for _, suffix := range indexVariants {
		body, err := client.Get(ctx, base+path+suffix)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if release != nil {
			if err := release.VerifyIndex(path+suffix, body); err != nil {
				return nil, err
			}
		}
		plain, err := Decompress(suffix, body)
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", path, suffix, err)
		}
		logrus.Debugf("Fetched %s%s (%d bytes)", path, suffix, len(plain))
		return &Index{Path: path, Body: plain}, nil
	}
	return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
}
