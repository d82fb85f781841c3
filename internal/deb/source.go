package deb

import (
	"strconv"
	"strings"

	"github.com/apt-tools/aptcheck/internal/control"
)

// SourceFile is one entry of a Sources stanza file list (Files or
// Checksums-Sha256): checksum, size, and file name.
type SourceFile struct {
	Checksum string
	Size     int64
	Name     string
}

// SourcePackage is the typed model of one Sources-index stanza.
type SourcePackage struct {
	Record *control.Record

	Name    string
	Version Version

	// Binaries lists the binary package names this source builds.
	Binaries []string

	// Architectures is the Architecture field token list ("any", "all",
	// concrete names, wildcards).
	Architectures []Arch

	Format       string
	Directory    string
	BuildDepends Dependency

	// Files carries the Checksums-Sha256 entries, falling back to the
	// legacy MD5 Files list when the former is absent.
	Files []SourceFile
}

// NewSourcePackage builds the typed model from a parsed Sources record,
// returning per-field syntax errors alongside it.
func NewSourcePackage(rec *control.Record) (*SourcePackage, []FieldError) {
	s := &SourcePackage{Record: rec}
	var errs []FieldError

	// Sources stanzas name the package in "Package"; dsc files use "Source".
	s.Name = rec.Value(FieldPackage)
	if s.Name == "" {
		s.Name = rec.Value(FieldSource)
	}

	if v, ok := rec.Get(FieldVersion); ok {
		ver, err := ParseVersion(v)
		if err != nil {
			errs = append(errs, FieldError{Field: FieldVersion, Err: err})
		} else {
			s.Version = ver
		}
	}

	for _, name := range strings.Split(rec.Value(FieldBinary), ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			s.Binaries = append(s.Binaries, name)
		}
	}

	s.Architectures = ParseArchList(rec.Value(FieldArchitecture))
	s.Format = rec.Value(FieldFormat)
	s.Directory = rec.Value(FieldDirectory)

	if v, ok := rec.Get(FieldBuildDepends); ok {
		dep, err := ParseDependency(FieldBuildDepends, v)
		if err != nil {
			errs = append(errs, FieldError{Field: FieldBuildDepends, Err: err})
		} else {
			s.BuildDepends = dep
		}
	}

	fileField := FieldChecksumsSha256
	raw, ok := rec.Get(fileField)
	if !ok {
		fileField = FieldFiles
		raw = rec.Value(fileField)
	}
	files, err := parseFileList(raw)
	if err != nil {
		errs = append(errs, FieldError{Field: fileField, Err: err})
	} else {
		s.Files = files
	}

	return s, errs
}

// parseFileList parses the multi-line "checksum size name" entries of a
// Files or Checksums-* field.
func parseFileList(raw string) ([]SourceFile, error) {
	var files []SourceFile
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 3 {
			return nil, &control.MalformedRecordError{Msg: "file entry needs checksum, size, and name: " + line}
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, &control.MalformedRecordError{Msg: "file entry has non-numeric size: " + line}
		}
		files = append(files, SourceFile{Checksum: parts[0], Size: size, Name: parts[2]})
	}
	return files, nil
}

// HasIdentity reports whether the fields needed for indexing are present
func (s *SourcePackage) HasIdentity() bool {
	return s.Name != "" && s.Version.Upstream != ""
}

// BuildsOn reports whether the source declares it builds for the given
// concrete architecture, honoring "any"/"all" and wildcard tokens. An empty
// Architecture field is treated as "any".
func (s *SourcePackage) BuildsOn(arch Arch) bool {
	if len(s.Architectures) == 0 {
		return true
	}
	for _, a := range s.Architectures {
		if a == ArchAll || a.Matches(arch) {
			return true
		}
	}
	return false
}
