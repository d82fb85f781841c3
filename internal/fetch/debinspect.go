package fetch

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/blakesmith/ar"

	"github.com/apt-tools/aptcheck/internal/control"
	"github.com/apt-tools/aptcheck/internal/deb"
)

// DebControl is the identity extracted from a downloaded .deb's embedded
// control file, used to cross-check the index entry in deep-inspection mode.
type DebControl struct {
	Package      string
	Version      string
	Architecture string
	SHA256       string // of the whole .deb payload
}

// InspectDeb reads a .deb archive, extracts the embedded control stanza,
// and returns its identity fields together with the archive's SHA256.
func InspectDeb(data []byte) (*DebControl, error) {
	sum := sha256.Sum256(data)
	dc := &DebControl{SHA256: hex.EncodeToString(sum[:])}

	arR := ar.NewReader(bytes.NewReader(data))
	for {
		header, err := arR.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("control.tar not found in package")
		}
		if err != nil {
			return nil, fmt.Errorf("reading ar header: %w", err)
		}

		name := strings.TrimRight(strings.TrimSpace(header.Name), "/")
		if !strings.HasPrefix(name, "control.tar") {
			continue
		}

		member, err := io.ReadAll(arR)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		plain, err := Decompress(name, member)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", name, err)
		}
		stanza, err := controlFromTar(plain)
		if err != nil {
			return nil, err
		}
		dc.Package = stanza.Value(deb.FieldPackage)
		dc.Version = stanza.Value(deb.FieldVersion)
		dc.Architecture = stanza.Value(deb.FieldArchitecture)
		return dc, nil
	}
}

// controlFromTar finds and parses the control member of control.tar
func controlFromTar(data []byte) (*control.Record, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("control file not found in control.tar")
		}
		if err != nil {
			return nil, fmt.Errorf("reading control tar: %w", err)
		}
		if header.Name != "./control" && header.Name != "control" {
			continue
		}
		rec, err := control.NewParser(tr, "control").Next()
		if err != nil {
			return nil, fmt.Errorf("parsing embedded control: %w", err)
		}
		return rec, nil
	}
}

// Mismatch compares the embedded control identity against the index entry
// and returns a description of the first discrepancy, or "" when they agree.
func (dc *DebControl) Mismatch(b *deb.BinaryPackage) string {
	if dc.Package != b.Name {
		return fmt.Sprintf("embedded control names package %q", dc.Package)
	}
	if dc.Version != b.Version.String() {
		return fmt.Sprintf("embedded control declares version %s, index has %s", dc.Version, b.Version)
	}
	if dc.Architecture != string(b.Architecture) {
		return fmt.Sprintf("embedded control declares architecture %s, index has %s", dc.Architecture, b.Architecture)
	}
	if b.SHA256 != "" && dc.SHA256 != b.SHA256 {
		return "file SHA256 does not match the index entry"
	}
	return ""
}
