package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
)

const testRelease = `Origin: Example
Label: Example
Suite: stable
Codename: bookworm
Date: Sat, 29 Aug 2026 10:00:00 UTC
Architectures: amd64 arm64
Components: main contrib
SHA256:
 0000000000000000000000000000000000000000000000000000000000000000 100 main/binary-amd64/Packages
`

func TestParseRelease(t *testing.T) {
	r, err := ParseRelease([]byte(testRelease), "InRelease")
	if err != nil {
		t.Fatalf("ParseRelease failed: %v", err)
	}
	if r.Suite != "stable" || r.Codename != "bookworm" {
		t.Errorf("suite/codename = %q/%q", r.Suite, r.Codename)
	}
	if len(r.Architectures) != 2 || len(r.Components) != 2 {
		t.Errorf("scope = %v / %v", r.Architectures, r.Components)
	}
	e, ok := r.SHA256["main/binary-amd64/Packages"]
	if !ok {
		t.Fatal("checksum entry not parsed")
	}
	if e.Size != 100 {
		t.Errorf("entry size = %d, want 100", e.Size)
	}
}

func TestReleaseCompliance(t *testing.T) {
	r, err := ParseRelease([]byte(testRelease), "InRelease")
	if err != nil {
		t.Fatalf("ParseRelease failed: %v", err)
	}
	if diags := r.Compliance(); len(diags) != 0 {
		t.Errorf("compliant release produced diagnostics: %v", diags)
	}

	bare, err := ParseRelease([]byte("Origin: X\n"), "Release")
	if err != nil {
		t.Fatalf("ParseRelease failed: %v", err)
	}
	diags := bare.Compliance()
	// Missing suite/codename, architectures, components, date, checksums
	if len(diags) != 5 {
		t.Errorf("got %d compliance diagnostics, want 5: %v", len(diags), diags)
	}
}

func TestVerifyIndex(t *testing.T) {
	body := []byte("Package: hello\n")
	sum := sha256.Sum256(body)
	release := fmt.Sprintf("Suite: s\nSHA256:\n %s %d main/binary-amd64/Packages\n",
		hex.EncodeToString(sum[:]), len(body))

	r, err := ParseRelease([]byte(release), "Release")
	if err != nil {
		t.Fatalf("ParseRelease failed: %v", err)
	}

	if err := r.VerifyIndex("main/binary-amd64/Packages", body); err != nil {
		t.Errorf("matching body rejected: %v", err)
	}
	if err := r.VerifyIndex("main/binary-amd64/Packages", []byte("tampered")); err == nil {
		t.Error("tampered body accepted")
	}
	// Unlisted paths pass
	if err := r.VerifyIndex("main/source/Sources", body); err != nil {
		t.Errorf("unlisted path rejected: %v", err)
	}
}

func TestRepoStandardLayout(t *testing.T) {
	r := Repo{BaseURL: "http://deb.example.org/debian", Suite: "stable"}

	inRelease, release, gpg := r.ReleaseURLs()
	if inRelease != "http://deb.example.org/debian/dists/stable/InRelease" {
		t.Errorf("InRelease URL = %q", inRelease)
	}
	if release != "http://deb.example.org/debian/dists/stable/Release" {
		t.Errorf("Release URL = %q", release)
	}
	if gpg != "http://deb.example.org/debian/dists/stable/Release.gpg" {
		t.Errorf("Release.gpg URL = %q", gpg)
	}

	if p := r.BinaryIndexPath("main", "amd64"); p != "main/binary-amd64/Packages" {
		t.Errorf("binary index path = %q", p)
	}
	if p := r.SourceIndexPath("main"); p != "main/source/Sources" {
		t.Errorf("source index path = %q", p)
	}
	if u := r.FileURL("pool/main/h/hello/hello_1.0_amd64.deb"); u != "http://deb.example.org/debian/pool/main/h/hello/hello_1.0_amd64.deb" {
		t.Errorf("file URL = %q", u)
	}
}

func TestRepoFlatLayout(t *testing.T) {
	r := Repo{BaseURL: "http://pkgs.example.org/apt/", FlatPath: "./"}
	if !r.Flat() {
		t.Fatal("repository with a flat path should be flat")
	}

	inRelease, _, _ := r.ReleaseURLs()
	if inRelease != "http://pkgs.example.org/apt/InRelease" {
		t.Errorf("InRelease URL = %q", inRelease)
	}
	if p := r.BinaryIndexPath("", ""); p != "Packages" {
		t.Errorf("binary index path = %q", p)
	}

	// Flat path with a subdirectory
	sub := Repo{BaseURL: "http://pkgs.example.org", FlatPath: "dists/unstable"}
	inRelease, _, _ = sub.ReleaseURLs()
	if inRelease != "http://pkgs.example.org/dists/unstable/InRelease" {
		t.Errorf("subdirectory InRelease URL = %q", inRelease)
	}
}

func TestUnsignedInReleasePassthrough(t *testing.T) {
	// With no keyring, unsigned content is accepted with a warning
	var k *Keyring
	plain, err := k.VerifyInRelease([]byte(testRelease))
	if err != nil {
		t.Fatalf("nil keyring should pass through: %v", err)
	}
	if string(plain) != testRelease {
		t.Error("passthrough altered the payload")
	}
}
