// Package check orchestrates a verification run: fetch the release and its
// indices, validate every record against the policy rule set, build the
// repository index, and run the closure checks. Per-record work is
// parallel; the index build is a full barrier between the validation and
// resolution phases.
package check

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/apt-tools/aptcheck/internal/control"
	"github.com/apt-tools/aptcheck/internal/deb"
	"github.com/apt-tools/aptcheck/internal/fetch"
	"github.com/apt-tools/aptcheck/internal/index"
	"github.com/apt-tools/aptcheck/internal/models"
	"github.com/apt-tools/aptcheck/internal/policy"
	"github.com/apt-tools/aptcheck/internal/report"
	"github.com/apt-tools/aptcheck/internal/resolve"
)

// IndexInput is one decompressed index body with the provenance metadata
// that ends up in diagnostics.
type IndexInput struct {
	// Origin names the index in diagnostics, e.g.
	// "main/binary-amd64/Packages".
	Origin    string
	Component string
	// Arch is the index architecture; unused for source indices.
	Arch deb.Arch
	Body []byte
}

// Snapshot is the complete input of the core verification: every binary
// and source index of the repository scope, already fetched and
// decompressed.
type Snapshot struct {
	Binary []IndexInput
	Source []IndexInput
}

// Checker runs the verification pipeline for one configuration
type Checker struct {
	cfg     *models.CheckConfig
	client  *fetch.Client
	keyring *fetch.Keyring
	rules   *policy.RuleSet

	repo    fetch.Repo
	release *fetch.Release

	// effective scope after merging config with the Release declaration
	architectures []deb.Arch
	components    []string

	// diagnostics produced while fetching, merged into the report
	fetchIssues []report.Diagnostic
}

// New creates a Checker. The configuration must already be validated; the
// policy version is resolved here and an unknown one is run-fatal.
func New(cfg *models.CheckConfig, client *fetch.Client, keyring *fetch.Keyring) (*Checker, error) {
	rules, err := policy.RuleSetFor(cfg.PolicyVersion)
	if err != nil {
		return nil, &models.CheckError{Type: models.ErrInvalidConfig, Err: err}
	}
	return &Checker{
		cfg:     cfg,
		client:  client,
		keyring: keyring,
		rules:   rules,
		repo: fetch.Repo{
			BaseURL:  cfg.RepoURL,
			Suite:    cfg.Suite,
			FlatPath: cfg.FlatPath,
		},
	}, nil
}

// Run executes the full remote pipeline and returns the ordered report
func (c *Checker) Run(ctx context.Context) (*report.Result, error) {
	release, err := c.fetchRelease(ctx)
	if err != nil {
		return nil, err
	}
	c.release = release

	if err := c.resolveScope(); err != nil {
		return nil, err
	}
	logrus.Infof("Checking components %v for architectures %v", c.components, c.architectures)

	snap, err := c.fetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return c.VerifySnapshot(ctx, snap)
}

// fetchRelease downloads and verifies the InRelease (or Release +
// Release.gpg) document. Failure here is run-fatal: without a trusted
// Release there is nothing meaningful to check.
func (c *Checker) fetchRelease(ctx context.Context) (*fetch.Release, error) {
	inReleaseURL, releaseURL, releaseGPGURL := c.repo.ReleaseURLs()

	if data, err := c.client.Get(ctx, inReleaseURL); err == nil {
		plain, err := c.keyring.VerifyInRelease(data)
		if err != nil {
			return nil, err
		}
		return fetch.ParseRelease(plain, "InRelease")
	}

	logrus.Debug("InRelease not found, falling back to Release")
	data, err := c.client.Get(ctx, releaseURL)
	if err != nil {
		return nil, &models.CheckError{Type: models.ErrFetch, Context: releaseURL, Err: err}
	}
	if sig, err := c.client.Get(ctx, releaseGPGURL); err == nil {
		if err := c.keyring.VerifyDetached(data, sig); err != nil {
			return nil, err
		}
	} else if c.keyring != nil {
		return nil, &models.CheckError{Type: models.ErrSignature, Context: releaseGPGURL, Err: err}
	} else {
		logrus.Warn("Repository is unsigned: no InRelease and no Release.gpg")
	}
	return fetch.ParseRelease(data, "Release")
}

// resolveScope merges the configured component and architecture lists with
// what the Release declares. A configured architecture the Release does not
// carry is a configuration error, detected before any index is fetched.
func (c *Checker) resolveScope() error {
	c.components = c.cfg.Components
	if len(c.components) == 0 {
		c.components = c.release.Components
	}
	if len(c.components) == 0 && c.repo.Flat() {
		c.components = []string{""}
	}

	if len(c.cfg.Architectures) == 0 {
		for _, a := range c.release.Architectures {
			if a != deb.ArchSource && a != deb.ArchAll {
				c.architectures = append(c.architectures, a)
			}
		}
		return nil
	}

	declared := make(map[deb.Arch]bool, len(c.release.Architectures))
	for _, a := range c.release.Architectures {
		declared[a] = true
	}
	for _, a := range c.cfg.ArchList() {
		if len(declared) > 0 && !declared[a] {
			return &models.CheckError{
				Type: models.ErrInvalidConfig,
				Err:  fmt.Errorf("architecture %q is not declared by the release", a),
			}
		}
		c.architectures = append(c.architectures, a)
	}
	return nil
}

// fetchSnapshot downloads every in-scope index. A missing source index is
// tolerated with a warning; a missing binary index is a fetch error
// surfaced as a diagnostic later, so the run can continue with the rest.
// Only transport failures beyond a plain 404 abort the run.
func (c *Checker) fetchSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	for _, component := range c.components {
		path := c.repo.SourceIndexPath(component)
		ix, err := fetch.FetchIndex(ctx, c.client, c.repo, c.release, path)
		if err != nil {
			logrus.Warnf("No source index for component %q: %v", component, err)
		} else {
			snap.Source = append(snap.Source, IndexInput{
				Origin:    path,
				Component: component,
				Body:      ix.Body,
			})
		}

		for _, arch := range c.architectures {
			path := c.repo.BinaryIndexPath(component, arch)
			ix, err := fetch.FetchIndex(ctx, c.client, c.repo, c.release, path)
			if errors.Is(err, fetch.ErrNotFound) {
				c.fetchIssues = append(c.fetchIssues, report.Diagnostic{
					Severity: report.SeverityError,
					Category: report.CategoryConsistency,
					Code:     report.CodeBrokenFile,
					Message:  fmt.Sprintf("binary index %s is missing", path),
					Origin:   report.Provenance{File: path},
				})
				continue
			}
			if err != nil {
				return nil, &models.CheckError{Type: models.ErrFetch, Context: path, Err: err}
			}
			snap.Binary = append(snap.Binary, IndexInput{
				Origin:    path,
				Component: component,
				Arch:      arch,
				Body:      ix.Body,
			})
		}
	}
	return snap, nil
}

// indexResult collects one worker's output: validated records plus the
// private diagnostic batch. Batches are merged in input order so goroutine
// scheduling cannot change the observable report.
type indexResult struct {
	binaries    []*deb.BinaryPackage
	sources     []*deb.SourcePackage
	diagnostics []report.Diagnostic
}

// VerifySnapshot runs the core engine over already-fetched indices. This
// is the entry point shared by Run and the tests; it performs no I/O
// beyond the optional file probes.
func (c *Checker) VerifySnapshot(ctx context.Context, snap *Snapshot) (*report.Result, error) {
	agg := report.NewAggregator(c.cfg.Overrides())
	if c.release != nil {
		agg.Merge(c.release.Compliance())
	}
	agg.Merge(c.fetchIssues)

	pctx := &policy.Context{Architectures: c.effectiveArchitectures(snap)}

	// Phase 1: parse and validate every index in parallel. Each worker
	// fills its own slot; no shared mutable state.
	results := make([]indexResult, len(snap.Binary)+len(snap.Source))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, in := range snap.Binary {
		i, in := i, in
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.validateBinaryIndex(pctx, in)
			return nil
		})
	}
	for i, in := range snap.Source {
		i, in := len(snap.Binary)+i, in
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.validateSourceIndex(pctx, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Barrier: the index must be complete before any resolution query.
	ix := index.New()
	for _, res := range results {
		agg.Merge(res.diagnostics)
		for _, b := range res.binaries {
			ix.AddBinary(b)
		}
		for _, s := range res.sources {
			ix.AddSource(s)
		}
	}
	logrus.Infof("Indexed %d binary packages and %d source names", ix.BinaryCount(), len(ix.Sources()))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 2: closure checks against the immutable index.
	agg.Merge(c.resolveAll(ctx, ix, pctx.Architectures))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 3 (optional): file existence probes and deep inspection.
	if c.client != nil && (c.cfg.CheckFiles || c.cfg.InspectDebs) {
		agg.Merge(c.checkFiles(ctx, ix))
	}

	diagnostics := agg.Report()
	for _, d := range diagnostics {
		if d.Severity == report.SeverityError {
			logrus.Error(d)
		} else {
			logrus.Warn(d)
		}
	}
	logrus.Infof("Found %d issues", len(diagnostics))

	suite := c.cfg.Suite
	if suite == "" {
		suite = c.cfg.FlatPath
	}
	return report.NewResult(c.cfg.RepoURL, suite, diagnostics), nil
}

// effectiveArchitectures returns the configured scope, falling back to the
// architectures present in the snapshot when no scope was resolved (tests
// drive VerifySnapshot directly).
func (c *Checker) effectiveArchitectures(snap *Snapshot) []deb.Arch {
	if len(c.architectures) > 0 {
		return c.architectures
	}
	seen := make(map[deb.Arch]bool)
	var out []deb.Arch
	for _, in := range snap.Binary {
		if in.Arch != "" && !seen[in.Arch] {
			seen[in.Arch] = true
			out = append(out, in.Arch)
		}
	}
	return out
}

// validateBinaryIndex parses one Packages index and validates every stanza
func (c *Checker) validateBinaryIndex(pctx *policy.Context, in IndexInput) indexResult {
	var res indexResult
	records, err := control.ParseAll(bytes.NewReader(in.Body), in.Origin, func(merr *control.MalformedRecordError) {
		res.diagnostics = append(res.diagnostics, report.Diagnostic{
			Severity: report.SeverityError,
			Category: report.CategorySyntax,
			Code:     report.CodeMalformedRecord,
			Message:  merr.Msg,
			Origin:   report.Provenance{File: merr.File, Line: merr.Line},
		})
	})
	if err != nil {
		// Read errors over a byte slice cannot happen; keep the guard for
		// the contract.
		logrus.Errorf("Reading %s: %v", in.Origin, err)
		return res
	}

	for _, rec := range records {
		b, fieldErrs := deb.NewBinaryPackage(rec)
		diags, indexable := c.rules.ValidateBinary(pctx, b, fieldErrs)
		res.diagnostics = append(res.diagnostics, diags...)
		if indexable {
			res.binaries = append(res.binaries, b)
		}
	}
	logrus.Debugf("Validated %d records from %s", len(records), in.Origin)
	return res
}

// validateSourceIndex parses one Sources index and validates every stanza
func (c *Checker) validateSourceIndex(pctx *policy.Context, in IndexInput) indexResult {
	var res indexResult
	records, err := control.ParseAll(bytes.NewReader(in.Body), in.Origin, func(merr *control.MalformedRecordError) {
		res.diagnostics = append(res.diagnostics, report.Diagnostic{
			Severity: report.SeverityError,
			Category: report.CategorySyntax,
			Code:     report.CodeMalformedRecord,
			Message:  merr.Msg,
			Origin:   report.Provenance{File: merr.File, Line: merr.Line},
		})
	})
	if err != nil {
		logrus.Errorf("Reading %s: %v", in.Origin, err)
		return res
	}

	for _, rec := range records {
		s, fieldErrs := deb.NewSourcePackage(rec)
		diags, indexable := c.rules.ValidateSource(pctx, s, fieldErrs)
		res.diagnostics = append(res.diagnostics, diags...)
		if indexable {
			res.sources = append(res.sources, s)
		}
	}
	logrus.Debugf("Validated %d records from %s", len(records), in.Origin)
	return res
}

// resolveAll runs the per-package closure checks with a worker pool over
// contiguous chunks, merging private batches in chunk order.
func (c *Checker) resolveAll(ctx context.Context, ix *index.Index, architectures []deb.Arch) []report.Diagnostic {
	opts := resolve.DefaultOptions()
	if c.cfg.RecommendsSeverity != "" {
		opts.Recommends, _ = report.ParseSeverity(c.cfg.RecommendsSeverity)
	}
	if c.cfg.SuggestsSeverity != "" {
		opts.Suggests, _ = report.ParseSeverity(c.cfg.SuggestsSeverity)
	}
	r := resolve.New(ix, opts)

	var binaries []*deb.BinaryPackage
	ix.Binaries(func(b *deb.BinaryPackage) {
		binaries = append(binaries, b)
	})

	workers := runtime.NumCPU()
	if workers > len(binaries) {
		workers = len(binaries)
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (len(binaries) + workers - 1) / workers

	batches := make([][]report.Diagnostic, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > len(binaries) {
			hi = len(binaries)
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			var batch []report.Diagnostic
			for _, b := range binaries[lo:hi] {
				if ctx.Err() != nil {
					return
				}
				batch = append(batch, r.CheckBinary(b)...)
			}
			batches[w] = batch
		}(w, lo, hi)
	}
	wg.Wait()

	var out []report.Diagnostic
	for _, batch := range batches {
		out = append(out, batch...)
	}

	// Source-side linkage runs single-threaded; source counts are small.
	if len(architectures) == 0 {
		architectures = ix.Architectures()
	}
	for _, versions := range ix.Sources() {
		for _, s := range versions {
			out = append(out, r.CheckSource(s, architectures)...)
		}
	}
	return out
}

// checkFiles probes every referenced package file. With InspectDebs set the
// file is downloaded and its embedded control compared to the index entry.
func (c *Checker) checkFiles(ctx context.Context, ix *index.Index) []report.Diagnostic {
	var out []report.Diagnostic
	ix.Binaries(func(b *deb.BinaryPackage) {
		if ctx.Err() != nil || b.Filename == "" {
			return
		}
		url := c.repo.FileURL(b.Filename)

		if c.cfg.InspectDebs {
			data, err := c.client.Get(ctx, url)
			if err != nil {
				out = append(out, brokenFile(b, fmt.Sprintf("file %s cannot be fetched: %v", b.Filename, err)))
				return
			}
			dc, err := fetch.InspectDeb(data)
			if err != nil {
				out = append(out, brokenFile(b, fmt.Sprintf("file %s is not a valid deb: %v", b.Filename, err)))
				return
			}
			if msg := dc.Mismatch(b); msg != "" {
				out = append(out, brokenFile(b, fmt.Sprintf("file %s: %s", b.Filename, msg)))
			}
			return
		}

		size, _, err := c.client.Head(ctx, url)
		if err != nil {
			out = append(out, brokenFile(b, fmt.Sprintf("file %s is broken: %v", b.Filename, err)))
			return
		}
		if b.Size > 0 && size >= 0 && size != b.Size {
			out = append(out, brokenFile(b, fmt.Sprintf("file %s has size %d, index declares %d", b.Filename, size, b.Size)))
		}
	})
	return out
}

func brokenFile(b *deb.BinaryPackage, msg string) report.Diagnostic {
	return report.Diagnostic{
		Severity: report.SeverityError,
		Category: report.CategoryConsistency,
		Code:     report.CodeBrokenFile,
		Message:  msg,
		Origin:   report.Provenance{File: b.Record.File, Line: b.Record.Line, Field: deb.FieldFilename},
	}
}
