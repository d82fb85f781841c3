package deb

// Field names of binary (Packages) and source (Sources) index stanzas.
// Lookups through control.Record are case-insensitive; these constants
// carry the canonical capitalization for diagnostics.
const (
	FieldPackage       = "Package"
	FieldSource        = "Source"
	FieldVersion       = "Version"
	FieldArchitecture  = "Architecture"
	FieldMaintainer    = "Maintainer"
	FieldDescription   = "Description"
	FieldSection       = "Section"
	FieldPriority      = "Priority"
	FieldEssential     = "Essential"
	FieldMultiArch     = "Multi-Arch"
	FieldInstalledSize = "Installed-Size"
	FieldFilename      = "Filename"
	FieldSize          = "Size"
	FieldMD5sum        = "MD5sum"
	FieldSHA1          = "SHA1"
	FieldSHA256        = "SHA256"
	FieldSHA512        = "SHA512"

	FieldDepends    = "Depends"
	FieldPreDepends = "Pre-Depends"
	FieldRecommends = "Recommends"
	FieldSuggests   = "Suggests"
	FieldEnhances   = "Enhances"
	FieldConflicts  = "Conflicts"
	FieldBreaks     = "Breaks"
	FieldReplaces   = "Replaces"
	FieldProvides   = "Provides"

	FieldBinary            = "Binary"
	FieldFormat            = "Format"
	FieldDirectory         = "Directory"
	FieldFiles             = "Files"
	FieldChecksumsSha256   = "Checksums-Sha256"
	FieldBuildDepends      = "Build-Depends"
	FieldBuildDependsIndep = "Build-Depends-Indep"
)

// RelationFields lists the binary relationship fields in the order the
// resolver walks them.
var RelationFields = []string{
	FieldPreDepends,
	FieldDepends,
	FieldRecommends,
	FieldSuggests,
	FieldConflicts,
	FieldBreaks,
	FieldReplaces,
	FieldProvides,
}
