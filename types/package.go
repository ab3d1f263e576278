package types

import "fmt"

// PackageID identifies one concrete version of a package in the registry.
type PackageID struct {
	Name     string `msgpack:"name" json:"name"`
	Version  string `msgpack:"version" json:"version"`
	Checksum string `msgpack:"checksum,omitempty" json:"checksum,omitempty"`
}

func (id PackageID) String() string {
	return fmt.Sprintf("%s v%s", id.Name, id.Version)
}

// ResolvedPackage is a package whose sources are present on local storage.
// It is owned by the orchestrator for the duration of one package's turn.
type ResolvedPackage struct {
	// ID is the registry identity of the package.
	ID PackageID `msgpack:"id" json:"id"`
	// DisplayName is the human-readable name used in notices.
	DisplayName string `msgpack:"display_name" json:"display_name"`
	// ManifestPath is the path to the package manifest (Cargo.toml).
	ManifestPath string `msgpack:"manifest_path" json:"manifest_path"`
	// SourceDir is the extracted package root.
	SourceDir string `msgpack:"source_dir" json:"source_dir"`
}
