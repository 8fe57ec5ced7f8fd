// Package assets holds the resources bundled into the binaries.
package assets

import (
	"embed"

	"github.com/e7canasta/effect-quickstart/internal/provision"
)

//go:embed effects resources.zip
var files embed.FS

// FS returns the raw bundled files.
func FS() embed.FS { return files }

// Bundle returns the default provisioning bundle: resources.zip (licenses
// and engine descriptors) plus the effects tree.
func Bundle() provision.Bundle {
	return provision.Bundle{
		FS:      files,
		Archive: "resources.zip",
		Trees:   []string{"effects"},
	}
}
