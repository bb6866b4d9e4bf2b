// Package web holds the HTML templates and static assets compiled into the
// binary.
package web

import "embed"

//go:embed templates
var Templates embed.FS

// Assets is served under /assets/.
//
//go:embed assets
var Assets embed.FS
