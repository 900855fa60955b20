// web/embed.go
package web

import "embed"

//go:embed static/*
var staticFiles embed.FS

// GetFile returns an embedded page by file name.
func GetFile(name string) ([]byte, error) {
	return staticFiles.ReadFile("static/" + name)
}
