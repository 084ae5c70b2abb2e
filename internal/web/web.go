// Package web embeds the browser chat client.
package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var assets embed.FS

// Static returns the asset tree rooted at static/.
func Static() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		// the directory is embedded at build time
		panic(err)
	}
	return sub
}

// Index returns the chat page.
func Index() ([]byte, error) {
	return assets.ReadFile("static/index.html")
}
