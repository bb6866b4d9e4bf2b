package routes

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"html"
	"html/template"
	"io"
	"io/fs"
	"strings"
	"sync"
	"time"

	"rental-portal/web"
)

// sriCache caches computed SRI integrity strings keyed by the src path.
var sriCache sync.Map // map[string]string

// assetFS is where /assets/ URLs are looked up.
var assetFS fs.FS = web.Assets

// computeLocalSRI computes the sha384 SRI for an /assets/ URL. Other URLs
// get none.
func computeLocalSRI(src string) (string, error) {
	if !strings.HasPrefix(src, "/assets/") {
		return "", nil
	}

	f, err := assetFS.Open(strings.TrimPrefix(src, "/"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha512.New384()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha384-" + base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// ScriptTag returns a script tag for src, with an integrity attribute for
// local assets.
func ScriptTag(src string) template.HTML {
	escSrc := html.EscapeString(src)

	var integrity string
	if v, ok := sriCache.Load(src); ok {
		integrity = v.(string)
	} else if sri, err := computeLocalSRI(src); err == nil && sri != "" {
		sriCache.Store(src, sri)
		integrity = sri
	}

	if integrity == "" {
		return template.HTML(fmt.Sprintf(`<script src="%s"></script>`, escSrc))
	}
	return template.HTML(fmt.Sprintf(`<script src="%s" integrity="%s" crossorigin="anonymous"></script>`,
		escSrc, html.EscapeString(integrity)))
}

// formatTime renders a timestamp in local time for tables, empty for zero.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006/01/02 15:04")
}

// TemplateFuncs returns a FuncMap with template helpers for routes templates.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"script_tag":  ScriptTag,
		"format_time": formatTime,
	}
}
