package routes

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestScriptTag_External_NoIntegrity(t *testing.T) {
	out := ScriptTag("https://cdn.example.com/lib.js")
	if strings.Contains(string(out), "integrity=") {
		t.Fatalf("external script should not have integrity: %q", out)
	}
}

func TestScriptTag_Local_ComputesIntegrity(t *testing.T) {
	content := []byte("console.log('sri-test');\n")
	orig := assetFS
	assetFS = fstest.MapFS{"assets/js/test-sri.js": {Data: content}}
	defer func() { assetFS = orig }()

	h := sha512.New384()
	h.Write(content)
	expected := "sha384-" + base64.StdEncoding.EncodeToString(h.Sum(nil))

	src := "/assets/js/test-sri.js"
	out := ScriptTag(src)
	want := fmt.Sprintf(`<script src="%s" integrity="%s" crossorigin="anonymous"></script>`, src, expected)
	if string(out) != want {
		t.Fatalf("unexpected output, got: %q, want: %q", out, want)
	}
}

func TestScriptTag_EscapesAttributes(t *testing.T) {
	out := ScriptTag(`/" onerror="alert(1)`)
	if strings.Contains(string(out), `onerror="`) {
		t.Fatalf("attribute injection detected in output: %q", out)
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(time.Time{}); got != "" {
		t.Errorf("zero time = %q", got)
	}
	ts := time.Date(2025, 6, 1, 9, 30, 0, 0, time.Local)
	if got := formatTime(ts); got != "2025/06/01 09:30" {
		t.Errorf("formatTime = %q", got)
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := map[string]string{
		"/admin/rentals":       "/admin/rentals",
		"":                     "/admin",
		"//evil.example.com":   "/admin",
		"https://evil.example": "/admin",
		"/\\evil.example.com":  "/admin",
	}
	for in, want := range tests {
		if got := safeRedirect(in, "/admin"); got != want {
			t.Errorf("safeRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}
