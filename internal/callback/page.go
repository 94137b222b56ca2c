package callback

import (
	"fmt"
	"html"
	"net/http"
)

// writeCallbackPage writes a minimal HTML response to the browser tab.
func writeCallbackPage(w http.ResponseWriter, status int, success bool, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if success {
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>LinkedIn Authorization Received</title></head>
<body style="font-family:sans-serif;text-align:center;padding:4rem">
  <h1 style="color:#0a66c2">&#10003; Authorization Received</h1>
  <p>LinkedIn sent the authorization back to your assistant.</p>
  <p>You can close this tab and return to your assistant.</p>
</body>
</html>`)
		return
	}

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>LinkedIn Authorization Failed</title></head>
<body style="font-family:sans-serif;text-align:center;padding:4rem">
  <h1 style="color:#cb2431">&#10007; Authorization Failed</h1>
  <p>%s</p>
  <p>You can close this tab and check your assistant for details.</p>
</body>
</html>`, html.EscapeString(msg))
}
