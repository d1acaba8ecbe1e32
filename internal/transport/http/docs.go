package httpserver

import (
	_ "embed"
	"net/http"

	"github.com/labstack/echo/v4"
)

const docsSpecPath = APIPrefix + "/docs/openapi.json"

//go:embed openapi.json
var openAPISpec []byte

// swagger-ui assets come from a CDN, so the page widens the default CSP.
const docsCSP = "default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com; " +
	"style-src 'self' 'unsafe-inline' https://unpkg.com; img-src 'self' data: https://unpkg.com"

const docsPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Auth API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function () {
      SwaggerUIBundle({ url: "` + docsSpecPath + `", dom_id: "#swagger-ui" });
    };
  </script>
</body>
</html>
`

func docsUI(c echo.Context) error {
	c.Response().Header().Set("Content-Security-Policy", docsCSP)
	return c.HTML(http.StatusOK, docsPage)
}

func docsSpec(c echo.Context) error {
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, openAPISpec)
}
