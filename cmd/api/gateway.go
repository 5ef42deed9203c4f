package main

import (
	"fmt"
	"html/template"
	"net/http"

	"cartjo/internal/payments"
)

// autoPostTmpl renders the tokenization form as a page that posts itself
// into a hidden frame the moment it loads. The shopper stays on our page;
// only the frame talks to the gateway.
var autoPostTmpl = template.Must(template.New("autopost").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Processing payment…</title>
    <style>
      body { font-family: system-ui, -apple-system, Segoe UI, Roboto; padding: 24px; }
      .muted { opacity: 0.7; margin-top: 12px; }
    </style>
  </head>
  <body>
    <h3>Processing your payment…</h3>
    <p class="muted">Please keep this page open. You will be redirected automatically.</p>

    <iframe name="{{.Frame}}" style="display:none" title="payment"></iframe>

    <form id="tokenization" method="POST" action="{{.Action}}" target="{{.Frame}}">
      {{- range .Fields}}
      <input type="hidden" name="{{.Name}}" value="{{.Value}}" />
      {{- end}}
    </form>

    <script>
      document.getElementById("tokenization").submit();
    </script>
  </body>
</html>`))

func (app *application) renderAutoPostForm(w http.ResponseWriter, r *http.Request, form *payments.Form) {
	data := struct {
		Frame  string
		Action string
		Fields []payments.Field
	}{
		Frame:  form.Frame(),
		Action: form.Action(),
		Fields: form.Fields(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := autoPostTmpl.Execute(w, data); err != nil {
		app.logger.Errorw("render tokenization form", "error", err)
	}
}

// GatewayReturn godoc
//
//	@Summary		Gateway return endpoint
//	@Description	Receives the signed tokenization/charge result posted back by the gateway through the shopper's browser
//	@Tags			Checkout
//	@Accept			x-www-form-urlencoded
//	@Produce		html
//	@Success		200	{string}	string	"Result page"
//	@Router			/checkout/gateway/return [post]
func (app *application) gatewayReturnHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	// The browser posts cross-origin from the gateway page, so Origin (or
	// Referer on older agents) names the gateway. Anything else is noise
	// and must not disturb any attempt.
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}

	params := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	// Verification, correlation and state changes all happen inside the
	// orchestrator; this handler acknowledges regardless, exactly once,
	// so the gateway page never sees an error for a message we dropped.
	app.checkout.HandleGatewayMessage(r.Context(), origin, params)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!doctype html><html><body></body></html>`)
}
