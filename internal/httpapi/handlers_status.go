package httpapi

import (
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/suifx/faucet/internal/chain"
	"github.com/suifx/faucet/internal/health"
)

// statusPage is a single server-rendered operator view; the public faucet
// frontend lives elsewhere and talks to the JSON API.
const statusPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="30">
<title>faucet status</title>
<style>
body { font-family: monospace; margin: 2rem; background: #101418; color: #d8dee9; }
h1 { font-size: 1.2rem; }
table { border-collapse: collapse; margin-top: 1rem; }
td, th { border: 1px solid #2e3440; padding: 0.35rem 0.8rem; text-align: left; }
.healthy { color: #a3be8c; }
.degraded { color: #ebcb8b; }
.down { color: #bf616a; }
</style>
</head>
<body>
<h1>faucet &mdash; {{.Network}} ({{.Mode}} mode)</h1>
<table>
<tr><th>uptime</th><td>{{.Uptime}}</td></tr>
{{if .FaucetAddress}}<tr><th>faucet address</th><td>{{.FaucetAddress}}</td></tr>{{end}}
{{if .Balance}}<tr><th>wallet balance</th><td>{{.Balance}} base-units</td></tr>{{end}}
<tr><th>requests total</th><td>{{.Total}}</td></tr>
<tr><th>successful</th><td>{{.Successful}}</td></tr>
<tr><th>failed</th><td>{{.Failed}}</td></tr>
<tr><th>distributed</th><td>{{.Distributed}} base-units</td></tr>
</table>
<table>
<tr><th>component</th><th>state</th><th>checks</th><th>errors</th></tr>
{{range .Components}}<tr><td>{{.Component}}</td><td class="{{.State}}">{{.State}}</td><td>{{.TotalChecks}}</td><td>{{.TotalErrors}}</td></tr>
{{end}}</table>
<p>rendered {{.RenderedAt}}</p>
</body>
</html>
`

var statusTmpl = template.Must(template.New("status").Parse(statusPage))

type statusPageData struct {
	Network       string
	Mode          string
	Uptime        string
	FaucetAddress string
	Balance       string
	Total         int64
	Successful    int64
	Failed        int64
	Distributed   string
	Components    []health.Stats
	RenderedAt    string
}

// StatusPageHandler renders the HTML dashboard. Every field degrades to
// blank rather than failing the page; this endpoint is what operators reach
// for when something else is already broken.
func StatusPageHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode := d.Faucet.EffectiveMode(r.Context())
		data := statusPageData{
			Network:    d.Chain.Network(),
			Mode:       string(mode),
			Uptime:     time.Since(d.StartedAt).Round(time.Second).String(),
			Components: d.Health.AllStats(),
			RenderedAt: time.Now().UTC().Format(time.RFC3339),
		}

		if mode == chain.ModeWallet {
			data.FaucetAddress = d.Chain.FaucetAddress()
			if balance, err := d.Chain.WalletBalance(r.Context()); err == nil {
				data.Balance = strconv.FormatInt(balance, 10)
			}
		}

		if txStats, err := d.Store.TransactionStats(r.Context()); err == nil {
			data.Total = txStats.Total
			data.Successful = txStats.Successful
			data.Failed = txStats.Failed
			data.Distributed = strconv.FormatInt(txStats.TotalAmount, 10)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := statusTmpl.Execute(w, data); err != nil {
			d.Logger.Warn("status_page_render_failed", "error", err.Error())
		}
	}
}
