package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

// loadEnvFile reads ~/.suifaucet/env and sets any key=value pairs not
// already present in the process environment. This lets faucetctl work out
// of the box without shell profile configuration.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.suifaucet/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("faucetctl %s\n", version)
	case "login":
		doLogin(args)
	case "status":
		doStatus()
	case "dashboard":
		doDashboard()
	case "config":
		doConfig()
	case "transactions", "txs":
		doTransactions(args)
	case "activities", "audit":
		doActivities(args)
	case "settings":
		doSettings()
	case "set":
		doSet(args)
	case "set-json":
		doSetJSON(args)
	case "clients", "client":
		doClients()
	case "register-client":
		doRegisterClient(args)
	case "deactivate-client":
		doDeactivateClient(args)
	case "rotate-client-key":
		doRotateClientKey(args)
	case "test-send":
		doTestSend(args)
	case "flush-cache":
		doFlushCache()
	case "events":
		doEvents()
	case "request":
		doFaucetRequest(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `faucetctl - CLI for the SUI faucet admin API

Usage: faucetctl <command> [arguments]

Environment:
  FAUCET_ADMIN_URL       Base URL (default: http://localhost:3001)
  FAUCET_ADMIN_TOKEN     Bearer token for admin endpoints
  FAUCET_ADMIN_USERNAME  Used by login when no arguments are given
  FAUCET_ADMIN_PASSWORD  Used by login when no arguments are given
  FAUCET_API_KEY         Sent as X-API-Key by the request command

  ~/.suifaucet/env       Auto-sourced on startup. Explicit environment
                         variables take precedence.

Commands:
  login [user] [pass]        Obtain a session token and print it
  status                     Show service health and dispatch mode
  dashboard                  Show the aggregated dashboard JSON
  config                     Show effective non-secret configuration

  transactions [--limit N]   Show recent dispatch journal entries
  activities [--limit N]     Show the admin audit trail

  settings                   List runtime rate-limit settings
  set <name> <value>         Update one setting
  set-json <json>            Bulk-update settings from a JSON object

  clients                    List registered API clients
  register-client <name> [homepage]
                             Register a client (prints the key once)
  deactivate-client <id>     Deactivate a client
  rotate-client-key <id>     Regenerate a client key (prints it once)

  test-send [address]        Send a 1-unit test transaction (wallet mode)
  flush-cache                Clear rate-limit counters
  events                     Stream real-time admin events

  request <address>          Request tokens from the public endpoint

  version                    Show version
  help                       Show this help

Examples:
  export FAUCET_ADMIN_TOKEN=$(faucetctl login admin swordfish)
  faucetctl status
  faucetctl transactions --limit 20
  faucetctl set faucet_cooldown_seconds 600
  faucetctl set-json '{"faucet_max_per_wallet":3,"emergency_mode":true}'
  faucetctl request 0x2d178f69b1680e21a10a2748e4cbeafbfbeb3bf2b55ecbbca86f6869f55db239
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("FAUCET_ADMIN_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:3001"
}

func adminToken() string {
	return os.Getenv("FAUCET_ADMIN_TOKEN")
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	url := baseURL() + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := adminToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return http.DefaultClient.Do(req)
}

func doGet(path string) map[string]any {
	resp, err := doRequest("GET", path, nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPost(path, bodyJSON string) map[string]any {
	resp, err := doRequest("POST", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func doPut(path, bodyJSON string) map[string]any {
	resp, err := doRequest("PUT", path, strings.NewReader(bodyJSON))
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	return readJSON(resp)
}

func readJSON(resp *http.Response) map[string]any {
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		fmt.Println(string(data))
		os.Exit(0)
	}
	return result
}

// payload unwraps the data field every API response carries.
func payload(result map[string]any) map[string]any {
	m, _ := result["data"].(map[string]any)
	return m
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: faucetctl %s\n", usage)
		os.Exit(1)
	}
}

func parseLimit(args []string) int {
	for i, a := range args {
		if a == "--limit" && i+1 < len(args) {
			n, _ := strconv.Atoi(args[i+1])
			if n > 0 {
				return n
			}
		}
	}
	return 50
}

// --- Commands ---

func doLogin(args []string) {
	user := os.Getenv("FAUCET_ADMIN_USERNAME")
	pass := os.Getenv("FAUCET_ADMIN_PASSWORD")
	if len(args) > 0 {
		user = args[0]
	}
	if len(args) > 1 {
		pass = args[1]
	}
	if user == "" || pass == "" {
		fmt.Fprintln(os.Stderr, "usage: faucetctl login <user> <pass> (or set FAUCET_ADMIN_USERNAME/FAUCET_ADMIN_PASSWORD)")
		os.Exit(1)
	}

	body, _ := json.Marshal(map[string]string{"username": user, "password": pass})
	result := doPost("/api/v1/admin/login", string(body))
	token, _ := payload(result)["token"].(string)
	if token == "" {
		fmt.Fprintln(os.Stderr, "login failed:", prettyJSON(result))
		os.Exit(1)
	}
	// Token only, so the output is usable in command substitution.
	fmt.Println(token)
}

func doStatus() {
	data := payload(doGet("/api/v1/health?detailed=true"))

	fmt.Printf("Server:   %s\n", baseURL())
	fmt.Printf("Status:   %s\n", str(data["status"]))
	fmt.Printf("Network:  %s\n", str(data["network"]))
	fmt.Printf("Mode:     %s\n", str(data["mode"]))
	fmt.Printf("Uptime:   %ss\n", fmtNum(data["uptimeSeconds"]))

	if wallet, ok := data["wallet"].(map[string]any); ok {
		if wallet["configured"] == true {
			fmt.Printf("Wallet:   %s (balance %s)\n", str(wallet["address"]), str(wallet["balance"]))
		} else {
			fmt.Printf("Wallet:   not configured\n")
		}
	}

	components, _ := data["components"].([]any)
	if len(components) == 0 {
		return
	}
	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "COMPONENT\tSTATE\tCHECKS\tERRORS\tAVG LATENCY\tLAST ERROR")
	for _, c := range components {
		m, _ := c.(map[string]any)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			str(m["component"]), str(m["state"]), fmtNum(m["total_checks"]),
			fmtNum(m["total_errors"]), fmtDuration(m["avg_latency_ms"]), str(m["last_error"]))
	}
	_ = tw.Flush()
}

func doDashboard() {
	fmt.Println(prettyJSON(payload(doGet("/api/v1/admin/dashboard"))))
}

func doConfig() {
	fmt.Println(prettyJSON(payload(doGet("/api/v1/admin/config"))))
}

func doTransactions(args []string) {
	limit := parseLimit(args)
	result := doGet(fmt.Sprintf("/api/v1/admin/transactions?limit=%d", limit))
	rows, _ := payload(result)["transactions"].([]any)
	if len(rows) == 0 {
		fmt.Println("No transactions.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tWALLET\tAMOUNT\tSTATUS\tTX HASH\tIP")
	for _, row := range rows {
		m, _ := row.(map[string]any)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			fmtTime(m["created_at"]), shortAddr(str(m["wallet_address"])), str(m["amount"]),
			str(m["status"]), shortAddr(str(m["tx_hash"])), str(m["client_ip"]))
	}
	_ = tw.Flush()
}

func doActivities(args []string) {
	limit := parseLimit(args)
	result := doGet(fmt.Sprintf("/api/v1/admin/activities?limit=%d", limit))
	rows, _ := payload(result)["activities"].([]any)
	if len(rows) == 0 {
		fmt.Println("No admin activity.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tUSER\tACTION\tIP\tDETAILS")
	for _, row := range rows {
		m, _ := row.(map[string]any)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			fmtTime(m["created_at"]), str(m["admin_username"]), str(m["action"]),
			str(m["client_ip"]), str(m["details"]))
	}
	_ = tw.Flush()
}

func doSettings() {
	result := doGet("/api/v1/admin/rate-limits")
	rows, _ := payload(result)["settings"].([]any)
	if len(rows) == 0 {
		fmt.Println("No settings.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tVALUE\tTYPE\tUPDATED BY\tUPDATED")
	for _, row := range rows {
		m, _ := row.(map[string]any)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			str(m["setting_name"]), str(m["setting_value"]), str(m["setting_type"]),
			str(m["updated_by"]), fmtTime(m["updated_at"]))
	}
	_ = tw.Flush()
}

func doSet(args []string) {
	requireArgs(args, 2, "set <name> <value>")
	body, _ := json.Marshal(map[string]any{"settings": map[string]string{args[0]: args[1]}})
	printSettingsResult(doPut("/api/v1/admin/rate-limits/bulk", string(body)))
}

func doSetJSON(args []string) {
	requireArgs(args, 1, "set-json <json>")
	printSettingsResult(doPut("/api/v1/admin/rate-limits/bulk", `{"settings":`+args[0]+`}`))
}

func printSettingsResult(result map[string]any) {
	data := payload(result)
	updated, _ := data["updated"].([]any)
	errs, _ := data["errors"].([]any)

	for _, u := range updated {
		m, _ := u.(map[string]any)
		fmt.Printf("updated %s = %s\n", str(m["setting_name"]), str(m["new_value"]))
	}
	for _, e := range errs {
		m, _ := e.(map[string]any)
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", str(m["setting_name"]), str(m["error"]))
	}
	if len(errs) > 0 {
		os.Exit(1)
	}
}

func doClients() {
	result := doGet("/api/v1/admin/clients")
	rows, _ := payload(result)["clients"].([]any)
	if len(rows) == 0 {
		fmt.Println("No registered clients.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CLIENT ID\tNAME\tACTIVE\tUSAGE\tLAST USED")
	for _, row := range rows {
		m, _ := row.(map[string]any)
		active := "no"
		if m["is_active"] == true {
			active = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			str(m["client_id"]), str(m["name"]), active,
			fmtNum(m["usage_count"]), fmtTime(m["last_used_at"]))
	}
	_ = tw.Flush()
}

func doRegisterClient(args []string) {
	requireArgs(args, 1, "register-client <name> [homepage]")
	reg := map[string]string{"name": args[0]}
	if len(args) > 1 {
		reg["homepageUrl"] = args[1]
	}
	body, _ := json.Marshal(reg)
	result := doPost("/api/v1/clients/register", string(body))
	data := payload(result)
	fmt.Printf("Client ID: %s\n", str(data["clientId"]))
	fmt.Printf("API key:   %s\n", str(data["apiKey"]))
	fmt.Println()
	fmt.Println(str(result["message"]))
}

func doDeactivateClient(args []string) {
	requireArgs(args, 1, "deactivate-client <id>")
	result := doPost("/api/v1/admin/clients/"+args[0]+"/deactivate", "{}")
	fmt.Println(str(result["message"]))
}

func doRotateClientKey(args []string) {
	requireArgs(args, 1, "rotate-client-key <id>")
	result := doPost("/api/v1/admin/clients/"+args[0]+"/regenerate-key", "{}")
	data := payload(result)
	fmt.Printf("New API key: %s\n", str(data["apiKey"]))
	fmt.Println()
	fmt.Println(str(result["message"]))
}

func doTestSend(args []string) {
	body := "{}"
	if len(args) > 0 {
		b, _ := json.Marshal(map[string]string{"walletAddress": args[0]})
		body = string(b)
	}
	result := doPost("/api/v1/admin/test-transaction", body)
	data := payload(result)
	fmt.Printf("Transaction: %s\n", str(data["transactionHash"]))
	fmt.Printf("Recipient:   %s\n", str(data["walletAddress"]))
	fmt.Printf("Amount:      %s\n", str(data["amount"]))
	if u := str(data["explorerURL"]); u != "" {
		fmt.Printf("Explorer:    %s\n", u)
	}
}

func doFlushCache() {
	result := doPost("/api/v1/admin/cache/flush", "{}")
	fmt.Println(str(result["message"]))
}

func doEvents() {
	resp, err := doRequest("GET", "/api/v1/admin/events", nil)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "HTTP %d: %s\n", resp.StatusCode, string(data))
		os.Exit(1)
	}

	fmt.Println("Streaming events (Ctrl-C to stop)...")
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				line = strings.TrimSpace(line)
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				pl := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				var evt map[string]any
				if json.Unmarshal([]byte(pl), &evt) != nil {
					continue
				}
				printEvent(evt)
			}
		}
		if err != nil {
			if err == io.EOF {
				fmt.Println("Event stream closed.")
			}
			break
		}
	}
}

func printEvent(evt map[string]any) {
	evtType := str(evt["type"])
	ts := time.Now().Format("15:04:05")
	switch evtType {
	case "dispatch_success":
		fmt.Printf("[%s] %s  wallet=%s amount=%s mode=%s latency=%s tx=%s\n",
			ts, evtType, shortAddr(str(evt["wallet"])), fmtNum(evt["amount"]),
			str(evt["mode"]), fmtDuration(evt["latency_ms"]), shortAddr(str(evt["tx_hash"])))
	case "dispatch_failed":
		fmt.Printf("[%s] %s  wallet=%s mode=%s error=%s\n",
			ts, evtType, shortAddr(str(evt["wallet"])), str(evt["mode"]), str(evt["error_msg"]))
	case "admission_denied":
		fmt.Printf("[%s] %s  wallet=%s code=%s\n",
			ts, evtType, shortAddr(str(evt["wallet"])), str(evt["code"]))
	case "health_change":
		fmt.Printf("[%s] %s  component=%s from=%s to=%s reason=%s\n",
			ts, evtType, str(evt["component"]), str(evt["old_state"]),
			str(evt["new_state"]), str(evt["reason"]))
	case "settings_changed":
		fmt.Printf("[%s] %s  %s=%s actor=%s\n",
			ts, evtType, str(evt["setting"]), str(evt["new_value"]), str(evt["actor"]))
	case "":
		// Initial connected frame carries no type.
	default:
		fmt.Printf("[%s] %s  %s\n", ts, evtType, prettyJSON(evt))
	}
}

func doFaucetRequest(args []string) {
	requireArgs(args, 1, "request <address>")
	body, _ := json.Marshal(map[string]string{"walletAddress": args[0]})

	req, err := http.NewRequest("POST", baseURL()+"/api/v1/faucet/request", strings.NewReader(string(body)))
	fatal(err)
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("FAUCET_API_KEY"); key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()

	result := readJSON(resp)
	data := payload(result)
	fmt.Printf("Transaction: %s\n", str(data["transactionHash"]))
	fmt.Printf("Amount:      %s\n", str(data["amount"]))
	if u := str(data["explorerURL"]); u != "" {
		fmt.Printf("Explorer:    %s\n", u)
	}
}

// --- Formatting helpers ---

func str(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return "-"
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

func shortAddr(s string) string {
	if len(s) <= 18 || s == "-" {
		return s
	}
	return s[:12] + ".." + s[len(s)-4:]
}

func fmtNum(v any) string {
	if v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fmtDuration(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f < 1000 {
			return fmt.Sprintf("%.0fms", f)
		}
		return fmt.Sprintf("%.1fs", f/1000)
	}
	return fmt.Sprintf("%v", v)
}

func fmtTime(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}
