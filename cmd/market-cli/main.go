package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stablemarket/config"
	"stablemarket/core/units"
	"stablemarket/services/marketd/server"
)

// defaultBufferBps pads the quoted price by 1% so small oracle moves between
// quoting and buying do not fail the purchase.
const defaultBufferBps = 100

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("marketd returned %d: %s", e.Status, e.Message)
}

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(argv []string, stdout, stderr io.Writer) int {
	defaultURL := strings.TrimSpace(os.Getenv("MARKETD_URL"))
	if defaultURL == "" {
		defaultURL = "http://127.0.0.1:8090"
	}
	root := flag.NewFlagSet("market-cli", flag.ContinueOnError)
	root.SetOutput(stderr)
	baseURL := root.String("url", defaultURL, "marketd base URL")
	authToken := root.String("auth", strings.TrimSpace(os.Getenv("MARKETD_TOKEN")), "bearer token for authenticated calls")
	if err := root.Parse(argv); err != nil {
		return 2
	}
	args := root.Args()
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	c := &client{
		baseURL: strings.TrimRight(*baseURL, "/"),
		token:   strings.TrimSpace(*authToken),
		http:    &http.Client{Timeout: 15 * time.Second},
	}

	var err error
	switch args[0] {
	case "list":
		err = c.runList(args[1:], stdout, stderr)
	case "cancel":
		err = c.runCancel(args[1:], stdout, stderr)
	case "buy":
		err = c.runBuy(args[1:], stdout, stderr)
	case "withdraw":
		err = c.runWithdraw(stdout)
	case "order":
		err = c.runOrder(args[1:], stdout, stderr)
	case "orders":
		err = c.runOrders(args[1:], stdout, stderr)
	case "price":
		err = c.runPrice(args[1:], stdout, stderr)
	case "funds":
		err = c.printGet("/funds", stdout)
	case "events":
		err = c.runEvents(args[1:], stdout, stderr)
	case "mint":
		err = c.runMint(args[1:], stdout, stderr)
	case "approve":
		err = c.runApprove(args[1:], stdout, stderr)
	case "faucet":
		err = c.runFaucet(args[1:], stdout, stderr)
	case "balance":
		err = c.runBalance(args[1:], stdout, stderr)
	case "pause":
		err = c.runPause(true, stdout)
	case "resume":
		err = c.runPause(false, stdout)
	case "token":
		err = runToken(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func (c *client) runList(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("list", stderr)
	asset := fs.String("asset", "", "asset contract address")
	tokenID := fs.String("token-id", "", "asset token id")
	price := fs.String("usd", "", "listing price in USD, e.g. 199.99")
	approve := fs.Bool("approve", true, "approve the marketplace for the asset before listing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"--asset": *asset, "--token-id": *tokenID, "--usd": *price}); err != nil {
		return err
	}
	if *approve {
		if err := c.do(http.MethodPost, "/assets/approve", server.AssetRequest{Asset: *asset, TokenID: *tokenID}, nil); err != nil {
			return fmt.Errorf("approve: %w", err)
		}
	}
	var out map[string]any
	if err := c.do(http.MethodPost, "/orders", server.CreateOrderRequest{Asset: *asset, TokenID: *tokenID, USDPrice: *price}, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func (c *client) runCancel(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("cancel", stderr)
	id := fs.Uint64("id", 0, "order id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var order server.OrderView
	if err := c.do(http.MethodPost, fmt.Sprintf("/orders/%d/cancel", *id), nil, &order); err != nil {
		return err
	}
	return printJSON(stdout, order)
}

func (c *client) runBuy(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("buy", stderr)
	id := fs.Uint64("id", 0, "order id")
	amount := fs.String("amount", "", "explicit payment (wei or e.g. 0.5eth); skips the price lookup")
	bufferBps := fs.Uint("buffer-bps", defaultBufferBps, "headroom added to the quoted price, in basis points")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pay := strings.TrimSpace(*amount)
	if pay == "" {
		quoted, err := c.quote(*id)
		if err != nil {
			return err
		}
		pay = units.ApplyBuffer(quoted, uint32(*bufferBps)).String()
	}
	var order server.OrderView
	if err := c.do(http.MethodPost, fmt.Sprintf("/orders/%d/buy", *id), server.BuyOrderRequest{Amount: pay}, &order); err != nil {
		return err
	}
	return printJSON(stdout, order)
}

func (c *client) quote(id uint64) (*big.Int, error) {
	var resp struct {
		Amount string `json:"amount"`
	}
	if err := c.do(http.MethodGet, fmt.Sprintf("/orders/%d/price", id), nil, &resp); err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	amount, ok := new(big.Int).SetString(resp.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("quote: invalid amount %q", resp.Amount)
	}
	return amount, nil
}

func (c *client) runWithdraw(stdout io.Writer) error {
	var out map[string]any
	if err := c.do(http.MethodPost, "/funds/withdraw", nil, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func (c *client) runPause(paused bool, stdout io.Writer) error {
	var out map[string]any
	if err := c.do(http.MethodPost, "/admin/pause", server.PauseRequest{Paused: paused}, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func (c *client) runOrder(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("order", stderr)
	id := fs.Uint64("id", 0, "order id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.printGet(fmt.Sprintf("/orders/%d", *id), stdout)
}

func (c *client) runOrders(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("orders", stderr)
	seller := fs.String("seller", "", "filter by seller address")
	status := fs.String("status", "", "filter by status (active|inactive)")
	limit := fs.Int("limit", 0, "maximum number of orders")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := url.Values{}
	setIf(q, "seller", *seller)
	setIf(q, "status", *status)
	if *limit > 0 {
		q.Set("limit", fmt.Sprint(*limit))
	}
	return c.printGet(withQuery("/orders", q), stdout)
}

func (c *client) runPrice(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("price", stderr)
	id := fs.Uint64("id", 0, "order id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.printGet(fmt.Sprintf("/orders/%d/price", *id), stdout)
}

func (c *client) runEvents(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("events", stderr)
	typ := fs.String("type", "", "event type, e.g. marketplace.order.sold")
	order := fs.String("order", "", "order id")
	actor := fs.String("actor", "", "actor address")
	after := fs.String("after", "", "return events after this sequence number")
	limit := fs.Int("limit", 0, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := url.Values{}
	setIf(q, "type", *typ)
	setIf(q, "orderId", *order)
	setIf(q, "actor", *actor)
	setIf(q, "after", *after)
	if *limit > 0 {
		q.Set("limit", fmt.Sprint(*limit))
	}
	return c.printGet(withQuery("/events", q), stdout)
}

func (c *client) runMint(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("mint", stderr)
	asset := fs.String("asset", "", "asset contract address")
	tokenID := fs.String("token-id", "", "asset token id")
	to := fs.String("to", "", "recipient (defaults to the caller)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"--asset": *asset, "--token-id": *tokenID}); err != nil {
		return err
	}
	var out map[string]any
	if err := c.do(http.MethodPost, "/assets/mint", server.AssetRequest{Asset: *asset, TokenID: *tokenID, To: *to}, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func (c *client) runApprove(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("approve", stderr)
	asset := fs.String("asset", "", "asset contract address")
	tokenID := fs.String("token-id", "", "asset token id")
	operator := fs.String("operator", "", "operator (defaults to the marketplace account)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required(map[string]string{"--asset": *asset, "--token-id": *tokenID}); err != nil {
		return err
	}
	var out map[string]any
	if err := c.do(http.MethodPost, "/assets/approve", server.AssetRequest{Asset: *asset, TokenID: *tokenID, Operator: *operator}, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func (c *client) runFaucet(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("faucet", stderr)
	addr := fs.String("address", "", "recipient (defaults to the caller)")
	amount := fs.String("amount", "1eth", "amount (wei or e.g. 2eth)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var out map[string]any
	if err := c.do(http.MethodPost, "/accounts/faucet", server.FaucetRequest{Address: *addr, Amount: *amount}, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func (c *client) runBalance(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("balance", stderr)
	addr := fs.String("address", "", "account address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*addr) {
		return fmt.Errorf("--address must be a hex address")
	}
	return c.printGet("/accounts/"+common.HexToAddress(*addr).Hex(), stdout)
}

func runToken(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("token", stderr)
	secretDefault := strings.TrimSpace(os.Getenv(config.EnvJWTSecret))
	if secretDefault == "" {
		secretDefault = config.DevJWTSecret
	}
	secret := fs.String("secret", secretDefault, "HMAC secret shared with marketd")
	subject := fs.String("subject", "", "caller address embedded in the token")
	issuer := fs.String("issuer", "marketd", "token issuer")
	audience := fs.String("audience", "marketd", "token audience")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*subject) {
		return fmt.Errorf("--subject must be a hex address")
	}
	tok, err := server.IssueToken(*secret, *issuer, *audience, common.HexToAddress(*subject), *ttl, time.Now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, tok)
	return err
}

func (c *client) printGet(path string, stdout io.Writer) error {
	var out any
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return err
	}
	return printJSON(stdout, out)
}

func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(payload))
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &apiError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func required(values map[string]string) error {
	for name, value := range values {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

func setIf(q url.Values, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		q.Set(key, v)
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usage() string {
	return `usage: market-cli [--url URL] [--auth TOKEN] <command> [flags]

commands:
  list      --asset ADDR --token-id N --usd PRICE   list an asset for sale
  cancel    --id N                                 cancel your listing
  buy       --id N [--buffer-bps 100] [--amount X]  buy a listing at the oracle price
  withdraw                                         withdraw collected funds (owner)
  order     --id N                                 show one order
  orders    [--seller ADDR] [--status S]           list orders
  price     --id N                                 quote the settlement amount for an order
  funds                                            show funds held by the marketplace
  events    [--type T] [--order N] [--actor ADDR]  show event history
  mint      --asset ADDR --token-id N [--to ADDR]  mint a test asset (devnet)
  approve   --asset ADDR --token-id N              approve the marketplace for an asset
  faucet    [--address ADDR] [--amount 1eth]       credit test funds (devnet)
  balance   --address ADDR                         show a settlement balance
  pause                                            halt state changes (owner)
  resume                                           resume state changes (owner)
  token     --subject ADDR [--ttl 1h]              mint a bearer token for ADDR`
}
