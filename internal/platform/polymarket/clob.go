// Package polymarket implements the exchange side of the copy engine: the
// CLOB client used by the execution loop, the Data API client used to read
// holdings, and a paper exchange that simulates fills against live books.
package polymarket

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
)

const (
	zeroAddress  = "0x0000000000000000000000000000000000000000"
	maxBodyBytes = 1 << 20
	userAgent    = "polycopy/1.0"
)

// ClobConfig configures a ClobClient. Signer, NegRiskSigner and Auth may be
// nil for a read-only client (order books only).
type ClobConfig struct {
	BaseURL       string
	Timeout       time.Duration
	Signer        *crypto.Signer
	NegRiskSigner *crypto.Signer
	Auth          *crypto.HMACAuth
	// FunderAddress holds the collateral. It defaults to the signer address.
	FunderAddress string
	SignatureType int
}

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	negSigner  *crypto.Signer
	auth       *crypto.HMACAuth
	funder     string
	sigType    int

	negRisk sync.Map // tokenID -> bool

	now  func() time.Time
	salt func() int64
}

// NewClobClient creates a new CLOB REST client.
func NewClobClient(cfg ClobConfig) *ClobClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	funder := cfg.FunderAddress
	if funder == "" && cfg.Signer != nil {
		funder = cfg.Signer.Address().Hex()
	}
	negSigner := cfg.NegRiskSigner
	if negSigner == nil {
		negSigner = cfg.Signer
	}
	return &ClobClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		signer:     cfg.Signer,
		negSigner:  negSigner,
		auth:       cfg.Auth,
		funder:     funder,
		sigType:    cfg.SignatureType,
		now:        time.Now,
		salt:       uuidSalt,
	}
}

// uuidSalt draws a positive 53-bit salt from a random UUID. The exchange
// parses salts as JSON numbers.
func uuidSalt() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]) >> 11)
}

// FetchOrderBook returns the current book for asset.
func (c *ClobClient) FetchOrderBook(ctx context.Context, asset string) (domain.OrderBook, error) {
	q := url.Values{}
	q.Set("token_id", asset)

	_, body, err := c.do(ctx, http.MethodGet, "/book", q, nil, false)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: get book %s: %w", asset, err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}
	ob := book.ToDomain()
	if ob.AssetID == "" {
		ob.AssetID = asset
	}
	return ob, nil
}

// SubmitMarketOrder signs and posts a fill-or-kill order for o. A rejected
// order comes back with Success=false and a nil error; transport and HTTP
// failures return an error together with whatever the exchange sent.
func (c *ClobClient) SubmitMarketOrder(ctx context.Context, o domain.MarketOrder) (domain.OrderResponse, error) {
	if c.signer == nil || c.auth == nil {
		return domain.OrderResponse{}, fmt.Errorf("polymarket/clob: %w: no signing credentials", domain.ErrUnauthorized)
	}

	maker, taker, err := marketAmounts(o.Side, o.Amount, o.Price)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrInvalidOrder, err)
	}

	negRisk, err := c.isNegRisk(ctx, o.Asset)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	signer := c.signer
	if negRisk {
		signer = c.negSigner
	}

	side := crypto.SideBuy
	if o.Side == domain.OrderSideSell {
		side = crypto.SideSell
	}
	salt := c.salt()
	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(salt, 10),
		Maker:         c.funder,
		Signer:        signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       o.Asset,
		MakerAmount:   maker.BigInt().String(),
		TakerAmount:   taker.BigInt().String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.sigType,
	}
	sig, err := signer.SignOrder(payload)
	if err != nil {
		return domain.OrderResponse{}, fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	req := APIPostOrder{
		Order: APIOrder{
			Salt:          salt,
			Maker:         payload.Maker,
			Signer:        payload.Signer,
			Taker:         payload.Taker,
			TokenID:       payload.TokenID,
			MakerAmount:   payload.MakerAmount,
			TakerAmount:   payload.TakerAmount,
			Expiration:    payload.Expiration,
			Nonce:         payload.Nonce,
			FeeRateBps:    payload.FeeRateBps,
			Side:          string(o.Side),
			SignatureType: payload.SignatureType,
			Signature:     sig,
		},
		Owner:     c.auth.Key,
		OrderType: string(domain.OrderTypeFOK),
	}

	status, body, err := c.do(ctx, http.MethodPost, "/order", nil, req, true)
	resp := domain.OrderResponse{HTTPStatus: status, Raw: body}
	if err != nil {
		resp.ErrorMsg = string(body)
		return resp, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return resp, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	resp.Success = result.Success
	resp.OrderID = result.OrderID
	resp.Status = result.Status
	resp.ErrorMsg = result.ErrorMsg
	return resp, nil
}

// RefreshBalanceAllowance asks the CLOB to re-read the on-chain balance and
// allowance for collateral, or for tokenID when assetType is conditional.
func (c *ClobClient) RefreshBalanceAllowance(ctx context.Context, assetType domain.AssetType, tokenID string) error {
	if c.auth == nil {
		return fmt.Errorf("polymarket/clob: %w: no api credentials", domain.ErrUnauthorized)
	}
	if _, _, err := c.do(ctx, http.MethodGet, "/balance-allowance/update", c.balanceQuery(assetType, tokenID), nil, true); err != nil {
		return fmt.Errorf("polymarket/clob: update balance allowance: %w", err)
	}
	return nil
}

// CollateralBalance returns the funder's USDC balance as known to the CLOB.
func (c *ClobClient) CollateralBalance(ctx context.Context) (float64, error) {
	if c.auth == nil {
		return 0, fmt.Errorf("polymarket/clob: %w: no api credentials", domain.ErrUnauthorized)
	}
	_, body, err := c.do(ctx, http.MethodGet, "/balance-allowance", c.balanceQuery(domain.AssetCollateral, ""), nil, true)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: get balance: %w", err)
	}
	var ba APIBalanceAllowance
	if err := json.Unmarshal(body, &ba); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}
	bal, err := fromBaseUnits(ba.Balance)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: %w", err)
	}
	return bal, nil
}

func (c *ClobClient) balanceQuery(assetType domain.AssetType, tokenID string) url.Values {
	q := url.Values{}
	q.Set("asset_type", string(assetType))
	q.Set("signature_type", strconv.Itoa(c.sigType))
	if assetType == domain.AssetConditional && tokenID != "" {
		q.Set("token_id", tokenID)
	}
	return q
}

// isNegRisk reports whether tokenID trades on the neg-risk exchange. Answers
// are cached for the life of the client.
func (c *ClobClient) isNegRisk(ctx context.Context, tokenID string) (bool, error) {
	if v, ok := c.negRisk.Load(tokenID); ok {
		return v.(bool), nil
	}
	q := url.Values{}
	q.Set("token_id", tokenID)
	_, body, err := c.do(ctx, http.MethodGet, "/neg-risk", q, nil, false)
	if err != nil {
		return false, fmt.Errorf("polymarket/clob: get neg risk %s: %w", tokenID, err)
	}
	var nr apiNegRisk
	if err := json.Unmarshal(body, &nr); err != nil {
		return false, fmt.Errorf("polymarket/clob: decode neg risk: %w", err)
	}
	c.negRisk.Store(tokenID, nr.NegRisk)
	return nr.NegRisk, nil
}

// do sends one request and returns the status and body. Authenticated
// requests carry L2 headers signed over the path without the query string.
// A non-2xx status is returned as an error along with the body.
func (c *ClobClient) do(ctx context.Context, method, path string, q url.Values, body any, authed bool) (int, []byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed && c.auth != nil {
		address := c.funder
		if c.signer != nil {
			address = c.signer.Address().Hex()
		}
		c.auth.Apply(req.Header, address, method, path, string(payload), c.now())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return resp.StatusCode, respBody, err
	}
	return resp.StatusCode, respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors. A 403 is how
// Cloudflare answers a blocked client, so it counts as rate limiting.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusForbidden, http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrRateLimited, statusCode, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
