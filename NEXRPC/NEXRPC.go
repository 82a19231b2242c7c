package NEXRPC

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"gousddbridge/config"

	"github.com/shopspring/decimal"
)

// Client talks to the Nexus node API. Endpoints are plain HTTP POST
// with a JSON body; amounts come back as decimal token amounts and are
// converted to base units at this boundary.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *apiError       `json:"error"`
}

// apiCall posts params to endpoint on each configured host until one
// answers. An API-level error is not retried on other hosts, the nodes
// share consensus state.
func (c *Client) apiCall(endpoint string, params map[string]any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return err
	}

	var lastErr error
	for _, host := range config.Config.Nexus.HostList {
		resp, err := c.http.Post(fmt.Sprintf("%s/%s", host, endpoint), "application/json", bytes.NewReader(body))
		if err != nil {
			log.Println(fmt.Sprintf("Error calling %s: %s", host, err.Error()))
			lastErr = err
			continue
		}

		var parsed apiResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if parsed.Error != nil {
			return fmt.Errorf("%s: %s (code %d)", endpoint, parsed.Error.Message, parsed.Error.Code)
		}
		if out != nil {
			return json.Unmarshal(parsed.Result, out)
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no Nexus hosts configured")
	}
	return lastErr
}

// toUnits converts a decimal token amount to base units, truncating.
func toUnits(d decimal.Decimal) int64 {
	return d.Shift(int32(config.Config.Nexus.Decimals)).IntPart()
}

// fromUnits formats base units as the decimal amount the API expects.
func fromUnits(units int64) string {
	return decimal.New(units, -int32(config.Config.Nexus.Decimals)).String()
}

type AccountInfo struct {
	Address      string
	Owner        string
	Ticker       string
	BalanceUnits int64
}

func (c *Client) GetAccountInfo(address string) (*AccountInfo, error) {
	var out struct {
		Address string          `json:"address"`
		Owner   string          `json:"owner"`
		Ticker  string          `json:"ticker"`
		Balance decimal.Decimal `json:"balance"`
	}
	err := c.apiCall("register/get/finance:account", map[string]any{"address": address}, &out)
	if err != nil {
		return nil, err
	}
	return &AccountInfo{
		Address:      out.Address,
		Owner:        out.Owner,
		Ticker:       out.Ticker,
		BalanceUnits: toUnits(out.Balance),
	}, nil
}

// ValidUSDDAccount reports whether address is a token account able to
// receive the bridged token.
func (c *Client) ValidUSDDAccount(address string) (bool, error) {
	info, err := c.GetAccountInfo(address)
	if err != nil {
		return false, nil
	}
	return info.Ticker == config.Config.Nexus.TokenName, nil
}

// DebitUSDD moves units from the treasury account to a recipient,
// stamping the debit with reference so it can be recognized later.
func (c *Client) DebitUSDD(to string, units int64, reference uint64) (string, error) {
	var out struct {
		TxID string `json:"txid"`
	}
	err := c.apiCall("finance/debit/account", map[string]any{
		"pin":       config.Config.Nexus.PIN,
		"from":      config.Config.Nexus.TreasuryAccount,
		"to":        to,
		"amount":    fromUnits(units),
		"reference": reference,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.TxID == "" {
		return "", errors.New("debit returned no txid")
	}
	return out.TxID, nil
}

type CreditInfo struct {
	TxID          string
	Ts            int64
	Confirmations int
	From          string
	OwnerID       string
	AmountUnits   int64
	Reference     uint64
}

type txContract struct {
	OP        string          `json:"OP"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Reference uint64          `json:"reference"`
}

type txInfo struct {
	TxID          string       `json:"txid"`
	Timestamp     int64        `json:"timestamp"`
	Confirmations int          `json:"confirmations"`
	Genesis       string       `json:"genesis"`
	Contracts     []txContract `json:"contracts"`
}

// TreasuryCredits lists inbound credits to the treasury account back
// to sinceTs, most recent first. The API pages transactions, not
// credits, so pagination advances by transaction count: a page full of
// payout debits still moves the scan forward to the credits behind it.
func (c *Client) TreasuryCredits(sinceTs int64, pageSize int) ([]CreditInfo, error) {
	var credits []CreditInfo
	for offset := 0; ; offset += pageSize {
		var txs []txInfo
		err := c.apiCall("finance/transactions/account", map[string]any{
			"address": config.Config.Nexus.TreasuryAccount,
			"verbose": "summary",
			"limit":   pageSize,
			"offset":  offset,
		}, &txs)
		if err != nil {
			return nil, err
		}
		if len(txs) == 0 {
			break
		}
		reachedSince := false
		for _, tx := range txs {
			if tx.Timestamp != 0 && tx.Timestamp < sinceTs {
				reachedSince = true
				break
			}
			for _, ct := range tx.Contracts {
				if ct.OP != "CREDIT" || ct.To != config.Config.Nexus.TreasuryAccount {
					continue
				}
				credits = append(credits, CreditInfo{
					TxID:          tx.TxID,
					Ts:            tx.Timestamp,
					Confirmations: tx.Confirmations,
					From:          ct.From,
					OwnerID:       tx.Genesis,
					AmountUnits:   toUnits(ct.Amount),
					Reference:     ct.Reference,
				})
			}
		}
		if reachedSince || len(txs) < pageSize {
			break
		}
	}
	return credits, nil
}

// Confirmed reports whether txid has reached min confirmations.
func (c *Client) Confirmed(txid string, min int) (bool, error) {
	var out struct {
		Confirmations int `json:"confirmations"`
	}
	err := c.apiCall("ledger/get/transaction", map[string]any{
		"hash":    txid,
		"verbose": "summary",
	}, &out)
	if err != nil {
		return false, err
	}
	return out.Confirmations >= min, nil
}

// ReceivalAddress resolves the destination token address a depositor
// published for their deposit: an asset owned by the depositor naming
// the deposit txid, or a standing mapping asset with no txid. Returns
// "" when no mapping exists yet.
func (c *Client) ReceivalAddress(txid, ownerID string) (string, error) {
	var assets []struct {
		Owner         string `json:"owner"`
		Txid          string `json:"txid"`
		SolanaAddress string `json:"solana_address"`
	}
	err := c.apiCall("register/list/assets", map[string]any{
		"where": fmt.Sprintf("results.owner=%s", ownerID),
		"limit": 100,
	}, &assets)
	if err != nil {
		return "", err
	}

	standing := ""
	for _, a := range assets {
		if a.Owner != ownerID || a.SolanaAddress == "" {
			continue
		}
		if a.Txid == txid {
			return a.SolanaAddress, nil
		}
		if a.Txid == "" {
			standing = a.SolanaAddress
		}
	}
	return standing, nil
}

// Circulating returns the token's current supply in base units.
func (c *Client) Circulating() (int64, error) {
	var out struct {
		CurrentSupply decimal.Decimal `json:"currentsupply"`
	}
	err := c.apiCall("finance/get/token", map[string]any{
		"name": config.Config.Nexus.TokenName,
	}, &out)
	if err != nil {
		return 0, err
	}
	return toUnits(out.CurrentSupply), nil
}

// HeartbeatData is the mutable payload of the heartbeat asset. The
// waterlines are the on-chain copy of the committed watermarks and
// bound the lookback a fresh instance must perform.
type HeartbeatData struct {
	SolanaWaterline int64 `json:"solana_waterline"`
	NexusWaterline  int64 `json:"nexus_waterline"`
	LastPoll        int64 `json:"last_poll"`
}

func (c *Client) Heartbeat() (*HeartbeatData, error) {
	var out struct {
		Data string `json:"data"`
	}
	err := c.apiCall("assets/get/asset", map[string]any{
		"name": config.Config.Nexus.HeartbeatAsset,
	}, &out)
	if err != nil {
		return nil, err
	}
	var hb HeartbeatData
	if out.Data != "" {
		if err := json.Unmarshal([]byte(out.Data), &hb); err != nil {
			return nil, fmt.Errorf("cannot parse heartbeat data: %s", err.Error())
		}
	}
	return &hb, nil
}

// UpdateHeartbeat publishes waterlines and liveness in a single asset
// update, one chain write per maintenance pass.
func (c *Client) UpdateHeartbeat(hb *HeartbeatData) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	return c.apiCall("assets/update/asset", map[string]any{
		"pin":  config.Config.Nexus.PIN,
		"name": config.Config.Nexus.HeartbeatAsset,
		"data": string(data),
	}, nil)
}

// MaxChainReference scans recent treasury debits for the highest
// reference already used, so the counter can be seeded past it.
func (c *Client) MaxChainReference() (uint64, error) {
	var max uint64
	for offset := 0; offset < 1000; offset += 100 {
		var txs []txInfo
		err := c.apiCall("finance/transactions/account", map[string]any{
			"address": config.Config.Nexus.TreasuryAccount,
			"verbose": "summary",
			"limit":   100,
			"offset":  offset,
		}, &txs)
		if err != nil {
			return 0, err
		}
		if len(txs) == 0 {
			break
		}
		for _, tx := range txs {
			for _, ct := range tx.Contracts {
				if ct.OP == "DEBIT" && ct.Reference > max {
					max = ct.Reference
				}
			}
		}
	}
	return max, nil
}
