package SOLRPC

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"gousddbridge/config"

	"github.com/ybbus/jsonrpc"
)

// withClient runs f against each configured RPC host until one
// succeeds.
func withClient[T any](f func(client jsonrpc.RPCClient) (T, error)) (res T, err error) {
	for _, url := range config.Config.Solana.RPCList {
		client := jsonrpc.NewClient(url)

		res, err = f(client)
		if err == nil {
			return
		}
		log.Println(fmt.Sprintf("Error calling %s: %s", url, err.Error()))
	}
	return
}

type SignatureInfo struct {
	Signature string  `json:"signature"`
	Slot      uint64  `json:"slot"`
	BlockTime int64   `json:"blockTime"`
	Memo      string  `json:"memo"`
	Err       any     `json:"err"`
	Status    *string `json:"confirmationStatus"`
}

// DepositDetail is the parsed form of a transaction that moved tokens
// into the vault account.
type DepositDetail struct {
	Sig         string
	From        string
	AmountUnits int64
	Memo        string
	BlockTime   int64
	Failed      bool
}

// MemoScan collects the settlement markers found in vault outflow
// memos, keyed by the item they settle. Used for crash recovery.
type MemoScan struct {
	NexusTxids     map[string]string
	RefundSigs     map[string]string
	QuarantineSigs map[string]string
}

type Client struct{}

func NewClient() *Client {
	return &Client{}
}

// normalizeMemo strips the "[len] " length prefix the node prepends to
// memo fields in signature listings.
func normalizeMemo(memo string) string {
	if strings.HasPrefix(memo, "[") {
		if idx := strings.Index(memo, "] "); idx >= 0 {
			return memo[idx+2:]
		}
	}
	return memo
}

// GetSignaturesForAddress pages backwards through the signature history
// of account. An empty before starts from the most recent signature.
func (c *Client) GetSignaturesForAddress(account string, limit int, before string) ([]SignatureInfo, error) {
	return withClient(func(client jsonrpc.RPCClient) ([]SignatureInfo, error) {
		cfg := map[string]any{"limit": limit, "commitment": "confirmed"}
		if before != "" {
			cfg["before"] = before
		}
		resp, err := client.Call("getSignaturesForAddress", account, cfg)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("getSignaturesForAddress: %s", resp.Error.Message)
		}
		var sigs []SignatureInfo
		if err := resp.GetObject(&sigs); err != nil {
			return nil, err
		}
		for i := range sigs {
			sigs[i].Memo = normalizeMemo(sigs[i].Memo)
		}
		return sigs, nil
	})
}

type tokenAmount struct {
	Amount string `json:"amount"`
}

type parsedInstruction struct {
	Program string `json:"program"`
	Parsed  any    `json:"parsed"`
}

type txResult struct {
	BlockTime   int64 `json:"blockTime"`
	Meta        struct {
		Err any `json:"err"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			Instructions []parsedInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// GetDepositDetail fetches and parses a transaction, extracting the
// token transfer into the vault account and any memo riding along. A
// nil result with nil error means the transaction holds no transfer
// into the vault.
func (c *Client) GetDepositDetail(sig string) (*DepositDetail, error) {
	return withClient(func(client jsonrpc.RPCClient) (*DepositDetail, error) {
		resp, err := client.Call("getTransaction", sig, map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     "confirmed",
			"maxSupportedTransactionVersion": 0,
		})
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("getTransaction: %s", resp.Error.Message)
		}
		var tx txResult
		if err := resp.GetObject(&tx); err != nil {
			return nil, err
		}

		detail := &DepositDetail{Sig: sig, BlockTime: tx.BlockTime, Failed: tx.Meta.Err != nil}
		for _, ins := range tx.Transaction.Message.Instructions {
			switch ins.Program {
			case "spl-token":
				p, ok := ins.Parsed.(map[string]any)
				if !ok {
					continue
				}
				info, _ := p["info"].(map[string]any)
				if info == nil {
					continue
				}
				dest, _ := info["destination"].(string)
				if dest != config.Config.Solana.VaultUSDCAccount {
					continue
				}
				amountStr, _ := info["amount"].(string)
				if amountStr == "" {
					if ta, ok := info["tokenAmount"].(map[string]any); ok {
						amountStr, _ = ta["amount"].(string)
					}
				}
				amount, err := strconv.ParseInt(amountStr, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("cannot parse token amount %q: %s", amountStr, err.Error())
				}
				detail.AmountUnits += amount
				// the source token account is the refund target
				if src, _ := info["source"].(string); detail.From == "" {
					detail.From = src
				}
			case "spl-memo":
				if memo, ok := ins.Parsed.(string); ok {
					detail.Memo = memo
				}
			}
		}
		if detail.AmountUnits == 0 {
			return nil, nil
		}
		return detail, nil
	})
}

// Confirmed reports whether sig has reached at least min confirmations.
// Finalized signatures always qualify.
func (c *Client) Confirmed(sig string, min int) (bool, error) {
	return withClient(func(client jsonrpc.RPCClient) (bool, error) {
		resp, err := client.Call("getSignatureStatuses", []string{sig},
			map[string]any{"searchTransactionHistory": true})
		if err != nil {
			return false, err
		}
		if resp.Error != nil {
			return false, fmt.Errorf("getSignatureStatuses: %s", resp.Error.Message)
		}
		var out struct {
			Value []*struct {
				Confirmations      *int   `json:"confirmations"`
				ConfirmationStatus string `json:"confirmationStatus"`
				Err                any    `json:"err"`
			} `json:"value"`
		}
		if err := resp.GetObject(&out); err != nil {
			return false, err
		}
		if len(out.Value) == 0 || out.Value[0] == nil {
			return false, nil
		}
		st := out.Value[0]
		if st.Err != nil {
			return false, nil
		}
		if st.ConfirmationStatus == "finalized" {
			return true, nil
		}
		return st.Confirmations != nil && *st.Confirmations >= min, nil
	})
}

// IsTokenAccountForMint reports whether account is a token account
// holding the configured mint.
func (c *Client) IsTokenAccountForMint(account string) (bool, error) {
	return withClient(func(client jsonrpc.RPCClient) (bool, error) {
		resp, err := client.Call("getAccountInfo", account, map[string]any{"encoding": "jsonParsed"})
		if err != nil {
			return false, err
		}
		if resp.Error != nil {
			return false, fmt.Errorf("getAccountInfo: %s", resp.Error.Message)
		}
		var out struct {
			Value *struct {
				Data struct {
					Program string `json:"program"`
					Parsed  struct {
						Type string `json:"type"`
						Info struct {
							Mint string `json:"mint"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"value"`
		}
		if err := resp.GetObject(&out); err != nil {
			return false, err
		}
		if out.Value == nil {
			return false, nil
		}
		return out.Value.Data.Program == "spl-token" &&
			out.Value.Data.Parsed.Type == "account" &&
			out.Value.Data.Parsed.Info.Mint == config.Config.Solana.USDCMint, nil
	})
}

// USDCAccountForWallet resolves the token account a wallet holds for
// the configured mint. Returns "" when the wallet has none.
func (c *Client) USDCAccountForWallet(owner string) (string, error) {
	return withClient(func(client jsonrpc.RPCClient) (string, error) {
		resp, err := client.Call("getTokenAccountsByOwner", owner,
			map[string]any{"mint": config.Config.Solana.USDCMint},
			map[string]any{"encoding": "jsonParsed"})
		if err != nil {
			return "", err
		}
		if resp.Error != nil {
			return "", fmt.Errorf("getTokenAccountsByOwner: %s", resp.Error.Message)
		}
		var out struct {
			Value []struct {
				Pubkey string `json:"pubkey"`
			} `json:"value"`
		}
		if err := resp.GetObject(&out); err != nil {
			return "", err
		}
		if len(out.Value) == 0 {
			return "", nil
		}
		return out.Value[0].Pubkey, nil
	})
}

// GetTokenAccountBalance returns the balance of a token account in
// base units.
func (c *Client) GetTokenAccountBalance(account string) (int64, error) {
	return withClient(func(client jsonrpc.RPCClient) (int64, error) {
		resp, err := client.Call("getTokenAccountBalance", account)
		if err != nil {
			return 0, err
		}
		if resp.Error != nil {
			return 0, fmt.Errorf("getTokenAccountBalance: %s", resp.Error.Message)
		}
		var out struct {
			Value tokenAmount `json:"value"`
		}
		if err := resp.GetObject(&out); err != nil {
			return 0, err
		}
		return strconv.ParseInt(out.Value.Amount, 10, 64)
	})
}

// SendUSDC asks the vault agent to submit a token transfer with the
// given memo and returns the transaction signature. The agent holds the
// vault key; this process never does.
func (c *Client) SendUSDC(dest string, amountUnits int64, memo string) (string, error) {
	if config.Config.Solana.VaultAgentURL == "" {
		return "", errors.New("vault agent URL not configured")
	}
	client := jsonrpc.NewClient(config.Config.Solana.VaultAgentURL)
	resp, err := client.Call("sendTokenTransfer", map[string]any{
		"mint":        config.Config.Solana.USDCMint,
		"destination": dest,
		"amount":      strconv.FormatInt(amountUnits, 10),
		"memo":        memo,
	})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("sendTokenTransfer: %s", resp.Error.Message)
	}
	var out struct {
		Signature string `json:"signature"`
	}
	if err := resp.GetObject(&out); err != nil {
		return "", err
	}
	if out.Signature == "" {
		return "", errors.New("vault agent returned no signature")
	}
	return out.Signature, nil
}

// FindSignatureWithMemo scans recent vault outflows for a signature
// whose memo matches exactly. Used to resolve ambiguous submissions
// before any resend.
func (c *Client) FindSignatureWithMemo(memo string, sinceTs int64) (string, error) {
	before := ""
	for {
		sigs, err := c.GetSignaturesForAddress(config.Config.Solana.VaultUSDCAccount, 1000, before)
		if err != nil {
			return "", err
		}
		if len(sigs) == 0 {
			return "", nil
		}
		for _, si := range sigs {
			if si.BlockTime != 0 && si.BlockTime < sinceTs {
				return "", nil
			}
			if si.Err == nil && si.Memo == memo {
				return si.Signature, nil
			}
		}
		before = sigs[len(sigs)-1].Signature
	}
}

// ScanMemosSince walks vault history back to ts and indexes every
// settlement marker by the item it settles.
func (c *Client) ScanMemosSince(ts int64) (*MemoScan, error) {
	scan := &MemoScan{
		NexusTxids:     make(map[string]string),
		RefundSigs:     make(map[string]string),
		QuarantineSigs: make(map[string]string),
	}
	before := ""
	for {
		sigs, err := c.GetSignaturesForAddress(config.Config.Solana.VaultUSDCAccount, 1000, before)
		if err != nil {
			return nil, err
		}
		if len(sigs) == 0 {
			return scan, nil
		}
		for _, si := range sigs {
			if si.BlockTime != 0 && si.BlockTime < ts {
				return scan, nil
			}
			if si.Err != nil || si.Memo == "" {
				continue
			}
			switch {
			case strings.HasPrefix(si.Memo, config.MEMO_SENT_PREFIX):
				scan.NexusTxids[strings.TrimPrefix(si.Memo, config.MEMO_SENT_PREFIX)] = si.Signature
			case strings.HasPrefix(si.Memo, config.MEMO_REFUND_PREFIX):
				scan.RefundSigs[strings.TrimPrefix(si.Memo, config.MEMO_REFUND_PREFIX)] = si.Signature
			case strings.HasPrefix(si.Memo, config.MEMO_QUARANTINE_PREFIX):
				scan.QuarantineSigs[strings.TrimPrefix(si.Memo, config.MEMO_QUARANTINE_PREFIX)] = si.Signature
			}
		}
		before = sigs[len(sigs)-1].Signature
	}
}
