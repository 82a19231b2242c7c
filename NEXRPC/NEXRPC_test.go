package NEXRPC

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gousddbridge/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txPage []map[string]any

// serveTransactions answers finance/transactions/account from txs,
// honoring the limit/offset the client sends.
func serveTransactions(t *testing.T, txs txPage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/finance/transactions/account", r.URL.Path)
		var params struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))

		page := txPage{}
		if params.Offset < len(txs) {
			end := params.Offset + params.Limit
			if end > len(txs) {
				end = len(txs)
			}
			page = txs[params.Offset:end]
		}
		result, err := json.Marshal(page)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(map[string]any{"result": json.RawMessage(result)})
	}))
}

func setNexusTestConfig(host string) {
	config.Config = config.Configuration{}
	config.Config.Nexus.HostList = []string{host}
	config.Config.Nexus.TreasuryAccount = "treasury"
	config.Config.Nexus.Decimals = 6
}

func TestTreasuryCreditsScansPastDebitOnlyPages(t *testing.T) {
	// newest first: a full page of payout debits, then the credit
	txs := txPage{
		{"txid": "d1", "timestamp": 990, "confirmations": 2, "contracts": []map[string]any{
			{"OP": "DEBIT", "from": "treasury", "to": "acctX", "amount": "1.0", "reference": 7},
		}},
		{"txid": "d2", "timestamp": 980, "confirmations": 3, "contracts": []map[string]any{
			{"OP": "DEBIT", "from": "treasury", "to": "acctY", "amount": "2.0", "reference": 8},
		}},
		{"txid": "c1", "timestamp": 970, "confirmations": 4, "genesis": "owner1", "contracts": []map[string]any{
			{"OP": "CREDIT", "from": "acctB", "to": "treasury", "amount": "1.5"},
		}},
	}
	srv := serveTransactions(t, txs)
	defer srv.Close()
	setNexusTestConfig(srv.URL)

	credits, err := NewClient().TreasuryCredits(900, 2)
	require.NoError(t, err)

	require.Len(t, credits, 1)
	assert.Equal(t, "c1", credits[0].TxID)
	assert.Equal(t, "acctB", credits[0].From)
	assert.Equal(t, "owner1", credits[0].OwnerID)
	assert.Equal(t, int64(1500000), credits[0].AmountUnits)
	assert.Equal(t, int64(970), credits[0].Ts)
}

func TestTreasuryCreditsStopsAtSince(t *testing.T) {
	txs := txPage{
		{"txid": "c1", "timestamp": 990, "confirmations": 2, "contracts": []map[string]any{
			{"OP": "CREDIT", "from": "acctB", "to": "treasury", "amount": "1.0"},
		}},
		{"txid": "c2", "timestamp": 800, "confirmations": 9, "contracts": []map[string]any{
			{"OP": "CREDIT", "from": "acctC", "to": "treasury", "amount": "2.0"},
		}},
	}
	srv := serveTransactions(t, txs)
	defer srv.Close()
	setNexusTestConfig(srv.URL)

	credits, err := NewClient().TreasuryCredits(900, 1)
	require.NoError(t, err)

	require.Len(t, credits, 1)
	assert.Equal(t, "c1", credits[0].TxID)
}
