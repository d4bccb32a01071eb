package kraken

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	secret := base64.StdEncoding.EncodeToString([]byte("test-secret"))
	client, err := New(serverURL, "test-key", secret)
	require.NoError(t, err)
	return client
}

func TestCurrentPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Ticker", r.URL.Path)
		assert.Equal(t, "XXBTZEUR", r.URL.Query().Get("pair"))
		w.Write([]byte(`{"error":[],"result":{"XXBTZEUR":{"c":["50123.40","0.01"],"v":["120.5","340.7"]}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	price, err := client.CurrentPrice(context.Background(), "XXBTZEUR")
	require.NoError(t, err)
	assert.Equal(t, 50123.40, price)
}

func TestMarketVolumeUses24hColumn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"XXBTZEUR":{"c":["50123.40","0.01"],"v":["120.5","340.7"]}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	volume, err := client.MarketVolume(context.Background(), "XXBTZEUR")
	require.NoError(t, err)
	assert.Equal(t, 340.7, volume)
}

func TestHistoricalClosesParsesCloseColumn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/OHLC", r.URL.Path)
		assert.Equal(t, "60", r.URL.Query().Get("interval"))
		w.Write([]byte(`{"error":[],"result":{"XXBTZEUR":[
			[1700000000,"100.0","101.0","99.0","100.5","100.2","12.3",42],
			[1700003600,"100.5","102.0","100.0","101.5","101.0","15.1",55]
		],"last":1700003600}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	closes, err := client.HistoricalCloses(context.Background(), "XXBTZEUR", 60, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{100.5, 101.5}, closes)
}

func TestOrderBookParsesLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"XXBTZEUR":{
			"bids":[["50000.0","1.2",1700000000]],
			"asks":[["50010.0","0.8",1700000000]]}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	book, err := client.OrderBook(context.Background(), "XXBTZEUR", 10)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, Level{Price: 50000.0, Volume: 1.2}, book.Bids[0])
	assert.Equal(t, Level{Price: 50010.0, Volume: 0.8}, book.Asks[0])
}

func TestPlaceOrderSignsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/0/private/AddOrder", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("API-Key"))
		assert.NotEmpty(t, r.Header.Get("API-Sign"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "buy", r.PostForm.Get("type"))
		assert.Equal(t, "limit", r.PostForm.Get("ordertype"))
		assert.Equal(t, "0.5", r.PostForm.Get("volume"))
		assert.Equal(t, "49950", r.PostForm.Get("price"))
		assert.NotEmpty(t, r.PostForm.Get("nonce"))

		w.Write([]byte(`{"error":[],"result":{"descr":{"order":"buy 0.5 XBTEUR @ limit 49950"},"txid":["OABC12-34567-DEFGHI"]}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ref, err := client.PlaceOrder(context.Background(), OrderRequest{
		Pair:       "XXBTZEUR",
		Side:       Buy,
		OrderType:  Limit,
		Volume:     0.5,
		LimitPrice: 49950,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"OABC12-34567-DEFGHI"}, ref.TxIDs)
	assert.Contains(t, ref.Description, "limit 49950")
}

func TestPlaceOrderRejectsInvalidRequest(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")

	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Pair: "XXBTZEUR", Side: "hold", OrderType: Market, Volume: 1,
	})
	assert.Error(t, err)

	_, err = client.PlaceOrder(context.Background(), OrderRequest{
		Pair: "XXBTZEUR", Side: Buy, OrderType: Market, Volume: 0,
	})
	assert.Error(t, err)
}

func TestAPIErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"error":["EOrder:Insufficient funds"],"result":null}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.PlaceOrder(context.Background(), OrderRequest{
		Pair: "XXBTZEUR", Side: Sell, OrderType: Market, Volume: 0.1,
	})
	require.ErrorIs(t, err, ErrAPI)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestServerErrorsRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"error":[],"result":{"XXBTZEUR":{"c":["100.0","0.01"],"v":["1","2"]}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	price, err := client.CurrentPrice(context.Background(), "XXBTZEUR")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAccountBalanceParsesAmounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/private/Balance", r.URL.Path)
		w.Write([]byte(`{"error":[],"result":{"XXBT":"0.4242","ZEUR":"1250.00"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	balances, err := client.AccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.4242, balances["XXBT"])
	assert.Equal(t, 1250.00, balances["ZEUR"])
}

func TestAssetKeyResolvesAltname(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{"XXBT":{"altname":"XBT"},"XETH":{"altname":"ETH"}}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	key, err := client.AssetKey(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, "XETH", key)

	_, err = client.AssetKey(context.Background(), "DOGE")
	assert.Error(t, err)
}

func TestPrivateRequiresCredentials(t *testing.T) {
	client, err := New("http://unused.invalid", "", "")
	require.NoError(t, err)

	_, err = client.AccountBalance(context.Background())
	assert.Error(t, err)
}

func TestParseTickerMessage(t *testing.T) {
	price, ok := parseTickerMessage([]byte(`[42,{"c":["50123.4","0.01"],"v":["1","2"]},"ticker","XBT/EUR"]`))
	require.True(t, ok)
	assert.Equal(t, 50123.4, price)

	_, ok = parseTickerMessage([]byte(`{"event":"heartbeat"}`))
	assert.False(t, ok)

	_, ok = parseTickerMessage([]byte(`[42]`))
	assert.False(t, ok)
}
