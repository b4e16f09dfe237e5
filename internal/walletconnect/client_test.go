package walletconnect

import (
	"context"
	"fmt"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"moff.io/moff-defi/internal/eip1193"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	walletPeer = "wallet-peer"
	alice      = "0xaBcD000000000000000000000000000000000001"
	bob        = "0x1111111111111111111111111111111111111111"
)

// testWallet plays the bridge and the mobile wallet on one socket.
type testWallet struct {
	t    *testing.T
	conn *websocket.Conn
	p    *Provider
}

func (w *testWallet) next() (string, string) {
	for {
		require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(time.Second*5)))
		_, data, err := w.conn.ReadMessage()
		require.NoError(w.t, err)
		msg, err := newWCMessageFromBytes(data)
		require.NoError(w.t, err)
		if msg.Type != "pub" {
			continue
		}
		payload, err := w.p.decryptJSONRpc(msg)
		require.NoError(w.t, err)
		return msg.Topic, payload
	}
}

func (w *testWallet) send(jsonRpc string) {
	payload, err := w.p.encryptJSONRpc(jsonRpc)
	require.NoError(w.t, err)
	msg := wcMessage{Topic: w.p.clientID, Type: "pub", Payload: payload.Marshal()}
	require.NoError(w.t, w.conn.WriteMessage(websocket.TextMessage, msg.Marshal()))
}

func startBridge(t *testing.T) (string, chan *websocket.Conn) {
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wc", r.URL.Query().Get("protocol"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)
	return server.URL, conns
}

type enableResult struct {
	accounts []string
	err      error
}

// startPairing runs Enable and answers the session request with respond.
func startPairing(t *testing.T, opts Options, respond func(id int64) string) (*Provider, *testWallet, enableResult) {
	bridgeURL, conns := startBridge(t)
	opts.BridgeURL = bridgeURL
	p, err := NewProvider(opts)
	require.NoError(t, err)
	t.Cleanup(p.close)

	done := make(chan enableResult, 1)
	go func() {
		accounts, err := p.Enable(context.Background())
		done <- enableResult{accounts, err}
	}()

	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case <-time.After(time.Second * 5):
		t.Fatal("provider never dialed the bridge")
	}
	t.Cleanup(func() { conn.Close() })
	w := &testWallet{t: t, conn: conn, p: p}

	topic, payload := w.next()
	require.Equal(t, p.handshakeTopic, topic)
	require.Equal(t, "wc_sessionRequest", gjson.Get(payload, "method").String())
	require.Equal(t, p.clientID, gjson.Get(payload, "params.0.peerId").String())
	w.send(respond(gjson.Get(payload, "id").Int()))

	select {
	case r := <-done:
		return p, w, r
	case <-time.After(time.Second * 5):
		t.Fatal("enable did not return")
	}
	return nil, nil, enableResult{}
}

func approve(account string) func(id int64) string {
	return func(id int64) string {
		return fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","result":{"approved":true,"chainId":31337,"networkId":0,"accounts":["%s"],"peerId":"%s","peerMeta":{"name":"Test Wallet"}}}`,
			id, account, walletPeer)
	}
}

func pair(t *testing.T, opts Options, account string) (*Provider, *testWallet) {
	p, w, r := startPairing(t, opts, approve(account))
	require.NoError(t, r.err)
	require.Equal(t, []string{account}, r.accounts)
	return p, w
}

func TestEnable(t *testing.T) {
	qrPath := filepath.Join(t.TempDir(), "qr.png")
	var shownURI string
	p, _ := pair(t, Options{
		ChainID:    31337,
		Meta:       ClientMeta{Name: "defi"},
		QRCodePath: qrPath,
		DisplayQRCode: func(uri string, png []byte) error {
			shownURI = uri
			assert.NotEmpty(t, png)
			return nil
		},
	}, alice)

	assert.True(t, p.Connected())
	assert.Equal(t, p.URI(), shownURI)
	_, err := os.Stat(qrPath)
	assert.NoError(t, err)

	var accounts []string
	require.NoError(t, p.Request(context.Background(), &accounts, eip1193.MethodAccounts))
	assert.Equal(t, []string{alice}, accounts)
	var chainID string
	require.NoError(t, p.Request(context.Background(), &chainID, eip1193.MethodChainID))
	assert.Equal(t, "0x7a69", chainID)

	_, err = p.Enable(context.Background())
	assert.ErrorIs(t, err, errDuplicateEnable)
}

func TestEnableRejected(t *testing.T) {
	p, _, r := startPairing(t, Options{}, func(id int64) string {
		return fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","error":{"code":-32000,"message":"Session Rejected"}}`, id)
	})
	assert.True(t, eip1193.IsUserRejected(r.err))
	assert.False(t, p.Connected())

	var accounts []string
	require.NoError(t, p.Request(context.Background(), &accounts, eip1193.MethodAccounts))
	assert.Empty(t, accounts)
	err := p.Request(context.Background(), nil, eip1193.MethodRequestAccounts)
	var rpcErr *eip1193.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, eip1193.CodeUnauthorized, rpcErr.Code)
}

func TestEnableNoAccounts(t *testing.T) {
	_, _, r := startPairing(t, Options{}, func(id int64) string {
		return fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","result":{"approved":true,"chainId":1,"accounts":[],"peerId":"%s"}}`, id, walletPeer)
	})
	require.Error(t, r.err)
	assert.False(t, eip1193.IsUserRejected(r.err))
}

func TestWalletMethodRelayed(t *testing.T) {
	p, w := pair(t, Options{}, alice)

	type sendResult struct {
		hash string
		err  error
	}
	send := func() chan sendResult {
		done := make(chan sendResult, 1)
		go func() {
			var hash string
			err := p.Request(context.Background(), &hash, eip1193.MethodSendTransaction,
				map[string]string{"from": alice, "to": bob, "value": "0x1"})
			done <- sendResult{hash, err}
		}()
		return done
	}

	done := send()
	topic, payload := w.next()
	assert.Equal(t, walletPeer, topic)
	assert.Equal(t, eip1193.MethodSendTransaction, gjson.Get(payload, "method").String())
	assert.Equal(t, bob, gjson.Get(payload, "params.0.to").String())
	w.send(fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","result":"0xabc"}`, gjson.Get(payload, "id").Int()))
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "0xabc", r.hash)

	done = send()
	_, payload = w.next()
	w.send(fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","error":{"code":-32000,"message":"User rejected the transaction"}}`, gjson.Get(payload, "id").Int()))
	r = <-done
	assert.True(t, eip1193.IsUserRejected(r.err))
}

func TestSessionUpdate(t *testing.T) {
	p, w := pair(t, Options{}, alice)
	accountsCh := make(chan interface{}, 4)
	chainCh := make(chan interface{}, 4)
	disconnectCh := make(chan interface{}, 4)
	p.On(eip1193.EventAccountsChanged, func(payload interface{}) { accountsCh <- payload })
	p.On(eip1193.EventChainChanged, func(payload interface{}) { chainCh <- payload })
	p.On(eip1193.EventDisconnect, func(payload interface{}) { disconnectCh <- payload })

	update := `{"id":1,"jsonrpc":"2.0","method":"wc_sessionUpdate","params":[{"approved":%v,"chainId":%d,"networkId":%d,"accounts":["%s"]}]}`
	w.send(fmt.Sprintf(update, true, 31337, 31337, bob))
	select {
	case payload := <-accountsCh:
		assert.Equal(t, []string{bob}, payload)
	case <-time.After(time.Second * 5):
		t.Fatal("no accountsChanged")
	}

	w.send(fmt.Sprintf(update, true, 5, 5, bob))
	select {
	case payload := <-chainCh:
		assert.Equal(t, "0x5", payload)
	case <-time.After(time.Second * 5):
		t.Fatal("no chainChanged")
	}
	assert.Empty(t, accountsCh)

	w.send(`{"id":2,"jsonrpc":"2.0","method":"wc_sessionUpdate","params":[{"approved":false,"chainId":null,"networkId":null,"accounts":null}]}`)
	select {
	case payload := <-disconnectCh:
		assert.Error(t, payload.(error))
	case <-time.After(time.Second * 5):
		t.Fatal("no disconnect")
	}
	assert.False(t, p.Connected())
}

func TestDisconnect(t *testing.T) {
	p, w := pair(t, Options{}, alice)
	disconnectCh := make(chan interface{}, 1)
	p.On(eip1193.EventDisconnect, func(payload interface{}) { disconnectCh <- payload })

	require.NoError(t, p.Disconnect(context.Background()))
	topic, payload := w.next()
	assert.Equal(t, walletPeer, topic)
	assert.Equal(t, "wc_sessionUpdate", gjson.Get(payload, "method").String())
	assert.False(t, gjson.Get(payload, "params.0.approved").Bool())
	assert.False(t, p.Connected())

	err := p.Request(context.Background(), nil, eip1193.MethodSendTransaction)
	var rpcErr *eip1193.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, eip1193.CodeDisconnected, rpcErr.Code)

	assert.NoError(t, p.Disconnect(context.Background()))
	assert.Empty(t, disconnectCh)
}

type ethService struct{}

func (ethService) BlockNumber() hexutil.Uint64 {
	return 42
}

func TestRelay(t *testing.T) {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", ethService{}))
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})

	p, err := NewProvider(Options{RelayURL: httpServer.URL})
	require.NoError(t, err)
	defer p.close()
	var n hexutil.Uint64
	require.NoError(t, p.Request(context.Background(), &n, "eth_blockNumber"))
	assert.Equal(t, hexutil.Uint64(42), n)

	bare, err := NewProvider(Options{})
	require.NoError(t, err)
	assert.ErrorIs(t, bare.Request(context.Background(), &n, "eth_blockNumber"), errNoRelay)
}

func TestSignIn(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	account := crypto.PubkeyToAddress(key.PublicKey).Hex()
	p, w := pair(t, Options{}, account)

	sign := func(msg string) string {
		sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
		require.NoError(t, err)
		sig[crypto.RecoveryIDOffset] += 27
		return hexutil.Encode(sig)
	}

	type signResult struct {
		sig string
		err error
	}
	done := make(chan signResult, 1)
	go func() {
		sig, err := SignIn(context.Background(), p, account, "hello moff")
		done <- signResult{sig, err}
	}()
	_, payload := w.next()
	assert.Equal(t, "personal_sign", gjson.Get(payload, "method").String())
	assert.Equal(t, hexutil.Encode([]byte("hello moff")), gjson.Get(payload, "params.0").String())
	want := sign("hello moff")
	w.send(fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","result":"%s"}`, gjson.Get(payload, "id").Int(), want))
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, want, r.sig)

	assert.False(t, verifyEthSignature(account, sign("other"), []byte("hello moff")))
	assert.False(t, verifyEthSignature(bob, want, []byte("hello moff")))
	assert.False(t, verifyEthSignature(account, "0x1234", []byte("hello moff")))
}

func TestEncryptDecrypt(t *testing.T) {
	p, err := NewProvider(Options{BridgeURL: "https://a.bridge.walletconnect.org"})
	require.NoError(t, err)
	payload, err := p.encryptJSONRpc(`{"id":1}`)
	require.NoError(t, err)

	plain, err := p.decryptJSONRpc(&wcMessage{Payload: payload.Marshal()})
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, plain)

	payload.Hmac = strings.Repeat("0", 64)
	_, err = p.decryptJSONRpc(&wcMessage{Payload: payload.Marshal()})
	assert.Error(t, err)
}

func TestPKCS7(t *testing.T) {
	padded := pkcs7Padding([]byte("0123456789abcdef"), 16)
	assert.Len(t, padded, 32)
	out, err := pkcs7Unpadding(padded, 16)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(out))

	_, err = pkcs7Unpadding([]byte{1, 2, 3, 0}, 16)
	assert.ErrorIs(t, err, errBadPadding)
	_, err = pkcs7Unpadding([]byte{1, 2, 3, 2}, 16)
	assert.ErrorIs(t, err, errBadPadding)
}

func TestURI(t *testing.T) {
	p, err := NewProvider(Options{BridgeURL: "https://a.bridge.walletconnect.org"})
	require.NoError(t, err)
	uri := p.URI()
	prefix := "wc:" + p.handshakeTopic + "@1?bridge=" + url.QueryEscape("https://a.bridge.walletconnect.org") + "&key="
	require.True(t, strings.HasPrefix(uri, prefix), uri)
	assert.Len(t, strings.TrimPrefix(uri, prefix), 64)
}

func TestBridgeURLs(t *testing.T) {
	assert.Equal(t, "wss://a.bridge.walletconnect.org?env=go&protocol=wc&version=1",
		webSocketURL("https://a.bridge.walletconnect.org", "wc", "1"))
	assert.Equal(t, "ws://127.0.0.1:80?env=go&protocol=wc&version=1",
		webSocketURL("http://127.0.0.1:80", "wc", "1"))
	assert.Equal(t, "walletconnect.org", extractRootDomain("https://a.bridge.walletconnect.org/path"))
	assert.Equal(t, "localhost", extractRootDomain("http://localhost:5000"))
	assert.True(t, strings.HasSuffix(RandomBridgeURL(), ".bridge.walletconnect.org"))
}
