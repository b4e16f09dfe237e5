package walletconnect

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"io/ioutil"
	"moff.io/moff-defi/internal/chains"
	"moff.io/moff-defi/internal/eip1193"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	errSessionClosed   = errors.New("session closed")
	errNoRelay         = errors.New("no rpc relay configured")
	errDuplicateEnable = errors.New("duplicate enable, create a new provider instead")
)

const (
	defaultReadTimeout = time.Minute * 5
	qrCodeSize         = 256
)

// wallet side methods, everything else goes to the relay
var walletMethods = map[string]bool{
	eip1193.MethodSendTransaction: true,
	"eth_signTransaction":         true,
	"eth_sign":                    true,
	eip1193.MethodPersonalSign:    true,
	"eth_signTypedData":           true,
	"eth_signTypedData_v4":        true,
}

type Provider struct {
	eip1193.Emitter

	opts Options

	// None zero value means can not call Enable again, you should recreate the provider instead.
	enableCount atomic.Int64
	connected   atomic.Bool
	payloadID   atomic.Int64

	conn    *websocket.Conn
	writeMu sync.Mutex

	handshakeTopic string
	clientID       string
	encryptionKey  []byte

	mu       sync.Mutex
	session  Session
	pending  map[int64]chan *jsonRpcResponse
	relay    *rpc.Client
	shutdown chan struct{}
	stopOnce sync.Once
}

func NewProvider(opts Options) (*Provider, error) {
	encryptionKey, err := generateRandomBytes(256 / 8)
	if err != nil {
		return nil, errors.WrapAndReport(err, "generate wallet connect key")
	}
	if opts.BridgeURL == "" {
		opts.BridgeURL = RandomBridgeURL()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	p := &Provider{
		opts:           opts,
		handshakeTopic: uuid.NewString(),
		clientID:       uuid.NewString(),
		encryptionKey:  encryptionKey,
		pending:        make(map[int64]chan *jsonRpcResponse),
		shutdown:       make(chan struct{}),
	}
	p.payloadID.Store(time.Now().UnixNano() / int64(time.Microsecond))
	return p, nil
}

// URI is the pairing uri rendered into the QR code.
func (p *Provider) URI() string {
	return fmt.Sprintf("wc:%s@1?bridge=%s&key=%s",
		p.handshakeTopic, url.QueryEscape(p.opts.BridgeURL), hex.EncodeToString(p.encryptionKey))
}

func (p *Provider) Connected() bool {
	return p.connected.Load()
}

func (p *Provider) Enable(ctx context.Context) ([]string, error) {
	if !p.enableCount.CAS(0, 1) {
		return nil, errDuplicateEnable
	}
	if err := p.dialWS(ctx); err != nil {
		return nil, err
	}
	accounts, err := p.pair(ctx)
	if err != nil {
		p.close()
		return nil, err
	}
	p.connected.Store(true)
	go p.readLoop()
	return accounts, nil
}

func (p *Provider) pair(ctx context.Context) ([]string, error) {
	if err := p.subscribe(); err != nil {
		return nil, err
	}
	id, err := p.createSessionRequest()
	if err != nil {
		return nil, err
	}
	if err := p.displayQRCode(); err != nil {
		return nil, err
	}
	// the caller's deadline bounds the wait for the user scanning the code
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.conn.Close()
		case <-stop:
		}
	}()
	for {
		payload, err := p.readPayload(p.opts.ReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, errSessionClosed) {
				return nil, eip1193.NewUserRejected("session closed before approval")
			}
			return nil, err
		}
		if gjson.Get(payload, "id").Int() != id {
			log.Debugf("wallet connect - skip message while pairing:%v", payload)
			continue
		}
		return p.createSessionResponse(payload)
	}
}

func (p *Provider) createSessionResponse(payload string) ([]string, error) {
	log.Debugf("wallet connect - create session response:%v", payload)
	errStr := gjson.Get(payload, "error.message").String()
	if errStr != "" {
		if strings.Contains(errStr, "Session Rejected") {
			return nil, eip1193.NewUserRejected(errStr)
		}
		return nil, errors.New(errStr)
	}
	var session Session
	if err := json.Unmarshal([]byte(gjson.Get(payload, "result").Raw), &session); err != nil {
		return nil, errors.WrapAndReport(err, "unmarshal wallet info")
	}
	if !session.Approved {
		return nil, eip1193.NewUserRejected("session not approved")
	}
	if len(session.Accounts) == 0 {
		return nil, errors.NewWithReport("no wallet accounts acquired")
	}
	p.mu.Lock()
	p.session = session
	p.mu.Unlock()
	log.Infof("wallet connect - session approved by %v on chain %v", session.PeerMeta.Name, session.ChainID)
	return append([]string{}, session.Accounts...), nil
}

func (p *Provider) displayQRCode() error {
	uri := p.URI()
	log.Debugf("wallet connect - generated uri:%v", uri)
	png, err := qrcode.Encode(uri, qrcode.Medium, qrCodeSize)
	if err != nil {
		return errors.WrapAndReport(err, "encode wallet connect qr code")
	}
	if p.opts.QRCodePath != "" {
		if err := ioutil.WriteFile(p.opts.QRCodePath, png, 0644); err != nil {
			return errors.WrapAndReport(err, "write wallet connect qr code")
		}
	}
	if p.opts.DisplayQRCode == nil {
		return nil
	}
	return p.opts.DisplayQRCode(uri, png)
}

func (p *Provider) readLoop() {
	for {
		payload, err := p.readPayload(0)
		if err != nil {
			select {
			case <-p.shutdown:
				return
			default:
			}
			if errors.Is(err, errSessionClosed) {
				p.lost(&eip1193.RPCError{Code: eip1193.CodeDisconnected, Message: "session closed by wallet"})
			} else {
				log.Warnf("wallet connect - read loop: %v", err)
				p.lost(&eip1193.RPCError{Code: eip1193.CodeDisconnected, Message: err.Error()})
			}
			return
		}
		p.dispatch(payload)
	}
}

func (p *Provider) dispatch(payload string) {
	method := gjson.Get(payload, "method")
	if method.Exists() {
		if method.String() == "wc_sessionUpdate" {
			p.handleSessionUpdate(payload)
			return
		}
		log.Debugf("wallet connect - ignore wallet request:%v", payload)
		return
	}
	var resp jsonRpcResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		log.Warnf("wallet connect - bad response %v: %v", payload, err)
		return
	}
	p.mu.Lock()
	ch, ok := p.pending[resp.Id]
	delete(p.pending, resp.Id)
	p.mu.Unlock()
	if !ok {
		log.Debugf("wallet connect - unmatched response:%v", payload)
		return
	}
	ch <- &resp
}

// handleSessionUpdate applies a live session update, closed sessions were already turned
// into errSessionClosed by readPayload.
func (p *Provider) handleSessionUpdate(payload string) {
	var update sessionUpdate
	params := gjson.Get(payload, "params.0")
	if !params.Exists() {
		return
	}
	if err := json.Unmarshal([]byte(params.Raw), &update); err != nil {
		log.Warnf("wallet connect - bad session update %v: %v", payload, err)
		return
	}
	p.mu.Lock()
	accountsChanged := update.Accounts != nil && !equalAccounts(update.Accounts, p.session.Accounts)
	if accountsChanged {
		p.session.Accounts = append([]string{}, update.Accounts...)
	}
	chainChanged := update.ChainID != nil && *update.ChainID != p.session.ChainID
	if chainChanged {
		p.session.ChainID = *update.ChainID
	}
	accounts, chainID := append([]string{}, p.session.Accounts...), p.session.ChainID
	p.mu.Unlock()

	if accountsChanged {
		p.Emit(eip1193.EventAccountsChanged, accounts)
	}
	if chainChanged {
		p.Emit(eip1193.EventChainChanged, chains.FormatHexID(chainID))
	}
}

func (p *Provider) lost(err error) {
	if !p.connected.CAS(true, false) {
		return
	}
	p.close()
	p.Emit(eip1193.EventDisconnect, err)
}

func (p *Provider) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	switch {
	case method == eip1193.MethodAccounts || method == eip1193.MethodRequestAccounts:
		p.mu.Lock()
		accounts := append([]string{}, p.session.Accounts...)
		p.mu.Unlock()
		if !p.Connected() {
			if method == eip1193.MethodRequestAccounts {
				return &eip1193.RPCError{Code: eip1193.CodeUnauthorized, Message: "wallet connect session not enabled"}
			}
			accounts = []string{}
		}
		return assign(result, accounts)
	case method == eip1193.MethodChainID && p.Connected():
		p.mu.Lock()
		chainID := p.session.ChainID
		p.mu.Unlock()
		return assign(result, chains.FormatHexID(chainID))
	case walletMethods[method]:
		raw, err := p.sendToWallet(ctx, method, params...)
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(raw, result)
	default:
		relay, err := p.relayClient(ctx)
		if err != nil {
			return err
		}
		return relay.CallContext(ctx, result, method, params...)
	}
}

func (p *Provider) sendToWallet(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if !p.Connected() {
		return nil, &eip1193.RPCError{Code: eip1193.CodeDisconnected, Message: "wallet connect session closed"}
	}
	p.mu.Lock()
	peerID := p.session.PeerID
	p.mu.Unlock()

	id := p.payloadID.Inc()
	ch := make(chan *jsonRpcResponse, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.publish(peerID, newJSONRpcRequest(id, method, params...)); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.shutdown:
		return nil, &eip1193.RPCError{Code: eip1193.CodeDisconnected, Message: "wallet connect session closed"}
	case resp := <-ch:
		if resp.Error != nil {
			if strings.Contains(strings.ToLower(resp.Error.Message), "reject") {
				return nil, eip1193.NewUserRejected(resp.Error.Message)
			}
			return nil, &eip1193.RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Result, nil
	}
}

func (p *Provider) relayClient(ctx context.Context) (*rpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.relay != nil {
		return p.relay, nil
	}
	relayURL := p.opts.RelayURL
	if relayURL == "" {
		relayURL = p.session.RPCURL
	}
	if relayURL == "" {
		return nil, errNoRelay
	}
	client, err := rpc.DialContext(ctx, relayURL)
	if err != nil {
		return nil, errors.WrapAndReport(err, "dial wallet connect rpc relay")
	}
	p.relay = client
	return client, nil
}

// Disconnect kills the session on the wallet side and releases the bridge connection.
func (p *Provider) Disconnect(ctx context.Context) error {
	var err error
	if p.connected.CAS(true, false) {
		p.mu.Lock()
		peerID := p.session.PeerID
		p.mu.Unlock()
		err = p.publish(peerID, newJSONRpcRequest(p.payloadID.Inc(), "wc_sessionUpdate", sessionUpdate{Approved: false}))
	}
	p.close()
	return err
}

// Close releases the bridge connection without ending the session on the wallet side.
func (p *Provider) Close() error {
	p.connected.Store(false)
	p.RemoveAllListeners()
	p.close()
	return nil
}

func (p *Provider) stop() {
	p.stopOnce.Do(func() {
		close(p.shutdown)
	})
}

func (p *Provider) close() {
	p.stop()
	if p.conn != nil {
		p.conn.Close()
	}
	p.mu.Lock()
	relay := p.relay
	p.relay = nil
	p.mu.Unlock()
	if relay != nil {
		relay.Close()
	}
}

func (p *Provider) dialWS(ctx context.Context) error {
	wsURL := webSocketURL(p.opts.BridgeURL, "wc", "1")
	dialer := websocket.Dialer{HandshakeTimeout: time.Second * 30}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return errors.WrapAndReport(err, "dial to wallet connect bridge url")
	}
	p.conn = conn
	return nil
}

func (p *Provider) sendRequest(payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	err := p.conn.WriteMessage(websocket.TextMessage, payload)
	if err != nil {
		return errors.WrapAndReport(err, "write wallet connect message to server")
	}
	return nil
}

func (p *Provider) publish(topic string, req *jsonRpcRequest) error {
	payload, err := p.encryptJSONRpc(req.Marshal())
	if err != nil {
		return err
	}
	msg := wcMessage{
		Topic:   topic,
		Type:    "pub",
		Payload: payload.Marshal(),
		Silent:  req.IsSilentPayload(),
	}
	log.Debugf("wallet connect - publish %v:%v", req.Method, string(msg.Marshal()))
	return p.sendRequest(msg.Marshal())
}

func (p *Provider) encryptJSONRpc(jsonRpc string) (*wcMessagePayload, error) {
	iv, err := generateRandomBytes(128 / 8)
	if err != nil {
		return nil, errors.WrapAndReport(err, "generate random bytes")
	}
	data, err := aes256Encrypt([]byte(jsonRpc), p.encryptionKey, iv)
	if err != nil {
		return nil, err
	}
	unsigned := append(append([]byte{}, data...), iv...)
	hmac := hmacSha256(unsigned, p.encryptionKey)
	msg := &wcMessagePayload{
		Data: hex.EncodeToString(data),
		IV:   hex.EncodeToString(iv),
		Hmac: hex.EncodeToString(hmac),
	}
	return msg, nil
}

func (p *Provider) decryptJSONRpc(msg *wcMessage) (string, error) {
	mp, err := newWCMessagePayloadFromBytes([]byte(msg.Payload))
	if err != nil {
		return "", err
	}
	iv, err := hex.DecodeString(mp.IV)
	if err != nil {
		return "", errors.WrapAndReport(err, "decode iv hex")
	}
	cipher, err := hex.DecodeString(mp.Data)
	if err != nil {
		return "", errors.WrapAndReport(err, "decode cipher hex")
	}
	// 校验hmac一致性
	unsigned := append(append([]byte{}, cipher...), iv...)
	hmac := hmacSha256(unsigned, p.encryptionKey)
	if hex.EncodeToString(hmac) != mp.Hmac {
		return "", errors.NewWithReport("inconsistent session message hmac")
	}
	// 解密数据
	data, err := aes256Decrypt(cipher, p.encryptionKey, iv)
	if err != nil {
		return "", errors.WrapAndReport(err, "aes256 decrypt")
	}
	return string(data), nil
}

// readPayload returns the next decrypted json rpc payload, a zero timeout waits forever.
func (p *Provider) readPayload(timeout time.Duration) (string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return "", errors.Wrap(err, "set websocket read timeout")
	}
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", errSessionClosed
			}
			return "", errors.Wrap(err, "read wallet connect message")
		}
		if msgType != websocket.TextMessage {
			continue
		}
		log.Debugf("wallet connect - receive:%v", string(data))
		msg, err := newWCMessageFromBytes(data)
		if err != nil {
			return "", err
		}
		if msg.Type != "pub" || msg.Payload == "" {
			continue
		}
		if err := p.sessionMessageACK(); err != nil {
			return "", err
		}
		payload, err := p.decryptJSONRpc(msg)
		if err != nil {
			return "", err
		}
		if sessionClosed := checkSessionClosed(payload); sessionClosed {
			return "", errSessionClosed
		}
		return payload, nil
	}
}

func checkSessionClosed(jsonRpc string) bool {
	// 检查是否是会话更新或者链接断开
	if gjson.Get(jsonRpc, "method").String() != "wc_sessionUpdate" {
		return false
	}
	approved := gjson.Get(jsonRpc, "params.0.approved")
	if !approved.Exists() || approved.Bool() {
		return false
	}
	// 用户断开链接
	log.Warnf("wallet connect - session closed from request %v", jsonRpc)
	return true
}

func (p *Provider) sessionMessageACK() error {
	msg := wcMessage{
		Topic:   p.clientID,
		Type:    "ack",
		Payload: "",
		Silent:  true,
	}
	return p.sendRequest(msg.Marshal())
}

// createSessionRequest returns the request id the wallet answers with.
func (p *Provider) createSessionRequest() (int64, error) {
	id := p.payloadID.Inc()
	var chainID interface{}
	if p.opts.ChainID != 0 {
		chainID = p.opts.ChainID
	}
	jsonRpc := newJSONRpcRequest(id, "wc_sessionRequest", peer{
		PeerID:   p.clientID,
		PeerMeta: p.opts.Meta,
		ChainID:  chainID,
	})
	return id, p.publish(p.handshakeTopic, jsonRpc)
}

func (p *Provider) subscribe() error {
	msg := wcMessage{
		Topic:   p.clientID,
		Type:    "sub",
		Payload: "",
		Silent:  true,
	}
	log.Debugf("wallet connect - subscribe session:%v", string(msg.Marshal()))
	return p.sendRequest(msg.Marshal())
}

func assign(result interface{}, v interface{}) error {
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}

func equalAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
