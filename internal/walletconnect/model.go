package walletconnect

import (
	"encoding/json"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"strings"
)

// Session is the wallet side of an approved session.
type Session struct {
	Approved bool       `json:"approved"`
	PeerMeta ClientMeta `json:"peerMeta"`
	ChainID  int64      `json:"chainId"`
	Accounts []string   `json:"accounts"`
	PeerID   string     `json:"peerId"`
	RPCURL   string     `json:"rpcUrl,omitempty"`
}

type wcMessagePayload struct {
	Data string `json:"data"`
	Hmac string `json:"hmac"`
	IV   string `json:"iv"`
}

func newWCMessagePayloadFromBytes(data []byte) (*wcMessagePayload, error) {
	var payload wcMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.WrapAndReport(err, "unmarshal wallet connect message payload")
	}
	return &payload, nil
}

func (e *wcMessagePayload) Marshal() string {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return string(s)
}

type peer struct {
	PeerID   string      `json:"peerId"`
	PeerMeta ClientMeta  `json:"peerMeta"`
	ChainID  interface{} `json:"chainId"`
}

type ClientMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

// sessionUpdate is the single param of wc_sessionUpdate. Pointers distinguish "not sent".
type sessionUpdate struct {
	Approved  bool     `json:"approved"`
	ChainID   *int64   `json:"chainId"`
	NetworkID *int64   `json:"networkId"`
	Accounts  []string `json:"accounts"`
}

type wcMessage struct {
	Topic string `json:"topic"`
	// pub sub ack
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func newWCMessageFromBytes(data []byte) (*wcMessage, error) {
	var msg wcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.WrapAndReport(err, "unmarshal wallet connect message")
	}
	return &msg, nil
}

func (msg *wcMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

type jsonRpcRequest struct {
	Id      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newJSONRpcRequest(id int64, method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		Id:      id,
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

func (e *jsonRpcRequest) Marshal() string {
	s, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return string(s)
}

// IsSilentPayload reports whether the wallet should not notify the user.
func (e *jsonRpcRequest) IsSilentPayload() bool {
	return strings.HasPrefix(e.Method, "wc_")
}

type jsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRpcResponse struct {
	Id     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *jsonRpcError   `json:"error"`
}
