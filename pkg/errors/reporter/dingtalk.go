package reporter

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"
)

// DingTalkRobot 钉钉机器人, text messages only.
type DingTalkRobot interface {
	SendText(content string, atMobiles []string, isAtAll bool) error
	WithSecret(secret string) DingTalkRobot
}

type dingTalkRobot struct {
	webHook    string
	secret     string
	httpClient *http.Client
}

const defaultRobotTimeout = time.Second * 5

func NewDingTalkRobot(webHook string) DingTalkRobot {
	return &dingTalkRobot{
		webHook:    webHook,
		httpClient: &http.Client{Timeout: defaultRobotTimeout},
	}
}

// WithSecret enables the signed webhook mode.
func (r *dingTalkRobot) WithSecret(secret string) DingTalkRobot {
	r.secret = secret
	return r
}

type textMessage struct {
	MsgType string     `json:"msgtype"`
	Text    textParams `json:"text"`
	At      atParams   `json:"at"`
}

type textParams struct {
	Content string `json:"content"`
}

type atParams struct {
	AtMobiles []string `json:"atMobiles,omitempty"`
	IsAtAll   bool     `json:"isAtAll,omitempty"`
}

func (r *dingTalkRobot) SendText(content string, atMobiles []string, isAtAll bool) error {
	return r.send(&textMessage{
		MsgType: "text",
		Text:    textParams{Content: content},
		At: atParams{
			AtMobiles: atMobiles,
			IsAtAll:   isAtAll,
		},
	})
}

type dingResponse struct {
	Errcode int    `json:"errcode"`
	Errmsg  string `json:"errmsg"`
}

func (r *dingTalkRobot) send(msg interface{}) error {
	m, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	webURL := r.webHook
	if r.secret != "" {
		webURL += signedQuery(r.secret, time.Now())
	}
	resp, err := r.httpClient.Post(webURL, "application/json", bytes.NewReader(m))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var dr dingResponse
	if err := json.Unmarshal(data, &dr); err != nil {
		return err
	}
	if dr.Errcode != 0 {
		return fmt.Errorf("dingrobot send failed: %v", dr.Errmsg)
	}
	return nil
}

func signedQuery(secret string, now time.Time) string {
	ts := fmt.Sprintf("%d", now.UnixNano()/1e6)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts + "\n" + secret))
	sign := base64.StdEncoding.EncodeToString(h.Sum(nil))
	return fmt.Sprintf("&timestamp=%s&sign=%s", ts, url.QueryEscape(sign))
}
