package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"moff.io/moff-defi/pkg/errors"
	"moff.io/moff-defi/pkg/log"
	"moff.io/moff-defi/pkg/log/meta"
	"net/http"
	"strings"
	"time"
)

// responseBodyWriter keeps a copy of the handler response for the request log.
type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write writes response message into response body and the connection.
func (r responseBodyWriter) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

const requestIDHeader = "x-request-id"

type httpInfo struct {
	RequestID     string            `json:"request_id"`
	Headers       map[string]string `json:"headers"`
	Method        string            `json:"method"`
	RequestAPI    string            `json:"request_api,omitempty"`
	RemoteAddr    string            `json:"remote_addr,omitempty"`
	Response      *response         `json:"response,omitempty"`
	ExecutionTime string            `json:"execution_time,omitempty"`
}

func newHTTPInfo(ctx *gin.Context) *httpInfo {
	return &httpInfo{
		RequestID:  meta.RequestID(ctx.Request.Context()),
		Headers:    requestHeaderFilter(ctx.Request.Header),
		Method:     ctx.Request.Method,
		RequestAPI: ctx.Request.RequestURI,
		RemoteAddr: ctx.ClientIP(),
	}
}

// RecoveredHTTPLog gin框架请求日志拦截器，拦截请求与响应，打印日志
// 注意：如果启用分布式追踪，需要在分布式追踪中间件后注册该拦截器
func RecoveredHTTPLog() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		// 启用日志元信息
		rctx := meta.Begin(ctx.Request.Context())
		requestID := ctx.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		meta.WithValue(rctx, meta.RequestIDKey, requestID)
		ctx.Request = ctx.Request.WithContext(rctx)
		ctx.Header("request-id", requestID)

		// 自定义writer，抓取响应; websocket 升级后连接被接管，不抓取
		w := &responseBodyWriter{body: &bytes.Buffer{}, ResponseWriter: ctx.Writer}
		if !isUpgrade(ctx.Request) {
			ctx.Writer = w
		}

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				err := errors.ErrorfAndReport("%v", r)
				log.Error(err)
			}
			logHTTP(ctx, w, start)
		}()
		ctx.Next()
	}
}

const defaultRequestTimeout = time.Second * 60

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// TimeoutHTTP HTTP超时拦截器, the first positive timeout wins over the 60s default.
func TimeoutHTTP(timeout ...time.Duration) gin.HandlerFunc {
	d := defaultRequestTimeout
	if len(timeout) != 0 && timeout[0] > 0 {
		d = timeout[0]
	}
	return func(ctx *gin.Context) {
		timeoutCtx, cancelFunc := context.WithTimeout(ctx.Request.Context(), d)
		defer cancelFunc()
		ctx.Request = ctx.Request.WithContext(timeoutCtx)
		ctx.Next()
	}
}

// 根据响应状态，打印http日志
func logHTTP(ctx *gin.Context, w *responseBodyWriter, start time.Time) {
	// 如果没有写入响应则写入内部错误
	if !ctx.Writer.Written() {
		ctx.JSON(http.StatusInternalServerError, map[string]interface{}{
			"code": 5000,
			"msg":  "Server internal error",
		})
	}

	s := ctx.Writer.Status()
	info := newHTTPInfo(ctx)
	info.Response = decodeHandlerResponse(w.body.Bytes(), s)
	info.ExecutionTime = fmt.Sprintf("%vms", time.Since(start).Nanoseconds()/1e6)
	line, _ := json.Marshal(info)
	switch {
	case s < http.StatusBadRequest:
		log.Info(string(line))
	case s >= http.StatusInternalServerError:
		log.Error(string(line))
	default:
		log.Warn(string(line))
	}
}

type response struct {
	//ProtocolCode is the response protocol status code
	ProtocolCode int `json:"protocol_code"`
	//Code is the response business code.
	Code interface{} `json:"code,omitempty"`
	//Message is the response message.
	Message interface{} `json:"msg,omitempty"`
}

func decodeHandlerResponse(respBody []byte, httpCode int) *response {
	var resp response
	resp.ProtocolCode = httpCode
	_ = json.Unmarshal(respBody, &resp)
	return &resp
}

var excludedHeaders = map[string]bool{
	"token":         true,
	"access-token":  true,
	"authorization": true,
	"cookie":        true,
}

func requestHeaderFilter(headers map[string][]string) map[string]string {
	filtered := make(map[string]string)
	for k, v := range headers {
		k = strings.ToLower(k)
		if excludedHeaders[k] {
			continue
		}
		filtered[k] = strings.Join(v, ";")
	}
	return filtered
}
