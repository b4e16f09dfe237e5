package errors

import (
	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"
	"moff.io/moff-defi/pkg/errors/reporter"
	"moff.io/moff-defi/pkg/log"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

func init() {
	if os.Getenv(debugMode) == "" {
		log.Info("Env DEBUG not set, report errors enabled.")
	} else {
		log.Info("Env DEBUG set, report errors disabled.")
	}
}

func report(err error) {
	if err == nil || os.Getenv(debugMode) != "" {
		return
	}
	reportersMu.RLock()
	defer reportersMu.RUnlock()
	for _, r := range reporters {
		r.Report(err)
	}
}

// Reporter 错误报告器
type Reporter interface {
	Report(error)
}

// AddReporter registers r for every ...AndReport error created afterwards.
func AddReporter(r Reporter) {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = append(reporters, r)
}

// ResetReporters drops every registered reporter.
func ResetReporters() {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = nil
}

type sentryReporter struct {
}

func (s *sentryReporter) Report(err error) {
	sentry.CaptureException(err)
}

// 设置该变量，则不会上报
const debugMode = "DEBUG"

// NewSentryReporter
// 初始化错误sentry报告器
// 环境变量DEBUG不为空时，不会产生错误上报
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:     sentryDSN,
		CaCerts: rootCAs,
	})
	if err != nil {
		return Wrap(err, "init sentry")
	}
	log.Info("sentry error reporter initialized.")
	AddReporter(&sentryReporter{})
	return nil
}

type dingTalkRobotReporter struct {
	limiter *rateLimiter
	reporter.DingTalkRobot
}

// NewDingTalkReporter
// 初始化钉钉机器人上报错误至指定的webhook
func NewDingTalkReporter(webhook, secret string, reportDelay time.Duration) {
	if webhook == "" {
		log.Warn("empty dingtalk webhook found, skipping dingtalk reporter initialization.")
		return
	}
	robot := reporter.NewDingTalkRobot(webhook).WithSecret(secret)
	AddReporter(&dingTalkRobotReporter{limiter: newRateLimiter(reportDelay), DingTalkRobot: robot})
	log.Info("dingtalk error reporter initialized.")
}

func (r *dingTalkRobotReporter) Report(err error) {
	if err == nil {
		return
	}
	msg, ok := r.limiter.compose("", err, callers().fullStack())
	if !ok {
		return
	}
	if err := r.SendText(strings.Join(msg.lines(), "\n"), nil, false); err != nil {
		log.Warn(WithStack(err))
	}
}
