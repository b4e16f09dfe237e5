package errors

import (
	"github.com/go-lark/lark"
	"moff.io/moff-defi/pkg/log"
	"time"
)

type larkReporter struct {
	bot   *lark.Bot
	title string
	delay *rateLimiter
}

// NewLarkReporter posts reported errors to a lark notification bot, one post per call site
// inside the silent window.
func NewLarkReporter(webhook, title string, silent time.Duration) {
	if webhook == "" {
		log.Warn("empty lark webhook found, skipping lark reporter initialization.")
		return
	}
	AddReporter(&larkReporter{
		bot:   lark.NewNotificationBot(webhook),
		title: title,
		delay: newRateLimiter(silent),
	})
	log.Info("Lark error reporter initialized.")
}

func (r *larkReporter) Report(err error) {
	if err == nil {
		return
	}
	msg, ok := r.delay.compose(r.title, err, callers().fullStack())
	if !ok {
		return
	}
	if _, err := r.bot.PostNotificationV2(larkPost(msg)); err != nil {
		log.Error(WithStack(err))
	}
}

func larkPost(msg *reportMessage) lark.OutcomingMessage {
	pb := lark.NewPostBuilder()
	pb.Title(msg.title)
	for i, line := range msg.lines() {
		if i > 0 {
			line = "\n" + line
		}
		pb.TextTag(line, 1, true)
	}
	return lark.OutcomingMessage{
		MsgType: "post",
		Content: lark.MessageContent{
			Post: pb.Render(),
		},
	}
}
