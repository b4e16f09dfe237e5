package starter

import (
	"context"
	"github.com/stretchr/testify/assert"
	"moff.io/moff-defi/internal/config"
	"testing"
)

type component struct {
	name  string
	log   *[]string
	topic string
}

func (c *component) Apply(conf *config.Configuration) {
	c.topic = conf.KafkaTopic
}

func (c *component) Start(ctx context.Context) {
	*c.log = append(*c.log, "start "+c.name)
}

func (c *component) Stop() {
	*c.log = append(*c.log, "stop "+c.name)
}

type startOnly struct {
	started bool
}

func (s *startOnly) Start(ctx context.Context) {
	s.started = true
}

func TestStartOrder(t *testing.T) {
	var calls []string
	a := &component{name: "a", log: &calls}
	b := &component{name: "b", log: &calls}
	plain := &startOnly{}
	c := config.Default()

	stop := Start(context.Background(), &c, a, plain, b)
	assert.Equal(t, []string{"start a", "start b"}, calls)
	assert.Equal(t, "defi_wallet_events", a.topic)
	assert.True(t, plain.started)

	stop()
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, calls)
}
