package notify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stevemurr/library-sync/notify"
)

func TestRecorder(t *testing.T) {
	var r notify.Recorder
	r.Notify(notify.Notification{Level: notify.Error, Title: "create failed", Message: "boom"})
	r.Notify(notify.Notification{Level: notify.Warning, Title: "partial"})

	assert.Equal(t, 1, r.Count(notify.Error))
	assert.Len(t, r.All(), 2)
	assert.Equal(t, "[error] create failed: boom", r.All()[0].String())
	assert.Equal(t, "[warning] partial", r.All()[1].String())

	assert.Len(t, r.Drain(), 2)
	assert.Empty(t, r.All())
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := notify.NewLog(zap.New(core))

	n.Notify(notify.Notification{Level: notify.Error, Scope: "ws1", Title: "delete failed"})
	n.Notify(notify.Notification{Level: notify.Info, Scope: "ws1", Title: "done"})

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "delete failed", entries[0].Message)
		assert.Equal(t, "ws1", entries[0].ContextMap()["scope"])
	}
}
