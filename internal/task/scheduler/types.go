package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	logx "fieldbridge/pkg/logx"
)

// Job is the scheduled work. It receives the scheduler's context.
type Job func(ctx context.Context)

// Config controls the trigger.
type Config struct {
	// Spec is a cron expression or interval (see ParseSchedule).
	Spec string
	// Timezone is an IANA zone for cron expressions; empty means local.
	Timezone string
	// RunOnStart fires one run as soon as Start is called.
	RunOnStart bool
}

// DefaultSpec is the interval schedule for a poll period in minutes.
func DefaultSpec(minutes int) string {
	return fmt.Sprintf("@every %dm", minutes)
}

// cronLogger adapts logx to cron.Logger so cron's skip and panic messages
// land in the same log stream.
type cronLogger struct{ log logx.Logger }

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
