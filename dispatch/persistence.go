package dispatch

import (
	"github.com/lordbasex/kvcore/durablelog"
	"github.com/lordbasex/kvcore/objx"
)

// TriggerRewrite starts a BGREWRITEAOF-equivalent rewrite against the
// dispatcher's durable log, if it is a *durablelog.FileLog (the MySQL audit
// sink has no file to rewrite — it is an append-only mirror, not a replay
// source). A process fork has no equivalent in this module's scope, so the
// rewrite runs inline on a background goroutine instead, the idiomatic Go
// substitute for "doesn't block the reactor".
func TriggerRewrite(d *Dispatcher) {
	fl, ok := d.DurableLog.(*durablelog.FileLog)
	if !ok {
		return
	}
	go func() {
		_ = fl.Rewrite(func() []durablelog.Entry {
			return snapshotEntries(d)
		})
	}()
}

func snapshotEntries(d *Dispatcher) []durablelog.Entry {
	var entries []durablelog.Entry
	now := d.Clock.WallClock()
	for i := 0; i < d.Keyspace.Count(); i++ {
		db := d.Keyspace.DB(i)
		db.ForEach(now, func(key string, value *objx.Object) {
			if value.Encoding() != objx.EncInt && value.Encoding() != objx.EncEmbstr && value.Encoding() != objx.EncRaw {
				return // skip types with no single-command write form (list/hash/set/zset/stream), matching the rewrite's documented skip behavior
			}
			entries = append(entries, durablelog.Entry{Argv: [][]byte{
				[]byte("SET"), []byte(key), value.Data().([]byte),
			}})
		})
	}
	return entries
}
