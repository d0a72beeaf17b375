package dispatch

import (
	"fmt"
	"strings"
)

// RenderInfo builds the INFO command's section text (spec.md §6 "External
// interfaces... INFO"): a handful of "# Section" headers each followed by
// "key:value" lines.
func RenderInfo(d *Dispatcher) string {
	var sb strings.Builder

	sb.WriteString("# Server\r\n")
	fmt.Fprintf(&sb, "databases:%d\r\n", d.Keyspace.Count())
	sb.WriteString("\r\n")

	sb.WriteString("# Clients\r\n")
	fmt.Fprintf(&sb, "connected_clients:%d\r\n", d.Clients.Len())
	sb.WriteString("\r\n")

	sb.WriteString("# Persistence\r\n")
	fmt.Fprintf(&sb, "aof_enabled:%d\r\n", boolToInt(d.Config.AppendOnly))
	degraded := 0
	if d.DurableLog != nil && d.DurableLog.Degraded() {
		degraded = 1
	}
	fmt.Fprintf(&sb, "aof_last_write_status:%s\r\n", statusWord(degraded == 0))
	sb.WriteString("\r\n")

	sb.WriteString("# Replication\r\n")
	connected := 0
	if d.Replica != nil && d.Replica.Connected() {
		connected = 1
	}
	fmt.Fprintf(&sb, "replica_sink_connected:%d\r\n", connected)
	sb.WriteString("\r\n")

	sb.WriteString("# Keyspace\r\n")
	for i := 0; i < d.Keyspace.Count(); i++ {
		size := d.Keyspace.DB(i).Size()
		if size > 0 {
			fmt.Fprintf(&sb, "db%d:keys=%d\r\n", i, size)
		}
	}

	sb.WriteString("# Commandstats\r\n")
	for _, desc := range d.Registry.All() {
		snap := desc.Stats().Snapshot()
		if snap.Calls == 0 {
			continue
		}
		fmt.Fprintf(&sb, "cmdstat_%s:calls=%d,usec=%d,rejected_calls=%d,failed_calls=%d\r\n",
			strings.ToLower(desc.Name), snap.Calls, snap.Microseconds, snap.RejectedCalls, snap.FailedCalls)
	}

	return sb.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func statusWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "err"
}
