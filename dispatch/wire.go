package dispatch

import "github.com/lordbasex/kvcore/command"

// BuildRegistry assembles the command.Registry with every descriptor's
// Handler field wired in, per command/table.go's doc comment ("Handlers
// are wired in by package dispatch, which imports command and fills in
// each Descriptor's Handler field before the table is frozen into a
// Registry").
func BuildRegistry() *command.Registry {
	table := command.Static()
	wireTable(table)
	return command.New(table)
}

var topLevelHandlers = map[string]command.Handler{
	"PING":         handlePing,
	"ECHO":         handleEcho,
	"GET":          handleGet,
	"SET":          handleSet,
	"DEL":          handleDel,
	"EXISTS":       handleExists,
	"EXPIRE":       handleExpire,
	"TTL":          handleTTL,
	"INCR":         handleIncr,
	"INCRBY":       handleIncrBy,
	"MGET":         handleMGet,
	"MSET":         handleMSet,
	"MULTI":        handleMulti,
	"EXEC":         handleExec,
	"DISCARD":      handleDiscard,
	"WATCH":        handleWatch,
	"UNWATCH":      handleUnwatch,
	"AUTH":         handleAuth,
	"SELECT":       handleSelect,
	"DBSIZE":       handleDBSize,
	"FLUSHDB":      handleFlushDB,
	"COMMAND":      handleCommand,
	"INFO":         handleInfo,
	"CONFIG":       handleConfig,
	"SHUTDOWN":     handleShutdown,
	"BGSAVE":       handleBGSave,
	"BGREWRITEAOF": handleBGRewriteAOF,
	"REPLICAOF":    handleReplicaOf,
}

func wireTable(table []*command.Descriptor) {
	for _, d := range table {
		if h, ok := topLevelHandlers[d.Name]; ok {
			d.Handler = h
		}
		switch d.Name {
		case "CLIENT":
			for sub, sd := range d.Subcommands {
				sd.Handler = handleClientSub(sub)
			}
		case "DEBUG":
			for sub, sd := range d.Subcommands {
				sd.Handler = handleDebugSub(sub)
			}
		}
	}
}
