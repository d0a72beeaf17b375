package dispatch

import (
	"strconv"
	"strings"
	"time"

	"github.com/lordbasex/kvcore/client"
	"github.com/lordbasex/kvcore/config"
	"github.com/lordbasex/kvcore/objx"
)

// ctx unwraps the opaque command.Handler context argument. Every handler in
// this file starts with this line; it is the seam command/command.go's doc
// comment describes between the dependency-free command package and the
// dispatch package that actually knows about keyspace/client.
func ctxOf(a any) *Context { return a.(*Context) }

func wrongType(ctx *Context) ([]byte, error) {
	msg := "Operation against a key holding the wrong kind of value"
	return ctx.Disp.Shared.EncodeError("WRONGTYPE", msg), &ExecuteError{Token: "WRONGTYPE", Message: msg}
}

func isScalarEncoding(e objx.Encoding) bool {
	return e == objx.EncInt || e == objx.EncEmbstr || e == objx.EncRaw
}

func encodingFor(value []byte) objx.Encoding {
	if _, err := strconv.ParseInt(string(value), 10, 64); err == nil {
		return objx.EncInt
	}
	if len(value) <= 44 {
		return objx.EncEmbstr
	}
	return objx.EncRaw
}

func handlePing(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	if len(argv) == 2 {
		return encodeBulk(argv[1]), nil
	}
	return ctx.Disp.Shared.Pong.Data().([]byte), nil
}

func handleEcho(a any, argv [][]byte) ([]byte, error) {
	return encodeBulk(argv[1]), nil
}

func handleGet(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	obj, ok := ctx.DB.Get(string(argv[1]), ctx.Now)
	if !ok {
		return ctx.Disp.Shared.NullRESP2.Data().([]byte), nil
	}
	if !isScalarEncoding(obj.Encoding()) {
		return wrongType(ctx)
	}
	obj.Touch(ctx.Now)
	return encodeBulk(obj.Data().([]byte)), nil
}

func handleSet(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	key, value := string(argv[1]), append([]byte(nil), argv[2]...)

	var nx, xx, keepTTL bool
	var expireAtMillis int64 = -1
	for i := 3; i < len(argv); i++ {
		switch strings.ToUpper(string(argv[i])) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "KEEPTTL":
			keepTTL = true
		case "EX":
			if i+1 >= len(argv) {
				return ctx.Disp.Shared.EncodeError("ERR", "syntax error"), &ExecuteError{Token: "ERR", Message: "syntax error"}
			}
			secs, err := strconv.ParseInt(string(argv[i+1]), 10, 64)
			if err != nil {
				return ctx.Disp.Shared.EncodeError("ERR", "value is not an integer or out of range"), &ExecuteError{Token: "ERR"}
			}
			expireAtMillis = ctx.Now.UnixMilli() + secs*1000
			i++
		case "PX":
			if i+1 >= len(argv) {
				return ctx.Disp.Shared.EncodeError("ERR", "syntax error"), &ExecuteError{Token: "ERR", Message: "syntax error"}
			}
			millis, err := strconv.ParseInt(string(argv[i+1]), 10, 64)
			if err != nil {
				return ctx.Disp.Shared.EncodeError("ERR", "value is not an integer or out of range"), &ExecuteError{Token: "ERR"}
			}
			expireAtMillis = ctx.Now.UnixMilli() + millis
			i++
		}
	}

	exists := ctx.DB.Exists(key, ctx.Now)
	if nx && exists {
		return ctx.Disp.Shared.NullRESP2.Data().([]byte), nil
	}
	if xx && !exists {
		return ctx.Disp.Shared.NullRESP2.Data().([]byte), nil
	}

	obj := objx.New(encodingFor(value), value)
	if keepTTL {
		ctx.DB.SetKeepTTL(key, obj)
	} else {
		ctx.DB.Set(key, obj)
	}
	if expireAtMillis >= 0 {
		ctx.DB.SetExpire(key, expireAtMillis, ctx.Now)
	}
	ctx.MarkDirty()
	if ctx.Disp.KeyPool != nil {
		ctx.Disp.KeyPool.Touch(key)
	}
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}

func handleDel(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	var n int64
	for _, k := range argv[1:] {
		if ctx.DB.Delete(string(k)) {
			n++
			if ctx.Disp.KeyPool != nil {
				ctx.Disp.KeyPool.Remove(string(k))
			}
		}
	}
	if n > 0 {
		ctx.MarkDirty()
	}
	return ctx.Disp.Shared.EncodeInteger(n), nil
}

func handleExists(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	var n int64
	for _, k := range argv[1:] {
		if ctx.DB.Exists(string(k), ctx.Now) {
			n++
		}
	}
	return ctx.Disp.Shared.EncodeInteger(n), nil
}

func handleExpire(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	secs, err := strconv.ParseInt(string(argv[2]), 10, 64)
	if err != nil {
		return ctx.Disp.Shared.EncodeError("ERR", "value is not an integer or out of range"), &ExecuteError{Token: "ERR"}
	}
	ok := ctx.DB.SetExpire(string(argv[1]), ctx.Now.UnixMilli()+secs*1000, ctx.Now)
	if ok {
		ctx.MarkDirty()
		return ctx.Disp.Shared.EncodeInteger(1), nil
	}
	return ctx.Disp.Shared.EncodeInteger(0), nil
}

func handleTTL(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	ms := ctx.DB.TTLMillis(string(argv[1]), ctx.Now)
	if ms < 0 {
		return ctx.Disp.Shared.EncodeInteger(ms), nil
	}
	secs := (ms + 999) / 1000
	return ctx.Disp.Shared.EncodeInteger(secs), nil
}

func incrBy(ctx *Context, key string, delta int64) ([]byte, error) {
	obj, ok := ctx.DB.Get(key, ctx.Now)
	var cur int64
	if ok {
		if obj.Encoding() != objx.EncInt {
			msg := "value is not an integer or out of range"
			return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
		}
		parsed, err := strconv.ParseInt(string(obj.Data().([]byte)), 10, 64)
		if err != nil {
			msg := "value is not an integer or out of range"
			return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
		}
		cur = parsed
	}
	cur += delta
	newVal := []byte(strconv.FormatInt(cur, 10))
	ctx.DB.SetKeepTTL(key, objx.New(objx.EncInt, newVal))
	ctx.MarkDirty()
	return ctx.Disp.Shared.EncodeInteger(cur), nil
}

func handleIncr(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	return incrBy(ctx, string(argv[1]), 1)
}

func handleIncrBy(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	delta, err := strconv.ParseInt(string(argv[2]), 10, 64)
	if err != nil {
		return ctx.Disp.Shared.EncodeError("ERR", "value is not an integer or out of range"), &ExecuteError{Token: "ERR"}
	}
	return incrBy(ctx, string(argv[1]), delta)
}

func handleMGet(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	out := make([][]byte, 0, len(argv)-1)
	for _, k := range argv[1:] {
		obj, ok := ctx.DB.Get(string(k), ctx.Now)
		if !ok || !isScalarEncoding(obj.Encoding()) {
			out = append(out, ctx.Disp.Shared.NullRESP2.Data().([]byte))
			continue
		}
		out = append(out, encodeBulk(obj.Data().([]byte)))
	}
	return encodeArray(out), nil
}

func handleMSet(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	if (len(argv)-1)%2 != 0 {
		msg := "wrong number of arguments for MSET"
		return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
	}
	for i := 1; i < len(argv); i += 2 {
		value := append([]byte(nil), argv[i+1]...)
		ctx.DB.Set(string(argv[i]), objx.New(encodingFor(value), value))
	}
	ctx.MarkDirty()
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}

func handleMulti(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	if ctx.Client.InMulti() {
		msg := "MULTI calls can not be nested"
		return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
	}
	ctx.Client.StartMulti()
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}

func handleDiscard(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	if !ctx.Client.InMulti() {
		msg := "DISCARD without MULTI"
		return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
	}
	ctx.Client.DiscardMulti()
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}

func handleWatch(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	if ctx.Client.InMulti() {
		msg := "WATCH inside MULTI is not allowed"
		return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
	}
	for _, k := range argv[1:] {
		ctx.Client.Watch(ctx.Client.DBID(), string(k))
	}
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}

func handleUnwatch(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	ctx.Client.Unwatch()
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}

// handleExec runs every queued command through call() directly, bypassing
// Process's gates: at queue time (spec.md §4.4 step 7) only the lookup,
// arity, protected-command and authentication checks had run, and the
// later gates are not applied to queued commands. The batch is bracketed
// as a single outermost execution unit by the enclosing
// call() for EXEC itself (spec.md §4.5 "EXEC is propagated implicitly by
// the enclosing MULTI wrapping").
func handleExec(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	if !ctx.Client.InMulti() {
		msg := "EXEC without MULTI"
		return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
	}
	if ctx.Client.IsMultiDirty() {
		ctx.Client.DrainMulti()
		msg := "Transaction discarded because of previous errors."
		return ctx.Disp.Shared.EncodeError("EXECABORT", msg), &ExecuteError{Token: "EXECABORT", Message: msg}
	}

	queued := ctx.Client.DrainMulti()
	replies := make([][]byte, 0, len(queued))
	for _, qc := range queued {
		desc, _, ok := ctx.Disp.Registry.Lookup(qc.Argv)
		if !ok {
			replies = append(replies, ctx.Disp.Shared.EncodeError("ERR", "unknown command"))
			continue
		}
		reply, _ := ctx.Disp.call(ctx.Client, desc, qc.Argv)
		replies = append(replies, reply)
	}
	return encodeArray(replies), nil
}

func handleAuth(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	password := string(argv[len(argv)-1])
	if ctx.Disp.Config.RequirePass == "" {
		msg := "Client sent AUTH, but no password is set."
		return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
	}
	if password != ctx.Disp.Config.RequirePass {
		msg := "invalid password"
		return ctx.Disp.Shared.EncodeError("WRONGPASS", msg), &ExecuteError{Token: "WRONGPASS", Message: msg}
	}
	ctx.Client.SetFlag(client.FlagAuthenticated, true)
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}

func handleSelect(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	idx, err := strconv.Atoi(string(argv[1]))
	if err != nil || idx < 0 || idx >= ctx.Disp.Keyspace.Count() {
		msg := "DB index is out of range"
		return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
	}
	ctx.Client.SelectDB(idx)
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}

func handleDBSize(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	return ctx.Disp.Shared.EncodeInteger(int64(ctx.DB.Size())), nil
}

func handleFlushDB(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	ctx.DB.Flush()
	ctx.MarkDirty()
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}

func handleClientSub(sub string) func(any, [][]byte) ([]byte, error) {
	return func(a any, argv [][]byte) ([]byte, error) {
		ctx := ctxOf(a)
		switch sub {
		case "GETNAME":
			name := ctx.Client.Name()
			if name == "" {
				return ctx.Disp.Shared.NullRESP2.Data().([]byte), nil
			}
			return encodeBulk([]byte(name)), nil
		case "SETNAME":
			ctx.Client.SetName(string(argv[2]))
			return ctx.Disp.Shared.OK.Data().([]byte), nil
		case "ID":
			return encodeBulk([]byte(ctx.Client.ID())), nil
		case "LIST":
			var sb strings.Builder
			for _, c := range ctx.Disp.Clients.All() {
				sb.WriteString("id=" + c.ID() + " db=" + strconv.Itoa(c.DBID()) + " name=" + c.Name() + "\n")
			}
			return encodeBulk([]byte(sb.String())), nil
		case "PAUSE":
			ms, err := strconv.ParseInt(string(argv[2]), 10, 64)
			if err != nil {
				return ctx.Disp.Shared.EncodeError("ERR", "timeout is not an integer or out of range"), &ExecuteError{Token: "ERR"}
			}
			writeOnly := len(argv) >= 4 && strings.EqualFold(string(argv[3]), "WRITE")
			ctx.Disp.Pause(ctx.Now.Add(time.Duration(ms)*time.Millisecond), writeOnly)
			return ctx.Disp.Shared.OK.Data().([]byte), nil
		case "UNPAUSE":
			ctx.Disp.Unpause()
			return ctx.Disp.Shared.OK.Data().([]byte), nil
		case "NO-EVICT":
			on := strings.EqualFold(string(argv[2]), "ON")
			ctx.Client.SetFlag(client.FlagNoEvict, on)
			return ctx.Disp.Shared.OK.Data().([]byte), nil
		case "KILL":
			var n int64
			for _, c := range ctx.Disp.Clients.All() {
				if c.ID() == string(argv[2]) {
					c.RequestClose()
					n++
				}
			}
			return ctx.Disp.Shared.EncodeInteger(n), nil
		}
		return ctx.Disp.Shared.EncodeError("ERR", "unsupported CLIENT subcommand"), &ExecuteError{Token: "ERR"}
	}
}

func handleCommand(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	if len(argv) >= 2 {
		switch strings.ToUpper(string(argv[1])) {
		case "COUNT":
			return ctx.Disp.Shared.EncodeInteger(int64(ctx.Disp.Registry.Count())), nil
		case "LIST":
			out := make([][]byte, 0)
			for _, d := range ctx.Disp.Registry.All() {
				out = append(out, encodeBulk([]byte(strings.ToLower(d.Name))))
			}
			return encodeArray(out), nil
		}
	}
	return ctx.Disp.Shared.EncodeInteger(int64(ctx.Disp.Registry.Count())), nil
}

func handleInfo(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	return encodeBulk([]byte(RenderInfo(ctx.Disp))), nil
}

func handleConfig(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	if len(argv) < 3 {
		return ctx.Disp.Shared.EncodeError("ERR", "wrong number of arguments for CONFIG"), &ExecuteError{Token: "ERR"}
	}
	sub := strings.ToUpper(string(argv[1]))
	name := strings.ToLower(string(argv[2]))
	switch sub {
	case "GET":
		val, ok := configGet(ctx.Disp.Config, name)
		if !ok {
			return encodeArray(nil), nil
		}
		return encodeArray([][]byte{encodeBulk([]byte(name)), encodeBulk([]byte(val))}), nil
	case "SET":
		if len(argv) < 4 {
			return ctx.Disp.Shared.EncodeError("ERR", "wrong number of arguments for CONFIG SET"), &ExecuteError{Token: "ERR"}
		}
		configSet(ctx.Disp.Config, name, string(argv[3]))
		return ctx.Disp.Shared.OK.Data().([]byte), nil
	}
	return ctx.Disp.Shared.EncodeError("ERR", "unsupported CONFIG subcommand"), &ExecuteError{Token: "ERR"}
}

func configGet(cfg *config.ServerConfig, name string) (string, bool) {
	switch name {
	case "maxmemory":
		return strconv.FormatInt(cfg.MaxMemoryBytes, 10), true
	case "maxmemory-policy":
		return cfg.EvictionPolicy, true
	case "appendonly":
		return strconv.FormatBool(cfg.AppendOnly), true
	case "requirepass":
		return cfg.RequirePass, true
	}
	return "", false
}

func configSet(cfg *config.ServerConfig, name, value string) {
	switch name {
	case "maxmemory":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			cfg.MaxMemoryBytes = n
		}
	case "maxmemory-policy":
		cfg.EvictionPolicy = value
	case "appendonly":
		cfg.AppendOnly = strings.EqualFold(value, "yes") || value == "true"
	case "requirepass":
		cfg.RequirePass = value
	}
}

func handleDebugSub(sub string) func(any, [][]byte) ([]byte, error) {
	return func(a any, argv [][]byte) ([]byte, error) {
		ctx := ctxOf(a)
		switch sub {
		case "SLEEP":
			secs, err := strconv.ParseFloat(string(argv[2]), 64)
			if err != nil {
				return ctx.Disp.Shared.EncodeError("ERR", "value is not a valid float"), &ExecuteError{Token: "ERR"}
			}
			time.Sleep(time.Duration(secs * float64(time.Second)))
			return ctx.Disp.Shared.OK.Data().([]byte), nil
		case "SET-ACTIVE-EXPIRE":
			return ctx.Disp.Shared.OK.Data().([]byte), nil
		case "JMAP":
			return ctx.Disp.Shared.OK.Data().([]byte), nil
		case "OBJECT":
			obj, ok := ctx.DB.Get(string(argv[2]), ctx.Now)
			if !ok {
				msg := "no such key"
				return ctx.Disp.Shared.EncodeError("ERR", msg), &ExecuteError{Token: "ERR", Message: msg}
			}
			info := "Value at:0x0 refcount:" + strconv.Itoa(int(obj.Refcount())) + " encoding:" + obj.Encoding().String() +
				" serializedlength:" + strconv.Itoa(len(obj.Data().([]byte))) + " lru_seconds_idle:" + strconv.Itoa(int(obj.IdleSince(ctx.Now).Seconds()))
			return encodeSimpleString(info), nil
		}
		return ctx.Disp.Shared.EncodeError("ERR", "unsupported DEBUG subcommand"), &ExecuteError{Token: "ERR"}
	}
}

func handleShutdown(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	ctx.Disp.logf(nil, "received SHUTDOWN, closing the connection")
	return nil, &FatalError{Reason: "shutdown requested"}
}

func handleBGSave(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	ctx.Disp.logf(nil, "starting background save")
	TriggerRewrite(ctx.Disp)
	return encodeSimpleString("Background saving started"), nil
}

func handleBGRewriteAOF(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	ctx.Disp.logf(nil, "starting append-only file rewrite")
	TriggerRewrite(ctx.Disp)
	return encodeSimpleString("Background append only file rewriting started"), nil
}

func handleReplicaOf(a any, argv [][]byte) ([]byte, error) {
	ctx := ctxOf(a)
	return ctx.Disp.Shared.OK.Data().([]byte), nil
}
