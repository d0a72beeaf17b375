package command

// Static declares the built-in command table assembled at process startup
// (spec.md §4.3 "Registration from a static table at startup"). Handlers are
// wired in by package dispatch, which imports command and fills in each
// Descriptor's Handler field before the table is frozen into a Registry;
// table.go itself only fixes name/arity/flags/keyspec/ACL shape,
// independently of who will later execute them.
func Static() []*Descriptor {
	return []*Descriptor{
		{
			Name:  "PING",
			Arity: -1,
			Flags: FlagFast | FlagLoadingAllowed | FlagStaleAllowed,
			Since: "1.0.0",
		},
		{
			Name:    "ECHO",
			Arity:   2,
			Flags:   FlagFast | FlagLoadingAllowed,
			Since:   "1.0.0",
			Summary: "Echo the given string",
		},
		{
			Name:  "GET",
			Arity: 2,
			Flags: FlagReadonly | FlagFast,
			Keys:  KeySpec{FirstKey: 1, LastKey: 1, Step: 1},
			Since: "1.0.0",
		},
		{
			Name:  "SET",
			Arity: -3,
			Flags: FlagWrite | FlagDenyOOM,
			Keys:  KeySpec{FirstKey: 1, LastKey: 1, Step: 1},
			Since: "1.0.0",
		},
		{
			Name:  "DEL",
			Arity: -2,
			Flags: FlagWrite,
			Keys:  KeySpec{FirstKey: 1, LastKey: -1, Step: 1},
			Since: "1.0.0",
		},
		{
			Name:  "EXISTS",
			Arity: -2,
			Flags: FlagReadonly | FlagFast,
			Keys:  KeySpec{FirstKey: 1, LastKey: -1, Step: 1},
			Since: "1.0.0",
		},
		{
			Name:  "EXPIRE",
			Arity: -3,
			Flags: FlagWrite | FlagFast,
			Keys:  KeySpec{FirstKey: 1, LastKey: 1, Step: 1},
			Since: "1.0.0",
		},
		{
			Name:  "TTL",
			Arity: 2,
			Flags: FlagReadonly | FlagFast,
			Keys:  KeySpec{FirstKey: 1, LastKey: 1, Step: 1},
			Since: "1.0.0",
		},
		{
			Name:  "INCR",
			Arity: 2,
			Flags: FlagWrite | FlagDenyOOM | FlagFast,
			Keys:  KeySpec{FirstKey: 1, LastKey: 1, Step: 1},
			Since: "1.0.0",
		},
		{
			Name:  "INCRBY",
			Arity: 3,
			Flags: FlagWrite | FlagDenyOOM | FlagFast,
			Keys:  KeySpec{FirstKey: 1, LastKey: 1, Step: 1},
			Since: "1.0.0",
		},
		{
			Name:  "MGET",
			Arity: -2,
			Flags: FlagReadonly | FlagFast,
			Keys:  KeySpec{FirstKey: 1, LastKey: -1, Step: 1},
			Since: "1.0.0",
		},
		{
			Name:  "MSET",
			Arity: -3,
			Flags: FlagWrite | FlagDenyOOM,
			Keys:  KeySpec{FirstKey: 1, LastKey: -1, Step: 2},
			Since: "1.0.0",
		},
		{
			Name:  "MULTI",
			Arity: 1,
			Flags: FlagFast | FlagNoScript | FlagLoadingAllowed | FlagStaleAllowed,
			Since: "1.2.0",
		},
		{
			Name:  "EXEC",
			Arity: 1,
			Flags: FlagNoScript | FlagSkipMonitor | FlagLoadingAllowed | FlagStaleAllowed,
			Since: "1.2.0",
		},
		{
			Name:  "DISCARD",
			Arity: 1,
			Flags: FlagFast | FlagNoScript | FlagLoadingAllowed | FlagStaleAllowed,
			Since: "2.0.0",
		},
		{
			Name:  "WATCH",
			Arity: -2,
			Flags: FlagFast | FlagNoScript | FlagLoadingAllowed | FlagStaleAllowed,
			Keys:  KeySpec{FirstKey: 1, LastKey: -1, Step: 1},
			Since: "2.2.0",
		},
		{
			Name:  "UNWATCH",
			Arity: 1,
			Flags: FlagFast | FlagNoScript | FlagLoadingAllowed | FlagStaleAllowed,
			Since: "2.2.0",
		},
		{
			Name:  "AUTH",
			Arity: -2,
			Flags: FlagFast | FlagNoAuth | FlagLoadingAllowed | FlagStaleAllowed | FlagAllowBusy,
			Since: "1.0.0",
		},
		{
			Name:  "SELECT",
			Arity: 2,
			Flags: FlagFast | FlagLoadingAllowed | FlagStaleAllowed,
			Since: "1.0.0",
		},
		{
			Name:  "DBSIZE",
			Arity: 1,
			Flags: FlagReadonly | FlagFast,
			Since: "1.0.0",
		},
		{
			Name:  "FLUSHDB",
			Arity: -1,
			Flags: FlagWrite | FlagTouchesArbitraryKeys,
			Since: "1.0.0",
		},
		{
			Name:        "CLIENT",
			Arity:       -2,
			Flags:       FlagAdmin | FlagNoScript | FlagLoadingAllowed | FlagStaleAllowed,
			Since:       "2.4.0",
			Subcommands: clientSubcommands(),
		},
		{
			Name:  "COMMAND",
			Arity: -1,
			Flags: FlagLoadingAllowed | FlagStaleAllowed,
			Since: "2.8.13",
		},
		{
			Name:  "INFO",
			Arity: -1,
			Flags: FlagLoadingAllowed | FlagStaleAllowed,
			Since: "1.0.0",
		},
		{
			Name:  "CONFIG",
			Arity: -2,
			Flags: FlagAdmin | FlagNoScript | FlagLoadingAllowed | FlagStaleAllowed,
			Since: "2.0.0",
		},
		{
			Name:        "DEBUG",
			Arity:       -2,
			Flags:       FlagAdmin | FlagProtected | FlagLoadingAllowed | FlagStaleAllowed,
			Since:       "1.0.0",
			Subcommands: debugSubcommands(),
		},
		{
			Name:  "SHUTDOWN",
			Arity: -1,
			Flags: FlagAdmin | FlagNoScript | FlagLoadingAllowed | FlagStaleAllowed | FlagAllowBusy,
			Since: "1.0.0",
		},
		{
			Name:  "BGSAVE",
			Arity: -1,
			Flags: FlagAdmin | FlagNoScript,
			Since: "1.0.0",
		},
		{
			Name:  "BGREWRITEAOF",
			Arity: 1,
			Flags: FlagAdmin | FlagNoScript,
			Since: "1.0.0",
		},
		{
			Name:  "REPLICAOF",
			Arity: 3,
			Flags: FlagAdmin | FlagNoScript | FlagStaleAllowed,
			Since: "5.0.0",
		},
	}
}

func clientSubcommands() map[string]*Descriptor {
	return map[string]*Descriptor{
		"LIST":    {Name: "CLIENT|LIST", Arity: -2, Flags: FlagAdmin | FlagLoadingAllowed | FlagStaleAllowed},
		"KILL":    {Name: "CLIENT|KILL", Arity: -3, Flags: FlagAdmin | FlagNoScript},
		"PAUSE":   {Name: "CLIENT|PAUSE", Arity: -3, Flags: FlagAdmin | FlagNoScript},
		"UNPAUSE": {Name: "CLIENT|UNPAUSE", Arity: 2, Flags: FlagAdmin | FlagNoScript},
		"NO-EVICT": {Name: "CLIENT|NO-EVICT", Arity: 3, Flags: FlagAdmin | FlagFast | FlagLoadingAllowed | FlagStaleAllowed},
		"GETNAME": {Name: "CLIENT|GETNAME", Arity: 2, Flags: FlagFast | FlagLoadingAllowed | FlagStaleAllowed},
		"SETNAME": {Name: "CLIENT|SETNAME", Arity: 3, Flags: FlagFast | FlagLoadingAllowed | FlagStaleAllowed},
		"ID":      {Name: "CLIENT|ID", Arity: 2, Flags: FlagFast | FlagLoadingAllowed | FlagStaleAllowed},
	}
}

func debugSubcommands() map[string]*Descriptor {
	return map[string]*Descriptor{
		"SLEEP":    {Name: "DEBUG|SLEEP", Arity: 3, Flags: FlagAdmin | FlagLoadingAllowed | FlagStaleAllowed},
		"JMAP":     {Name: "DEBUG|JMAP", Arity: 2, Flags: FlagAdmin},
		"SET-ACTIVE-EXPIRE": {Name: "DEBUG|SET-ACTIVE-EXPIRE", Arity: 3, Flags: FlagAdmin},
		"OBJECT":   {Name: "DEBUG|OBJECT", Arity: 3, Flags: FlagAdmin | FlagLoadingAllowed | FlagStaleAllowed},
	}
}
