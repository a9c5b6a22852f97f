package main

import (
	"context"
	"triagem/cmd/triagem/commands"
	"triagem/lib/osutil"
)

func main() {
	ctx := osutil.SignalContext(context.Background())
	commands.ExecuteContext(ctx)
}
