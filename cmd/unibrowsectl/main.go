package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/sackio/unibrowse/internal/broker"
	"github.com/sackio/unibrowse/internal/controller"
	"github.com/sackio/unibrowse/internal/logging"
	"github.com/sackio/unibrowse/internal/transport"
	"github.com/sackio/unibrowse/internal/wire"
)

var version = "dev"

var stdout io.Writer = os.Stdout

// Globals are shared by every command.
type Globals struct {
	HubURL      string        `help:"Hub WebSocket URL." env:"UNIBROWSE_HUB_URL" default:"ws://127.0.0.1:9339/ws"`
	Timeout     time.Duration `help:"Per-call timeout." env:"UNIBROWSE_CALL_TIMEOUT" default:"30s"`
	DialTimeout time.Duration `help:"Hub dial timeout." default:"5s"`
	LogLevel    string        `help:"Log level for stderr diagnostics." enum:"debug,info,warn,error" default:"warn"`
	Compact     bool          `help:"Print JSON on one line."`
}

type CLI struct {
	Globals

	Call         CallCmd         `cmd:"" help:"Call any agent command with a JSON payload."`
	Tabs         TabsCmd         `cmd:"" help:"List attached tabs, or every browser page with --all."`
	Navigate     NavigateCmd     `cmd:"" help:"Navigate a tab, opening one if none is attached."`
	Label        LabelCmd        `cmd:"" help:"Label a tab by target id or current label."`
	Detach       DetachCmd       `cmd:"" help:"Detach a tab."`
	Interactions InteractionsCmd `cmd:"" help:"Query, search and prune recorded interactions."`
	Status       StatusCmd       `cmd:"" help:"Show hub connection and interaction log status."`
	Version      VersionCmd      `cmd:"" help:"Print the version."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("unibrowsectl"),
		kong.Description("Talk to a unibrowse execution agent through the hub."),
		kong.UsageOnError(),
	)
	if err := logging.SetupConsole(os.Stderr, cli.LogLevel, "text"); err != nil {
		kctx.FatalIfErrorf(err)
	}
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

// connect opens a one-shot broker to the hub. The returned func closes it.
func (g *Globals) connect(ctx context.Context) (*controller.Service, func(), error) {
	br := broker.New(broker.Config{
		URL:         g.HubURL,
		CallTimeout: g.Timeout,
		Backoff:     transport.Backoff{},
		DialTimeout: g.DialTimeout,
		Handshake:   broker.RegisterHandshake(wire.TypeClientRegister, "ctl-"+uuid.NewString()[:8], "cli", version),
	})
	if err := br.Connect(ctx); err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = br.Close(closeCtx)
	}
	return controller.NewService(br), closeFn, nil
}

// run connects, runs fn and prints its result as JSON.
func (g *Globals) run(fn func(ctx context.Context, svc *controller.Service) (any, error)) error {
	ctx := context.Background()
	svc, closeFn, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	result, err := fn(ctx, svc)
	if err != nil {
		return err
	}
	return g.print(result)
}

func (g *Globals) print(v any) error {
	var (
		data []byte
		err  error
	)
	if raw, ok := v.(json.RawMessage); ok && g.Compact {
		data = raw
	} else if g.Compact {
		data, err = json.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}
