package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"certanchor.dev/node/certificate"
	"certanchor.dev/node/chain"
	"certanchor.dev/node/crypto"
	"certanchor.dev/node/errs"
	"certanchor.dev/node/logger"
	"certanchor.dev/node/node"
)

const version = "0.1.0"

const (
	exitFailure    = 1
	exitValidation = 2
	exitNotFound   = 3
)

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "anchord: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch errs.CodeOf(err) {
	case errs.ERR_VALIDATION:
		return exitValidation
	case errs.ERR_NOT_FOUND:
		return exitNotFound
	default:
		return exitFailure
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "anchord"
	app.Usage = "Anchor encrypted disability certificates on a BSV ledger"
	app.Version = version
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "load configuration from `FILE`",
			EnvVar: "ANCHOR_CONFIG",
		},
		cli.StringFlag{
			Name:  "level, l",
			Usage: "override the configured log level",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "store",
			Usage: "validate, encrypt and anchor a certificate",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "file, f", Usage: "certificate JSON `FILE` (default: stdin)"},
			},
			Action: withNode(cmdStore),
		},
		{
			Name:  "retrieve",
			Usage: "fetch and decrypt an anchored certificate",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "txid, t", Usage: "anchor `ID` (transaction id)"},
				cli.StringFlag{Name: "fields", Usage: "comma-separated field names to return"},
			},
			Action: withNode(cmdRetrieve),
		},
		{
			Name:   "list",
			Usage:  "list anchored certificates",
			Action: withNode(cmdList),
		},
		{
			Name:   "stats",
			Usage:  "aggregate statistics over anchored certificates",
			Action: withNode(cmdStats),
		},
		{
			Name:   "address",
			Usage:  "show the funding address and its balance",
			Action: withNode(cmdAddress),
		},
		{
			Name:  "keygen",
			Usage: "generate a master key and a funding wallet",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "network, n", Value: string(chain.Mainnet), Usage: "mainnet|testnet"},
			},
			Action: cmdKeygen,
		},
	}
	return app
}

func loadConfig(c *cli.Context) (*node.Config, error) {
	cfg, err := node.NewConfig(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.GlobalString("level"); lvl != "" {
		level, err := logger.GetLogLevel(lvl)
		if err != nil {
			return nil, errs.Wrap(errs.ERR_VALIDATION, err, "--level")
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}

func withNode(fn func(ctx context.Context, c *cli.Context, n *node.Node) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		log := logger.NewLogger(cfg.LogLevel)
		log.SetWriter(c.App.ErrWriter)
		n, err := node.New(cfg, log)
		if err != nil {
			return err
		}
		defer n.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return fn(ctx, c, n)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdStore(ctx context.Context, c *cli.Context, n *node.Node) error {
	var (
		raw []byte
		err error
	)
	if path := c.String("file"); path != "" && path != "-" {
		raw, err = os.ReadFile(path)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return errs.Wrap(errs.ERR_VALIDATION, err, "read certificate")
	}
	cert, err := certificate.Parse(raw)
	if err != nil {
		return err
	}
	id, err := n.Service.Store(ctx, cert)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, map[string]string{"anchorId": id})
}

func cmdRetrieve(ctx context.Context, c *cli.Context, n *node.Node) error {
	id := strings.TrimSpace(c.String("txid"))
	if id == "" && c.NArg() > 0 {
		id = c.Args().First()
	}
	var fields []string
	if c.IsSet("fields") {
		fields = []string{}
		for _, f := range strings.Split(c.String("fields"), ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}
	data, err := n.Service.Retrieve(ctx, id, fields)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, map[string]interface{}{"anchorId": id, "data": data})
}

func cmdList(_ context.Context, c *cli.Context, n *node.Node) error {
	list, err := n.Service.List()
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, map[string]interface{}{"count": len(list), "certificates": list})
}

func cmdStats(_ context.Context, c *cli.Context, n *node.Node) error {
	stats, err := n.Service.Stats()
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, stats)
}

func cmdAddress(ctx context.Context, c *cli.Context, n *node.Node) error {
	addr := n.Service.Address()
	if addr == "" {
		return errs.New(errs.ERR_CONFIG, "no wallet configured (set wallet.wif or ANCHOR_WIF)")
	}
	bal, err := n.Service.Balance(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "%s\t%s sat\n", addr, humanize.Comma(int64(bal)))
	return err
}

func cmdKeygen(c *cli.Context) error {
	net, err := chain.ParseNetwork(c.String("network"))
	if err != nil {
		return errs.Wrap(errs.ERR_VALIDATION, err, "--network")
	}
	master, err := crypto.GenerateMasterKey()
	if err != nil {
		return err
	}
	key, err := chain.GenerateKey()
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, map[string]string{
		"network":   string(net),
		"masterKey": master,
		"walletWif": key.WIF(net),
		"address":   key.Address(net),
	})
}
