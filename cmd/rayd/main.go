// Command rayd runs the Ray key-value server, or drives one as a client,
// depending on the subcommand. Grounded on cmd/journaldump's flag-parse
// -> open storage -> do one thing -> exit shape, restructured around
// gopkg.in/urfave/cli.v1's App/Command model since rayd needs several
// subcommands sharing a --config flag rather than journaldump's one verb.
package main

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/raydb/rayd/kvmachine"
	"github.com/raydb/rayd/log"
	"github.com/raydb/rayd/psm"
	"github.com/raydb/rayd/rayconfig"
	"github.com/raydb/rayd/rpcfacade"
	"github.com/raydb/rayd/snapstore"
)

var configFlag = cli.StringFlag{
	Name:  "config",
	Usage: "path to a rayd TOML configuration file",
}

func main() {
	app := cli.NewApp()
	app.Name = "rayd"
	app.Usage = "a replicated, durable key-value server"
	app.Commands = []cli.Command{
		serveCommand,
		getCommand,
		setCommand,
		dumpCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Crit("rayd: fatal error", "err", err)
	}
}

func loadConfig(ctx *cli.Context) *rayconfig.Config {
	path := ctx.String("config")
	if path == "" {
		return rayconfig.Default()
	}
	cfg, err := rayconfig.Load(path)
	if err != nil {
		log.Crit("rayd: failed to load config", "path", path, "err", err)
	}
	return cfg
}

var serveCommand = cli.Command{
	Name:  "serve",
	Usage: "run the PSM and serve RPCs",
	Flags: []cli.Flag{configFlag},
	Action: func(ctx *cli.Context) error {
		cfg := loadConfig(ctx)

		lvl, err := log.ParseLvl(cfg.Log.Level)
		if err != nil {
			log.Crit("rayd: invalid log level", "level", cfg.Log.Level, "err", err)
		}
		base := log.StreamHandler(os.Stderr, log.TerminalFormat(true))
		log.SetHandler(log.LvlFilterHandler(lvl, base))

		snapStorage, err := snapstore.OpenDirectoryStorage(cfg.Snapshot.Path)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}

		accelBytes := 0
		psmCfg := psm.Config{
			JournalRequestQueueSize:  cfg.PSM.JournalService.RequestQueueSize,
			JournalBatchSize:         cfg.PSM.JournalService.BatchSize,
			MachineRequestQueueSize:  cfg.PSM.MachineService.RequestQueueSize,
			SnapshotInterval:         cfg.PSM.SnapshotService.SnapshotInterval,
			SnapshotBatchSize:        cfg.PSM.SnapshotService.BatchSize,
			JournalFileSizeSoftLimit: cfg.Journal.FileSizeSoftLimit,
		}
		handle, err := psm.Run(psmCfg, func() psm.Machine { return kvmachine.New(accelBytes) }, cfg.Journal.Path, snapStorage)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}

		facade := rpcfacade.New(handle, 0, 0)
		addr := fmt.Sprintf("%s:%d", cfg.RPC.Address, cfg.RPC.Port)
		log.Info("rayd listening", "address", addr)
		return http.ListenAndServe(addr, facade.Router())
	},
}

var getCommand = cli.Command{
	Name:      "get",
	Usage:     "fetch a key from a running rayd",
	ArgsUsage: "<key>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "address", Value: "http://127.0.0.1:39172", Usage: "rayd RPC facade base URL"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.NewExitError("rayd get: expected exactly one key argument", 2)
		}
		key := ctx.Args().Get(0)
		resp, err := http.Get(ctx.String("address") + "/get/" + key)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return cli.NewExitError(fmt.Sprintf("rayd get: key %q not found", key), 1)
		}
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		fmt.Println(string(body))
		return nil
	},
}

var setCommand = cli.Command{
	Name:      "set",
	Usage:     "set a key against a running rayd",
	ArgsUsage: "<key> <value>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "address", Value: "http://127.0.0.1:39172", Usage: "rayd RPC facade base URL"},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 2 {
			return cli.NewExitError("rayd set: expected exactly two arguments: key value", 2)
		}
		key, value := ctx.Args().Get(0), ctx.Args().Get(1)
		req, err := http.NewRequest(http.MethodPut, ctx.String("address")+"/set/"+key, bytes.NewReader([]byte(value)))
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return cli.NewExitError(fmt.Sprintf("rayd set: unexpected status %s", resp.Status), 1)
		}
		return nil
	},
}

var dumpCommand = cli.Command{
	Name:  "dump",
	Usage: "load the latest snapshot and print every key/value pair",
	Flags: []cli.Flag{configFlag},
	Action: func(ctx *cli.Context) error {
		cfg := loadConfig(ctx)
		storage, err := snapstore.OpenDirectoryStorage(cfg.Snapshot.Path)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		r, err := storage.OpenLast()
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		if r == nil {
			fmt.Println("no snapshot found")
			return nil
		}
		defer r.Close()

		if _, err := snapstore.ReadEpoch(r); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		m := kvmachine.New(0)
		if err := m.Load(r); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		m.Each(func(key, value []byte) {
			fmt.Printf("%s=%s\n", key, value)
		})
		return nil
	},
}
