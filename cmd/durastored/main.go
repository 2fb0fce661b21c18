// durastored is a small command-line front end over the storage core,
// in the style of the pack's vittoriadb CLI: one urfave/cli/v2 App with
// flat subcommands, no SQL layer, no wire protocol, no sessions.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/intellect4all/durastore/dm"
	"github.com/intellect4all/durastore/index"
	"github.com/intellect4all/durastore/internal/logging"
	"github.com/intellect4all/durastore/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "durastored",
		Usage: "paged storage core: WAL, data manager, B+tree index",
		Commands: []*cli.Command{
			initCmd(),
			putCmd(),
			getCmd(),
			rangeCmd(),
			serveCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "durastored:", err)
		os.Exit(1)
	}
}

func openEngine(path string, metrics *telemetry.Metrics) (*dm.DataManager, *index.BPlusTree, uint64, error) {
	logr := logging.New(logging.Config{Level: "info"}).For("cmd")
	cfg := dm.DefaultConfig()
	cfg.Metrics = metrics
	d, err := dm.Open(path, cfg, logr)
	if err != nil {
		return nil, nil, 0, err
	}

	bootPath := path + ".boot"
	bootUid, err := readOrCreateBoot(bootPath, d)
	if err != nil {
		d.Close()
		return nil, nil, 0, err
	}

	tree, err := index.Load(d, bootUid)
	if err != nil {
		d.Close()
		return nil, nil, 0, err
	}
	tree.WithMetrics(metrics)

	return d, tree, bootUid, nil
}

// readOrCreateBoot persists the index's one external handle (its boot
// uid) in a small sidecar file, since the CLI has no schema layer to
// otherwise remember it across invocations.
func readOrCreateBoot(bootPath string, d *dm.DataManager) (uid uint64, err error) {
	data, readErr := os.ReadFile(bootPath)
	if readErr == nil && len(data) == 8 {
		var v uint64
		for i := 0; i < 8; i++ {
			v |= uint64(data[i]) << (8 * i)
		}
		return v, nil
	}

	bootUid, err := index.Create(d)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(bootUid >> (8 * i))
	}
	if err := os.WriteFile(bootPath, buf, 0644); err != nil {
		return 0, err
	}
	return bootUid, nil
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "create a fresh .db/.log/.xid/.boot file set",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: durastored init <path>", 1)
			}
			d, _, _, err := openEngine(c.Args().Get(0), telemetry.New(prometheus.NewRegistry()))
			if err != nil {
				return err
			}
			return d.Close()
		},
	}
}

func putCmd() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "insert a (key, uid) pair into the tree",
		ArgsUsage: "<path> <key> <uid>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return cli.Exit("usage: durastored put <path> <key> <uid>", 1)
			}
			key, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad key: %v", err), 1)
			}
			uid, err := strconv.ParseUint(c.Args().Get(2), 10, 64)
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad uid: %v", err), 1)
			}

			d, tree, _, err := openEngine(c.Args().Get(0), telemetry.New(prometheus.NewRegistry()))
			if err != nil {
				return err
			}
			defer d.Close()

			return tree.Insert(key, uid)
		},
	}
}

func getCmd() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "search the tree for an exact key",
		ArgsUsage: "<path> <key>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("usage: durastored get <path> <key>", 1)
			}
			key, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad key: %v", err), 1)
			}

			d, tree, _, err := openEngine(c.Args().Get(0), telemetry.New(prometheus.NewRegistry()))
			if err != nil {
				return err
			}
			defer d.Close()

			uids, err := tree.Search(key)
			if err != nil {
				return err
			}
			for _, uid := range uids {
				fmt.Println(uid)
			}
			return nil
		},
	}
}

func rangeCmd() *cli.Command {
	return &cli.Command{
		Name:      "range",
		Usage:     "search the tree for keys in [lo, hi]",
		ArgsUsage: "<path> <lo> <hi>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return cli.Exit("usage: durastored range <path> <lo> <hi>", 1)
			}
			lo, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad lo: %v", err), 1)
			}
			hi, err := strconv.ParseInt(c.Args().Get(2), 10, 64)
			if err != nil {
				return cli.Exit(fmt.Sprintf("bad hi: %v", err), 1)
			}

			d, tree, _, err := openEngine(c.Args().Get(0), telemetry.New(prometheus.NewRegistry()))
			if err != nil {
				return err
			}
			defer d.Close()

			uids, err := tree.SearchRange(lo, hi)
			if err != nil {
				return err
			}
			for _, uid := range uids {
				fmt.Println(uid)
			}
			return nil
		},
	}
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "open the engine and serve /metrics until interrupted",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "metrics-addr",
				Value: ":9090",
				Usage: "address to serve Prometheus metrics on",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: durastored serve <path>", 1)
			}

			reg := prometheus.NewRegistry()
			metrics := telemetry.New(reg)

			d, _, _, err := openEngine(c.Args().Get(0), metrics)
			if err != nil {
				return err
			}
			defer d.Close()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: c.String("metrics-addr"), Handler: mux}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case <-sigCh:
				return srv.Close()
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}
}
