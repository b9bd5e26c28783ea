package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"recordgrid/internal/app"
	"recordgrid/internal/config"
	"recordgrid/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `Usage: recordgrid [-config file] <command> [args]

Commands:
  serve                 run the MCP server on stdin/stdout
  objects <connection>  list the objects of a stored connection
  edits [object]        list recent edit submissions
  approvals             list writes waiting for approval
  approve <id>          approve a pending write
  reject <id>           reject a pending write
  version               print the version
`

func main() {
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configPath, flag.Args()); err != nil {
		logger.Log.Error(err)
		os.Exit(1)
	}
}

func run(configPath string, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}
	if args[0] == "version" {
		fmt.Println(version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.InitLogger(cfg.Log.LoggerConfig())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch args[0] {
	case "serve":
		return a.ServeMCP(ctx, configPath, version)

	case "objects":
		if len(args) < 2 {
			return fmt.Errorf("objects: connection id is required")
		}
		objs, err := a.ObjectNames(ctx, args[1])
		if err != nil {
			return err
		}
		for _, o := range objs {
			fmt.Printf("%s\t%s\n", o.ID, o.Label)
		}
		return nil

	case "edits":
		objectID := ""
		if len(args) > 1 {
			objectID = args[1]
		}
		entries, err := a.Grid().EditLog(objectID, 0)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%d ok\t%d failed\t%s\n",
				e.SubmittedAt.Format("2006-01-02 15:04:05"), e.ObjectID, e.Succeeded, e.Failed, e.Error)
		}
		return nil

	case "approvals":
		pending, err := a.PendingApprovals()
		if err != nil {
			return err
		}
		for _, p := range pending {
			fmt.Printf("%s\t%s\t%s\n", p.ID, p.Tool, p.Description)
		}
		return nil

	case "approve", "reject":
		if len(args) < 2 {
			return fmt.Errorf("%s: approval id is required", args[0])
		}
		approved := args[0] == "approve"
		if err := a.ResolveApproval(args[1], approved); err != nil {
			return err
		}
		if approved {
			fmt.Printf("approved %s\n", args[1])
		} else {
			fmt.Printf("rejected %s\n", args[1])
		}
		return nil

	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}
