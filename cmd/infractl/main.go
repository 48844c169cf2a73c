// Command infractl edits the stored infrastructure diagram from a terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"itdesk/internal/client"
	"itdesk/internal/diagram"
	"os"
	"time"

	"go.uber.org/zap"
)

func usage() {
	fmt.Fprintf(os.Stderr, `infractl
Usage:
  infractl [-url URL] [-token TOKEN] <cmd> [args]

Commands:
  show                              list nodes and connections
  add <kind>                        place a new node and save
  export [-format json|yaml]        print the diagram
  import [-name NAME] <file|->      replace the diagram and save
`)
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("infractl", flag.ContinueOnError)
	fs.Usage = usage
	baseURL := fs.String("url", envOr("INFRACTL_URL", "http://localhost:8080"), "API base URL")
	token := fs.String("token", os.Getenv("INFRACTL_TOKEN"), "access token")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		usage()
		return errUsage
	}

	log := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		log = l
		defer log.Sync()
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var opts []client.Option
	if *token != "" {
		opts = append(opts, client.WithAccessToken(*token))
	}
	api, err := client.New(*baseURL, opts...)
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "show":
		ed, err := diagram.Open(ctx, api, log)
		if err != nil {
			return err
		}
		return show(out, ed)

	case "add":
		if len(rest) != 1 {
			return fmt.Errorf("add needs exactly one kind")
		}
		kind, ok := diagram.ParseKind(rest[0])
		if !ok {
			return fmt.Errorf("unknown kind %q", rest[0])
		}
		ed, err := diagram.Open(ctx, api, log)
		if err != nil {
			return err
		}
		n := ed.Canvas().Add(kind)
		if _, err := ed.Save(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s (%g,%g)\n", n.ID, n.Kind, n.X, n.Y)
		return nil

	case "export":
		sub := flag.NewFlagSet("export", flag.ContinueOnError)
		format := sub.String("format", "json", "json or yaml")
		if err := sub.Parse(rest); err != nil {
			return err
		}
		ed, err := diagram.Open(ctx, api, log)
		if err != nil {
			return err
		}
		return export(out, ed, *format)

	case "import":
		sub := flag.NewFlagSet("import", flag.ContinueOnError)
		name := sub.String("name", "", "diagram name")
		if err := sub.Parse(rest); err != nil {
			return err
		}
		if sub.NArg() != 1 {
			return fmt.Errorf("import needs a file")
		}
		data, err := readAll(sub.Arg(0))
		if err != nil {
			return err
		}
		ed, err := diagram.Open(ctx, api, log)
		if err != nil {
			return err
		}
		if err := ed.Canvas().Load(data); err != nil {
			return err
		}
		if *name != "" {
			ed.SetName(*name)
		}
		saved, err := ed.Save(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, saved.ID)
		return nil
	}

	usage()
	return fmt.Errorf("unknown command %q", cmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}
