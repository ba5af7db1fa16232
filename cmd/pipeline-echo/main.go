// Command pipeline-echo wires wire.Conn, simple.Server/simple.Client, and
// task.Group together into an end-to-end demonstration of the pipelined
// streaming protocol engine over a real net.Conn, mirroring the structure
// of examples/word-count/wordcountctl: one main() wiring a go-flags parser
// to a handful of Execute() subcommands.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"go.pipeline.dev/core/simple"
	"go.pipeline.dev/core/stream"
	"go.pipeline.dev/core/task"
	"go.pipeline.dev/core/wire"
)

// advanceInterval is how long the engine's driving goroutine sleeps after
// every Advance call that does not complete the engine, whether or not
// that call made progress. A real embedding would instead park on a readiness channel;
// this example favors a plain retry loop for clarity over throughput.
const advanceInterval = 2 * time.Millisecond

var Config = new(struct {
	Verbose bool `long:"verbose" description:"enable trace-level logging"`
})

func newErr(msg string) error { return errors.New(msg) }

func echoHandler(req string) (string, error) {
	if req == "" {
		return "", errors.New("pipeline-echo: empty request")
	}
	return req, nil
}

type cmdServe struct {
	Addr string `long:"addr" default:":4040" description:"address to listen on"`
}

func (c *cmdServe) Execute([]string) error {
	if Config.Verbose {
		log.SetLevel(log.TraceLevel)
	}

	var ln, err = net.Listen("tcp", c.Addr)
	if err != nil {
		return errors.Wrap(err, "pipeline-echo: listen")
	}
	log.WithField("addr", c.Addr).Info("pipeline-echo: listening")

	var tasks = task.NewGroup(context.Background())
	var connID int

	tasks.Queue("accept", func() error {
		for {
			var conn, err = ln.Accept()
			if err != nil {
				select {
				case <-tasks.Context().Done():
					return nil
				default:
					return errors.Wrap(err, "pipeline-echo: accept")
				}
			}
			connID++
			var name = fmt.Sprintf("conn-%d", connID)
			log.WithField("task", name).Info("pipeline-echo: accepted connection")

			tasks.Queue(name, func() error { return serveConn(tasks.Context(), conn) })
		}
	})

	tasks.Queue("graceful-stop", func() error {
		<-tasks.Context().Done()
		return ln.Close()
	})

	return tasks.Wait()
}

func serveConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	var transport = wire.New[string, struct{}, string, struct{}, error](conn, newErr)
	var dispatch = simple.NewServer[string, string, error](transport, echoHandler, func(err error) error { return err })
	var engine = stream.New[string, struct{}, string, struct{}, error](dispatch)

	defer dispatch.Close()
	defer engine.Close()

	for {
		var done, err = engine.Advance()
		if err != nil {
			return errors.Wrap(err, "pipeline-echo: engine advance")
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(advanceInterval):
		}
	}
}

// fileConfig is an optional on-disk overlay for command defaults, loaded
// from a --config YAML file named before go-flags ever sees it, the way an
// ops team might check in per-environment addr overrides without touching
// the command line. CLI flags always take precedence: values here only
// seed the cmdServe/cmdCall struct before go-flags applies its own
// tag-based defaults and then the user's actual arguments.
type fileConfig struct {
	Serve struct {
		Addr string `yaml:"addr"`
	} `yaml:"serve"`
	Call struct {
		Addr string `yaml:"addr"`
		Text string `yaml:"text"`
	} `yaml:"call"`
}

// loadFileConfig scans args for "--config PATH" and, if present, parses
// that file as YAML. It returns the zero fileConfig (not an error) on any
// failure to read or parse, logging a warning instead -- a malformed
// config file overlay should not prevent falling back to CLI-only defaults.
func loadFileConfig(args []string) fileConfig {
	var fc fileConfig
	for i, a := range args {
		if a != "--config" || i+1 >= len(args) {
			continue
		}
		var path = args[i+1]
		var b, err = os.ReadFile(path)
		if err != nil {
			log.WithFields(log.Fields{"path": path, "err": err}).Warn("pipeline-echo: could not read --config file")
			return fc
		}
		if err := yaml.Unmarshal(b, &fc); err != nil {
			log.WithFields(log.Fields{"path": path, "err": err}).Warn("pipeline-echo: could not parse --config file")
			return fileConfig{}
		}
		return fc
	}
	return fc
}

// stripConfigFlag removes a "--config PATH" pair from args so go-flags,
// which knows nothing about it, doesn't reject it as an unknown flag.
func stripConfigFlag(args []string) []string {
	var out = make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			i++
			continue
		}
		out = append(out, args[i])
	}
	return out
}

type cmdCall struct {
	Addr string `long:"addr" default:"127.0.0.1:4040" description:"server address to dial"`
	Text string `long:"text" description:"text to echo"`
}

func (c *cmdCall) Execute([]string) error {
	if Config.Verbose {
		log.SetLevel(log.TraceLevel)
	}

	var conn, err = net.Dial("tcp", c.Addr)
	if err != nil {
		return errors.Wrap(err, "pipeline-echo: dial")
	}
	defer conn.Close()

	var transport = wire.New[string, struct{}, string, struct{}, error](conn, newErr)
	var client = simple.NewClient[string, string, error](transport)
	var engine = stream.New[string, struct{}, string, struct{}, error](client)
	defer engine.Close()

	var tasks = task.NewGroup(context.Background())
	tasks.Queue("engine", func() error {
		for {
			var done, err = engine.Advance()
			if err != nil {
				return errors.Wrap(err, "pipeline-echo: engine advance")
			}
			if done {
				return nil
			}
			time.Sleep(advanceInterval)
		}
	})

	var resultCh = client.Call(c.Text)
	var result = <-resultCh
	if result.IsErr {
		return errors.Errorf("pipeline-echo: server reported: %v", result.Err)
	}
	fmt.Println(result.Resp)

	client.Close()
	return tasks.Wait()
}

func main() {
	var rawArgs = os.Args[1:]
	var fc = loadFileConfig(rawArgs)

	var serve = &cmdServe{}
	if fc.Serve.Addr != "" {
		serve.Addr = fc.Serve.Addr
	}
	var call = &cmdCall{}
	if fc.Call.Addr != "" {
		call.Addr = fc.Call.Addr
	}
	if fc.Call.Text != "" {
		call.Text = fc.Call.Text
	}

	var parser = flags.NewParser(Config, flags.Default)

	if _, err := parser.AddCommand("serve", "Run the echo server",
		"Listen for connections and echo every request back to its caller.", serve); err != nil {
		log.WithField("err", err).Fatal("failed to add serve command")
	}
	if _, err := parser.AddCommand("call", "Call the echo server",
		"Dial an echo server and send it one request.", call); err != nil {
		log.WithField("err", err).Fatal("failed to add call command")
	}

	if _, err := parser.ParseArgs(stripConfigFlag(rawArgs)); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.WithField("err", err).Fatal("pipeline-echo failed")
	}
}
