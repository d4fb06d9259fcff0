// Command dicomassoc-demo drives one association lifecycle against a
// configured peer and prints its Outcome. It is a thin CLI wrapper over
// the client package, in the spirit of
// peer-calls-peer-calls/server/cli's pflag-based command handlers
// (RegisterFlags + Handle), simplified to a single flat main since this
// module has exactly one verb.
package main

import (
	"crypto/tls"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/dicomkit/assoc"
	"github.com/dicomkit/assoc/client"
	"github.com/dicomkit/assoc/config"
	"github.com/dicomkit/assoc/pubsub"
	"github.com/dicomkit/assoc/queue"
	"github.com/dicomkit/assoc/wireport"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to YAML configuration file")
	echo := pflag.Bool("echo", false, "send a single C-ECHO and report the result")
	insecureSkipVerify := pflag.Bool("insecure-skip-tls-verify", false, "skip TLS certificate verification")
	pflag.Parse()

	if err := run(*configPath, *echo, *insecureSkipVerify); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, sendEcho bool, insecureSkipVerify bool) error {
	if configPath == "" {
		return errors.New("--config is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Annotate(err, "load config")
	}

	logger, err := cfg.Logger()
	if err != nil {
		return errors.Annotate(err, "build logger")
	}
	defer logger.Sync()

	params := cfg.Params()

	var tlsConfig *tls.Config
	if params.TLS {
		tlsConfig = &tls.Config{InsecureSkipVerify: insecureSkipVerify}
	}

	p := wireport.New(params.Host, params.Port, tlsConfig, wireport.Config{Logger: logger})

	c := client.New(p, params,
		client.WithTimeouts(cfg.AssocTimeouts()),
		client.WithLogger(logger),
	)
	defer c.Close()

	sub, err := c.Subscribe()
	if err != nil {
		return errors.Annotate(err, "subscribe")
	}
	go logEvents(logger, sub)

	if sendEcho {
		c.AddRequest(queue.NewEchoRequest(1))
	}

	outcome := c.Send()
	logger.Info("association completed",
		zap.String("outcome", outcome.OutcomeKind().String()),
		zap.Error(outcome.Err()),
	)

	if err := outcome.Err(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// logEvents drains sub.Events until the bus closes it, logging each
// public event (spec §4.F: AssociationAccepted/Rejected/Released,
// StateChanged) as a structured line.
func logEvents(logger *zap.Logger, sub *pubsub.Subscription[assoc.Event]) {
	for ev := range sub.Events {
		switch e := ev.(type) {
		case assoc.AssociationAcceptedEvent:
			logger.Info("association accepted", zap.String("called_ae", e.Association.CalledAETitle))
		case assoc.AssociationRejectedEvent:
			logger.Info("association rejected",
				zap.String("result", e.Result.String()),
				zap.Uint8("source", byte(e.Source)),
				zap.Uint8("reason", byte(e.Reason)))
		case assoc.AssociationReleasedEvent:
			logger.Info("association released")
		case assoc.StateChangedEvent:
			logger.Info("state changed", zap.String("from", e.Old.String()), zap.String("to", e.New.String()))
		}
	}
}
