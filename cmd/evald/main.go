// Command evald runs the speech evaluation daemon in the foreground.
//
// It is equivalent to "evalctl daemon run" and exists for service managers
// that expect a dedicated binary.
package main

import (
	"context"
	"flag"
	"log"

	"speecheval/internal/config"
	"speecheval/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	logLevel := flag.String("log-level", "", "Override logging.level")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		log.Fatalf("evald: %v", err)
	}
}
