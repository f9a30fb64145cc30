// DeepSentinel is a billing-aware streaming gateway: it relays chat
// completions from upstream LLM providers, meters token cost in real time
// and cuts streams the moment the budget is breached.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// .env is a development convenience; a missing file is fine.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file (empty = built-in defaults)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("deepsentinel", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
