package app

import (
	"fmt"
	"io"
	"os"
)

func Main(args []string) int {
	if len(args) < 2 {
		printHelp(os.Stderr)
		return 2
	}

	switch args[1] {
	case "run":
		return run(args[2:])
	case "config":
		return configCmd(args[2:])
	case "attempts":
		return attemptsCmd(args[2:])
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[1])
		printHelp(os.Stderr)
		return 2
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "docrelay")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  docrelay run [--mongo-uri mongodb://localhost:27017] [--database rd1] [--collection 3271] [--endpoint URL] [--delay 100] [--failure-file failed_documents.json] [--journal-db ./docrelay.db] [--dotenv ./.env]")
	fmt.Fprintln(w, "  docrelay config validate [run flags] [--format text|json]")
	fmt.Fprintln(w, "  docrelay config show [run flags]")
	fmt.Fprintln(w, "  docrelay attempts --journal-db ./docrelay.db|--journal-postgres-dsn DSN [--run ID] [--outcome succeeded|failed] [--limit 100] [--json]")
	fmt.Fprintln(w, "  docrelay version [--long] [--json]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Every run flag falls back to a DOCRELAY_* environment variable; see docrelay run -h.")
}
