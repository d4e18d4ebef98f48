// honk finds leaked pseudo-terminals and cleans them up safely.
package main

import (
	"os"

	"github.com/honkhq/honk/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
