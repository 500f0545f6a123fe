// calcflow drives multi-step calculation workflows on a batch cluster.
package main

import (
	"os"

	"github.com/calcflow/calcflow/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
