package main

import (
	"github.com/pgpathwatch/pgpathwatch/internal/watchcli"
)

func main() {
	watchcli.Run()
}
