package main

import "github.com/Iwinswap/iwinswap-amm-pool/internal/cli"

func main() {
	cli.Execute()
}
