package main

import "github.com/everFinance/trustcoin/cli/trustcoin/cmd"

func main() {
	cmd.Execute()
}
